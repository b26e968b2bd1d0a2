// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/opentrusty/pulse/internal/organization"
)

const uniqueViolation = "23505"

// OrganizationRepository implements organization.Repository
type OrganizationRepository struct {
	db *DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// Create inserts a new organization
func (r *OrganizationRepository) Create(ctx context.Context, org *organization.Organization) error {
	q, err := r.db.Conn(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO organizations (id, name, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, org.ID, org.Name, org.Status, org.CreatedBy, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return organization.ErrOrganizationExists
		}
		return fmt.Errorf("failed to create organization: %w", err)
	}

	return nil
}

// GetByID retrieves an organization visible to the caller
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*organization.Organization, error) {
	q, err := r.db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	var org organization.Organization
	err = q.QueryRow(ctx, `
		SELECT id::text, name, status, created_by, created_at, updated_at
		FROM organizations
		WHERE id::text = $1
	`, id).Scan(&org.ID, &org.Name, &org.Status, &org.CreatedBy, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, organization.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return &org, nil
}

// List retrieves organizations visible to the caller
func (r *OrganizationRepository) List(ctx context.Context, limit, offset int) ([]*organization.Organization, error) {
	q, err := r.db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id::text, name, status, created_by, created_at, updated_at
		FROM organizations
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*organization.Organization
	for rows.Next() {
		var org organization.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Status, &org.CreatedBy, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, &org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}

	return orgs, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
