package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opentrusty/pulse/internal/organization"
)

// MemberRepository implements organization.MemberRepository
type MemberRepository struct {
	db *DB
}

// NewMemberRepository creates a new member repository
func NewMemberRepository(db *DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// AddMember grants a role to a user in an organization
func (r *MemberRepository) AddMember(ctx context.Context, m *organization.Member) error {
	q, err := r.db.Conn(ctx)
	if err != nil {
		return err
	}

	m.GrantedAt = time.Now()

	var grantedBy sql.NullString
	if m.GrantedBy != "" {
		grantedBy = sql.NullString{String: m.GrantedBy, Valid: true}
	}

	_, err = q.Exec(ctx, `
		INSERT INTO organization_members (id, organization_id, user_id, role, granted_at, granted_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.OrganizationID, m.UserID, m.Role, m.GrantedAt, grantedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return organization.ErrMemberAlreadyExists
		}
		return fmt.Errorf("failed to add member: %w", err)
	}

	return nil
}

// ListMembers retrieves the memberships of an organization visible to the caller
func (r *MemberRepository) ListMembers(ctx context.Context, organizationID string) ([]*organization.Member, error) {
	q, err := r.db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id::text, organization_id::text, user_id, role, granted_at, granted_by
		FROM organization_members
		WHERE organization_id::text = $1
		ORDER BY granted_at
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*organization.Member
	for rows.Next() {
		var m organization.Member
		var grantedBy sql.NullString
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.GrantedAt, &grantedBy); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if grantedBy.Valid {
			m.GrantedBy = grantedBy.String
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	return members, nil
}
