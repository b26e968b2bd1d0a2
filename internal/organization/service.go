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

package organization

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opentrusty/pulse/internal/audit"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service provides organization management business logic
type Service struct {
	repo        Repository
	memberRepo  MemberRepository
	auditLogger audit.Logger
}

// NewService creates a new organization service
func NewService(repo Repository, memberRepo MemberRepository, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		memberRepo:  memberRepo,
		auditLogger: auditLogger,
	}
}

// CreateOrganization creates an organization and makes its creator the owner.
// Both writes share the request transaction, so a failed owner grant leaves
// no orphaned organization behind.
func (s *Service) CreateOrganization(ctx context.Context, name, creatorID string) (*Organization, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if creatorID == "" {
		return nil, fmt.Errorf("creator id is required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate organization id: %w", err)
	}

	now := time.Now()
	org := &Organization{
		ID:        id.String(),
		Name:      name,
		Status:    StatusActive,
		CreatedBy: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, org); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	if err := s.grant(ctx, org.ID, creatorID, RoleOwner, creatorID); err != nil {
		return nil, fmt.Errorf("failed to grant owner role: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:           audit.TypeOrganizationCreated,
		OrganizationID: org.ID,
		ActorID:        creatorID,
		Resource:       "organization",
		Metadata:       map[string]any{"name": org.Name},
	})

	return org, nil
}

// GetOrganization retrieves an organization by ID
func (s *Service) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	if id == "" {
		return nil, ErrOrganizationNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// ListOrganizations lists organizations with pagination
func (s *Service) ListOrganizations(ctx context.Context, limit, offset int) ([]*Organization, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

// AddMember grants a role in an organization
func (s *Service) AddMember(ctx context.Context, organizationID, userID, role, grantedBy string) (*Member, error) {
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	if organizationID == "" || userID == "" {
		return nil, fmt.Errorf("organization id and user id are required")
	}

	if _, err := s.repo.GetByID(ctx, organizationID); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate member id: %w", err)
	}
	m := &Member{
		ID:             id.String(),
		OrganizationID: organizationID,
		UserID:         userID,
		Role:           role,
		GrantedBy:      grantedBy,
	}
	if err := s.memberRepo.AddMember(ctx, m); err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:           audit.TypeMemberAdded,
		OrganizationID: organizationID,
		ActorID:        grantedBy,
		Resource:       role,
		Metadata:       map[string]any{"user_id": userID},
	})

	return m, nil
}

// ListMembers retrieves the members of an organization
func (s *Service) ListMembers(ctx context.Context, organizationID string) ([]*Member, error) {
	if _, err := s.repo.GetByID(ctx, organizationID); err != nil {
		return nil, err
	}
	return s.memberRepo.ListMembers(ctx, organizationID)
}

func (s *Service) grant(ctx context.Context, organizationID, userID, role, grantedBy string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	return s.memberRepo.AddMember(ctx, &Member{
		ID:             id.String(),
		OrganizationID: organizationID,
		UserID:         userID,
		Role:           role,
		GrantedBy:      grantedBy,
	})
}
