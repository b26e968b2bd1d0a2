package organization

import (
	"context"
	"errors"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrOrganizationExists   = errors.New("organization already exists")
	ErrMemberAlreadyExists  = errors.New("member role already exists")
	ErrInvalidRole          = errors.New("invalid role")
	ErrNameRequired         = errors.New("organization name is required")
)

// Repository defines the interface for organization storage.
// Implementations resolve their database handle from ctx, so calls made
// while handling a request see only the rows its caller may see.
type Repository interface {
	Create(ctx context.Context, org *Organization) error
	GetByID(ctx context.Context, id string) (*Organization, error)
	List(ctx context.Context, limit, offset int) ([]*Organization, error)
}

// MemberRepository defines the interface for organization membership storage
type MemberRepository interface {
	AddMember(ctx context.Context, member *Member) error
	ListMembers(ctx context.Context, organizationID string) ([]*Member, error)
}
