package survey

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/opentrusty/pulse/internal/audit"
)

// Service provides survey business logic
type Service struct {
	repo        Repository
	auditLogger audit.Logger
}

// NewService creates a new survey service
func NewService(repo Repository, auditLogger audit.Logger) *Service {
	return &Service{repo: repo, auditLogger: auditLogger}
}

// Submit stores a response authored by actorID.
func (s *Service) Submit(ctx context.Context, actorID, organizationID string, mood int, comment string) (*Response, error) {
	if actorID == "" {
		return nil, ErrAnonymous
	}
	if mood < minMood || mood > maxMood {
		return nil, ErrInvalidMood
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > MaxCommentLength {
		return nil, ErrCommentTooLong
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate response id: %w", err)
	}
	r := &Response{
		ID:             id.String(),
		OrganizationID: organizationID,
		Mood:           mood,
		Comment:        comment,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:           audit.TypeSurveySubmitted,
		OrganizationID: organizationID,
		ActorID:        actorID,
		Resource:       "survey_response",
		Metadata:       map[string]any{"response_id": r.ID},
	})
	return r, nil
}

// ListMine returns the caller's own responses, newest first.
func (s *Service) ListMine(ctx context.Context, limit int) ([]*Response, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.repo.ListMine(ctx, limit)
}
