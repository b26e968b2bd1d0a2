package postgres

import (
	"context"
	"fmt"

	"github.com/opentrusty/pulse/internal/survey"
)

// SurveyRepository implements survey.Repository
type SurveyRepository struct {
	db *DB
}

// NewSurveyRepository creates a new survey repository
func NewSurveyRepository(db *DB) *SurveyRepository {
	return &SurveyRepository{db: db}
}

// Create inserts a response. author_id defaults to the bound subject.
func (r *SurveyRepository) Create(ctx context.Context, resp *survey.Response) error {
	q, err := r.db.Conn(ctx)
	if err != nil {
		return err
	}

	err = q.QueryRow(ctx, `
		INSERT INTO survey_responses (id, organization_id, mood, comment)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4)
		RETURNING author_id, created_at
	`, resp.ID, resp.OrganizationID, resp.Mood, resp.Comment).Scan(&resp.AuthorID, &resp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create survey response: %w", err)
	}

	return nil
}

// ListMine reads the my_survey_responses view, which is gated on the bound
// subject. Without a request scope it returns nothing.
func (r *SurveyRepository) ListMine(ctx context.Context, limit int) ([]*survey.Response, error) {
	q, err := r.db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id::text, COALESCE(organization_id::text, ''), author_id, mood, comment, created_at
		FROM my_survey_responses
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list survey responses: %w", err)
	}
	defer rows.Close()

	var out []*survey.Response
	for rows.Next() {
		var resp survey.Response
		var mood int16
		if err := rows.Scan(&resp.ID, &resp.OrganizationID, &resp.AuthorID, &mood, &resp.Comment, &resp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan survey response: %w", err)
		}
		resp.Mood = int(mood)
		out = append(out, &resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list survey responses: %w", err)
	}

	return out, nil
}
