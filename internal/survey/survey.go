// Package survey records mood survey responses. Responses are private to
// their author: the database only shows a caller the rows bound to the
// subject of its request transaction.
package survey

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidMood    = errors.New("mood must be between 1 and 5")
	ErrAnonymous      = errors.New("survey responses require an identified caller")
	ErrCommentTooLong = errors.New("comment is too long")
)

// MaxCommentLength bounds a response comment in bytes.
const MaxCommentLength = 2000

const (
	minMood = 1
	maxMood = 5
)

// Response is one survey answer
type Response struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	AuthorID       string    `json:"author_id"`
	Mood           int       `json:"mood"`
	Comment        string    `json:"comment"`
	CreatedAt      time.Time `json:"created_at"`
}

// Repository defines survey response storage. AuthorID is filled in by the
// database from the bound subject.
type Repository interface {
	Create(ctx context.Context, r *Response) error
	ListMine(ctx context.Context, limit int) ([]*Response, error)
}
