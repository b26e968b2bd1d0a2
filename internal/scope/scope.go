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

// Package scope carries the identity-bound transaction of a request.
//
// A RequestScope owns one database transaction on which the caller's subject
// has been bound with SET LOCAL. The scope travels in the request's
// context.Context, so any repository reached from the request's call graph
// can find it without the transaction being passed explicitly, and code
// running for other requests never sees it.
package scope

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrScopeReleased is returned when data access is attempted through a scope
// whose transaction has already been committed or rolled back.
var ErrScopeReleased = errors.New("request scope already released")

// State is the lifecycle state of a RequestScope.
type State int32

const (
	StateBound State = iota
	StateCommitting
	StateRollingBack
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateBound:
		return "bound"
	case StateCommitting:
		return "committing"
	case StateRollingBack:
		return "rolling_back"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RequestScope is the per-request binding between a subject and a transaction.
// It is owned by the request that created it and must not be shared.
type RequestScope struct {
	id        uuid.UUID
	subjectID string
	tx        pgx.Tx
	startedAt time.Time

	mu         sync.Mutex
	state      State
	abortCause error
}

// New creates a bound scope for tx. The subject must already be bound on tx.
func New(subjectID string, tx pgx.Tx, startedAt time.Time) *RequestScope {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &RequestScope{
		id:        id,
		subjectID: subjectID,
		tx:        tx,
		startedAt: startedAt,
		state:     StateBound,
	}
}

// ID identifies the scope in logs.
func (s *RequestScope) ID() uuid.UUID {
	return s.id
}

// SubjectID returns the subject bound to the transaction.
func (s *RequestScope) SubjectID() string {
	return s.subjectID
}

// StartedAt returns when the transaction was opened.
func (s *RequestScope) StartedAt() time.Time {
	return s.startedAt
}

// State returns the current lifecycle state.
func (s *RequestScope) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tx returns the bound transaction while the scope is still bound.
func (s *RequestScope) Tx() (pgx.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBound {
		return nil, ErrScopeReleased
	}
	return s.tx, nil
}

// Abort records an abnormal termination of the request, such as a client
// disconnect or a timeout. An aborted scope is always rolled back.
// Aborting a released scope has no effect.
func (s *RequestScope) Abort(cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateBound && s.abortCause == nil {
		s.abortCause = cause
	}
}

// AbortCause returns the recorded abort cause, if any.
func (s *RequestScope) AbortCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortCause
}

// Finalize commits or rolls back the transaction, which returns its
// connection to the pool. Only the first call has an effect; later calls
// report finalized == false and a nil error.
//
// The applied outcome differs from the requested one when the scope was
// aborted or when the commit failed.
func (s *RequestScope) Finalize(ctx context.Context, outcome Outcome) (applied Outcome, finalized bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateBound {
		return OutcomeUnknown, false, nil
	}

	if outcome == OutcomeCommit && s.abortCause == nil {
		s.state = StateCommitting
		applied = OutcomeCommit
		if err = s.tx.Commit(ctx); err != nil {
			applied = OutcomeRollback
			err = fmt.Errorf("commit request scope: %w", err)
		}
	} else {
		s.state = StateRollingBack
		applied = OutcomeRollback
		if err = s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			err = fmt.Errorf("rollback request scope: %w", err)
		} else {
			err = nil
		}
	}

	s.state = StateReleased
	return applied, true, err
}
