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

// Package rls drives the lifecycle of identity-bound request scopes.
//
// For every unit of work that carries a subject, the Coordinator checks out
// a connection, opens a transaction, binds the subject to it, runs the work
// with the scope attached to its context, and then commits or rolls back
// exactly once. The connection goes back to the pool on every path: normal
// return, error, panic, client disconnect and timeout.
package rls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/pulse/internal/observability/logger"
	"github.com/opentrusty/pulse/internal/scope"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultFinalizeTimeout bounds commit and rollback once the request itself
// is gone.
const DefaultFinalizeTimeout = 5 * time.Second

const tracerName = "github.com/opentrusty/pulse/internal/rls"

var (
	ErrBeginFailed = errors.New("failed to open request transaction")
	ErrBindFailed  = errors.New("failed to bind identity to request transaction")
	ErrNestedScope = errors.New("request scope already bound to a different subject")
	ErrAborted     = errors.New("request scope aborted")
)

// Beginner opens transactions on pooled connections. *pgxpool.Pool and
// *postgres.DB satisfy it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SessionBinder binds a subject to a freshly opened transaction.
type SessionBinder interface {
	Bind(ctx context.Context, tx pgx.Tx, subjectID string) error
}

// Body is a unit of work run inside a request scope. The returned outcome
// decides whether the scope commits; a non-nil error always rolls back.
type Body func(ctx context.Context) (scope.Outcome, error)

// Stats is a snapshot of coordinator counters.
type Stats struct {
	Opened            int64
	Committed         int64
	RolledBack        int64
	Released          int64
	BindFailures      int64
	AbsorbedFinalizes int64
	Active            int64
}

type counters struct {
	opened       atomic.Int64
	committed    atomic.Int64
	rolledBack   atomic.Int64
	released     atomic.Int64
	bindFailures atomic.Int64
	absorbed     atomic.Int64
	active       atomic.Int64
}

// Coordinator opens, binds and finalizes request scopes.
type Coordinator struct {
	pool            Beginner
	binder          SessionBinder
	finalizeTimeout time.Duration
	tracer          trace.Tracer
	instruments     *Instruments
	now             func() time.Time
	logger          *slog.Logger

	stats counters
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithFinalizeTimeout bounds each commit or rollback.
func WithFinalizeTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.finalizeTimeout = d
		}
	}
}

// WithTracer sets the tracer used for rls.begin and rls.finalize spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithInstruments records scope metrics.
func WithInstruments(i *Instruments) Option {
	return func(c *Coordinator) {
		c.instruments = i
	}
}

// WithClock overrides the clock used for scope start times.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator creates a coordinator over pool and binder.
func NewCoordinator(pool Beginner, binder SessionBinder, opts ...Option) *Coordinator {
	c := &Coordinator{
		pool:            pool,
		binder:          binder,
		finalizeTimeout: DefaultFinalizeTimeout,
		tracer:          otel.Tracer(tracerName),
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Component("rls"))
	return c
}

// Begin checks out a connection, opens a transaction and binds subjectID to
// it. If binding fails the transaction is rolled back, the connection is
// returned and an error matching ErrBindFailed is returned.
func (c *Coordinator) Begin(ctx context.Context, subjectID string) (*scope.RequestScope, error) {
	ctx, span := c.tracer.Start(ctx, "rls.begin")
	defer span.End()

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin failed")
		return nil, fmt.Errorf("%w: %w", ErrBeginFailed, err)
	}

	if err := c.binder.Bind(ctx, tx, subjectID); err != nil {
		c.stats.bindFailures.Add(1)
		c.instruments.bindFailure(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bind failed")

		rctx, cancel := c.detached(ctx)
		defer cancel()
		if rbErr := tx.Rollback(rctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			c.logger.ErrorContext(ctx, "failed to roll back after bind failure", logger.Error(rbErr))
		}
		c.logger.WarnContext(ctx, "identity binding failed", logger.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrBindFailed, err)
	}

	s := scope.New(subjectID, tx, c.now())
	c.stats.opened.Add(1)
	c.stats.active.Add(1)
	c.instruments.opened(ctx)
	span.SetAttributes(attribute.String("rls.scope_id", s.ID().String()))

	c.logger.DebugContext(ctx, "request scope opened",
		logger.ScopeID(s.ID().String()),
		logger.SubjectID(subjectID),
	)
	return s, nil
}

// Finalize commits or rolls back s and returns its connection to the pool.
// It runs detached from ctx's cancellation so a disconnected request still
// releases its connection. Only the first call for a scope has an effect;
// later calls return scope.OutcomeUnknown and a nil error.
func (c *Coordinator) Finalize(ctx context.Context, s *scope.RequestScope, outcome scope.Outcome) (scope.Outcome, error) {
	ctx, cancel := c.detached(ctx)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "rls.finalize", trace.WithAttributes(
		attribute.String("rls.scope_id", s.ID().String()),
		attribute.String("rls.requested_outcome", outcome.String()),
	))
	defer span.End()

	applied, finalized, err := s.Finalize(ctx, outcome)
	if !finalized {
		c.stats.absorbed.Add(1)
		c.instruments.finalizeRace(ctx)
		c.logger.DebugContext(ctx, "request scope already finalized", logger.ScopeID(s.ID().String()))
		return scope.OutcomeUnknown, nil
	}

	c.stats.released.Add(1)
	c.stats.active.Add(-1)
	switch applied {
	case scope.OutcomeCommit:
		c.stats.committed.Add(1)
	default:
		c.stats.rolledBack.Add(1)
	}
	elapsed := c.now().Sub(s.StartedAt())
	c.instruments.finalized(ctx, applied, elapsed)
	span.SetAttributes(attribute.String("rls.outcome", applied.String()))

	attrs := []any{
		logger.ScopeID(s.ID().String()),
		logger.Outcome(applied.String()),
		logger.Duration(elapsed.Milliseconds()),
	}
	if cause := s.AbortCause(); cause != nil {
		attrs = append(attrs, slog.String("abort_cause", cause.Error()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize failed")
		c.logger.ErrorContext(ctx, "request scope finalize failed", append(attrs, logger.Error(err))...)
		return applied, err
	}
	c.logger.DebugContext(ctx, "request scope released", attrs...)
	return applied, nil
}

// RunWithIdentity runs body inside a request scope bound to subjectID.
//
// An empty subject runs body without a scope, so its data access goes to
// the default pool. When ctx already carries a scope for the same subject,
// body joins it and the outer owner finalizes; a scope for another subject
// yields ErrNestedScope.
//
// The scope commits only when body returns scope.OutcomeCommit with a nil
// error and ctx was not cancelled while it ran. A panic in body rolls back
// and is re-raised.
func (c *Coordinator) RunWithIdentity(ctx context.Context, subjectID string, body Body) (err error) {
	if subjectID == "" {
		_, err := body(ctx)
		return err
	}

	if outer, ok := scope.Current(ctx); ok {
		if outer.SubjectID() != subjectID {
			return ErrNestedScope
		}
		_, err := body(ctx)
		return err
	}

	s, err := c.Begin(ctx, subjectID)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		s.Abort(context.Cause(ctx))
	})

	outcome := scope.OutcomeRollback
	defer func() {
		stop()
		// AfterFunc runs on its own goroutine; record a cancellation that
		// happened before body returned even if the hook has not run yet.
		if ctx.Err() != nil {
			s.Abort(context.Cause(ctx))
		}
		if p := recover(); p != nil {
			c.logger.ErrorContext(ctx, "panic inside request scope", logger.ScopeID(s.ID().String()))
			_, _ = c.Finalize(ctx, s, scope.OutcomeRollback)
			panic(p)
		}

		applied, ferr := c.Finalize(ctx, s, outcome)
		switch {
		case err != nil:
		case ferr != nil:
			err = ferr
		case outcome == scope.OutcomeCommit && applied == scope.OutcomeRollback && s.AbortCause() != nil:
			err = fmt.Errorf("%w: %w", ErrAborted, s.AbortCause())
		}
	}()

	outcome, err = body(scope.With(ctx, s))
	if err != nil {
		outcome = scope.OutcomeRollback
	}
	return err
}

// Stats returns a snapshot of the coordinator counters. Once every unit of
// work has returned, Opened equals Released and Active is zero.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Opened:            c.stats.opened.Load(),
		Committed:         c.stats.committed.Load(),
		RolledBack:        c.stats.rolledBack.Load(),
		Released:          c.stats.released.Load(),
		BindFailures:      c.stats.bindFailures.Load(),
		AbsorbedFinalizes: c.stats.absorbed.Load(),
		Active:            c.stats.active.Load(),
	}
}

func (c *Coordinator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.finalizeTimeout)
}
