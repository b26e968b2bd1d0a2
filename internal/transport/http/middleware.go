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

package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/pulse/internal/identity"
	"github.com/opentrusty/pulse/internal/observability/logger"
	"github.com/opentrusty/pulse/internal/rls"
	"github.com/opentrusty/pulse/internal/scope"
)

// Request pipeline:
// 1. IdentityTransactionMiddleware peeks the bearer subject and opens the
//    identity-bound transaction. It is a hint only.
// 2. AuthMiddleware verifies the token and rejects requests whose verified
//    subject differs from the bound one. Rejection is a 401, which rolls
//    the transaction back.
// 3. Handlers reach the transaction through the request context only.

// IdentityRunner runs a unit of work inside a request scope.
// *rls.Coordinator satisfies it.
type IdentityRunner interface {
	RunWithIdentity(ctx context.Context, subjectID string, body rls.Body) error
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Log request start
			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// IdentityTransactionMiddleware runs every request inside an identity-bound
// transaction when its bearer credential carries a usable subject, and
// without one otherwise. The transaction commits when the final status is
// below 400 and rolls back on any other status, on panic, on disconnect and
// on timeout.
//
// Failures to open or bind the transaction are answered with a generic 500;
// the session variable mechanism is never described to the client.
//
// The status reaches the client before the transaction ends. A request
// aborted after it wrote a 2xx keeps that status while its work is rolled
// back; the abort is only logged.
func IdentityTransactionMiddleware(runner IdentityRunner, peeker *identity.Peeker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, _ := peeker.FromRequest(r)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			err := runner.RunWithIdentity(r.Context(), subject, func(ctx context.Context) (scope.Outcome, error) {
				next.ServeHTTP(ww, r.WithContext(ctx))
				return scope.OutcomeForStatus(ww.Status()), nil
			})

			switch {
			case err == nil:
			case errors.Is(err, rls.ErrBeginFailed), errors.Is(err, rls.ErrBindFailed):
				slog.ErrorContext(r.Context(), "failed to open request transaction",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Error(err),
				)
				respondError(w, http.StatusInternalServerError, "internal server error")
			case errors.Is(err, rls.ErrNestedScope):
				slog.ErrorContext(r.Context(), "nested request scope rejected", logger.Error(err))
				respondError(w, http.StatusInternalServerError, "internal server error")
			case errors.Is(err, rls.ErrAborted):
				slog.WarnContext(r.Context(), "request aborted, transaction rolled back",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Error(err),
				)
			default:
				// The response has already been sent; only the commit failed.
				slog.ErrorContext(r.Context(), "request transaction did not commit",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.StatusCode(ww.Status()),
					logger.Error(err),
				)
			}
		})
	}
}

// AuthMiddleware verifies the bearer token and requires its subject to be
// the one bound to the current request scope. On success the subject is
// the authenticated user for the rest of the request.
func AuthMiddleware(verifier *identity.Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := verifier.Verify(r.Header.Get("Authorization"))
			if err != nil {
				if !errors.Is(err, identity.ErrMissingToken) {
					slog.WarnContext(r.Context(), "bearer token rejected", logger.Error(err))
				}
				respondError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			s, ok := scope.Current(r.Context())
			if !ok || s.SubjectID() != subject {
				slog.WarnContext(r.Context(), "verified subject does not match request scope",
					logger.SubjectID(subject),
				)
				respondError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), subject)))
		})
	}
}
