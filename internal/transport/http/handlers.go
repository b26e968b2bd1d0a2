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
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/pulse/internal/identity"
	"github.com/opentrusty/pulse/internal/observability/logger"
	"github.com/opentrusty/pulse/internal/organization"
	"github.com/opentrusty/pulse/internal/scope"
	"github.com/opentrusty/pulse/internal/survey"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultRequestTimeout = 10 * time.Second

// SecurityContextReader reads the subject that queries for ctx observe.
type SecurityContextReader interface {
	CurrentSubject(ctx context.Context) (string, error)
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	organizationService *organization.Service
	surveyService       *survey.Service
	securityContext     SecurityContextReader
}

// NewHandler creates a new HTTP handler
func NewHandler(
	organizationService *organization.Service,
	surveyService *survey.Service,
	securityContext SecurityContextReader,
) *Handler {
	return &Handler{
		organizationService: organizationService,
		surveyService:       surveyService,
		securityContext:     securityContext,
	}
}

// RouterConfig holds the request pipeline dependencies
type RouterConfig struct {
	Runner         IdentityRunner
	Peeker         *identity.Peeker
	Verifier       *identity.Verifier
	RequestTimeout time.Duration
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	// Health check
	r.Get("/health", h.HealthCheck)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(IdentityTransactionMiddleware(cfg.Runner, cfg.Peeker))
		r.Use(AuthMiddleware(cfg.Verifier))

		r.Get("/me/context", h.GetSecurityContext)

		r.Route("/organizations", func(r chi.Router) {
			r.Post("/", h.CreateOrganization)
			r.Get("/", h.ListOrganizations)
			r.Route("/{orgID}", func(r chi.Router) {
				r.Get("/", h.GetOrganization)
				r.Post("/members", h.AddMember)
				r.Get("/members", h.ListMembers)
			})
		})

		r.Route("/surveys/responses", func(r chi.Router) {
			r.Post("/", h.SubmitSurveyResponse)
			r.Get("/mine", h.ListMySurveyResponses)
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "pulse",
	})
}

// SecurityContextResponse describes the identity queries run under.
type SecurityContextResponse struct {
	UserID          string `json:"user_id"`
	ScopeID         string `json:"scope_id,omitempty"`
	SecurityContext string `json:"security_context"`
}

// GetSecurityContext reports the subject the database sees for this request.
func (h *Handler) GetSecurityContext(w http.ResponseWriter, r *http.Request) {
	subject, err := h.securityContext.CurrentSubject(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to read security context", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := SecurityContextResponse{
		UserID:          GetUserID(r.Context()),
		SecurityContext: subject,
	}
	if s, ok := scope.Current(r.Context()); ok {
		resp.ScopeID = s.ID().String()
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
