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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opentrusty/pulse/internal/observability/logger"
	"github.com/opentrusty/pulse/internal/organization"
)

// CreateOrganizationRequest represents organization creation data
type CreateOrganizationRequest struct {
	Name string `json:"name"`
}

// CreateOrganization creates an organization owned by the caller.
func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req CreateOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	org, err := h.organizationService.CreateOrganization(r.Context(), req.Name, GetUserID(r.Context()))
	if err != nil {
		respondOrganizationError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, org)
}

// ListOrganizations lists the organizations visible to the caller.
func (h *Handler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.organizationService.ListOrganizations(r.Context(), queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		respondOrganizationError(w, r, err)
		return
	}
	if orgs == nil {
		orgs = []*organization.Organization{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"organizations": orgs,
	})
}

// GetOrganization returns one organization. Rows hidden by policy are
// reported as not found.
func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := h.organizationService.GetOrganization(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		respondOrganizationError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, org)
}

// AddMemberRequest represents membership grant data
type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// AddMember grants a role in an organization.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Role == "" {
		req.Role = organization.RoleMember
	}

	m, err := h.organizationService.AddMember(r.Context(), orgID, req.UserID, req.Role, GetUserID(r.Context()))
	if err != nil {
		respondOrganizationError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

// ListMembers lists the memberships of an organization.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.organizationService.ListMembers(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		respondOrganizationError(w, r, err)
		return
	}
	if members == nil {
		members = []*organization.Member{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"members": members,
	})
}

func respondOrganizationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, organization.ErrNameRequired), errors.Is(err, organization.ErrNameTooLong):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, organization.ErrInvalidRole):
		respondError(w, http.StatusBadRequest, "invalid role")
	case errors.Is(err, organization.ErrOrganizationNotFound):
		respondError(w, http.StatusNotFound, "organization not found")
	case errors.Is(err, organization.ErrOrganizationExists), errors.Is(err, organization.ErrMemberAlreadyExists):
		respondError(w, http.StatusConflict, err.Error())
	default:
		slog.ErrorContext(r.Context(), "organization request failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
