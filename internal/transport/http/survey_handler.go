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

	"github.com/opentrusty/pulse/internal/observability/logger"
	"github.com/opentrusty/pulse/internal/survey"
)

// SubmitSurveyRequest represents a survey response
type SubmitSurveyRequest struct {
	OrganizationID string `json:"organization_id"`
	Mood           int    `json:"mood"`
	Comment        string `json:"comment"`
}

// SubmitSurveyResponse stores a response authored by the caller.
func (h *Handler) SubmitSurveyResponse(w http.ResponseWriter, r *http.Request) {
	var req SubmitSurveyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.surveyService.Submit(r.Context(), GetUserID(r.Context()), req.OrganizationID, req.Mood, req.Comment)
	if err != nil {
		switch {
		case errors.Is(err, survey.ErrAnonymous):
			respondError(w, http.StatusUnauthorized, "not authenticated")
		case errors.Is(err, survey.ErrInvalidMood), errors.Is(err, survey.ErrCommentTooLong):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			slog.ErrorContext(r.Context(), "failed to store survey response", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// ListMySurveyResponses lists the caller's own responses.
func (h *Handler) ListMySurveyResponses(w http.ResponseWriter, r *http.Request) {
	responses, err := h.surveyService.ListMine(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list survey responses", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if responses == nil {
		responses = []*survey.Response{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"responses": responses,
	})
}
