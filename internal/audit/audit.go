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

// Package audit records administrative actions taken through the API.
package audit

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/opentrusty/pulse/internal/observability/logger"
	"github.com/opentrusty/pulse/internal/scope"
)

// Event types
const (
	TypeOrganizationCreated = "organization_created"
	TypeMemberAdded         = "member_added"
	TypeSurveySubmitted     = "survey_submitted"
)

// Event is one auditable action.
type Event struct {
	Type           string
	OrganizationID string
	ActorID        string
	Resource       string
	Metadata       map[string]any
	Timestamp      time.Time
}

// Logger records audit events.
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger writes events as structured records. Events logged inside a
// request scope name that scope; they describe work that only persists if
// the scope commits.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger writes to the default slog logger at the time of each event.
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// NewSlogLoggerTo writes to log.
func NewSlogLoggerTo(log *slog.Logger) *SlogLogger {
	return &SlogLogger{log: log}
}

func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		logger.Component("audit"),
		slog.String("audit_type", event.Type),
		logger.OrganizationID(event.OrganizationID),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	}
	if s, ok := scope.Current(ctx); ok {
		attrs = append(attrs, logger.ScopeID(s.ID().String()))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Group("metadata", redact(event.Metadata)...))
	}

	log := l.log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "AUDIT_EVENT", attrs...)
}

// redact returns metadata as attributes in key order with secret-looking
// keys masked.
func redact(metadata map[string]any) []any {
	out := make([]any, 0, len(metadata))
	for _, k := range slices.Sorted(maps.Keys(metadata)) {
		v := metadata[k]
		if isSecret(k) {
			v = "[REDACTED]"
		}
		out = append(out, slog.Any(k, v))
	}
	return out
}

var secretMarkers = []string{"password", "secret", "token", "key", "authorization", "hash", "credential"}

func isSecret(key string) bool {
	key = strings.ToLower(key)
	for _, s := range secretMarkers {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}
