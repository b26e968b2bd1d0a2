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

package logger

import "log/slog"

// Attribute keys shared by every log record the service writes. Dashboards
// and alerts match on these names.
const (
	KeyRequestID      = "request_id"
	KeySubjectID      = "subject_id"
	KeyScopeID        = "scope_id"
	KeyOrganizationID = "organization_id"
	KeyOutcome        = "outcome"
	KeyError          = "error"
)

// HTTP request

func RequestID(id string) slog.Attr  { return slog.String(KeyRequestID, id) }
func Method(method string) slog.Attr { return slog.String("method", method) }
func Path(path string) slog.Attr     { return slog.String("path", path) }
func RemoteAddr(addr string) slog.Attr {
	return slog.String("remote_addr", addr)
}
func UserAgent(ua string) slog.Attr { return slog.String("user_agent", ua) }
func StatusCode(code int) slog.Attr { return slog.Int("status_code", code) }

// Duration is in milliseconds.
func Duration(ms int64) slog.Attr { return slog.Int64("duration_ms", ms) }

// Identity and request scope

// SubjectID is the caller identity a request scope is bound to. Never log
// the credential it came from.
func SubjectID(id string) slog.Attr      { return slog.String(KeySubjectID, id) }
func ScopeID(id string) slog.Attr        { return slog.String(KeyScopeID, id) }
func OrganizationID(id string) slog.Attr { return slog.String(KeyOrganizationID, id) }
func Outcome(outcome string) slog.Attr   { return slog.String(KeyOutcome, outcome) }

// Errors and components

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

func Component(name string) slog.Attr { return slog.String("component", name) }
func Operation(op string) slog.Attr   { return slog.String("operation", op) }
