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

// Package identity extracts a best-effort caller identity from inbound
// credentials.
//
// The result of Peek is a hint. It selects whether a request transaction is
// bound to a subject; it never authorizes anything. Signature verification
// happens later in the authorization phase, which is authoritative.
package identity

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSubjectClaim is the JWT claim read when none is configured.
const DefaultSubjectClaim = "sub"

// MaxSubjectLength bounds the subject that may be bound to a session variable.
const MaxSubjectLength = 256

const bearerScheme = "bearer"

// Peeker decodes bearer credentials without verifying them.
type Peeker struct {
	claim  string
	parser *jwt.Parser
}

// NewPeeker creates a peeker reading the given claim.
func NewPeeker(claim string) *Peeker {
	if claim == "" {
		claim = DefaultSubjectClaim
	}
	return &Peeker{
		claim:  claim,
		parser: jwt.NewParser(),
	}
}

// Claim returns the claim name the peeker reads.
func (p *Peeker) Claim() string {
	return p.claim
}

// Peek returns the subject carried by an Authorization header value.
// Absent, malformed or unusable credentials yield ("", false).
func (p *Peeker) Peek(authorization string) (string, bool) {
	token, ok := bearerToken(authorization)
	if !ok {
		return "", false
	}

	claims := jwt.MapClaims{}
	if _, _, err := p.parser.ParseUnverified(token, claims); err != nil {
		return "", false
	}

	subject, ok := claims[p.claim].(string)
	if !ok || !validSubject(subject) {
		return "", false
	}
	return subject, true
}

// FromRequest peeks the Authorization header of r.
func (p *Peeker) FromRequest(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	return p.Peek(r.Header.Get("Authorization"))
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func validSubject(subject string) bool {
	if subject == "" || len(subject) > MaxSubjectLength {
		return false
	}
	return !strings.ContainsRune(subject, 0)
}
