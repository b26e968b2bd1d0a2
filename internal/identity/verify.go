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

package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Verifier authenticates HS256 bearer tokens. Unlike Peeker its answer is
// authoritative.
type Verifier struct {
	claim  string
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a verifier for tokens signed with secret.
func NewVerifier(secret []byte, claim string) *Verifier {
	if claim == "" {
		claim = DefaultSubjectClaim
	}
	return &Verifier{
		claim:  claim,
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify checks the signature and standard time claims of the bearer token
// in an Authorization header value and returns its subject.
func (v *Verifier) Verify(authorization string) (string, error) {
	raw, ok := bearerToken(authorization)
	if !ok {
		return "", ErrMissingToken
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	subject, ok := claims[v.claim].(string)
	if !ok || !validSubject(subject) {
		return "", fmt.Errorf("%w: unusable %s claim", ErrInvalidToken, v.claim)
	}
	return subject, nil
}
