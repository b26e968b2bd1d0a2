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
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates authoritative bearer verification.
// Scope: Unit Test
// Security: Forged, expired or algorithm-confused tokens must be rejected
// Expected: Only HS256 tokens signed with the configured secret and not expired are accepted.
// Test Case ID: IDV-01
func TestVerifier_Verify(t *testing.T) {
	v := NewVerifier([]byte("secret"), "")

	subject, err := v.Verify("Bearer " + signToken(t, jwt.MapClaims{"sub": "u1"}, "secret"))
	require.NoError(t, err)
	assert.Equal(t, "u1", subject)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = v.Verify("Bearer " + signToken(t, jwt.MapClaims{"sub": "u1"}, "forged"))
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Minute).Unix()}
	_, err = v.Verify("Bearer " + signToken(t, expired, "secret"))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("Bearer " + signToken(t, jwt.MapClaims{"sub": ""}, "secret"))
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify("Bearer " + none)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
