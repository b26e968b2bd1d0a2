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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

// DefaultClaimSetting is the session variable RLS policies read the caller from.
const DefaultClaimSetting = "request.jwt.claim.sub"

var (
	ErrInvalidSetting = errors.New("invalid session setting name")
	ErrInvalidSubject = errors.New("invalid subject for session binding")
	ErrBindFailed     = errors.New("failed to bind subject to transaction")
)

// Custom settings must be qualified with a prefix (PostgreSQL rejects
// unqualified unknown GUCs).
var settingPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)+$`)

// Binder binds a subject to a transaction-local session variable.
type Binder struct {
	setting string
}

// NewBinder creates a binder for the given setting name.
func NewBinder(setting string) (*Binder, error) {
	if err := ValidateSetting(setting); err != nil {
		return nil, err
	}
	return &Binder{setting: setting}, nil
}

// ValidateSetting checks that name is a qualified PostgreSQL setting name.
func ValidateSetting(name string) error {
	if !settingPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSetting, name)
	}
	return nil
}

// Setting returns the bound setting name.
func (b *Binder) Setting() string {
	return b.setting
}

// Bind issues SET LOCAL on tx. It must be the first statement on tx; the
// value reverts when tx ends, so the pooled connection never carries it
// into another request.
func (b *Binder) Bind(ctx context.Context, tx pgx.Tx, subjectID string) error {
	if subjectID == "" || strings.ContainsRune(subjectID, 0) {
		return ErrInvalidSubject
	}
	// SET does not take bind parameters. The setting name is validated at
	// construction and the value is emitted as an escaped literal.
	if _, err := tx.Exec(ctx, b.statement(subjectID)); err != nil {
		return fmt.Errorf("%w: %w", ErrBindFailed, err)
	}
	return nil
}

func (b *Binder) statement(subjectID string) string {
	return "SET LOCAL " + b.setting + " = " + quoteLiteral(subjectID)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
