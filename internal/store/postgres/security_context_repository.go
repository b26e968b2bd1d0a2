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
	"fmt"
)

// SecurityContextRepository reads back the session variable RLS policies see.
type SecurityContextRepository struct {
	db      *DB
	setting string
}

// NewSecurityContextRepository creates a reader for setting.
func NewSecurityContextRepository(db *DB, setting string) *SecurityContextRepository {
	return &SecurityContextRepository{db: db, setting: setting}
}

// CurrentSubject returns the subject visible to queries issued for ctx, or
// "" when nothing is bound.
func (r *SecurityContextRepository) CurrentSubject(ctx context.Context) (string, error) {
	q, err := r.db.Conn(ctx)
	if err != nil {
		return "", err
	}

	var subject string
	err = q.QueryRow(ctx, `SELECT COALESCE(current_setting($1, true), '')`, r.setting).Scan(&subject)
	if err != nil {
		return "", fmt.Errorf("failed to read security context: %w", err)
	}
	return subject, nil
}
