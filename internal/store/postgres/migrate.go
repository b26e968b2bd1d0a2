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
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

// Migration is one embedded schema script.
type Migration struct {
	Name string
	SQL  string
}

// Migrations returns the embedded migrations ordered by file name.
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(migrationFiles, "migrations/*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := migrationFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		migrations = append(migrations, Migration{
			Name: strings.TrimSuffix(path.Base(name), ".up.sql"),
			SQL:  string(content),
		})
	}
	return migrations, nil
}

// ApplyMigrations runs each migration in its own transaction over a
// database/sql handle, stopping at the first failure.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrations []Migration) error {
	for _, m := range migrations {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %s: failed to begin: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %s: failed to commit: %w", m.Name, err)
		}
	}
	return nil
}

// DataTables lists the tables holding caller data, children first.
var DataTables = []string{
	"survey_responses",
	"organization_members",
	"organizations",
}

// ResetData truncates every data table in one transaction. The schema and
// its policies are left in place.
func ResetData(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset: failed to begin: %w", err)
	}
	for _, table := range DataTables {
		if _, err := tx.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reset: failed to truncate %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset: failed to commit: %w", err)
	}
	return nil
}
