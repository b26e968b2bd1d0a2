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
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates the embedded schema.
// Scope: Unit Test
// Security: Every table holding caller data has row-level security forced
// Expected: The initial migration is embedded and forces RLS on all tables.
// Test Case ID: MIG-01
func TestMigrations_Embedded(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, "001_initial_schema", migrations[0].Name)

	schema := migrations[0].SQL
	for _, table := range []string{"organizations", "organization_members", "survey_responses"} {
		assert.Contains(t, schema, "ALTER TABLE "+table+" FORCE ROW LEVEL SECURITY")
	}
	assert.Contains(t, schema, "security_invoker = true")
	assert.Contains(t, schema, "current_setting('"+DefaultClaimSetting+"', true)")
}

// TestPurpose: Validates that migrations run in their own transactions.
// Scope: Unit Test
// Expected: Begin, exec, commit per migration.
// Test Case ID: MIG-02
func TestApplyMigrations_Commits(t *testing.T) {
	db, sqlMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{
		{Name: "001_a", SQL: "CREATE TABLE a (id INT)"},
		{Name: "002_b", SQL: "CREATE TABLE b (id INT)"},
	}
	for _, m := range migrations {
		sqlMock.ExpectBegin()
		sqlMock.ExpectExec(m.SQL).WillReturnResult(sqlmock.NewResult(0, 0))
		sqlMock.ExpectCommit()
	}

	require.NoError(t, ApplyMigrations(context.Background(), db, migrations))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

// TestPurpose: Validates that a failing migration is rolled back and stops the run.
// Scope: Unit Test
// Expected: The error names the migration; later migrations are not attempted.
// Test Case ID: MIG-03
func TestApplyMigrations_FailureRollsBack(t *testing.T) {
	db, sqlMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{
		{Name: "001_a", SQL: "CREATE TABLE a (id INT)"},
		{Name: "002_b", SQL: "CREATE TABLE b (id INT)"},
	}
	sqlMock.ExpectBegin()
	sqlMock.ExpectExec(migrations[0].SQL).WillReturnError(errors.New("permission denied"))
	sqlMock.ExpectRollback()

	err = ApplyMigrations(context.Background(), db, migrations)
	assert.ErrorContains(t, err, "001_a")
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

// TestPurpose: Validates the development data reset.
// Scope: Unit Test
// Expected: All data tables are truncated in one transaction; a failure rolls back.
// Test Case ID: MIG-04
func TestResetData(t *testing.T) {
	t.Run("Truncates", func(t *testing.T) {
		db, sqlMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		require.NoError(t, err)
		defer db.Close()

		sqlMock.ExpectBegin()
		for _, table := range DataTables {
			sqlMock.ExpectExec("TRUNCATE TABLE " + table + " CASCADE").WillReturnResult(sqlmock.NewResult(0, 0))
		}
		sqlMock.ExpectCommit()

		require.NoError(t, ResetData(context.Background(), db))
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("RollsBack", func(t *testing.T) {
		db, sqlMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		require.NoError(t, err)
		defer db.Close()

		sqlMock.ExpectBegin()
		sqlMock.ExpectExec("TRUNCATE TABLE " + DataTables[0] + " CASCADE").WillReturnError(errors.New("permission denied"))
		sqlMock.ExpectRollback()

		err = ResetData(context.Background(), db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), DataTables[0])
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})
}
