package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opentrusty/pulse/internal/store/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("AUTH_JWT_SECRET", "signing-key")
}

// TestPurpose: Validates defaults when only required variables are set.
// Scope: Unit Test
// Expected: The default claim setting, subject claim and timeouts are applied.
// Test Case ID: CFG-01
func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, postgres.DefaultClaimSetting, cfg.RLS.ClaimSetting)
	assert.Equal(t, "sub", cfg.RLS.SubjectClaim)
	assert.Equal(t, 5*time.Second, cfg.RLS.FinalizeTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
}

// TestPurpose: Validates required settings and claim setting validation.
// Scope: Unit Test
// Security: The claim setting is interpolated into SQL and must be rejected when malformed
// Expected: Missing secrets and invalid setting names fail to load.
// Test Case ID: CFG-02
func TestLoad_Validation(t *testing.T) {
	t.Run("missing db password", func(t *testing.T) {
		setRequired(t)
		t.Setenv("DB_PASSWORD", "")
		_, err := Load()
		assert.ErrorContains(t, err, "DB_PASSWORD")
	})

	t.Run("missing jwt secret", func(t *testing.T) {
		setRequired(t)
		t.Setenv("AUTH_JWT_SECRET", "")
		_, err := Load()
		assert.ErrorContains(t, err, "AUTH_JWT_SECRET")
	})

	t.Run("injected claim setting", func(t *testing.T) {
		setRequired(t)
		t.Setenv("RLS_CLAIM_SETTING", "app.sub; DROP TABLE organizations")
		_, err := Load()
		assert.ErrorIs(t, err, postgres.ErrInvalidSetting)
	})
}

// TestPurpose: Validates .env loading.
// Scope: Unit Test
// Expected: Values from the file apply; variables already in the environment win.
// Test Case ID: CFG-03
func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "DB_PASSWORD=from-file\nAUTH_JWT_SECRET=file-key\nRLS_CLAIM_SETTING=app.user_id\nRLS_FINALIZE_TIMEOUT=2s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("ENV_FILE", path)
	t.Setenv("AUTH_JWT_SECRET", "from-env")
	// godotenv writes into the process environment; register cleanups for
	// the keys the file sets.
	for _, key := range []string{"DB_PASSWORD", "RLS_CLAIM_SETTING", "RLS_FINALIZE_TIMEOUT"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Database.Password)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "app.user_id", cfg.RLS.ClaimSetting)
	assert.Equal(t, 2*time.Second, cfg.RLS.FinalizeTimeout)
}
