package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 4, cfg.ReconcileParallelism)
	assert.Equal(t, 30*time.Second, cfg.ProgressCacheTTL)
	assert.Equal(t, "*/15 * * * *", cfg.ReconcileCron)
	assert.Equal(t, 5*time.Second, cfg.PGLockTimeout)
	assert.Equal(t, time.Minute, cfg.PGStatementTimeout)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsNonPositiveParallelism(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("RECONCILE_PARALLELISM", "0")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_EnvFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("APP_ENV", "production")
	// godotenv only sets variables that are missing, so register cleanup for the ones it adds.
	t.Cleanup(func() { os.Unsetenv("PROGRESS_CACHE_TTL") })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET=from-file\nPROGRESS_CACHE_TTL=2m\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Equal(t, 2*time.Minute, cfg.ProgressCacheTTL)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_MissingEnvFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
