package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Registry.Timeout)
	assert.Equal(t, 30, cfg.Prompt.Timeout)
	assert.Equal(t, 240, cfg.Composer.Timeout)
	assert.Equal(t, 3, cfg.Prompt.MaxAttempts)
	assert.Equal(t, 1000, cfg.Prompt.BaseDelayMs)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.False(t, cfg.Pipeline.OwnerLockEnabled)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("COMPOSER_TIMEOUT", "600")
	t.Setenv("PROMPT_PROVIDER", "openai")
	t.Setenv("PIPELINE_OWNER_LOCK_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 600, cfg.Composer.Timeout)
	assert.Equal(t, "openai", cfg.Prompt.Provider)
	assert.True(t, cfg.Pipeline.OwnerLockEnabled)
}

func TestReadSecret_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("s3cr3t\n"), 0o600))

	t.Setenv("PROMPT_API_KEY", "")
	t.Setenv("PROMPT_API_KEY_FILE", path)

	readSecret("PROMPT_API_KEY")
	assert.Equal(t, "s3cr3t", os.Getenv("PROMPT_API_KEY"))
}

func TestReadSecret_DirectValueWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o600))

	t.Setenv("SENTRY_DSN", "direct")
	t.Setenv("SENTRY_DSN_FILE", path)

	readSecret("SENTRY_DSN")
	assert.Equal(t, "direct", os.Getenv("SENTRY_DSN"))
}
