package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate(), "default config must validate")
	assert.NotEmpty(t, cfg.Storage.DatabasePath)
	assert.Equal(t, 5, cfg.Sync.MaxAttempts)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err, "missing config must not error")
	assert.Equal(t, "meridian", cfg.Name)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
storage:
  database_path: /tmp/test.db
sync:
  max_attempts: 2
  base_backoff: 250ms
logging:
  level: debug
  debug_mode: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 2, cfg.Sync.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.GetBaseBackoff())
	// Unspecified sections keep their defaults.
	assert.Equal(t, "1m", cfg.Sync.MaxBackoff)
	assert.True(t, cfg.Logging.DebugMode)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MERIDIAN_DB", "/env/override.db")
	t.Setenv("MERIDIAN_LOG_LEVEL", "warn")
	t.Setenv("MERIDIAN_DEBUG", "1")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: meridian\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/env/override.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Sync.MaxAttempts = 9

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Sync.MaxAttempts)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.Storage.DatabasePath = "" }},
		{"zero attempts", func(c *Config) { c.Sync.MaxAttempts = 0 }},
		{"jitter over 1", func(c *Config) { c.Sync.Jitter = 1.5 }},
		{"bad backoff", func(c *Config) { c.Sync.BaseBackoff = "soon" }},
		{"bad tick", func(c *Config) { c.Sync.TickInterval = "often" }},
		{"zero doc limit", func(c *Config) { c.Limits.MaxDocumentBytes = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{DebugMode: false}
	assert.False(t, lc.IsCategoryEnabled("sync"), "production mode must disable every category")

	lc = LoggingConfig{DebugMode: true, Categories: map[string]bool{"sync": false}}
	assert.False(t, lc.IsCategoryEnabled("sync"), "explicitly disabled category must stay off")
	assert.True(t, lc.IsCategoryEnabled("store"), "unlisted category must default to enabled")
}
