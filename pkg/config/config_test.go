package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://photos.google.com", cfg.GPhotos.BaseURL)
	assert.Equal(t, "http://localhost:2283", cfg.Immich.Endpoint)
	assert.Equal(t, "photos.db", cfg.Store.Path)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1, cfg.Scrape.StartAlbum)
	assert.Equal(t, 4, cfg.Reconcile.Concurrency)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
immich:
  endpoint: https://immich.example.com
  api_key: secret
store:
  path: /tmp/other.db
scrape:
  max_albums: 7
  page_load_timeout: 20s
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "https://immich.example.com", cfg.Immich.Endpoint)
	assert.Equal(t, "secret", cfg.Immich.APIKey)
	assert.Equal(t, "/tmp/other.db", cfg.Store.Path)
	assert.Equal(t, 7, cfg.Scrape.MaxAlbums)
	assert.Equal(t, 20*time.Second, cfg.Scrape.PageLoadTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
}

func TestLoadFromFileMissingIsNotAnError(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.LoadFromFile(""))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("IMMICH_ENDPOINT", "https://env.example.com")
	t.Setenv("IMMICH_API_KEY", "env-key")
	t.Setenv("IMMICH_INSECURE", "1")
	t.Setenv("IMMICHPORTER_DB_PATH", "env.db")
	t.Setenv("IMMICHPORTER_LOG_LEVEL", "warn")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "https://env.example.com", cfg.Immich.Endpoint)
	assert.Equal(t, "env-key", cfg.Immich.APIKey)
	assert.True(t, cfg.Immich.Insecure)
	assert.Equal(t, "env.db", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"endpoint":    "https://flag.example.com",
		"db-path":     "flag.db",
		"max-albums":  3,
		"concurrency": 8,
		"log-level":   "debug",
	})

	assert.Equal(t, "https://flag.example.com", cfg.Immich.Endpoint)
	assert.Equal(t, "flag.db", cfg.Store.Path)
	assert.Equal(t, 3, cfg.Scrape.MaxAlbums)
	assert.Equal(t, 8, cfg.Reconcile.Concurrency)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty store path", func(c *Config) { c.Store.Path = "" }},
		{"zero requests per minute", func(c *Config) { c.RateLimit.RequestsPerMinute = 0 }},
		{"negative retry attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }},
		{"start album below 1", func(c *Config) { c.Scrape.StartAlbum = 0 }},
		{"zero stability polls", func(c *Config) { c.Scrape.StabilityPolls = 0 }},
		{"zero concurrency", func(c *Config) { c.Reconcile.Concurrency = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Immich.Endpoint = "https://saved.example.com"
	require.NoError(t, cfg.Save(path))

	reloaded := DefaultConfig()
	require.NoError(t, reloaded.LoadFromFile(path))
	assert.Equal(t, "https://saved.example.com", reloaded.Immich.Endpoint)
}
