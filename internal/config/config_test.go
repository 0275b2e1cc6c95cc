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

	assert.Equal(t, int64(20<<20), cfg.PhotoMaxBytes)
	assert.Equal(t, int64(50<<20), cfg.VideoMaxBytes)
	assert.Equal(t, 60*time.Second, cfg.MaxRecordingDuration)
	assert.Equal(t, 12, cfg.EnrichPollBudget)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingDefaultFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().FetchLimit, cfg.FetchLimit)
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
function_url: https://functions.example.com/telegram
fetch_limit: 25
debounce_window: 2s
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://functions.example.com/telegram", cfg.FunctionURL)
	assert.Equal(t, 25, cfg.FetchLimit)
	assert.Equal(t, 2*time.Second, cfg.DebounceWindow)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultConfig().EnrichPollBudget, cfg.EnrichPollBudget)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	t.Setenv("TGBRIDGE_FETCH_LIMIT", "7")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.FetchLimit)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"negative port", func(c *Config) { c.StatusPort = -1 }},
		{"zero fetch limit", func(c *Config) { c.FetchLimit = 0 }},
		{"zero debounce", func(c *Config) { c.DebounceWindow = 0 }},
		{"zero poll interval", func(c *Config) { c.EnrichPollInterval = 0 }},
		{"zero poll budget", func(c *Config) { c.EnrichPollBudget = 0 }},
		{"zero photo ceiling", func(c *Config) { c.PhotoMaxBytes = 0 }},
		{"zero recording duration", func(c *Config) { c.MaxRecordingDuration = 0 }},
		{"misaligned chunk size", func(c *Config) { c.FileChunkBytes = 1000 }},
		{"zero chunk size", func(c *Config) { c.FileChunkBytes = 0 }},
		{"reconnect max below base", func(c *Config) {
			c.ReconnectBaseDelay = time.Minute
			c.ReconnectMaxDelay = time.Second
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
