// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// defaultDataDir returns the default directory for the local timeline cache.
// Uses ~/.telegram-bridge/ so data is in a fixed location regardless of CWD.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./store"
	}
	return filepath.Join(home, ".telegram-bridge")
}

// Config holds all configuration for the Telegram admin bridge.
type Config struct {
	// Remote messaging function
	FunctionURL    string        `mapstructure:"function_url"`
	FunctionKey    string        `mapstructure:"function_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	FileChunkBytes int           `mapstructure:"file_chunk_bytes"`

	// Event log REST endpoint
	EventLogURL string `mapstructure:"event_log_url"`

	// Realtime subscription
	RealtimeURL        string        `mapstructure:"realtime_url"`
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnect_max_delay"`

	// Timeline refresh
	FetchLimit         int           `mapstructure:"fetch_limit"`
	DebounceWindow     time.Duration `mapstructure:"debounce_window"`
	EnrichPollInterval time.Duration `mapstructure:"enrich_poll_interval"`
	EnrichPollBudget   int           `mapstructure:"enrich_poll_budget"`

	// Outbound attachments (bytes)
	PhotoMaxBytes    int64 `mapstructure:"photo_max_bytes"`
	DocumentMaxBytes int64 `mapstructure:"document_max_bytes"`
	VideoMaxBytes    int64 `mapstructure:"video_max_bytes"`

	// Recorder
	MaxRecordingDuration time.Duration `mapstructure:"max_recording_duration"`
	MinRecordingBytes    int           `mapstructure:"min_recording_bytes"`
	RecordChunkInterval  time.Duration `mapstructure:"record_chunk_interval"`
	StopFlushGrace       time.Duration `mapstructure:"stop_flush_grace"`

	// Local cache
	CachePath string `mapstructure:"cache_path"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Status endpoint
	StatusEnabled bool `mapstructure:"status_enabled"`
	StatusPort    int  `mapstructure:"status_port"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		RequestTimeout:       30 * time.Second,
		FileChunkBytes:       48 * 1024,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    5 * time.Minute,
		FetchLimit:           100,
		DebounceWindow:       1 * time.Second,
		EnrichPollInterval:   5 * time.Second,
		EnrichPollBudget:     12,
		PhotoMaxBytes:        20 << 20,
		DocumentMaxBytes:     20 << 20,
		VideoMaxBytes:        50 << 20,
		MaxRecordingDuration: 60 * time.Second,
		MinRecordingBytes:    1024,
		RecordChunkInterval:  1 * time.Second,
		StopFlushGrace:       300 * time.Millisecond,
		CachePath:            filepath.Join(dataDir, "timeline.db"),
		LogLevel:             "info",
		LogFormat:            "json",
		StatusEnabled:        true,
		StatusPort:           9090,
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// Priority: CLI flags > Environment > Config file > Defaults
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("function_url", defaults.FunctionURL)
	v.SetDefault("function_key", defaults.FunctionKey)
	v.SetDefault("request_timeout", defaults.RequestTimeout)
	v.SetDefault("file_chunk_bytes", defaults.FileChunkBytes)
	v.SetDefault("event_log_url", defaults.EventLogURL)
	v.SetDefault("realtime_url", defaults.RealtimeURL)
	v.SetDefault("reconnect_base_delay", defaults.ReconnectBaseDelay)
	v.SetDefault("reconnect_max_delay", defaults.ReconnectMaxDelay)
	v.SetDefault("fetch_limit", defaults.FetchLimit)
	v.SetDefault("debounce_window", defaults.DebounceWindow)
	v.SetDefault("enrich_poll_interval", defaults.EnrichPollInterval)
	v.SetDefault("enrich_poll_budget", defaults.EnrichPollBudget)
	v.SetDefault("photo_max_bytes", defaults.PhotoMaxBytes)
	v.SetDefault("document_max_bytes", defaults.DocumentMaxBytes)
	v.SetDefault("video_max_bytes", defaults.VideoMaxBytes)
	v.SetDefault("max_recording_duration", defaults.MaxRecordingDuration)
	v.SetDefault("min_recording_bytes", defaults.MinRecordingBytes)
	v.SetDefault("record_chunk_interval", defaults.RecordChunkInterval)
	v.SetDefault("stop_flush_grace", defaults.StopFlushGrace)
	v.SetDefault("cache_path", defaults.CachePath)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("status_enabled", defaults.StatusEnabled)
	v.SetDefault("status_port", defaults.StatusPort)

	// Environment variables with TGBRIDGE_ prefix
	v.SetEnvPrefix("TGBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Ignore if the default config.yaml simply does not exist; use built-in defaults.
			// Only fail if the user explicitly provided a path that can't be read.
			isNotFound := errors.Is(err, os.ErrNotExist)
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.StatusPort < 0 || c.StatusPort > 65535 {
		return fmt.Errorf("invalid status port: %d (must be 0-65535)", c.StatusPort)
	}

	if c.FetchLimit <= 0 {
		return fmt.Errorf("fetch limit must be positive")
	}

	if c.DebounceWindow <= 0 {
		return fmt.Errorf("debounce window must be positive")
	}

	if c.EnrichPollInterval <= 0 {
		return fmt.Errorf("enrichment poll interval must be positive")
	}

	if c.EnrichPollBudget <= 0 {
		return fmt.Errorf("enrichment poll budget must be positive")
	}

	if c.PhotoMaxBytes <= 0 || c.DocumentMaxBytes <= 0 || c.VideoMaxBytes <= 0 {
		return fmt.Errorf("attachment size ceilings must be positive")
	}

	if c.MaxRecordingDuration <= 0 {
		return fmt.Errorf("max recording duration must be positive")
	}

	if c.MinRecordingBytes < 0 {
		return fmt.Errorf("min recording bytes must be non-negative")
	}

	// Chunks must stay 3-byte aligned so chunked base64 output concatenates cleanly.
	if c.FileChunkBytes <= 0 || c.FileChunkBytes%3 != 0 {
		return fmt.Errorf("file chunk bytes must be a positive multiple of 3")
	}

	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be positive")
	}

	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("reconnect base delay must be less than or equal to max delay")
	}

	return nil
}
