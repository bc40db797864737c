// Package config provides configuration management for demuxctl using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultBufferMemMaxMB = 32
	defaultHTTPTimeoutMs  = 30_000
)

// Config holds all configuration for demuxctl: just enough to drive
// the buffer pool cap, the HTTP ByteSource backend's timeout, and
// logging.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Buffer  BufferConfig  `mapstructure:"buffer"`
	HTTP    HTTPConfig    `mapstructure:"http"`
}

// LoggingConfig holds logging configuration, consumed directly by
// internal/observability.NewLogger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// BufferConfig holds the process-wide BufferPool cap.
type BufferConfig struct {
	// MemMaxMB is the buffer pool's total-bytes cap, parsed as a
	// ByteSize: a human-readable value like "64MB", or a raw number,
	// which is a count of bytes.
	MemMaxMB ByteSize `mapstructure:"mem_max_mb"`
}

// HTTPConfig holds the HTTP ByteSource backend's per-request timeout.
type HTTPConfig struct {
	TimeoutMs Duration `mapstructure:"timeout_ms"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and
// are prefixed with DEMUX_ with underscores for nesting, e.g.
// DEMUX_BUFFER_MEM_MAX_MB, DEMUX_HTTP_TIMEOUT_MS, DEMUX_LOG (mapped
// onto logging.level).
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/demuxctl")
		v.AddConfigPath("$HOME/.demuxctl")
	}

	v.SetEnvPrefix("DEMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// DEMUX_LOG is a flat alias for logging.level, per the external
	// interface's named environment variables.
	if level := v.GetString("log"); level != "" {
		v.Set("logging.level", level)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure
// defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("buffer.mem_max_mb", defaultBufferMemMaxMB*1024*1024)
	v.SetDefault("http.timeout_ms", defaultHTTPTimeoutMs*time.Millisecond)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Buffer.MemMaxMB.Bytes() <= 0 {
		return fmt.Errorf("buffer.mem_max_mb must be positive")
	}
	if c.HTTP.TimeoutMs.Duration() <= 0 {
		return fmt.Errorf("http.timeout_ms must be positive")
	}
	return nil
}
