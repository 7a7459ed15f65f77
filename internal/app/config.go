package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
)

// LogLevel is the proxy's three-level logging verbosity, ordered
// debug < info < quiet; quiet suppresses everything but errors.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelQuiet LogLevel = "quiet"
)

// Slog converts the configured level to its slog.Level equivalent.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelQuiet:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default configuration values, per the external configuration schema.
const (
	DefaultProxyPort               = 8766
	DefaultProxyLogLevel           = LogLevelInfo
	DefaultProxyLogFormat          = "text"
	DefaultProxyTimeoutSecs        = 300
	DefaultProxyConnectionPoolSize = 10
	DefaultSnowflakeDefaultModel   = "claude-4-sonnet"
)

// ProxyConfig holds the listener and transport tuning knobs.
type ProxyConfig struct {
	Port               uint16   `json:"port" validate:"required"`
	LogLevel           LogLevel `json:"log_level" validate:"required,oneof=debug info quiet"`
	LogFormat          string   `json:"log_format" validate:"required,oneof=text json"`
	TimeoutSecs        uint64   `json:"timeout_secs" validate:"required"`
	ConnectionPoolSize int      `json:"connection_pool_size" validate:"required,min=1"`
}

// SnowflakeConfig holds the upstream endpoint and credential.
type SnowflakeConfig struct {
	BaseURL      string `json:"base_url" validate:"required,url"`
	PAT          string `json:"pat" validate:"required"`
	DefaultModel string `json:"default_model" validate:"required"`
}

// Config is the application's full configuration, loaded once at startup.
type Config struct {
	Proxy     ProxyConfig       `json:"proxy"`
	Snowflake SnowflakeConfig   `json:"snowflake"`
	ModelMap  map[string]string `json:"model_map"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Proxy.Port == 0 {
		c.Proxy.Port = DefaultProxyPort
	}
	if c.Proxy.LogLevel == "" {
		c.Proxy.LogLevel = DefaultProxyLogLevel
	}
	if c.Proxy.LogFormat == "" {
		c.Proxy.LogFormat = DefaultProxyLogFormat
	}
	if c.Proxy.TimeoutSecs == 0 {
		c.Proxy.TimeoutSecs = DefaultProxyTimeoutSecs
	}
	if c.Proxy.ConnectionPoolSize == 0 {
		c.Proxy.ConnectionPoolSize = DefaultProxyConnectionPoolSize
	}
	if c.Snowflake.DefaultModel == "" {
		c.Snowflake.DefaultModel = DefaultSnowflakeDefaultModel
	}
	c.Snowflake.BaseURL = strings.TrimSuffix(c.Snowflake.BaseURL, "/")
	if c.ModelMap == nil {
		c.ModelMap = map[string]string{}
	}
}

// Validate validates the configuration using struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
