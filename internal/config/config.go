// Package config loads the relay's runtime configuration from environment
// variables, optionally layered over a .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every tunable the relay needs at startup. Tags follow
// caarlos0/env: env is the variable name, envDefault applies when unset.
type Config struct {
	Addr            string `env:"CHATRELAY_ADDR" envDefault:":7777"`
	MetricsAddr     string `env:"CHATRELAY_METRICS_ADDR" envDefault:":9090"`
	MaxConnections  int    `env:"CHATRELAY_MAX_CONNECTIONS" envDefault:"5000"`
	MaxChannels     int    `env:"CHATRELAY_MAX_CHANNELS" envDefault:"2000"`
	WorkerCount     int    `env:"CHATRELAY_WORKER_COUNT" envDefault:"8"`
	WorkerQueueSize int    `env:"CHATRELAY_WORKER_QUEUE_SIZE" envDefault:"4096"`

	GracePeriod     time.Duration `env:"CHATRELAY_SHUTDOWN_GRACE" envDefault:"30s"`
	HealthInterval  time.Duration `env:"CHATRELAY_HEALTH_INTERVAL" envDefault:"15s"`

	KafkaBrokers string `env:"CHATRELAY_KAFKA_BROKERS" envDefault:""`
	AuditTopic   string `env:"CHATRELAY_AUDIT_TOPIC" envDefault:"chatrelay.audit"`

	LogLevel  string `env:"CHATRELAY_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"CHATRELAY_LOG_FORMAT" envDefault:"json"`
}

// Load reads a .env file if present, then environment variables over it,
// and validates the result. logger may be nil during the earliest startup
// phase, before logging is configured.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks the loaded config for internally-inconsistent or
// out-of-range values that env.Parse's type checking alone can't catch.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("CHATRELAY_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("CHATRELAY_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.MaxChannels < 1 {
		return fmt.Errorf("CHATRELAY_MAX_CHANNELS must be > 0, got %d", c.MaxChannels)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("CHATRELAY_WORKER_COUNT must be > 0, got %d", c.WorkerCount)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("CHATRELAY_LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("CHATRELAY_LOG_FORMAT must be one of json, pretty, got %q", c.LogFormat)
	}
	return nil
}

// Brokers splits the comma-separated broker list. Empty input yields an
// empty slice, which callers treat as "audit publishing disabled."
func (c *Config) Brokers() []string {
	if strings.TrimSpace(c.KafkaBrokers) == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

// LogFields logs the loaded configuration at Info, for startup diagnostics.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Str("metrics_addr", c.MetricsAddr).
		Int("max_connections", c.MaxConnections).
		Int("max_channels", c.MaxChannels).
		Int("worker_count", c.WorkerCount).
		Int("worker_queue_size", c.WorkerQueueSize).
		Dur("shutdown_grace", c.GracePeriod).
		Dur("health_interval", c.HealthInterval).
		Bool("audit_enabled", len(c.Brokers()) > 0).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
