// Package server provides configuration loading for the chat service:
// defaults, an optional config file, and environment overrides, with
// sanitization so a partial config never produces unusable settings.
package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultListenAddr      = ":8080"
	defaultMaxMessageSize  = 4096
	defaultRoomCapacity    = 16
	defaultShutdownTimeout = 10 * time.Second
)

// RateLimitConfig defines per-connection message throttling: Burst tokens
// refilled over RefillInterval.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the runtime settings for the chat server.
type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	RoomCapacity    int
	HistoryDSN      string
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the built-in defaults, suitable for tests and for
// running without a config file.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     defaultListenAddr,
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		RoomCapacity:    defaultRoomCapacity,
		HistoryDSN:      "parley.db",
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// LoadConfig reads configuration with the following precedence: PARLEY_*
// environment variables, then the config file (explicit path, or
// ./parley.yaml when path is empty), then defaults. A missing implicit
// config file is not an error; a missing explicit one is.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("allowed_origins", []string{"http://localhost:8080"})
	v.SetDefault("max_message_size", defaultMaxMessageSize)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.refill_interval", time.Second)
	v.SetDefault("room_capacity", defaultRoomCapacity)
	v.SetDefault("history_dsn", "parley.db")
	v.SetDefault("shutdown_timeout", defaultShutdownTimeout)

	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("parley")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	cfg := &Config{
		ListenAddr:     v.GetString("listen_addr"),
		AllowedOrigins: v.GetStringSlice("allowed_origins"),
		MaxMessageSize: v.GetInt64("max_message_size"),
		RateLimit: RateLimitConfig{
			Burst:          v.GetInt("rate_limit.burst"),
			RefillInterval: v.GetDuration("rate_limit.refill_interval"),
		},
		RoomCapacity:    v.GetInt("room_capacity"),
		HistoryDSN:      v.GetString("history_dsn"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}
	cfg.sanitize()
	return cfg, nil
}

// sanitize replaces zero or nonsensical values with defaults so callers can
// rely on every field being usable.
func (c *Config) sanitize() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 5
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = time.Second
	}
	if c.RoomCapacity <= 0 {
		c.RoomCapacity = defaultRoomCapacity
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
}
