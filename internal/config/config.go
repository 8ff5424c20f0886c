// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/sinostat/internal/logger"
)

// Output formats for poll
const (
	FormatText = "text"
	FormatCBOR = "cbor"
)

// Defaults
const (
	DefaultBaudRate   = 9600
	DefaultTimeoutMs  = 500
	DefaultIntervalMs = 1000
)

// Config represents the optional sinostat config file
type Config struct {
	Connection ConnectionConfig     `yaml:"connection"`
	Poll       PollConfig           `yaml:"poll"`
	Logging    logger.LoggingConfig `yaml:"logging"`
}

// ConnectionConfig selects the serial port or the WebSocket serial bridge
type ConnectionConfig struct {
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
	TimeoutMs   int    `yaml:"timeout_ms"` // per-register reply timeout
}

// PollConfig controls the poll and monitor loops
type PollConfig struct {
	IntervalMs int    `yaml:"interval_ms"`
	Format     string `yaml:"format"`
	Count      int    `yaml:"count"` // 0 = until interrupted
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Baud:      DefaultBaudRate,
			TimeoutMs: DefaultTimeoutMs,
		},
		Poll: PollConfig{
			IntervalMs: DefaultIntervalMs,
			Format:     FormatText,
		},
		Logging: logger.LoggingConfig{
			Level: logger.LevelInfo,
		},
	}
}

// Load reads a YAML config file over the defaults and validates it
func Load(path string) (*Config, error) {
	// #nosec G304 - path is given by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read configuration file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Fields absent from the document keep their default values.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks field ranges. Connection target presence is checked
// when a command connects, since flags may still supply it.
func (c *Config) Validate() error {
	var errs []error

	if c.Connection.Port != "" && c.Connection.URL != "" {
		errs = append(errs, errors.New("connection: port and url are mutually exclusive"))
	}
	if c.Connection.Baud <= 0 {
		errs = append(errs, fmt.Errorf("connection.baud must be positive, got %d", c.Connection.Baud))
	}
	if c.Connection.TimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("connection.timeout_ms must be positive, got %d", c.Connection.TimeoutMs))
	}
	if c.Connection.URL != "" {
		u, err := url.Parse(c.Connection.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("connection.url: %w", err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("connection.url must use ws:// or wss://, got %q", u.Scheme))
		}
	}

	if c.Poll.IntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval_ms must be positive, got %d", c.Poll.IntervalMs))
	}
	if c.Poll.Format != FormatText && c.Poll.Format != FormatCBOR {
		errs = append(errs, fmt.Errorf("poll.format must be %q or %q, got %q", FormatText, FormatCBOR, c.Poll.Format))
	}
	if c.Poll.Count < 0 {
		errs = append(errs, fmt.Errorf("poll.count must not be negative, got %d", c.Poll.Count))
	}

	if c.Logging.Level != "" && !logger.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level %q is not one of error, warn, info, debug, trace", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// Timeout returns the per-register reply timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Connection.TimeoutMs) * time.Millisecond
}

// Interval returns the poll interval
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Poll.IntervalMs) * time.Millisecond
}
