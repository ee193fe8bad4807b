// Package config loads the host and guest YAML configuration files into
// typed, validated structs. Both sides parse their file once at startup
// and pass the result by value into constructors; nothing re-reads the
// file at call sites.
package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// HostConfig is the recognized `vserial-hostctl` / host-client configuration.
type HostConfig struct {
	SocketPath     string  `yaml:"socket_path"`
	ConnectTimeout float64 `yaml:"connect_timeout"`
	ReadTimeout    float64 `yaml:"read_timeout"`
	WriteTimeout   float64 `yaml:"write_timeout"`
	MaxRetries     int     `yaml:"max_retries"`
	RetryInterval  float64 `yaml:"retry_interval"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
	AuthToken      string  `yaml:"auth_token"`
	LogLevel       string  `yaml:"log_level"`
	LogFile        string  `yaml:"log_file"`
}

// GuestConfig is the recognized `vserial-guestd` configuration.
type GuestConfig struct {
	DevicePath      string          `yaml:"device_path"`
	BufferSize      int64           `yaml:"buffer_size"`
	MaxRequestSize  int64           `yaml:"max_request_size"`
	RequestTimeout  float64         `yaml:"request_timeout"`
	EnableAuth      bool            `yaml:"enable_auth"`
	AllowedCommands []string        `yaml:"allowed_commands"`
	AllowedPaths    []string        `yaml:"allowed_paths"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	LogLevel        string          `yaml:"log_level"`
	LogFile         string          `yaml:"log_file"`
}

// RateLimitConfig carries the guest's token-bucket tunables.
type RateLimitConfig struct {
	PerSecond     float64 `yaml:"per_second"`
	PerMinute     float64 `yaml:"per_minute"`
	MaxConcurrent int     `yaml:"max_concurrent"`
}

// LoadHostConfig reads and validates a host configuration file.
func LoadHostConfig(path string) (*HostConfig, error) {
	cfg := &HostConfig{}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *HostConfig) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 1
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *HostConfig) validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("config: host socket_path is required")
	}
	return nil
}

// LoadGuestConfig reads and validates a guest configuration file.
func LoadGuestConfig(path string) (*GuestConfig, error) {
	cfg := &GuestConfig{}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *GuestConfig) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 16 * 1024
	}
	if c.MaxRequestSize <= 0 {
		c.MaxRequestSize = 10 * 1024 * 1024
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 120
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *GuestConfig) validate() error {
	if c.DevicePath == "" {
		return fmt.Errorf("config: guest device_path is required")
	}
	return nil
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// NewLogger builds the shared logrus logger both binaries construct once
// at startup and thread through via constructor injection. level is one
// of trace|debug|info|warn|error; an empty or unrecognized level falls
// back to info. An empty file writes to stderr.
func NewLogger(level, file string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("config: open log file %s: %w", file, err)
		}
		log.SetOutput(f)
	}
	return log, nil
}
