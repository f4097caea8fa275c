package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/wayble/internal/matcher"
	"github.com/srg/wayble/pkg/connection"
	"github.com/srg/wayble/pkg/transport"
	"github.com/srg/wayble/scanner"
	"github.com/srg/wayble/session"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	// Target identification
	ServiceUUID        string   `yaml:"service_uuid" default:"4fafc201-1fb5-459e-8fcc-c5c9c331914b"`
	CharacteristicUUID string   `yaml:"characteristic_uuid" default:"beb5483e-36e1-4688-b7f5-ea07361b26a8"`
	NameSubstrings     []string `yaml:"name_substrings"`

	// Discovery
	ScanWindow      time.Duration `yaml:"scan_window" default:"8s"`
	DuplicateFilter bool          `yaml:"duplicate_filter" default:"true"`

	// Connection
	ConnectAttempts  int           `yaml:"connect_attempts" default:"3"`
	RetryDelay       time.Duration `yaml:"retry_delay" default:"2s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"10s"`
	MTU              int           `yaml:"mtu" default:"185"`
	DisconnectSettle time.Duration `yaml:"disconnect_settle" default:"200ms"`

	// Transport
	ChunkSize  int           `yaml:"chunk_size" default:"20"`
	ChunkDelay time.Duration `yaml:"chunk_delay" default:"50ms"`

	// Stack reset settle intervals, waited in order
	ResetSettle       time.Duration `yaml:"reset_settle" default:"1s"`
	ResetSettleFollow time.Duration `yaml:"reset_settle_follow" default:"500ms"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.NameSubstrings = matcher.DefaultOptions().NameSubstrings
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}

	if c.ServiceUUID != "" {
		if _, err := uuid.Parse(c.ServiceUUID); err != nil {
			return fmt.Errorf("%w: service_uuid %q: %v", ErrInvalidConfig, c.ServiceUUID, err)
		}
	}
	if c.CharacteristicUUID != "" {
		if _, err := uuid.Parse(c.CharacteristicUUID); err != nil {
			return fmt.Errorf("%w: characteristic_uuid %q: %v", ErrInvalidConfig, c.CharacteristicUUID, err)
		}
	}

	hasName := false
	for _, n := range c.NameSubstrings {
		if strings.TrimSpace(n) != "" {
			hasName = true
			break
		}
	}
	if !hasName && c.ServiceUUID == "" {
		return fmt.Errorf("%w: name_substrings and service_uuid cannot both be empty", ErrInvalidConfig)
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"scan_window", c.ScanWindow},
		{"connect_timeout", c.ConnectTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, p.name, p.value)
		}
	}

	nonNegative := []struct {
		name  string
		value time.Duration
	}{
		{"retry_delay", c.RetryDelay},
		{"disconnect_settle", c.DisconnectSettle},
		{"chunk_delay", c.ChunkDelay},
		{"reset_settle", c.ResetSettle},
		{"reset_settle_follow", c.ResetSettleFollow},
	}
	for _, p := range nonNegative {
		if p.value < 0 {
			return fmt.Errorf("%w: %s cannot be negative, got %s", ErrInvalidConfig, p.name, p.value)
		}
	}

	if c.ConnectAttempts < 1 {
		return fmt.Errorf("%w: connect_attempts must be at least 1, got %d", ErrInvalidConfig, c.ConnectAttempts)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be at least 1, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.MTU < 0 {
		return fmt.Errorf("%w: mtu cannot be negative, got %d", ErrInvalidConfig, c.MTU)
	}
	return nil
}

// Level returns the parsed log level, falling back to Info
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// MatcherOptions returns the device matcher settings
func (c *Config) MatcherOptions() *matcher.Options {
	names := make([]string, len(c.NameSubstrings))
	copy(names, c.NameSubstrings)
	return &matcher.Options{
		NameSubstrings: names,
		ServiceUUID:    c.ServiceUUID,
	}
}

// ScanOptions returns the discovery settings
func (c *Config) ScanOptions() *scanner.ScanOptions {
	return &scanner.ScanOptions{
		Window:          c.ScanWindow,
		DuplicateFilter: c.DuplicateFilter,
	}
}

// ConnectionOptions returns the connect/retry settings
func (c *Config) ConnectionOptions() *connection.ConnectOptions {
	return &connection.ConnectOptions{
		MaxAttempts:        c.ConnectAttempts,
		RetryDelay:         c.RetryDelay,
		ConnectTimeout:     c.ConnectTimeout,
		MTU:                c.MTU,
		SettleDelay:        c.DisconnectSettle,
		CharacteristicUUID: c.CharacteristicUUID,
	}
}

// TransportOptions returns the framing and pacing settings
func (c *Config) TransportOptions() *transport.Options {
	return &transport.Options{
		ChunkSize:  c.ChunkSize,
		ChunkDelay: c.ChunkDelay,
	}
}

// SessionOptions assembles every component setting for the session engine
func (c *Config) SessionOptions() *session.Options {
	return &session.Options{
		Matcher:     c.MatcherOptions(),
		Scan:        c.ScanOptions(),
		Connection:  c.ConnectionOptions(),
		Transport:   c.TransportOptions(),
		ResetSettle: []time.Duration{c.ResetSettle, c.ResetSettleFollow},
	}
}
