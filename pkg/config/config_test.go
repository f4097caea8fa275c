package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "4fafc201-1fb5-459e-8fcc-c5c9c331914b", cfg.ServiceUUID)
	assert.Equal(t, "beb5483e-36e1-4688-b7f5-ea07361b26a8", cfg.CharacteristicUUID)
	assert.Equal(t, []string{"esp32", "waypoint", "nav"}, cfg.NameSubstrings)
	assert.Equal(t, 8*time.Second, cfg.ScanWindow)
	assert.True(t, cfg.DuplicateFilter)
	assert.Equal(t, 3, cfg.ConnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 185, cfg.MTU)
	assert.Equal(t, 200*time.Millisecond, cfg.DisconnectSettle)
	assert.Equal(t, 20, cfg.ChunkSize)
	assert.Equal(t, 50*time.Millisecond, cfg.ChunkDelay)
	assert.Equal(t, time.Second, cfg.ResetSettle)
	assert.Equal(t, 500*time.Millisecond, cfg.ResetSettleFollow)

	assert.NoError(t, cfg.Validate(), "defaults MUST validate")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			expected: logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: "info",
			expected: logrus.InfoLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			expected: logrus.WarnLevel,
		},
		{
			name:     "creates logger with error level",
			logLevel: "error",
			expected: logrus.ErrorLevel,
		},
		{
			name:     "falls back to info on unknown level",
			logLevel: "chatty",
			expected: logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wayble.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file overrides only the keys it sets", func(t *testing.T) {
		path := writeConfig(t, `
log_level: debug
scan_window: 3s
duplicate_filter: false
name_substrings: [rover]
chunk_delay: 10ms
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 3*time.Second, cfg.ScanWindow)
		assert.False(t, cfg.DuplicateFilter, "explicit false MUST survive default filling")
		assert.Equal(t, []string{"rover"}, cfg.NameSubstrings)
		assert.Equal(t, 10*time.Millisecond, cfg.ChunkDelay)
		assert.Equal(t, 3, cfg.ConnectAttempts, "unset keys MUST keep defaults")
		assert.Equal(t, 20, cfg.ChunkSize)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "failed to read config")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "scan_window: [oops"))
		assert.ErrorContains(t, err, "failed to parse config")
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		_, err := Load(writeConfig(t, "chunk_size: 0\n"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
		{name: "bad service uuid", mutate: func(c *Config) { c.ServiceUUID = "not-a-uuid" }, wantErr: "service_uuid"},
		{name: "bad characteristic uuid", mutate: func(c *Config) { c.CharacteristicUUID = "1234" }, wantErr: "characteristic_uuid"},
		{name: "no match criteria", mutate: func(c *Config) { c.NameSubstrings = []string{" "}; c.ServiceUUID = "" }, wantErr: "cannot both be empty"},
		{name: "zero scan window", mutate: func(c *Config) { c.ScanWindow = 0 }, wantErr: "scan_window"},
		{name: "zero connect timeout", mutate: func(c *Config) { c.ConnectTimeout = 0 }, wantErr: "connect_timeout"},
		{name: "negative retry delay", mutate: func(c *Config) { c.RetryDelay = -time.Second }, wantErr: "retry_delay"},
		{name: "negative reset settle", mutate: func(c *Config) { c.ResetSettleFollow = -1 }, wantErr: "reset_settle_follow"},
		{name: "no attempts", mutate: func(c *Config) { c.ConnectAttempts = 0 }, wantErr: "connect_attempts"},
		{name: "zero chunk size", mutate: func(c *Config) { c.ChunkSize = 0 }, wantErr: "chunk_size"},
		{name: "negative mtu", mutate: func(c *Config) { c.MTU = -1 }, wantErr: "mtu"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	t.Run("service only matching is allowed", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.NameSubstrings = nil
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfig_DerivedOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScanWindow = 3 * time.Second
	cfg.ConnectAttempts = 5
	cfg.ChunkSize = 16

	m := cfg.MatcherOptions()
	assert.Equal(t, cfg.NameSubstrings, m.NameSubstrings)
	assert.Equal(t, cfg.ServiceUUID, m.ServiceUUID)
	m.NameSubstrings[0] = "changed"
	assert.Equal(t, "esp32", cfg.NameSubstrings[0], "matcher options MUST NOT alias the config")

	s := cfg.ScanOptions()
	assert.Equal(t, 3*time.Second, s.Window)
	assert.True(t, s.DuplicateFilter)

	c := cfg.ConnectionOptions()
	assert.Equal(t, 5, c.MaxAttempts)
	assert.Equal(t, 2*time.Second, c.RetryDelay)
	assert.Equal(t, 10*time.Second, c.ConnectTimeout)
	assert.Equal(t, 185, c.MTU)
	assert.Equal(t, 200*time.Millisecond, c.SettleDelay)
	assert.Equal(t, cfg.CharacteristicUUID, c.CharacteristicUUID)

	tr := cfg.TransportOptions()
	assert.Equal(t, 16, tr.ChunkSize)
	assert.Equal(t, 50*time.Millisecond, tr.ChunkDelay)

	so := cfg.SessionOptions()
	assert.Equal(t, []time.Duration{time.Second, 500 * time.Millisecond}, so.ResetSettle)
	assert.Equal(t, 3*time.Second, so.Scan.Window)
	assert.Equal(t, 5, so.Connection.MaxAttempts)
	assert.Equal(t, 16, so.Transport.ChunkSize)
	assert.Equal(t, cfg.ServiceUUID, so.Matcher.ServiceUUID)
}
