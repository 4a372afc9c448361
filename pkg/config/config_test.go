package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Second, cfg.Session.OfferTimeout)
	assert.Equal(t, 30*time.Second, cfg.Session.AnswerTimeout)
	assert.Equal(t, ":8080", cfg.Gateway.Address)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty device id", func(c *Config) { c.Device.ID = "" }},
		{"zero offer timeout", func(c *Config) { c.Session.OfferTimeout = 0 }},
		{"zero answer timeout", func(c *Config) { c.Session.AnswerTimeout = 0 }},
		{"half-open port range", func(c *Config) { c.WebRTC.PortRange.Min = 10000 }},
		{"inverted port range", func(c *Config) {
			c.WebRTC.PortRange.Min = 20000
			c.WebRTC.PortRange.Max = 10000
		}},
		{"empty gateway address", func(c *Config) { c.Gateway.Address = "" }},
		{"empty redis address", func(c *Config) { c.Redis.Address = "" }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"rate limiting without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.RequestsPerSecond = 0
		}},
		{"tracing without jaeger url", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.JaegerURL = ""
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

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Gateway.Address, cfg.Gateway.Address)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
device:
  id: "device-42"
session:
  offer_timeout: 10s
redis:
  address: "redis:6379"
logging:
  level: "debug"
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "device-42", cfg.Device.ID)
	assert.Equal(t, 10*time.Second, cfg.Session.OfferTimeout)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Session.AnswerTimeout)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GUARDLINK_DEVICE_ID", "device-env")
	t.Setenv("GUARDLINK_REDIS_ADDRESS", "redis-env:6379")
	t.Setenv("GUARDLINK_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "device-env", cfg.Device.ID)
	assert.Equal(t, "redis-env:6379", cfg.Redis.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
}
