package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		GoEnv:            "development",
		HTTPPort:         8080,
		StreamingURL:     "wss://gateway.example.com/streamingws/connect",
		ContextID:        "ctx-1",
		PingInterval:     20 * time.Second,
		PongTimeout:      10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BackoffFloor:     time.Second,
		BackoffCeiling:   15 * time.Second,
		ClientSendBuffer: 256,
		BrokerToken:      "token",
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CONTEXT_ID", "ctx-42")
	t.Setenv("BROKER_TOKEN", "abc")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "ctx-42", cfg.ContextID)
	assert.Equal(t, 20*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.PongTimeout)
	assert.Equal(t, time.Second, cfg.BackoffFloor)
	assert.Equal(t, 15*time.Second, cfg.BackoffCeiling)
	assert.Equal(t, "oauth_access_token", cfg.TokenKey)
	assert.Equal(t, "oauth_access_token", cfg.TokenChannel)
	assert.Equal(t, "gateway.prices", cfg.NATSSubject)
	assert.True(t, cfg.MetricsEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("PING_INTERVAL", "5s")
	t.Setenv("BACKOFF_CEILING", "1m")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("REDIS_URL", "redis://cache:6379")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.PingInterval)
	assert.Equal(t, time.Minute, cfg.BackoffCeiling)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, "redis://cache:6379", cfg.RedisURL)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"HTTP_PORT", "eighty"},
		{"PONG_TIMEOUT", "ten seconds"},
		{"METRICS_ENABLED", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing context", func(c *Config) { c.ContextID = " " }, "CONTEXT_ID"},
		{"http scheme", func(c *Config) { c.StreamingURL = "https://example.com" }, "STREAMING_URL"},
		{"no token source", func(c *Config) { c.BrokerToken = "" }, "BROKER_TOKEN"},
		{"redis is enough", func(c *Config) { c.BrokerToken = ""; c.RedisURL = "redis://localhost:6379" }, ""},
		{"ceiling below floor", func(c *Config) { c.BackoffCeiling = 500 * time.Millisecond }, "BACKOFF_CEILING"},
		{"bad port", func(c *Config) { c.HTTPPort = 70000 }, "HTTP_PORT"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "LOG_LEVEL"},
		{"short jwt secret", func(c *Config) { c.JWTSecret = "short" }, "JWT_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
		})
	}
}
