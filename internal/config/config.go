package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Service Ports
	HTTPPort int `env:"HTTP_PORT" default:"8080"`

	// Broker streaming endpoint
	StreamingURL     string        `env:"STREAMING_URL" default:"wss://gateway.saxobank.com/sim/openapi/streamingws/connect"`
	ContextID        string        `env:"CONTEXT_ID" required:"true"`
	PingInterval     time.Duration `env:"PING_INTERVAL" default:"20s"`
	PongTimeout      time.Duration `env:"PONG_TIMEOUT" default:"10s"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" default:"10s"`
	BackoffFloor     time.Duration `env:"BACKOFF_FLOOR" default:"1s"`
	BackoffCeiling   time.Duration `env:"BACKOFF_CEILING" default:"15s"`

	// Downstream subscribers
	ClientSendBuffer int `env:"CLIENT_SEND_BUFFER" default:"256"`

	// Bearer token, either fixed or published to Redis by the login flow
	BrokerToken   string `env:"BROKER_TOKEN"`
	RedisURL      string `env:"REDIS_URL"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" default:"0"`
	TokenKey      string `env:"TOKEN_KEY" default:"oauth_access_token"`
	TokenChannel  string `env:"TOKEN_CHANNEL" default:"oauth_access_token"`

	// Database (subscription metadata); empty disables the store
	DatabaseURL string `env:"DATABASE_URL"`

	// NATS bridge; empty disables it
	NATSURL     string `env:"NATS_URL"`
	NATSSubject string `env:"NATS_SUBJECT" default:"gateway.prices"`

	// Admin API authentication; empty leaves the API open
	JWTSecret string `env:"JWT_SECRET"`

	// Monitoring
	MetricsEnabled bool `env:"METRICS_ENABLED" default:"true"`

	// Development
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	err := godotenv.Load(".env")
	if err != nil {
		// If .env file doesn't exist, that's OK - we can still use system env vars
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.HTTPPort, "HTTP_PORT", 8080); err != nil {
		return nil, err
	}

	// Streaming
	if err := loadEnvString(&config.StreamingURL, "STREAMING_URL", "wss://gateway.saxobank.com/sim/openapi/streamingws/connect"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.ContextID, "CONTEXT_ID", ""); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.PingInterval, "PING_INTERVAL", 20*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.PongTimeout, "PONG_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.HandshakeTimeout, "HANDSHAKE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.BackoffFloor, "BACKOFF_FLOOR", time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.BackoffCeiling, "BACKOFF_CEILING", 15*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.ClientSendBuffer, "CLIENT_SEND_BUFFER", 256); err != nil {
		return nil, err
	}

	// Token
	if err := loadEnvString(&config.BrokerToken, "BROKER_TOKEN", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", ""); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RedisDB, "REDIS_DB", 0); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.TokenKey, "TOKEN_KEY", "oauth_access_token"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.TokenChannel, "TOKEN_CHANNEL", "oauth_access_token"); err != nil {
		return nil, err
	}

	// Database
	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", ""); err != nil {
		return nil, err
	}

	// NATS
	if err := loadEnvString(&config.NATSURL, "NATS_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.NATSSubject, "NATS_SUBJECT", "gateway.prices"); err != nil {
		return nil, err
	}

	// Authentication
	if err := loadEnvString(&config.JWTSecret, "JWT_SECRET", ""); err != nil {
		return nil, err
	}

	// Monitoring
	if err := loadEnvBool(&config.MetricsEnabled, "METRICS_ENABLED", true); err != nil {
		return nil, err
	}

	// Development
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "json"); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errors = append(errors, "HTTP_PORT must be between 1 and 65535")
	}

	// The upstream URL and context id are needed before the first connection attempt
	if u, err := url.Parse(c.StreamingURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		errors = append(errors, "STREAMING_URL must be a ws:// or wss:// URL")
	}
	if strings.TrimSpace(c.ContextID) == "" {
		errors = append(errors, "CONTEXT_ID is required")
	}
	if c.BrokerToken == "" && c.RedisURL == "" {
		errors = append(errors, "either BROKER_TOKEN or REDIS_URL must be set")
	}

	if c.PingInterval <= 0 {
		errors = append(errors, "PING_INTERVAL must be positive")
	}
	if c.PongTimeout <= 0 {
		errors = append(errors, "PONG_TIMEOUT must be positive")
	}
	if c.BackoffFloor <= 0 {
		errors = append(errors, "BACKOFF_FLOOR must be positive")
	}
	if c.BackoffCeiling < c.BackoffFloor {
		errors = append(errors, "BACKOFF_CEILING must be >= BACKOFF_FLOOR")
	}
	if c.ClientSendBuffer < 1 {
		errors = append(errors, "CLIENT_SEND_BUFFER must be at least 1")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT_SECRET should be at least 32 characters long")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
