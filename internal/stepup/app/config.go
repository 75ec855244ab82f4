package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	ServiceURL string `validate:"required,url"` // Required: base URL of the auth service

	Env         string        `validate:"oneof=dev staging prod"`      // Environment (dev, staging, prod) (default: dev)
	LogLevel    string        `validate:"oneof=debug info warn error"` // Log level (default: info)
	LogFormat   string        `validate:"oneof=json text"`             // Log format (default: json)
	HTTPTimeout time.Duration `validate:"gt=0"`                        // Per-request timeout (default: 10s)
	Insecure    bool          // Allow plain-http service URLs outside dev (default: false)
}

func LoadConfig() Config {
	return Config{
		ServiceURL:  os.Getenv("STEPUP_SERVICE_URL"),
		Env:         getEnvOrDefault("ENV", "dev"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:   getEnvOrDefault("LOG_FORMAT", "json"),
		HTTPTimeout: getEnvDurationOrDefault("STEPUP_HTTP_TIMEOUT", 10*time.Second),
		Insecure:    getEnvBoolOrDefault("STEPUP_INSECURE", false),
	}
}

// Validate rejects a config the client cannot safely run with. Outside dev
// the service URL must be https; token material over plain HTTP is a leak.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Env != "dev" && !c.Insecure && !strings.HasPrefix(c.ServiceURL, "https://") {
		return fmt.Errorf("invalid configuration: STEPUP_SERVICE_URL must be https in %s", c.Env)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}
