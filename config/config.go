package config

import (
	"os"
	"strconv"

	"github.com/rohanthewiz/logger"
)

const (
	defaultPort        = 8080
	defaultServiceName = "planscheduler"
	defaultDBFile      = "planscheduler.db"
)

// Config holds application configuration
type Config struct {
	Port        int
	ServiceName string
	// DBPath is the DuckDB database file. Empty means in-memory.
	DBPath string

	// PushVerificationToken authenticates inbound status events.
	// Empty disables verification.
	PushVerificationToken string

	// Execution trigger settings
	ExecutionEnabled  bool
	ExecutionAPIURL   string
	ExecutionAPIToken string
}

// globalConfig holds the application configuration instance
var globalConfig *Config

// Initialize sets up the configuration from environment variables
func Initialize() {
	globalConfig = &Config{
		Port:                  getPort(),
		ServiceName:           getEnvDefault("SERVICE_NAME", defaultServiceName),
		DBPath:                getEnvDefault("DB_PATH", defaultDBFile),
		PushVerificationToken: os.Getenv("PUSH_VERIFICATION_TOKEN"),
		ExecutionEnabled:      getEnvBool("EXECUTION_ENABLED"),
		ExecutionAPIURL:       os.Getenv("EXECUTION_API_URL"),
		ExecutionAPIToken:     os.Getenv("EXECUTION_API_TOKEN"),
	}

	if globalConfig.PushVerificationToken == "" {
		logger.Warn("PUSH_VERIFICATION_TOKEN not set - status event verification is disabled")
	}
	if globalConfig.ExecutionEnabled && globalConfig.ExecutionAPIURL == "" {
		logger.Warn("EXECUTION_ENABLED is set but EXECUTION_API_URL is empty - triggers will be skipped")
	}
}

// Get returns the global configuration instance
func Get() *Config {
	if globalConfig == nil {
		Initialize()
	}
	return globalConfig
}

// Set replaces the global configuration. Intended for tests.
func Set(c *Config) {
	globalConfig = c
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return false
	}
	return b
}

func getPort() int {
	v := os.Getenv("PORT")
	if v == "" {
		return defaultPort
	}
	port, err := strconv.Atoi(v)
	if err != nil || port < 1 || port > 65535 {
		logger.Warn("Invalid PORT value, using default", "value", v)
		return defaultPort
	}
	return port
}
