package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the anomaly report service
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// Analysis data location. Either a local directory or an
	// http(s) base URL serving the same layout.
	LogsRoot string

	// Export backend configuration
	ExportBackendURL string
	ExportTimeout    time.Duration

	// Overlay render limits
	RenderMaxWidth  int
	RenderMaxHeight int

	// RabbitMQ configuration. Leave RabbitMQURL empty to disable
	// export event publishing.
	RabbitMQURL        string
	RabbitMQExchange   string
	RabbitMQRoutingKey string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables
func Load() *Config {
	config := &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "anomaly_reports"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		// Analysis data defaults
		LogsRoot: getEnv("LOGS_ROOT", "logs"),

		// Export backend defaults
		ExportBackendURL: getEnv("EXPORT_BACKEND_URL", "http://localhost:8000"),
		ExportTimeout:    getDurationEnv("EXPORT_TIMEOUT", 120*time.Second),

		// Render defaults
		RenderMaxWidth:  getIntEnv("RENDER_MAX_WIDTH", 800),
		RenderMaxHeight: getIntEnv("RENDER_MAX_HEIGHT", 640),

		// RabbitMQ defaults
		RabbitMQURL:        getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:   getEnv("RABBITMQ_EXCHANGE", "anomaly_reports"),
		RabbitMQRoutingKey: getEnv("RABBITMQ_ROUTING_KEY", "report.exported"),

		// Logging defaults
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return config
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
