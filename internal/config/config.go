// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Analytics backends for the content store.
const (
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Persistent stores. An empty DatabaseURL selects the in-memory stores.
	DatabaseURL        string
	AnalyticsBackend   string // BackendPostgres or BackendClickHouse
	ClickHouseAddr     string // host:port, required for BackendClickHouse
	ClickHouseDatabase string
	AutoMigrate        bool

	// Ephemeral counters. Empty selects the in-memory store.
	RedisURL string

	// Security
	RateLimitRPM   int
	APIKeys        []string // "userID:rawKey" pairs seeded at startup
	AdminSecret    string   // Enables /v1/admin when set
	AllowedOrigins []string // CORS; empty allows any origin outside production

	// Tracing. Empty endpoint disables export.
	OTLPEndpoint     string
	TraceSampleRatio float64 // root span sampling, 0 < r <= 1
}

const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultClickHouseDatabase = "contextforge"
	DefaultRateLimit          = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		AnalyticsBackend:   getEnv("ANALYTICS_BACKEND", BackendPostgres),
		ClickHouseAddr:     os.Getenv("CLICKHOUSE_ADDR"),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", DefaultClickHouseDatabase),
		AutoMigrate:        getEnvBool("AUTO_MIGRATE", true),
		RedisURL:           os.Getenv("REDIS_URL"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		APIKeys:            getEnvList("API_KEYS"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		AllowedOrigins:     getEnvList("CORS_ALLOWED_ORIGINS"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:   getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is consistent. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT must be a number, got %q", c.Port))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}

	switch c.AnalyticsBackend {
	case BackendPostgres:
	case BackendClickHouse:
		if c.ClickHouseAddr == "" {
			errs = append(errs, errors.New("CLICKHOUSE_ADDR is required when ANALYTICS_BACKEND=clickhouse"))
		}
	default:
		errs = append(errs, fmt.Errorf("ANALYTICS_BACKEND must be postgres or clickhouse, got %q", c.AnalyticsBackend))
	}

	if c.RateLimitRPM <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPM must be positive, got %d", c.RateLimitRPM))
	}
	if c.TraceSampleRatio <= 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be in (0, 1], got %v", c.TraceSampleRatio))
	}
	for _, pair := range c.APIKeys {
		if user, key, ok := strings.Cut(pair, ":"); !ok || user == "" || key == "" {
			errs = append(errs, fmt.Errorf("API_KEYS entries must be userID:key, got %q", redact(pair)))
		}
	}

	if c.IsProduction() {
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required in production"))
		}
	}

	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// redact keeps only the user part of a key pair for error messages.
func redact(pair string) string {
	user, _, _ := strings.Cut(pair, ":")
	return user + ":***"
}
