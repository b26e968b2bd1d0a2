package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/opentrusty/pulse/internal/store/postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	RLS           RLSConfig
	Auth          AuthConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
	// MetricsEnabled exposes request scope counters at /metrics.
	MetricsEnabled bool
}

// RLSConfig controls how the caller's identity is bound to request transactions.
type RLSConfig struct {
	// ClaimSetting is the session variable policies read the subject from.
	ClaimSetting string
	// SubjectClaim is the credential claim holding the subject.
	SubjectClaim    string
	FinalizeTimeout time.Duration
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string
}

// Load loads configuration from environment variables. Values from the file
// named by ENV_FILE (default .env) are applied first without overriding
// variables that are already set; a missing file is not an error.
func Load() (*Config, error) {
	if err := loadEnvFile(getEnv("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:   parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:    parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			RequestTimeout: parseDuration("SERVER_REQUEST_TIMEOUT", "10s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "pulse"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "pulse"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "pulse"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
			SamplingRate:   parseFloat("OTEL_SAMPLING_RATE", 1.0),
			MetricsEnabled: parseBool("METRICS_ENABLED", true),
		},
		RLS: RLSConfig{
			ClaimSetting:    getEnv("RLS_CLAIM_SETTING", postgres.DefaultClaimSetting),
			SubjectClaim:    getEnv("RLS_SUBJECT_CLAIM", "sub"),
			FinalizeTimeout: parseDuration("RLS_FINALIZE_TIMEOUT", "5s"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if err := postgres.ValidateSetting(c.RLS.ClaimSetting); err != nil {
		return fmt.Errorf("RLS_CLAIM_SETTING: %w", err)
	}
	if c.RLS.SubjectClaim == "" {
		return fmt.Errorf("RLS_SUBJECT_CLAIM must not be empty")
	}
	return nil
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
