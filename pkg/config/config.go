package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mkrall/warden/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Engine        EngineConfig
	Audit         AuditConfig
	Bulk          BulkConfig
	Sweeper       SweeperConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the permission cache settings. Caching is optional; an
// empty URL disables it.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	TTL      time.Duration
}

// EngineConfig bounds the RBAC engine's in-memory footprint
type EngineConfig struct {
	MaxCachedTenants int
	EventBufferSize  int
}

// AuditConfig tunes the buffered audit writer
type AuditConfig struct {
	BufferSize       int
	MaxRetries       int
	RetryBackoff     time.Duration
	FailureThreshold int
}

// BulkConfig tunes the bulk operation processor
type BulkConfig struct {
	Workers         int
	QueueSize       int
	ItemConcurrency int
	MaxItems        int
}

// SweeperConfig drives the expiry sweep scheduler
type SweeperConfig struct {
	// Schedule is a cron expression
	Schedule string
	Timeout  time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
			Port:            getEnv("WARDEN_PORT", "8080"),
			ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("WARDEN_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("WARDEN_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("WARDEN_POSTGRES_CONN_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      getEnv("WARDEN_REDIS_URL", ""),
			Password: getEnv("WARDEN_REDIS_PASSWORD", ""),
			DB:       getEnvInt("WARDEN_REDIS_DB", 0),
			TTL:      getEnvDuration("WARDEN_REDIS_TTL", 5*time.Minute),
		},
		Engine: EngineConfig{
			MaxCachedTenants: getEnvInt("WARDEN_MAX_CACHED_TENANTS", 1024),
			EventBufferSize:  getEnvInt("WARDEN_EVENT_BUFFER_SIZE", 256),
		},
		Audit: AuditConfig{
			BufferSize:       getEnvInt("WARDEN_AUDIT_BUFFER_SIZE", 1024),
			MaxRetries:       getEnvInt("WARDEN_AUDIT_MAX_RETRIES", 3),
			RetryBackoff:     getEnvDuration("WARDEN_AUDIT_RETRY_BACKOFF", 100*time.Millisecond),
			FailureThreshold: getEnvInt("WARDEN_AUDIT_FAILURE_THRESHOLD", 10),
		},
		Bulk: BulkConfig{
			Workers:         getEnvInt("WARDEN_BULK_WORKERS", 4),
			QueueSize:       getEnvInt("WARDEN_BULK_QUEUE_SIZE", 64),
			ItemConcurrency: getEnvInt("WARDEN_BULK_ITEM_CONCURRENCY", 1),
			MaxItems:        getEnvInt("WARDEN_BULK_MAX_ITEMS", 10000),
		},
		Sweeper: SweeperConfig{
			Schedule: getEnv("WARDEN_SWEEP_SCHEDULE", "*/5 * * * *"),
			Timeout:  getEnvDuration("WARDEN_SWEEP_TIMEOUT", 2*time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("WARDEN_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Audit.BufferSize <= 0 {
		return fmt.Errorf("audit buffer size must be positive")
	}
	if c.Bulk.Workers <= 0 {
		return fmt.Errorf("bulk worker count must be positive")
	}
	if c.Sweeper.Schedule == "" {
		return fmt.Errorf("sweep schedule is required")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
