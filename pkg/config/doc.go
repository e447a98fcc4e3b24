// Package config loads Warden configuration from environment variables.
//
// # Overview
//
// All settings come from WARDEN_* environment variables with defaults for
// everything except the PostgreSQL URL.
//
// Server settings:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_HEALTH_PORT="9090"
//	WARDEN_READ_TIMEOUT="30s"
//	WARDEN_WRITE_TIMEOUT="30s"
//
// Storage settings:
//
//	WARDEN_POSTGRES_URL="postgres://localhost/warden"
//	WARDEN_POSTGRES_MAX_CONNS="20"
//	WARDEN_CACHE_ENABLED="true"
//	WARDEN_REDIS_URL="redis://localhost:6379"
//
// Engine and worker settings:
//
//	WARDEN_MAX_CACHED_TENANTS="1024"
//	WARDEN_AUDIT_BUFFER_SIZE="1024"
//	WARDEN_BULK_WORKERS="4"
//	WARDEN_SWEEP_SCHEDULE="*/5 * * * *"
//
// Observability settings:
//
//	WARDEN_LOG_LEVEL="info"  # debug, info, warn, error
//	WARDEN_METRICS_ENABLED="true"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("health endpoint on %s:%s\n", cfg.Server.Host, cfg.Server.HealthPort)
package config
