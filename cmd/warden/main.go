package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/mkrall/warden/pkg/audit"
	"github.com/mkrall/warden/pkg/bulk"
	"github.com/mkrall/warden/pkg/config"
	"github.com/mkrall/warden/pkg/httputil"
	"github.com/mkrall/warden/pkg/observability"
	"github.com/mkrall/warden/pkg/rbac"
	"github.com/mkrall/warden/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}
	store := postgres.NewStore(db)

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	var redisClient *redis.Client
	var assignments rbac.AssignmentStore = store
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		defer redisClient.Close()
		assignments = postgres.NewCachedAssignmentStore(store, redisClient, cfg.Redis.TTL, logger, metrics)
		logger.Info("assignment read cache enabled")
	}

	auditor := audit.NewLogger(store, logger, metrics, audit.Options{
		BufferSize:       cfg.Audit.BufferSize,
		MaxRetries:       cfg.Audit.MaxRetries,
		RetryBackoff:     cfg.Audit.RetryBackoff,
		FailureThreshold: cfg.Audit.FailureThreshold,
	})

	engine, err := rbac.NewEngine(rbac.Stores{
		Roles:       store,
		Hierarchy:   store,
		Assignments: assignments,
		Templates:   store,
		Groups:      store,
	}, auditor, logger, metrics, rbac.Config{
		MaxCachedTenants: cfg.Engine.MaxCachedTenants,
		EventBufferSize:  cfg.Engine.EventBufferSize,
	})
	if err != nil {
		logger.WithError(err).Error("failed to build rbac engine")
		os.Exit(1)
	}

	processor := bulk.NewProcessor(engine, store, auditor, logger, metrics, bulk.Options{
		Workers:         cfg.Bulk.Workers,
		QueueSize:       cfg.Bulk.QueueSize,
		ItemConcurrency: cfg.Bulk.ItemConcurrency,
		MaxItems:        cfg.Bulk.MaxItems,
	})

	// Drain outbound events; downstream transports attach here
	go func() {
		for ev := range engine.Events() {
			logger.WithFields(map[string]interface{}{
				"event_type": ev.Type,
				"tenant_id":  ev.TenantID,
				"user_id":    ev.UserID,
				"role_id":    ev.RoleID,
			}).Debug("rbac event")
		}
	}()

	// The engine is consumed in-process by the surrounding platform; this
	// daemon's own HTTP surface is probes and metrics only
	router := mux.NewRouter()
	checker := observability.NewHealthChecker(db, redisClient)
	observability.RegisterHealthRoutes(router, checker)
	if metrics != nil {
		router.Handle("/metrics", metrics.Handler())
	}
	handler := httputil.Chain(
		httputil.Recovery(logger),
		httputil.RequestID,
		httputil.RequestInfo,
		httputil.RequestLogging(logger),
	)(router)
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.Infof("warden health/metrics listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
		}
	}()

	stopStats := make(chan struct{})
	if metrics != nil {
		go metrics.StartDBStatsCollector(db, 15*time.Second, stopStats)
	}

	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		close(stopStats)
		return processor.Close(ctx)
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return auditor.Close(ctx)
	})

	if err := sm.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
