// Package observability provides structured logging, Prometheus metrics,
// health checks and graceful shutdown for the Warden daemons.
//
// # Overview
//
// Logging is structured JSON on stdlib slog, with chained field helpers:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithTenant(tenantID).WithError(err).Error("graph rebuild failed")
//
// Metrics are plain Prometheus collectors owned by a Metrics instance with
// its own registry:
//
//	metrics := observability.NewMetrics(nil)
//	router.Handle("/metrics", metrics.Handler())
//	metrics.CycleRejectionsTotal.Inc()
//
// Health checks probe PostgreSQL (required) and Redis (optional; its loss
// only degrades readiness since it is a cache):
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(router, checker)
//
// Shutdown coordinates the HTTP server and registered cleanup funcs on
// SIGINT/SIGTERM:
//
//	sm := observability.NewShutdownManager(logger, server, 30*time.Second)
//	sm.RegisterShutdownFunc(processor.Close)
//	sm.RegisterShutdownFunc(auditor.Close)
//	sm.WaitForShutdown()
package observability
