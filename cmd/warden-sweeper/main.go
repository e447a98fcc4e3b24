package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mkrall/warden/pkg/audit"
	"github.com/mkrall/warden/pkg/config"
	"github.com/mkrall/warden/pkg/observability"
	"github.com/mkrall/warden/pkg/rbac"
	"github.com/mkrall/warden/pkg/storage/postgres"
)

var (
	schedule = flag.String("schedule", "", "Cron schedule for the expiry sweep (overrides WARDEN_SWEEP_SCHEDULE)")
	runOnce  = flag.Bool("run-once", false, "Run one sweep and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *schedule != "" {
		cfg.Sweeper.Schedule = *schedule
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	store := postgres.NewStore(db)
	auditor := audit.NewLogger(store, logger, nil, audit.Options{
		BufferSize:       cfg.Audit.BufferSize,
		MaxRetries:       cfg.Audit.MaxRetries,
		RetryBackoff:     cfg.Audit.RetryBackoff,
		FailureThreshold: cfg.Audit.FailureThreshold,
	})
	defer auditor.Close(context.Background())

	engine, err := rbac.NewEngine(rbac.Stores{
		Roles:       store,
		Hierarchy:   store,
		Assignments: store,
		Templates:   store,
		Groups:      store,
	}, auditor, logger, nil, rbac.Config{
		MaxCachedTenants: cfg.Engine.MaxCachedTenants,
		EventBufferSize:  cfg.Engine.EventBufferSize,
	})
	if err != nil {
		logger.WithError(err).Error("failed to build rbac engine")
		os.Exit(1)
	}
	go func() {
		// The sweeper has no downstream transport; drain so expiry events
		// never back up
		for range engine.Events() {
		}
	}()

	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Sweeper.Timeout)
		defer cancel()

		swept, err := engine.SweepExpiredAssignments(ctx, time.Now().UTC())
		if err != nil {
			logger.WithError(err).Error("expiry sweep failed")
			return
		}
		logger.Infof("expiry sweep finished, deactivated %d assignments", swept)
	}

	if *runOnce {
		sweep()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Sweeper.Schedule, sweep); err != nil {
		logger.WithError(err).Errorf("invalid sweep schedule %q", cfg.Sweeper.Schedule)
		os.Exit(1)
	}
	c.Start()
	logger.Infof("sweeper running on schedule %q", cfg.Sweeper.Schedule)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down sweeper")
	<-c.Stop().Done()
}
