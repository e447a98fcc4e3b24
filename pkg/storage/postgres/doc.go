// Package postgres implements the Warden store interfaces on PostgreSQL,
// with an optional Redis read-through cache for assignment lookups.
//
// # Overview
//
// A single Store satisfies the role, hierarchy, assignment, template,
// permission group, audit and bulk operation store interfaces. Schema
// migrations are embedded and tracked in a warden_migrations table:
//
//	db, err := postgres.Open(cfg.Database.URL, 20, 10, 5*time.Minute)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := postgres.RunMigrations(ctx, db); err != nil {
//		log.Fatal(err)
//	}
//	store := postgres.NewStore(db)
//
// # Caching
//
// CachedAssignmentStore wraps the assignment methods with a per-user Redis
// cache, invalidated on every write. The cache is advisory: any Redis
// failure falls through to PostgreSQL.
//
//	client, err := postgres.NewRedisClient(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
//	assignments := postgres.NewCachedAssignmentStore(store, client, ttl, logger, metrics)
//
// # Related Packages
//
//   - pkg/rbac: consumes the store interfaces
//   - pkg/audit: the audit trail persisted here
package postgres
