package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id UUID PRIMARY KEY,
					tenant_id VARCHAR(255) NOT NULL,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					permissions TEXT[] NOT NULL DEFAULT '{}',
					effective_permissions TEXT[] NOT NULL DEFAULT '{}',
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255) NOT NULL DEFAULT ''
				);

				CREATE INDEX idx_roles_tenant_id ON roles(tenant_id);
				CREATE UNIQUE INDEX idx_roles_tenant_name_active
					ON roles(tenant_id, name) WHERE is_active;
			`,
		},
		{
			Version:     2,
			Description: "Create role_hierarchy table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_hierarchy (
					id UUID PRIMARY KEY,
					tenant_id VARCHAR(255) NOT NULL,
					parent_role_id UUID NOT NULL REFERENCES roles(id),
					child_role_id UUID NOT NULL REFERENCES roles(id),
					inheritance_type VARCHAR(20) NOT NULL,
					inherited_permissions TEXT[] NOT NULL DEFAULT '{}',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255) NOT NULL DEFAULT '',
					deactivated_at TIMESTAMPTZ
				);

				CREATE INDEX idx_role_hierarchy_tenant ON role_hierarchy(tenant_id) WHERE is_active;
				CREATE INDEX idx_role_hierarchy_child ON role_hierarchy(child_role_id) WHERE is_active;
				CREATE UNIQUE INDEX idx_role_hierarchy_edge_active
					ON role_hierarchy(tenant_id, parent_role_id, child_role_id) WHERE is_active;
			`,
		},
		{
			Version:     3,
			Description: "Create role_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					id UUID PRIMARY KEY,
					tenant_id VARCHAR(255) NOT NULL,
					user_id VARCHAR(255) NOT NULL,
					role_id UUID NOT NULL REFERENCES roles(id),
					assignment_type VARCHAR(20) NOT NULL DEFAULT 'permanent',
					condition JSONB,
					expires_at TIMESTAMPTZ,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					activated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deactivated_at TIMESTAMPTZ,
					assigned_by VARCHAR(255) NOT NULL DEFAULT '',
					deactivated_by VARCHAR(255),
					reason TEXT NOT NULL DEFAULT ''
				);

				CREATE INDEX idx_role_assignments_user
					ON role_assignments(tenant_id, user_id) WHERE is_active;
				CREATE INDEX idx_role_assignments_expiry
					ON role_assignments(expires_at) WHERE is_active AND expires_at IS NOT NULL;
				CREATE UNIQUE INDEX idx_role_assignments_triple_active
					ON role_assignments(tenant_id, user_id, role_id) WHERE is_active;
			`,
		},
		{
			Version:     4,
			Description: "Create audit_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_log (
					id UUID PRIMARY KEY,
					tenant_id VARCHAR(255) NOT NULL,
					user_id VARCHAR(255),
					role_id VARCHAR(255),
					action VARCHAR(64) NOT NULL,
					entity_type VARCHAR(64) NOT NULL,
					entity_id VARCHAR(255) NOT NULL,
					old_value JSONB,
					new_value JSONB,
					change_reason TEXT NOT NULL DEFAULT '',
					changed_by VARCHAR(255),
					ip_address VARCHAR(64) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_audit_log_tenant_time ON audit_log(tenant_id, timestamp DESC);
				CREATE INDEX idx_audit_log_user ON audit_log(tenant_id, user_id);
				CREATE INDEX idx_audit_log_action ON audit_log(action);
			`,
		},
		{
			Version:     5,
			Description: "Create role_templates and permission_groups tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_templates (
					id UUID PRIMARY KEY,
					tenant_id VARCHAR(255),
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					permissions TEXT[] NOT NULL DEFAULT '{}',
					is_public BOOLEAN NOT NULL DEFAULT FALSE,
					usage_count INT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255) NOT NULL DEFAULT ''
				);

				CREATE INDEX idx_role_templates_tenant ON role_templates(tenant_id);

				CREATE TABLE IF NOT EXISTS permission_groups (
					id UUID PRIMARY KEY,
					tenant_id VARCHAR(255) NOT NULL,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					permissions TEXT[] NOT NULL DEFAULT '{}',
					category VARCHAR(64) NOT NULL DEFAULT 'custom',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255) NOT NULL DEFAULT ''
				);

				CREATE INDEX idx_permission_groups_tenant ON permission_groups(tenant_id);
			`,
		},
		{
			Version:     6,
			Description: "Create bulk_operations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bulk_operations (
					id UUID PRIMARY KEY,
					tenant_id VARCHAR(255) NOT NULL,
					operation_type VARCHAR(32) NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'pending',
					user_ids TEXT[] NOT NULL,
					role_ids TEXT[] NOT NULL,
					total_items INT NOT NULL,
					processed_items INT NOT NULL DEFAULT 0,
					failed_items INT NOT NULL DEFAULT 0,
					progress INT NOT NULL DEFAULT 0,
					errors JSONB NOT NULL DEFAULT '[]',
					result JSONB,
					reason TEXT NOT NULL DEFAULT '',
					expires_at TIMESTAMPTZ,
					submitted_by VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					started_at TIMESTAMPTZ,
					completed_at TIMESTAMPTZ
				);

				CREATE INDEX idx_bulk_operations_tenant ON bulk_operations(tenant_id, created_at DESC);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS warden_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM warden_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO warden_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}
	return nil
}
