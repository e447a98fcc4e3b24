package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // registers the postgres driver

	"github.com/mkrall/warden/pkg/audit"
	"github.com/mkrall/warden/pkg/bulk"
	"github.com/mkrall/warden/pkg/rbac"
)

// Store implements every persistence contract of the engine over PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle. The caller owns pool configuration
// and migrations.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks and stats collection
func (s *Store) DB() *sql.DB {
	return s.db
}

// Open connects to PostgreSQL and configures the connection pool
func Open(url string, maxOpen, maxIdle int, connLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

const roleColumns = `id, tenant_id, name, description, permissions, effective_permissions,
	is_system, is_active, created_at, updated_at, created_by`

func scanRole(row interface{ Scan(...interface{}) error }) (*rbac.Role, error) {
	var role rbac.Role
	err := row.Scan(&role.ID, &role.TenantID, &role.Name, &role.Description,
		pq.Array(&role.Permissions), pq.Array(&role.EffectivePermissions),
		&role.IsSystem, &role.IsActive, &role.CreatedAt, &role.UpdatedAt, &role.CreatedBy)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// GetRole implements rbac.RoleStore
func (s *Store) GetRole(ctx context.Context, tenantID, roleID string) (*rbac.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE tenant_id = $1 AND id = $2 AND is_active`,
		tenantID, roleID)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &rbac.RoleNotFoundError{TenantID: tenantID, RoleID: roleID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role %s: %w", roleID, err)
	}
	return role, nil
}

// ListRolesByTenant implements rbac.RoleStore
func (s *Store) ListRolesByTenant(ctx context.Context, tenantID string) ([]rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE tenant_id = $1 ORDER BY created_at`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// CreateRole implements rbac.RoleStore
func (s *Store) CreateRole(ctx context.Context, role *rbac.Role) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (id, tenant_id, name, description, permissions, effective_permissions,
			is_system, is_active, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		role.ID, role.TenantID, role.Name, role.Description,
		pq.Array(role.Permissions), pq.Array(role.Permissions),
		role.IsSystem, role.IsActive, role.CreatedAt, role.UpdatedAt, role.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to insert role: %w", err)
	}
	return nil
}

// UpdateRolePermissions implements rbac.RoleStore
func (s *Store) UpdateRolePermissions(ctx context.Context, tenantID, roleID string, permissions []string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE roles SET permissions = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND is_active`,
		tenantID, roleID, pq.Array(permissions))
	if err != nil {
		return fmt.Errorf("failed to update role permissions: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &rbac.RoleNotFoundError{TenantID: tenantID, RoleID: roleID}
	}
	return nil
}

// SaveEffectivePermissions implements rbac.RoleStore
func (s *Store) SaveEffectivePermissions(ctx context.Context, tenantID, roleID string, effective []string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE roles SET effective_permissions = $3
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, roleID, pq.Array(effective))
	if err != nil {
		return fmt.Errorf("failed to save effective permissions: %w", err)
	}
	return nil
}

// DeactivateRole implements rbac.RoleStore
func (s *Store) DeactivateRole(ctx context.Context, tenantID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE roles SET is_active = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND is_active`,
		tenantID, roleID)
	if err != nil {
		return fmt.Errorf("failed to deactivate role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &rbac.RoleNotFoundError{TenantID: tenantID, RoleID: roleID}
	}
	return nil
}

const edgeColumns = `id, tenant_id, parent_role_id, child_role_id, inheritance_type,
	inherited_permissions, is_active, created_at, created_by`

func scanEdge(row interface{ Scan(...interface{}) error }) (*rbac.HierarchyEdge, error) {
	var edge rbac.HierarchyEdge
	err := row.Scan(&edge.ID, &edge.TenantID, &edge.ParentRoleID, &edge.ChildRoleID,
		&edge.InheritanceType, pq.Array(&edge.InheritedPermissions),
		&edge.IsActive, &edge.CreatedAt, &edge.CreatedBy)
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

// ListActiveEdges implements rbac.HierarchyStore
func (s *Store) ListActiveEdges(ctx context.Context, tenantID string) ([]rbac.HierarchyEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM role_hierarchy WHERE tenant_id = $1 AND is_active`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	var edges []rbac.HierarchyEdge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, *edge)
	}
	return edges, rows.Err()
}

// InsertEdge implements rbac.HierarchyStore
func (s *Store) InsertEdge(ctx context.Context, edge *rbac.HierarchyEdge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_hierarchy (id, tenant_id, parent_role_id, child_role_id,
			inheritance_type, inherited_permissions, is_active, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		edge.ID, edge.TenantID, edge.ParentRoleID, edge.ChildRoleID,
		edge.InheritanceType, pq.Array(edge.InheritedPermissions),
		edge.IsActive, edge.CreatedAt, edge.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to insert edge: %w", err)
	}
	return nil
}

// DeactivateEdge implements rbac.HierarchyStore
func (s *Store) DeactivateEdge(ctx context.Context, tenantID, edgeID string) (*rbac.HierarchyEdge, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE role_hierarchy SET is_active = FALSE, deactivated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND is_active
		RETURNING `+edgeColumns,
		tenantID, edgeID)
	edge, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", rbac.ErrEdgeNotFound, edgeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate edge: %w", err)
	}
	return edge, nil
}

const assignmentColumns = `id, tenant_id, user_id, role_id, assignment_type, condition,
	expires_at, is_active, activated_at, deactivated_at, assigned_by, deactivated_by, reason`

func scanAssignment(row interface{ Scan(...interface{}) error }) (*rbac.RoleAssignment, error) {
	var a rbac.RoleAssignment
	var condRaw []byte
	err := row.Scan(&a.ID, &a.TenantID, &a.UserID, &a.RoleID, &a.AssignmentType, &condRaw,
		&a.ExpiresAt, &a.IsActive, &a.ActivatedAt, &a.DeactivatedAt,
		&a.AssignedBy, &a.DeactivatedBy, &a.Reason)
	if err != nil {
		return nil, err
	}
	if len(condRaw) > 0 {
		cond, err := rbac.UnmarshalCondition(condRaw)
		if err != nil {
			return nil, fmt.Errorf("assignment %s: %w", a.ID, err)
		}
		a.Condition = cond
	}
	return &a, nil
}

// GetActiveAssignment implements rbac.AssignmentStore
func (s *Store) GetActiveAssignment(ctx context.Context, tenantID, userID, roleID string) (*rbac.RoleAssignment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM role_assignments
		WHERE tenant_id = $1 AND user_id = $2 AND role_id = $3 AND is_active`,
		tenantID, userID, roleID)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// ListActiveAssignmentsForUser implements rbac.AssignmentStore
func (s *Store) ListActiveAssignmentsForUser(ctx context.Context, tenantID, userID string) ([]rbac.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assignmentColumns+` FROM role_assignments
		WHERE tenant_id = $1 AND user_id = $2 AND is_active`,
		tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []rbac.RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, *a)
	}
	return assignments, rows.Err()
}

// InsertAssignment implements rbac.AssignmentStore
func (s *Store) InsertAssignment(ctx context.Context, assignment *rbac.RoleAssignment) error {
	condRaw, err := rbac.MarshalCondition(assignment.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO role_assignments (id, tenant_id, user_id, role_id, assignment_type,
			condition, expires_at, is_active, activated_at, assigned_by, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		assignment.ID, assignment.TenantID, assignment.UserID, assignment.RoleID,
		assignment.AssignmentType, nullBytes(condRaw), assignment.ExpiresAt,
		assignment.IsActive, assignment.ActivatedAt, assignment.AssignedBy, assignment.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	return nil
}

// DeactivateAssignment implements rbac.AssignmentStore. The is_active guard in
// the WHERE clause makes this a conditional flip: the sweep and a concurrent
// revocation cannot both claim the same row.
func (s *Store) DeactivateAssignment(ctx context.Context, assignmentID string, at time.Time, by *string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE role_assignments
		SET is_active = FALSE, deactivated_at = $2, deactivated_by = $3
		WHERE id = $1 AND is_active`,
		assignmentID, at, by)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ListExpiredActiveAssignments implements rbac.AssignmentStore
func (s *Store) ListExpiredActiveAssignments(ctx context.Context, now time.Time) ([]rbac.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assignmentColumns+` FROM role_assignments
		WHERE is_active AND expires_at IS NOT NULL AND expires_at < $1`,
		now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired assignments: %w", err)
	}
	defer rows.Close()

	var assignments []rbac.RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, *a)
	}
	return assignments, rows.Err()
}

// CreateRoleTemplate implements rbac.TemplateStore
func (s *Store) CreateRoleTemplate(ctx context.Context, tpl *rbac.RoleTemplate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_templates (id, tenant_id, name, description, permissions,
			is_public, usage_count, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tpl.ID, tpl.TenantID, tpl.Name, tpl.Description, pq.Array(tpl.Permissions),
		tpl.IsPublic, tpl.UsageCount, tpl.CreatedAt, tpl.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to insert role template: %w", err)
	}
	return nil
}

// GetRoleTemplate implements rbac.TemplateStore
func (s *Store) GetRoleTemplate(ctx context.Context, templateID string) (*rbac.RoleTemplate, error) {
	var tpl rbac.RoleTemplate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, description, permissions, is_public, usage_count, created_at, created_by
		FROM role_templates WHERE id = $1`,
		templateID).Scan(&tpl.ID, &tpl.TenantID, &tpl.Name, &tpl.Description,
		pq.Array(&tpl.Permissions), &tpl.IsPublic, &tpl.UsageCount, &tpl.CreatedAt, &tpl.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", rbac.ErrTemplateNotFound, templateID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role template: %w", err)
	}
	return &tpl, nil
}

// IncrementTemplateUsage implements rbac.TemplateStore
func (s *Store) IncrementTemplateUsage(ctx context.Context, templateID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE role_templates SET usage_count = usage_count + 1 WHERE id = $1`,
		templateID)
	if err != nil {
		return fmt.Errorf("failed to increment template usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", rbac.ErrTemplateNotFound, templateID)
	}
	return nil
}

// CreatePermissionGroup implements rbac.GroupStore
func (s *Store) CreatePermissionGroup(ctx context.Context, group *rbac.PermissionGroup) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_groups (id, tenant_id, name, description, permissions,
			category, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		group.ID, group.TenantID, group.Name, group.Description, pq.Array(group.Permissions),
		group.Category, group.CreatedAt, group.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to insert permission group: %w", err)
	}
	return nil
}

// ListPermissionGroups implements rbac.GroupStore
func (s *Store) ListPermissionGroups(ctx context.Context, tenantID string) ([]rbac.PermissionGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, description, permissions, category, created_at, created_by
		FROM permission_groups WHERE tenant_id = $1 ORDER BY name`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission groups: %w", err)
	}
	defer rows.Close()

	var groups []rbac.PermissionGroup
	for rows.Next() {
		var g rbac.PermissionGroup
		if err := rows.Scan(&g.ID, &g.TenantID, &g.Name, &g.Description,
			pq.Array(&g.Permissions), &g.Category, &g.CreatedAt, &g.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan permission group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AppendAuditEntry implements audit.Store
func (s *Store) AppendAuditEntry(ctx context.Context, entry *audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, user_id, role_id, action, entity_type,
			entity_id, old_value, new_value, change_reason, changed_by, ip_address,
			user_agent, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		entry.ID, entry.TenantID, nullString(entry.UserID), nullString(entry.RoleID),
		entry.Action, entry.EntityType, entry.EntityID,
		nullBytes(entry.OldValue), nullBytes(entry.NewValue),
		entry.ChangeReason, entry.ChangedBy, entry.IPAddress, entry.UserAgent, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// QueryAuditEntries implements audit.Store
func (s *Store) QueryAuditEntries(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	query := `
		SELECT id, tenant_id, COALESCE(user_id, ''), COALESCE(role_id, ''), action,
			entity_type, entity_id, old_value, new_value, change_reason, changed_by,
			ip_address, user_agent, timestamp
		FROM audit_log WHERE 1=1`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.TenantID != "" {
		query += " AND tenant_id = " + arg(filter.TenantID)
	}
	if filter.UserID != "" {
		query += " AND user_id = " + arg(filter.UserID)
	}
	if filter.RoleID != "" {
		query += " AND role_id = " + arg(filter.RoleID)
	}
	if filter.Action != "" {
		query += " AND action = " + arg(string(filter.Action))
	}
	if !filter.From.IsZero() {
		query += " AND timestamp >= " + arg(filter.From)
	}
	if !filter.To.IsZero() {
		query += " AND timestamp <= " + arg(filter.To)
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var oldVal, newVal []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.RoleID, &e.Action,
			&e.EntityType, &e.EntityID, &oldVal, &newVal, &e.ChangeReason,
			&e.ChangedBy, &e.IPAddress, &e.UserAgent, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.OldValue = oldVal
		e.NewValue = newVal
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateBulkOperation implements bulk.Store
func (s *Store) CreateBulkOperation(ctx context.Context, op *bulk.Operation) error {
	errs, err := json.Marshal(op.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal item errors: %w", err)
	}
	if op.Errors == nil {
		errs = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bulk_operations (id, tenant_id, operation_type, status, user_ids,
			role_ids, total_items, processed_items, failed_items, progress, errors,
			reason, expires_at, submitted_by, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		op.ID, op.TenantID, op.Type, op.Status, pq.Array(op.UserIDs), pq.Array(op.RoleIDs),
		op.TotalItems, op.ProcessedItems, op.FailedItems, op.Progress, errs, op.Reason,
		op.ExpiresAt, op.SubmittedBy, op.CreatedAt, op.StartedAt, op.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert bulk operation: %w", err)
	}
	return nil
}

// SaveBulkOperation implements bulk.Store. Progress counters only move
// forward: GREATEST guards against an out-of-order write racing a newer one.
func (s *Store) SaveBulkOperation(ctx context.Context, op *bulk.Operation) error {
	errs, err := json.Marshal(op.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal item errors: %w", err)
	}
	if op.Errors == nil {
		errs = []byte("[]")
	}
	var result []byte
	if op.Result != nil {
		if result, err = json.Marshal(op.Result); err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE bulk_operations
		SET status = $2,
			processed_items = GREATEST(processed_items, $3),
			failed_items = GREATEST(failed_items, $4),
			progress = GREATEST(progress, $5),
			errors = $6, result = $7, started_at = $8, completed_at = $9
		WHERE id = $1`,
		op.ID, op.Status, op.ProcessedItems, op.FailedItems, op.Progress,
		errs, nullBytes(result), op.StartedAt, op.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update bulk operation: %w", err)
	}
	return nil
}

// GetBulkOperation implements bulk.Store
func (s *Store) GetBulkOperation(ctx context.Context, tenantID, operationID string) (*bulk.Operation, error) {
	var op bulk.Operation
	var errs, result []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, operation_type, status, user_ids, role_ids, total_items,
			processed_items, failed_items, progress, errors, result, reason, expires_at,
			submitted_by, created_at, started_at, completed_at
		FROM bulk_operations WHERE tenant_id = $1 AND id = $2`,
		tenantID, operationID).Scan(&op.ID, &op.TenantID, &op.Type, &op.Status,
		pq.Array(&op.UserIDs), pq.Array(&op.RoleIDs), &op.TotalItems,
		&op.ProcessedItems, &op.FailedItems, &op.Progress, &errs, &result, &op.Reason,
		&op.ExpiresAt, &op.SubmittedBy, &op.CreatedAt, &op.StartedAt, &op.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", bulk.ErrOperationNotFound, operationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bulk operation: %w", err)
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &op.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item errors: %w", err)
		}
	}
	if len(result) > 0 {
		op.Result = &bulk.Result{}
		if err := json.Unmarshal(result, op.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return &op, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
