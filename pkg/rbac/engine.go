package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkrall/warden/pkg/audit"
	"github.com/mkrall/warden/pkg/observability"
)

// Engine is the facade the surrounding platform calls. It wires the graph,
// resolver and assignment manager together and owns role, template and
// permission-group lifecycle.
type Engine struct {
	roles     RoleStore
	templates TemplateStore
	groups    GroupStore

	Graph       *HierarchyGraph
	Resolver    *Resolver
	Assignments *AssignmentManager

	auditor *audit.Logger
	events  *EventPublisher
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Stores bundles the persistence contracts the engine consumes
type Stores struct {
	Roles       RoleStore
	Hierarchy   HierarchyStore
	Assignments AssignmentStore
	Users       UserStore // optional; nil skips user reference validation
	Templates   TemplateStore
	Groups      GroupStore
}

// Config bounds the engine's in-memory footprint
type Config struct {
	// MaxCachedTenants bounds the number of tenant graphs held in memory
	MaxCachedTenants int
	// EventBufferSize is the outbound event channel capacity
	EventBufferSize int
}

// NewEngine assembles an engine over the given stores
func NewEngine(stores Stores, auditor *audit.Logger, logger *observability.Logger,
	metrics *observability.Metrics, cfg Config) (*Engine, error) {

	events := NewEventPublisher(cfg.EventBufferSize, logger, metrics)
	graph, err := NewHierarchyGraph(stores.Roles, stores.Hierarchy, auditor, events, logger, metrics, cfg.MaxCachedTenants)
	if err != nil {
		return nil, err
	}
	resolver := NewResolver(graph, stores.Assignments, logger, metrics)
	manager := NewAssignmentManager(stores.Roles, stores.Users, stores.Assignments,
		graph, resolver, auditor, events, logger, metrics)

	return &Engine{
		roles:       stores.Roles,
		templates:   stores.Templates,
		groups:      stores.Groups,
		Graph:       graph,
		Resolver:    resolver,
		Assignments: manager,
		auditor:     auditor,
		events:      events,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Events returns the outbound event channel for external consumers
func (e *Engine) Events() <-chan Event {
	return e.events.Events()
}

// CreateRoleParams carries the inputs of CreateRole
type CreateRoleParams struct {
	Name        string
	Description string
	Permissions []string
	// ParentRoleID, when set, links the new role under the parent in one call
	ParentRoleID    string
	InheritanceType InheritanceType
}

// CreateRole creates a role and, when a parent is given, its hierarchy edge
func (e *Engine) CreateRole(ctx context.Context, tenantID string, params CreateRoleParams, createdBy string) (*Role, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, fmt.Errorf("rbac: role name required")
	}

	now := time.Now().UTC()
	role := &Role{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        name,
		Description: strings.TrimSpace(params.Description),
		Permissions: append([]string(nil), params.Permissions...),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   createdBy,
	}
	if err := e.roles.CreateRole(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	e.Graph.InvalidateTenant(tenantID)

	e.auditor.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		RoleID:     role.ID,
		Action:     audit.ActionRoleCreated,
		EntityType: audit.EntityRole,
		EntityID:   role.ID,
		NewValue: audit.Value(map[string]interface{}{
			"name":        role.Name,
			"permissions": role.Permissions,
		}),
		ChangedBy: &createdBy,
	})
	e.events.Publish(Event{
		Type:     EventRoleCreated,
		TenantID: tenantID,
		RoleID:   role.ID,
		Actor:    createdBy,
	})

	if params.ParentRoleID != "" {
		inheritanceType := params.InheritanceType
		if inheritanceType == "" {
			inheritanceType = InheritanceFull
		}
		if _, err := e.Graph.AddEdge(ctx, tenantID, params.ParentRoleID, role.ID, inheritanceType, nil, createdBy); err != nil {
			return nil, fmt.Errorf("role created but hierarchy edge failed: %w", err)
		}
	}

	return role, nil
}

// UpdateRolePermissions replaces a role's direct permission set and
// rematerializes the role and its descendants. System roles are immutable.
func (e *Engine) UpdateRolePermissions(ctx context.Context, tenantID, roleID string, permissions []string, updatedBy string) error {
	unlock := e.Graph.LockTenant(tenantID)
	defer unlock()

	role, err := e.roles.GetRole(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: %s", ErrSystemRoleImmutable, roleID)
	}

	if err := e.roles.UpdateRolePermissions(ctx, tenantID, roleID, permissions); err != nil {
		return fmt.Errorf("failed to update role permissions: %w", err)
	}

	// Direct permissions feed every descendant's inherited set
	e.Graph.invalidateLocked(tenantID)
	snap, err := e.Graph.snapshotLocked(ctx, tenantID)
	if err == nil {
		if rerr := e.Graph.rematerialize(ctx, tenantID, snap, roleID); rerr != nil {
			e.logger.WithError(rerr).WithTenant(tenantID).Warn("inherited permission rematerialization incomplete")
		}
	}

	e.auditor.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		RoleID:     roleID,
		Action:     audit.ActionRoleUpdated,
		EntityType: audit.EntityRole,
		EntityID:   roleID,
		OldValue:   audit.Value(map[string]interface{}{"permissions": role.Permissions}),
		NewValue:   audit.Value(map[string]interface{}{"permissions": permissions}),
		ChangedBy:  &updatedBy,
	})
	return nil
}

// DeactivateRole soft-deletes a role. System roles cannot be deactivated.
func (e *Engine) DeactivateRole(ctx context.Context, tenantID, roleID, deactivatedBy string) error {
	unlock := e.Graph.LockTenant(tenantID)
	defer unlock()

	role, err := e.roles.GetRole(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: %s", ErrSystemRoleImmutable, roleID)
	}

	if err := e.roles.DeactivateRole(ctx, tenantID, roleID); err != nil {
		return fmt.Errorf("failed to deactivate role: %w", err)
	}
	e.Graph.invalidateLocked(tenantID)

	e.auditor.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		RoleID:     roleID,
		Action:     audit.ActionRoleDeactivated,
		EntityType: audit.EntityRole,
		EntityID:   roleID,
		OldValue:   audit.Value(map[string]interface{}{"is_active": true}),
		NewValue:   audit.Value(map[string]interface{}{"is_active": false}),
		ChangedBy:  &deactivatedBy,
	})
	return nil
}

// CreateHierarchyEdge links parent -> child with the given inheritance type
func (e *Engine) CreateHierarchyEdge(ctx context.Context, tenantID, parentRoleID, childRoleID string,
	inheritanceType InheritanceType, inheritedPermissions []string, createdBy string) (*HierarchyEdge, error) {
	return e.Graph.AddEdge(ctx, tenantID, parentRoleID, childRoleID, inheritanceType, inheritedPermissions, createdBy)
}

// RemoveHierarchyEdge deactivates an edge
func (e *Engine) RemoveHierarchyEdge(ctx context.Context, tenantID, edgeID, removedBy string) error {
	return e.Graph.RemoveEdge(ctx, tenantID, edgeID, removedBy)
}

// GetTree returns the tenant's role hierarchy as a forest
func (e *Engine) GetTree(ctx context.Context, tenantID string) ([]*RoleNode, error) {
	return e.Graph.Tree(ctx, tenantID)
}

// AssignRole grants a role to a user
func (e *Engine) AssignRole(ctx context.Context, tenantID, userID, roleID, assignedBy string, opts AssignmentOptions) (*RoleAssignment, error) {
	return e.Assignments.AssignRole(ctx, tenantID, userID, roleID, assignedBy, opts)
}

// RevokeRole revokes a user's role
func (e *Engine) RevokeRole(ctx context.Context, tenantID, userID, roleID, revokedBy, reason string) error {
	return e.Assignments.RevokeRole(ctx, tenantID, userID, roleID, revokedBy, reason)
}

// GetEffectivePermissions resolves a user's permissions at the current time
func (e *Engine) GetEffectivePermissions(ctx context.Context, tenantID, userID string) (PermissionSet, error) {
	return e.Assignments.GetEffectivePermissions(ctx, tenantID, userID, EvalContext{})
}

// SweepExpiredAssignments deactivates expired assignments. Invoked by an
// external scheduler, not self-scheduled.
func (e *Engine) SweepExpiredAssignments(ctx context.Context, now time.Time) (int, error) {
	return e.Assignments.SweepExpired(ctx, now)
}

// GetAuditLog reads the audit trail
func (e *Engine) GetAuditLog(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	return e.auditor.Query(ctx, filter)
}

// CreateRoleTemplate registers a reusable permission bundle
func (e *Engine) CreateRoleTemplate(ctx context.Context, tenantID *string, name, description string,
	permissions []string, isPublic bool, createdBy string) (*RoleTemplate, error) {

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("rbac: template name required")
	}
	tpl := &RoleTemplate{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        name,
		Description: description,
		Permissions: append([]string(nil), permissions...),
		IsPublic:    isPublic,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   createdBy,
	}
	if err := e.templates.CreateRoleTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("failed to create role template: %w", err)
	}

	entryTenant := ""
	if tenantID != nil {
		entryTenant = *tenantID
	}
	e.auditor.Record(ctx, audit.Entry{
		TenantID:   entryTenant,
		Action:     audit.ActionTemplateCreated,
		EntityType: audit.EntityTemplate,
		EntityID:   tpl.ID,
		NewValue:   audit.Value(map[string]interface{}{"name": name, "permissions": permissions}),
		ChangedBy:  &createdBy,
	})
	return tpl, nil
}

// CreateRoleFromTemplate stamps a new role out of a template, bumping the
// template's usage count. The role is created through the normal path, so it
// is audited like any hand-made role.
func (e *Engine) CreateRoleFromTemplate(ctx context.Context, tenantID, templateID, roleName, createdBy string) (*Role, error) {
	tpl, err := e.templates.GetRoleTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !tpl.IsPublic && (tpl.TenantID == nil || *tpl.TenantID != tenantID) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}

	if err := e.templates.IncrementTemplateUsage(ctx, templateID); err != nil {
		e.logger.WithError(err).Warn("failed to bump template usage count")
	}

	description := tpl.Description
	if description == "" {
		description = fmt.Sprintf("Created from template: %s", tpl.Name)
	}
	return e.CreateRole(ctx, tenantID, CreateRoleParams{
		Name:        roleName,
		Description: description,
		Permissions: tpl.Permissions,
	}, createdBy)
}

// CreatePermissionGroup registers a named permission grouping
func (e *Engine) CreatePermissionGroup(ctx context.Context, tenantID, name, description, category string,
	permissions []string, createdBy string) (*PermissionGroup, error) {

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("rbac: group name required")
	}
	if category == "" {
		category = "custom"
	}
	group := &PermissionGroup{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        name,
		Description: description,
		Permissions: append([]string(nil), permissions...),
		Category:    category,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   createdBy,
	}
	if err := e.groups.CreatePermissionGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to create permission group: %w", err)
	}

	e.auditor.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		Action:     audit.ActionGroupCreated,
		EntityType: audit.EntityGroup,
		EntityID:   group.ID,
		NewValue:   audit.Value(map[string]interface{}{"name": name, "permissions": permissions, "category": category}),
		ChangedBy:  &createdBy,
	})
	return group, nil
}

// ListPermissionGroups returns the tenant's permission groups
func (e *Engine) ListPermissionGroups(ctx context.Context, tenantID string) ([]PermissionGroup, error) {
	return e.groups.ListPermissionGroups(ctx, tenantID)
}
