package rbac

import (
	"context"
	"time"
)

// RoleStore is the persistence contract for roles. Implementations live
// outside this package (see pkg/storage/postgres); the engine treats the store
// as the single source of truth and its in-memory graph as a derived cache.
//
// GetRole must return an error matching ErrRoleNotFound for unknown IDs.
type RoleStore interface {
	GetRole(ctx context.Context, tenantID, roleID string) (*Role, error)
	ListRolesByTenant(ctx context.Context, tenantID string) ([]Role, error)
	CreateRole(ctx context.Context, role *Role) error
	UpdateRolePermissions(ctx context.Context, tenantID, roleID string, permissions []string) error
	// SaveEffectivePermissions persists the materialized direct+inherited set
	SaveEffectivePermissions(ctx context.Context, tenantID, roleID string, effective []string) error
	DeactivateRole(ctx context.Context, tenantID, roleID string) error
}

// HierarchyStore is the persistence contract for inheritance edges
type HierarchyStore interface {
	ListActiveEdges(ctx context.Context, tenantID string) ([]HierarchyEdge, error)
	InsertEdge(ctx context.Context, edge *HierarchyEdge) error
	// DeactivateEdge marks the edge inactive and returns it.
	// Must return an error matching ErrEdgeNotFound for unknown IDs.
	DeactivateEdge(ctx context.Context, tenantID, edgeID string) (*HierarchyEdge, error)
}

// AssignmentStore is the persistence contract for user-role bindings.
//
// DeactivateAssignment must be conditional on the assignment still being
// active and report whether it actually flipped the row; the expiry sweep
// relies on that to stay idempotent against concurrent revocations.
type AssignmentStore interface {
	// GetActiveAssignment returns (nil, nil) when no active assignment exists
	GetActiveAssignment(ctx context.Context, tenantID, userID, roleID string) (*RoleAssignment, error)
	ListActiveAssignmentsForUser(ctx context.Context, tenantID, userID string) ([]RoleAssignment, error)
	InsertAssignment(ctx context.Context, assignment *RoleAssignment) error
	DeactivateAssignment(ctx context.Context, assignmentID string, at time.Time, by *string) (bool, error)
	ListExpiredActiveAssignments(ctx context.Context, now time.Time) ([]RoleAssignment, error)
}

// UserStore resolves user existence. User provisioning itself is handled by
// the surrounding platform; the engine only validates references.
type UserStore interface {
	UserExists(ctx context.Context, tenantID, userID string) (bool, error)
}

// TemplateStore is the persistence contract for role templates
type TemplateStore interface {
	CreateRoleTemplate(ctx context.Context, tpl *RoleTemplate) error
	// GetRoleTemplate must return an error matching ErrTemplateNotFound for unknown IDs
	GetRoleTemplate(ctx context.Context, templateID string) (*RoleTemplate, error)
	IncrementTemplateUsage(ctx context.Context, templateID string) error
}

// GroupStore is the persistence contract for permission groups
type GroupStore interface {
	CreatePermissionGroup(ctx context.Context, group *PermissionGroup) error
	ListPermissionGroups(ctx context.Context, tenantID string) ([]PermissionGroup, error)
}
