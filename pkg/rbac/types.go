package rbac

import (
	"sort"
	"time"
)

// InheritanceType controls how a parent role's permissions propagate to a child
type InheritanceType string

const (
	// InheritanceFull unions the parent's entire effective permission set into the child
	InheritanceFull InheritanceType = "full"
	// InheritancePartial unions only the edge's declared permission subset
	InheritancePartial InheritanceType = "partial"
	// InheritanceAdditive behaves like full but is labeled distinctly for audit/reporting
	InheritanceAdditive InheritanceType = "additive"
)

// Valid reports whether the inheritance type is one of the known variants
func (t InheritanceType) Valid() bool {
	switch t {
	case InheritanceFull, InheritancePartial, InheritanceAdditive:
		return true
	}
	return false
}

// AssignmentType classifies how long a role assignment is meant to last
type AssignmentType string

const (
	AssignmentPermanent   AssignmentType = "permanent"
	AssignmentTemporary   AssignmentType = "temporary"
	AssignmentConditional AssignmentType = "conditional"
)

// Role is a named permission bundle owned by a tenant
type Role struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"` // direct permissions, not including inherited
	// EffectivePermissions is the materialized direct+inherited set, recomputed
	// on every hierarchy mutation so reads never traverse the graph
	EffectivePermissions []string `json:"effective_permissions,omitempty"`
	IsSystem    bool      `json:"is_system"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

// HierarchyEdge is a directed parent->child inheritance edge between two roles
// of the same tenant. Edges are deactivated rather than deleted so the audit
// trail can always be reconstructed.
type HierarchyEdge struct {
	ID                   string          `json:"id"`
	TenantID             string          `json:"tenant_id"`
	ParentRoleID         string          `json:"parent_role_id"`
	ChildRoleID          string          `json:"child_role_id"`
	InheritanceType      InheritanceType `json:"inheritance_type"`
	InheritedPermissions []string        `json:"inherited_permissions,omitempty"` // only for partial
	IsActive             bool            `json:"is_active"`
	CreatedAt            time.Time       `json:"created_at"`
	CreatedBy            string          `json:"created_by,omitempty"`
}

// RoleAssignment binds a user to a role. At most one active assignment may
// exist per (tenant, user, role) triple. Assignments are deactivated, never
// deleted.
type RoleAssignment struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	UserID         string         `json:"user_id"`
	RoleID         string         `json:"role_id"`
	AssignmentType AssignmentType `json:"assignment_type"`
	Condition      Condition      `json:"condition,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	IsActive       bool           `json:"is_active"`
	ActivatedAt    time.Time      `json:"activated_at"`
	DeactivatedAt  *time.Time     `json:"deactivated_at,omitempty"`
	AssignedBy     string         `json:"assigned_by"`
	DeactivatedBy  *string        `json:"deactivated_by,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}

// Expired reports whether the assignment's expiry has passed at the given time
func (a *RoleAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// AssignmentOptions carries the optional parameters of a role grant
type AssignmentOptions struct {
	AssignmentType AssignmentType
	ExpiresAt      *time.Time
	Condition      Condition
	Reason         string
}

// RoleNode is a role annotated with its children, as returned by the hierarchy
// tree view. Child nodes carry the edge that links them to their parent.
type RoleNode struct {
	Role            Role            `json:"role"`
	EdgeID          string          `json:"edge_id,omitempty"`
	InheritanceType InheritanceType `json:"inheritance_type,omitempty"`
	Children        []*RoleNode     `json:"children,omitempty"`
}

// RoleTemplate is a reusable permission bundle that roles can be stamped from.
// Templates may be tenant-scoped or public (shared across tenants).
type RoleTemplate struct {
	ID          string    `json:"id"`
	TenantID    *string   `json:"tenant_id,omitempty"` // nil for public templates
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	IsPublic    bool      `json:"is_public"`
	UsageCount  int       `json:"usage_count"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

// PermissionGroup is a named grouping of permission strings used for display
// and template composition. Groups carry no runtime semantics of their own.
type PermissionGroup struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

// PermissionSet is an unordered set of permission strings. Two sets are equal
// iff they contain the same members, regardless of how they were accumulated.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from the given permission strings
func NewPermissionSet(perms ...string) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Add inserts a permission into the set
func (s PermissionSet) Add(perm string) {
	s[perm] = struct{}{}
}

// AddAll inserts every permission from the slice
func (s PermissionSet) AddAll(perms []string) {
	for _, p := range perms {
		s[p] = struct{}{}
	}
}

// Union inserts every member of other into the set
func (s PermissionSet) Union(other PermissionSet) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// Contains reports whether the set holds the permission
func (s PermissionSet) Contains(perm string) bool {
	_, ok := s[perm]
	return ok
}

// Equal reports set equality, independent of insertion order
func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for p := range s {
		if _, ok := other[p]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the members as a sorted slice for deterministic output
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
