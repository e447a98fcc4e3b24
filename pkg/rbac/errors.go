package rbac

import (
	"errors"
	"fmt"
)

// Sentinel errors for the validation taxonomy. Callers should match with
// errors.Is; the typed wrappers below carry the identifiers involved.
var (
	ErrCircularDependency  = errors.New("rbac: hierarchy edge would create a cycle")
	ErrDuplicateEdge       = errors.New("rbac: active edge already exists between roles")
	ErrDuplicateAssignment = errors.New("rbac: role already assigned to user")
	ErrRoleNotFound        = errors.New("rbac: role not found")
	ErrUserNotFound        = errors.New("rbac: user not found")
	ErrAssignmentNotFound  = errors.New("rbac: assignment not found")
	ErrExpiredAssignment   = errors.New("rbac: assignment has expired")
	ErrSystemRoleImmutable = errors.New("rbac: system role cannot be modified")
	ErrEdgeNotFound        = errors.New("rbac: hierarchy edge not found")
	ErrTemplateNotFound    = errors.New("rbac: role template not found")
)

// CircularDependencyError reports the edge that was rejected by cycle detection
type CircularDependencyError struct {
	TenantID     string
	ParentRoleID string
	ChildRoleID  string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("rbac: edge %s -> %s for tenant %s would create a cycle",
		e.ParentRoleID, e.ChildRoleID, e.TenantID)
}

// Unwrap lets errors.Is match ErrCircularDependency
func (e *CircularDependencyError) Unwrap() error { return ErrCircularDependency }

// DuplicateAssignmentError reports the triple that already has an active assignment
type DuplicateAssignmentError struct {
	TenantID string
	UserID   string
	RoleID   string
}

func (e *DuplicateAssignmentError) Error() string {
	return fmt.Sprintf("rbac: role %s already assigned to user %s in tenant %s",
		e.RoleID, e.UserID, e.TenantID)
}

func (e *DuplicateAssignmentError) Unwrap() error { return ErrDuplicateAssignment }

// RoleNotFoundError reports a reference to a role that does not exist in the tenant
type RoleNotFoundError struct {
	TenantID string
	RoleID   string
}

func (e *RoleNotFoundError) Error() string {
	return fmt.Sprintf("rbac: role %s not found in tenant %s", e.RoleID, e.TenantID)
}

func (e *RoleNotFoundError) Unwrap() error { return ErrRoleNotFound }
