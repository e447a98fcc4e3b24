package bulk

import (
	"context"
	"errors"
	"time"

	"github.com/mkrall/warden/pkg/rbac"
)

// OperationType identifies what a bulk operation does to each (user, role) pair
type OperationType string

const (
	OpAssignRoles OperationType = "assign_roles"
	OpRevokeRoles OperationType = "revoke_roles"
)

// Valid reports whether the operation type is a known variant
func (t OperationType) Valid() bool {
	return t == OpAssignRoles || t == OpRevokeRoles
}

// Status is the lifecycle state of a bulk operation
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	// StatusCompleted covers partial failure: the operation ran to the end
	// even if some or all items failed. Per-item outcomes live in Errors.
	StatusCompleted Status = "completed"
	// StatusFailed means the job itself could not run, not that items failed
	StatusFailed Status = "failed"
)

// ItemError records one failed (user, role) pair within an operation
type ItemError struct {
	UserID  string `json:"user_id"`
	RoleID  string `json:"role_id"`
	Message string `json:"message"`
}

// Result is the summary written once an operation reaches a terminal state
type Result struct {
	ProcessedItems int         `json:"processed_items"`
	FailedItems    int         `json:"failed_items"`
	Errors         []ItemError `json:"errors,omitempty"`
}

// Operation is an asynchronous bulk role mutation over the cartesian product
// of its user and role lists.
type Operation struct {
	ID             string        `json:"id"`
	TenantID       string        `json:"tenant_id"`
	Type           OperationType `json:"operation_type"`
	Status         Status        `json:"status"`
	UserIDs        []string      `json:"user_ids"`
	RoleIDs        []string      `json:"role_ids"`
	TotalItems     int           `json:"total_items"`
	// ProcessedItems counts successful items only; failures go to FailedItems
	ProcessedItems int         `json:"processed_items"`
	FailedItems    int         `json:"failed_items"`
	// Progress is 0-100, recomputed from (processed+failed)/total after
	// every item and persisted so polls see it move monotonically
	Progress    int         `json:"progress"`
	Errors      []ItemError `json:"errors,omitempty"`
	Result      *Result     `json:"result,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"` // assignment expiry, assign only
	SubmittedBy string      `json:"submitted_by"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Store is the persistence contract for bulk operations. Progress updates are
// written after every item so a crashed processor leaves an accurate count
// behind.
type Store interface {
	CreateBulkOperation(ctx context.Context, op *Operation) error
	SaveBulkOperation(ctx context.Context, op *Operation) error
	GetBulkOperation(ctx context.Context, tenantID, operationID string) (*Operation, error)
}

// RoleService is the slice of the RBAC engine the processor drives. The
// engine's facade satisfies it.
type RoleService interface {
	AssignRole(ctx context.Context, tenantID, userID, roleID, assignedBy string, opts rbac.AssignmentOptions) (*rbac.RoleAssignment, error)
	RevokeRole(ctx context.Context, tenantID, userID, roleID, revokedBy, reason string) error
}

var (
	// ErrQueueFull is returned by Submit when the processor cannot accept
	// more work; callers should retry later rather than block
	ErrQueueFull = errors.New("bulk: operation queue full")
	// ErrShuttingDown is returned by Submit after Close has begun
	ErrShuttingDown = errors.New("bulk: processor shutting down")
	// ErrOperationNotFound is returned for unknown operation IDs
	ErrOperationNotFound = errors.New("bulk: operation not found")
)
