package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Action identifies what kind of state change an entry records
type Action string

const (
	ActionRoleCreated      Action = "role_created"
	ActionRoleUpdated      Action = "role_updated"
	ActionRoleDeactivated  Action = "role_deactivated"
	ActionHierarchyCreated Action = "hierarchy_created"
	ActionHierarchyRemoved Action = "hierarchy_removed"
	ActionRoleAssigned     Action = "role_assigned"
	ActionRoleRevoked      Action = "role_revoked"
	ActionRoleExpired      Action = "role_expired"
	ActionGroupCreated     Action = "permission_group_created"
	ActionTemplateCreated  Action = "role_template_created"
	ActionBulkSubmitted    Action = "bulk_operation_submitted"
	ActionBulkCompleted    Action = "bulk_operation_completed"
)

// EntityType identifies the kind of entity an entry is about
type EntityType string

const (
	EntityRole      EntityType = "role"
	EntityHierarchy EntityType = "hierarchy"
	EntityUser      EntityType = "user"
	EntityGroup     EntityType = "permission_group"
	EntityTemplate  EntityType = "role_template"
	EntityBulkOp    EntityType = "bulk_operation"
)

// Entry is an immutable record of a single permission-relevant state change.
// Entries are append-only; nothing in the engine mutates or deletes them.
type Entry struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	UserID       string          `json:"user_id,omitempty"`
	RoleID       string          `json:"role_id,omitempty"`
	Action       Action          `json:"action"`
	EntityType   EntityType      `json:"entity_type"`
	EntityID     string          `json:"entity_id"`
	OldValue     json.RawMessage `json:"old_value,omitempty"`
	NewValue     json.RawMessage `json:"new_value,omitempty"`
	ChangeReason string          `json:"change_reason,omitempty"`
	// ChangedBy is nil for system actions such as the expiry sweep
	ChangedBy *string   `json:"changed_by"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter narrows an audit query. Zero values mean "no constraint".
type Filter struct {
	TenantID string
	UserID   string
	RoleID   string
	Action   Action
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// Store is the persistence contract for audit entries
type Store interface {
	AppendAuditEntry(ctx context.Context, entry *Entry) error
	QueryAuditEntries(ctx context.Context, filter Filter) ([]Entry, error)
}

// Value serializes a before/after snapshot for an entry, swallowing marshal
// errors into a null value; a malformed snapshot must not block the primary
// mutation it describes.
func Value(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
