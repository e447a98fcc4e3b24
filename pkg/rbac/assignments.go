package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkrall/warden/pkg/audit"
	"github.com/mkrall/warden/pkg/observability"
)

// AssignmentManager grants and revokes user-role bindings and manages their
// lifecycle. Mutations for a tenant are serialized through the graph's
// per-tenant lock so assignment and hierarchy changes cannot interleave.
type AssignmentManager struct {
	roles       RoleStore
	users       UserStore
	assignments AssignmentStore
	graph       *HierarchyGraph
	resolver    *Resolver
	auditor     *audit.Logger
	events      *EventPublisher
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewAssignmentManager creates an assignment manager
func NewAssignmentManager(roles RoleStore, users UserStore, assignments AssignmentStore,
	graph *HierarchyGraph, resolver *Resolver, auditor *audit.Logger, events *EventPublisher,
	logger *observability.Logger, metrics *observability.Metrics) *AssignmentManager {
	return &AssignmentManager{
		roles:       roles,
		users:       users,
		assignments: assignments,
		graph:       graph,
		resolver:    resolver,
		auditor:     auditor,
		events:      events,
		logger:      logger,
		metrics:     metrics,
	}
}

// AssignRole grants a role to a user. At most one active assignment may exist
// per (tenant, user, role); a duplicate is rejected before anything is
// written.
func (m *AssignmentManager) AssignRole(ctx context.Context, tenantID, userID, roleID, assignedBy string,
	opts AssignmentOptions) (*RoleAssignment, error) {

	unlock := m.graph.LockTenant(tenantID)
	defer unlock()

	if _, err := m.roles.GetRole(ctx, tenantID, roleID); err != nil {
		return nil, err
	}
	if m.users != nil {
		exists, err := m.users.UserExists(ctx, tenantID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to check user %s: %w", userID, err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
	}

	existing, err := m.assignments.GetActiveAssignment(ctx, tenantID, userID, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing assignment: %w", err)
	}
	if existing != nil {
		return nil, &DuplicateAssignmentError{TenantID: tenantID, UserID: userID, RoleID: roleID}
	}

	now := time.Now().UTC()
	if opts.ExpiresAt != nil && opts.ExpiresAt.Before(now) {
		return nil, fmt.Errorf("%w: expiry %s is in the past", ErrExpiredAssignment, opts.ExpiresAt)
	}

	assignmentType := opts.AssignmentType
	if assignmentType == "" {
		assignmentType = AssignmentPermanent
	}

	assignment := &RoleAssignment{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		UserID:         userID,
		RoleID:         roleID,
		AssignmentType: assignmentType,
		Condition:      opts.Condition,
		ExpiresAt:      opts.ExpiresAt,
		IsActive:       true,
		ActivatedAt:    now,
		AssignedBy:     assignedBy,
		Reason:         opts.Reason,
	}

	if err := m.assignments.InsertAssignment(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to persist assignment: %w", err)
	}

	if m.metrics != nil {
		m.metrics.AssignmentsGrantedTotal.Inc()
	}
	m.auditor.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		UserID:     userID,
		RoleID:     roleID,
		Action:     audit.ActionRoleAssigned,
		EntityType: audit.EntityUser,
		EntityID:   userID,
		NewValue: audit.Value(map[string]interface{}{
			"assignment_id":   assignment.ID,
			"role_id":         roleID,
			"assignment_type": assignmentType,
			"expires_at":      opts.ExpiresAt,
		}),
		ChangeReason: opts.Reason,
		ChangedBy:    &assignedBy,
	})
	m.events.Publish(Event{
		Type:     EventRoleAssigned,
		TenantID: tenantID,
		UserID:   userID,
		RoleID:   roleID,
		Actor:    assignedBy,
		Details: map[string]interface{}{
			"assignment_id":   assignment.ID,
			"assignment_type": string(assignmentType),
		},
	})

	return assignment, nil
}

// RevokeRole deactivates the user's active assignment of the role
func (m *AssignmentManager) RevokeRole(ctx context.Context, tenantID, userID, roleID, revokedBy, reason string) error {
	unlock := m.graph.LockTenant(tenantID)
	defer unlock()

	assignment, err := m.assignments.GetActiveAssignment(ctx, tenantID, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment == nil {
		return fmt.Errorf("%w: no active assignment of role %s for user %s", ErrAssignmentNotFound, roleID, userID)
	}

	now := time.Now().UTC()
	flipped, err := m.assignments.DeactivateAssignment(ctx, assignment.ID, now, &revokedBy)
	if err != nil {
		return fmt.Errorf("failed to deactivate assignment: %w", err)
	}
	if !flipped {
		// Lost a race with the expiry sweep; the deactivation and its audit
		// entry already happened
		return nil
	}

	if m.metrics != nil {
		m.metrics.AssignmentsRevokedTotal.Inc()
	}
	m.auditor.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		UserID:     userID,
		RoleID:     roleID,
		Action:     audit.ActionRoleRevoked,
		EntityType: audit.EntityUser,
		EntityID:   userID,
		OldValue: audit.Value(map[string]interface{}{
			"assignment_id": assignment.ID,
			"is_active":     true,
		}),
		NewValue: audit.Value(map[string]interface{}{
			"assignment_id":  assignment.ID,
			"is_active":      false,
			"deactivated_at": now,
		}),
		ChangeReason: reason,
		ChangedBy:    &revokedBy,
	})
	m.events.Publish(Event{
		Type:     EventRoleRevoked,
		TenantID: tenantID,
		UserID:   userID,
		RoleID:   roleID,
		Actor:    revokedBy,
	})

	return nil
}

// SweepExpired deactivates every active assignment whose expiry has passed.
// Safe to run concurrently with grants and revocations: only rows still
// active at the moment of deactivation are touched, so an assignment revoked
// by a human first is never double-logged. Returns the number swept.
func (m *AssignmentManager) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	expired, err := m.assignments.ListExpiredActiveAssignments(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired assignments: %w", err)
	}

	swept := 0
	for _, a := range expired {
		flipped, err := m.assignments.DeactivateAssignment(ctx, a.ID, now, nil)
		if err != nil {
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"assignment_id": a.ID,
				"tenant_id":     a.TenantID,
			}).Error("failed to deactivate expired assignment")
			continue
		}
		if !flipped {
			continue
		}
		swept++

		if m.metrics != nil {
			m.metrics.AssignmentsExpiredTotal.Inc()
		}
		m.auditor.Record(ctx, audit.Entry{
			TenantID:   a.TenantID,
			UserID:     a.UserID,
			RoleID:     a.RoleID,
			Action:     audit.ActionRoleExpired,
			EntityType: audit.EntityUser,
			EntityID:   a.UserID,
			OldValue:   audit.Value(map[string]interface{}{"is_active": true}),
			NewValue:   audit.Value(map[string]interface{}{"is_active": false}),
			// System action: no acting user
			ChangeReason: "expired",
			ChangedBy:    nil,
		})
		m.events.Publish(Event{
			Type:     EventRoleExpired,
			TenantID: a.TenantID,
			UserID:   a.UserID,
			RoleID:   a.RoleID,
		})
	}

	if m.metrics != nil {
		m.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
	if swept > 0 {
		m.logger.Infof("expiry sweep deactivated %d assignments", swept)
	}
	return swept, nil
}

// GetEffectivePermissions resolves the user's permissions, evaluating
// conditional assignments against the given context. Pass a zero EvalContext
// to evaluate against the current time with no location.
func (m *AssignmentManager) GetEffectivePermissions(ctx context.Context, tenantID, userID string, ec EvalContext) (PermissionSet, error) {
	if ec.Now.IsZero() {
		ec.Now = time.Now()
	}
	return m.resolver.resolveUser(ctx, tenantID, userID, &ec)
}
