package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/mkrall/warden/pkg/observability"
)

// Resolver computes effective permission sets by traversing the hierarchy
// graph in memory. It is a pure read path: concurrent mutations are observed
// as either the pre- or post-mutation snapshot.
type Resolver struct {
	graph       *HierarchyGraph
	assignments AssignmentStore
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewResolver creates a permission resolver over the graph and assignments
func NewResolver(graph *HierarchyGraph, assignments AssignmentStore,
	logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		graph:       graph,
		assignments: assignments,
		logger:      logger,
		metrics:     metrics,
	}
}

// ResolveRolePermissions returns the role's effective permission set: its own
// direct permissions unioned with what it inherits through every active
// incoming edge, applied per the edge's inheritance type.
func (r *Resolver) ResolveRolePermissions(ctx context.Context, tenantID, roleID string) (PermissionSet, error) {
	start := time.Now()
	snap, err := r.graph.Snapshot(ctx, tenantID)
	if err != nil {
		r.observe("role", "error", start)
		return nil, err
	}
	if _, ok := snap.roles[roleID]; !ok {
		r.observe("role", "not_found", start)
		return nil, &RoleNotFoundError{TenantID: tenantID, RoleID: roleID}
	}
	set, err := resolveWithin(snap, roleID)
	if err != nil {
		r.observe("role", "error", start)
		return nil, err
	}
	r.observe("role", "ok", start)
	return set, nil
}

// ResolveUserPermissions returns the union of effective permissions across
// the user's active, non-expired role assignments.
func (r *Resolver) ResolveUserPermissions(ctx context.Context, tenantID, userID string) (PermissionSet, error) {
	return r.resolveUser(ctx, tenantID, userID, nil)
}

// resolveUser resolves user permissions, optionally evaluating assignment
// conditions against the given context. Conditional assignments are evaluated
// at read time, never baked into a static set.
func (r *Resolver) resolveUser(ctx context.Context, tenantID, userID string, ec *EvalContext) (PermissionSet, error) {
	start := time.Now()
	assignments, err := r.assignments.ListActiveAssignmentsForUser(ctx, tenantID, userID)
	if err != nil {
		r.observe("user", "error", start)
		return nil, fmt.Errorf("failed to list assignments for user %s: %w", userID, err)
	}

	now := time.Now()
	if ec != nil && !ec.Now.IsZero() {
		now = ec.Now
	}

	result := make(PermissionSet)
	if len(assignments) == 0 {
		r.observe("user", "ok", start)
		return result, nil
	}

	snap, err := r.graph.Snapshot(ctx, tenantID)
	if err != nil {
		r.observe("user", "error", start)
		return nil, err
	}

	for _, a := range assignments {
		if !a.IsActive || a.Expired(now) {
			continue
		}
		if ec != nil && a.Condition != nil && !a.Condition.Evaluate(*ec) {
			continue
		}
		if _, ok := snap.roles[a.RoleID]; !ok {
			// Role deactivated after assignment; grants nothing
			continue
		}
		set, err := resolveWithin(snap, a.RoleID)
		if err != nil {
			r.observe("user", "error", start)
			return nil, err
		}
		result.Union(set)
	}

	r.observe("user", "ok", start)
	return result, nil
}

func (r *Resolver) observe(kind, status string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.ResolutionsTotal.WithLabelValues(kind, status).Inc()
	r.metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
}

// resolveWithin computes a role's effective permission set over a single
// snapshot. Results are memoized per role so diamond-shaped hierarchies
// resolve each ancestor once instead of exponentially. A cycle that somehow
// slipped past AddEdge's check is detected via the traversal stack and fails
// fast instead of looping forever.
func resolveWithin(snap *graphSnapshot, roleID string) (PermissionSet, error) {
	memo := make(map[string]PermissionSet)
	onStack := make(map[string]bool)
	return resolveRole(snap, roleID, memo, onStack)
}

func resolveRole(snap *graphSnapshot, roleID string, memo map[string]PermissionSet, onStack map[string]bool) (PermissionSet, error) {
	if cached, ok := memo[roleID]; ok {
		return cached, nil
	}
	if onStack[roleID] {
		return nil, fmt.Errorf("%w: role %s is its own ancestor", ErrCircularDependency, roleID)
	}
	onStack[roleID] = true
	defer delete(onStack, roleID)

	role, ok := snap.roles[roleID]
	if !ok {
		return make(PermissionSet), nil
	}

	set := NewPermissionSet(role.Permissions...)
	for _, edge := range snap.incoming[roleID] {
		parentSet, err := resolveRole(snap, edge.ParentRoleID, memo, onStack)
		if err != nil {
			return nil, err
		}
		if edge.InheritanceType == InheritancePartial {
			// Only the edge's declared subset crosses over. The parent is
			// still resolved above so a cycle through a partial edge is
			// caught like any other.
			set.AddAll(edge.InheritedPermissions)
		} else {
			// full and additive union everything; the distinction is an
			// audit/reporting label, not a runtime behavior
			set.Union(parentSet)
		}
	}

	memo[roleID] = set
	return set, nil
}
