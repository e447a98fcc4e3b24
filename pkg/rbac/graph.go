package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mkrall/warden/pkg/audit"
	"github.com/mkrall/warden/pkg/observability"
)

// graphSnapshot is an immutable view of one tenant's role hierarchy. Mutations
// build a new snapshot and swap it in atomically, so readers always observe
// either the pre- or post-mutation graph, never a torn intermediate state.
type graphSnapshot struct {
	roles    map[string]*Role           // roleID -> active role
	incoming map[string][]HierarchyEdge // childRoleID -> active incoming edges
	outgoing map[string][]string        // parentRoleID -> child role IDs
}

// tenantState carries one tenant's snapshot and the mutex that serializes its
// mutations. Different tenants are fully independent.
type tenantState struct {
	mu   sync.Mutex
	snap atomic.Pointer[graphSnapshot]
}

// HierarchyGraph maintains the per-tenant DAG of role inheritance edges and
// guarantees acyclicity. The persistence stores remain the source of truth;
// the in-memory snapshots are a derived cache rebuilt from the store on demand
// and kept consistent incrementally under the per-tenant lock. An LRU bounds
// how many tenant graphs stay resident; an evicted tenant is simply rebuilt
// on next access.
type HierarchyGraph struct {
	roles   RoleStore
	edges   HierarchyStore
	auditor *audit.Logger
	events  *EventPublisher
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	tenants *lru.Cache[string, *tenantState]
}

// NewHierarchyGraph creates a hierarchy graph over the given stores.
// maxTenants bounds the number of tenant graphs cached in memory.
func NewHierarchyGraph(roles RoleStore, edges HierarchyStore, auditor *audit.Logger,
	events *EventPublisher, logger *observability.Logger, metrics *observability.Metrics,
	maxTenants int) (*HierarchyGraph, error) {

	if maxTenants <= 0 {
		maxTenants = 1024
	}
	cache, err := lru.New[string, *tenantState](maxTenants)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant cache: %w", err)
	}
	return &HierarchyGraph{
		roles:   roles,
		edges:   edges,
		auditor: auditor,
		events:  events,
		logger:  logger,
		metrics: metrics,
		tenants: cache,
	}, nil
}

// state returns the tenant's state, creating it if absent
func (g *HierarchyGraph) state(tenantID string) *tenantState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.tenants.Get(tenantID); ok {
		return st
	}
	st := &tenantState{}
	g.tenants.Add(tenantID, st)
	return st
}

// LockTenant serializes mutations for a tenant across the graph and the
// assignment manager. Returns the unlock function.
func (g *HierarchyGraph) LockTenant(tenantID string) func() {
	st := g.state(tenantID)
	st.mu.Lock()
	return st.mu.Unlock
}

// InvalidateTenant drops the tenant's cached snapshot so the next access
// rebuilds it from the store. Called after role-level mutations that the
// graph does not track incrementally.
func (g *HierarchyGraph) InvalidateTenant(tenantID string) {
	st := g.state(tenantID)
	st.mu.Lock()
	st.snap.Store(nil)
	st.mu.Unlock()
}

// invalidateLocked drops the cached snapshot. Caller must hold the tenant
// lock; InvalidateTenant would deadlock.
func (g *HierarchyGraph) invalidateLocked(tenantID string) {
	g.state(tenantID).snap.Store(nil)
}

// Snapshot returns the tenant's current graph, rebuilding from the store if
// the cache is cold. Safe for concurrent readers.
func (g *HierarchyGraph) Snapshot(ctx context.Context, tenantID string) (*graphSnapshot, error) {
	st := g.state(tenantID)
	if snap := st.snap.Load(); snap != nil {
		return snap, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	// Another caller may have rebuilt while we waited for the lock
	if snap := st.snap.Load(); snap != nil {
		return snap, nil
	}
	snap, err := g.rebuild(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	st.snap.Store(snap)
	return snap, nil
}

// rebuild loads the tenant's roles and active edges from the store
func (g *HierarchyGraph) rebuild(ctx context.Context, tenantID string) (*graphSnapshot, error) {
	roles, err := g.roles.ListRolesByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles for tenant %s: %w", tenantID, err)
	}
	edges, err := g.edges.ListActiveEdges(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges for tenant %s: %w", tenantID, err)
	}

	snap := &graphSnapshot{
		roles:    make(map[string]*Role, len(roles)),
		incoming: make(map[string][]HierarchyEdge),
		outgoing: make(map[string][]string),
	}
	for i := range roles {
		if !roles[i].IsActive {
			continue
		}
		role := roles[i]
		snap.roles[role.ID] = &role
	}
	for _, edge := range edges {
		if _, ok := snap.roles[edge.ParentRoleID]; !ok {
			continue
		}
		if _, ok := snap.roles[edge.ChildRoleID]; !ok {
			continue
		}
		snap.incoming[edge.ChildRoleID] = append(snap.incoming[edge.ChildRoleID], edge)
		snap.outgoing[edge.ParentRoleID] = append(snap.outgoing[edge.ParentRoleID], edge.ChildRoleID)
	}

	if g.metrics != nil {
		g.metrics.GraphRebuildsTotal.Inc()
		g.metrics.GraphRolesTotal.WithLabelValues(tenantID).Set(float64(len(snap.roles)))
	}
	return snap, nil
}

// AddEdge validates and commits a parent->child inheritance edge. The cycle
// check runs against the current snapshot before anything is written, so a
// rejected edge leaves no partial state behind.
func (g *HierarchyGraph) AddEdge(ctx context.Context, tenantID, parentRoleID, childRoleID string,
	inheritanceType InheritanceType, inheritedPermissions []string, createdBy string) (*HierarchyEdge, error) {

	if !inheritanceType.Valid() {
		return nil, fmt.Errorf("rbac: invalid inheritance type %q", inheritanceType)
	}

	unlock := g.LockTenant(tenantID)
	defer unlock()

	snap, err := g.snapshotLocked(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if _, ok := snap.roles[parentRoleID]; !ok {
		return nil, &RoleNotFoundError{TenantID: tenantID, RoleID: parentRoleID}
	}
	if _, ok := snap.roles[childRoleID]; !ok {
		return nil, &RoleNotFoundError{TenantID: tenantID, RoleID: childRoleID}
	}

	for _, existing := range snap.incoming[childRoleID] {
		if existing.ParentRoleID == parentRoleID {
			return nil, fmt.Errorf("%w: %s -> %s", ErrDuplicateEdge, parentRoleID, childRoleID)
		}
	}

	// The new edge closes a cycle iff the parent is already reachable from
	// the child (or parent == child)
	if parentRoleID == childRoleID || snap.reachable(childRoleID, parentRoleID) {
		if g.metrics != nil {
			g.metrics.CycleRejectionsTotal.Inc()
			g.metrics.HierarchyMutationsTotal.WithLabelValues("add_edge", "rejected").Inc()
		}
		return nil, &CircularDependencyError{
			TenantID:     tenantID,
			ParentRoleID: parentRoleID,
			ChildRoleID:  childRoleID,
		}
	}

	edge := &HierarchyEdge{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		ParentRoleID:    parentRoleID,
		ChildRoleID:     childRoleID,
		InheritanceType: inheritanceType,
		IsActive:        true,
		CreatedAt:       time.Now().UTC(),
		CreatedBy:       createdBy,
	}
	if inheritanceType == InheritancePartial {
		edge.InheritedPermissions = append([]string(nil), inheritedPermissions...)
	}

	if err := g.edges.InsertEdge(ctx, edge); err != nil {
		if g.metrics != nil {
			g.metrics.HierarchyMutationsTotal.WithLabelValues("add_edge", "error").Inc()
		}
		return nil, fmt.Errorf("failed to persist edge: %w", err)
	}

	next := snap.withEdge(*edge)
	g.state(tenantID).snap.Store(next)

	if err := g.rematerialize(ctx, tenantID, next, childRoleID); err != nil {
		g.logger.WithError(err).WithTenant(tenantID).Warn("inherited permission rematerialization incomplete")
	}

	if g.metrics != nil {
		g.metrics.HierarchyMutationsTotal.WithLabelValues("add_edge", "ok").Inc()
	}
	g.auditor.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		RoleID:     childRoleID,
		Action:     audit.ActionHierarchyCreated,
		EntityType: audit.EntityHierarchy,
		EntityID:   edge.ID,
		NewValue: audit.Value(map[string]interface{}{
			"parent_role_id":   parentRoleID,
			"child_role_id":    childRoleID,
			"inheritance_type": inheritanceType,
		}),
		ChangedBy: &createdBy,
	})
	g.events.Publish(Event{
		Type:     EventHierarchyChanged,
		TenantID: tenantID,
		RoleID:   childRoleID,
		Actor:    createdBy,
		Details:  map[string]interface{}{"edge_id": edge.ID, "operation": "added"},
	})

	return edge, nil
}

// RemoveEdge deactivates an edge and rematerializes the affected subtree.
// Removing an ancestor can shrink every descendant's inherited set, so the
// whole subtree under the former child is recomputed.
func (g *HierarchyGraph) RemoveEdge(ctx context.Context, tenantID, edgeID, removedBy string) error {
	unlock := g.LockTenant(tenantID)
	defer unlock()

	edge, err := g.edges.DeactivateEdge(ctx, tenantID, edgeID)
	if err != nil {
		if g.metrics != nil {
			g.metrics.HierarchyMutationsTotal.WithLabelValues("remove_edge", "error").Inc()
		}
		return err
	}

	snap, err := g.snapshotLocked(ctx, tenantID)
	if err != nil {
		return err
	}
	next := snap.withoutEdge(edgeID)
	g.state(tenantID).snap.Store(next)

	if err := g.rematerialize(ctx, tenantID, next, edge.ChildRoleID); err != nil {
		g.logger.WithError(err).WithTenant(tenantID).Warn("inherited permission rematerialization incomplete")
	}

	if g.metrics != nil {
		g.metrics.HierarchyMutationsTotal.WithLabelValues("remove_edge", "ok").Inc()
	}
	g.auditor.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		RoleID:     edge.ChildRoleID,
		Action:     audit.ActionHierarchyRemoved,
		EntityType: audit.EntityHierarchy,
		EntityID:   edge.ID,
		OldValue: audit.Value(map[string]interface{}{
			"parent_role_id":   edge.ParentRoleID,
			"child_role_id":    edge.ChildRoleID,
			"inheritance_type": edge.InheritanceType,
			"is_active":        true,
		}),
		NewValue:  audit.Value(map[string]interface{}{"is_active": false}),
		ChangedBy: &removedBy,
	})
	g.events.Publish(Event{
		Type:     EventHierarchyChanged,
		TenantID: tenantID,
		RoleID:   edge.ChildRoleID,
		Actor:    removedBy,
		Details:  map[string]interface{}{"edge_id": edge.ID, "operation": "removed"},
	})

	return nil
}

// Tree returns the tenant's hierarchy as a forest. Roles with no incoming
// active edge are roots. Intended for display and audit, not permission
// checks.
func (g *HierarchyGraph) Tree(ctx context.Context, tenantID string) ([]*RoleNode, error) {
	snap, err := g.Snapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var build func(roleID, edgeID string, it InheritanceType, seen map[string]bool) *RoleNode
	build = func(roleID, edgeID string, it InheritanceType, seen map[string]bool) *RoleNode {
		role := snap.roles[roleID]
		node := &RoleNode{Role: *role, EdgeID: edgeID, InheritanceType: it}
		seen[roleID] = true
		for _, childID := range snap.outgoing[roleID] {
			if seen[childID] {
				continue
			}
			var childEdge HierarchyEdge
			for _, e := range snap.incoming[childID] {
				if e.ParentRoleID == roleID {
					childEdge = e
					break
				}
			}
			node.Children = append(node.Children, build(childID, childEdge.ID, childEdge.InheritanceType, seen))
		}
		delete(seen, roleID)
		return node
	}

	rootIDs := make([]string, 0, len(snap.roles))
	for roleID := range snap.roles {
		if len(snap.incoming[roleID]) == 0 {
			rootIDs = append(rootIDs, roleID)
		}
	}
	sort.Strings(rootIDs)

	forest := make([]*RoleNode, 0, len(rootIDs))
	for _, rootID := range rootIDs {
		forest = append(forest, build(rootID, "", "", map[string]bool{}))
	}
	return forest, nil
}

// snapshotLocked returns the current snapshot, rebuilding if needed. Caller
// must hold the tenant lock.
func (g *HierarchyGraph) snapshotLocked(ctx context.Context, tenantID string) (*graphSnapshot, error) {
	st := g.state(tenantID)
	if snap := st.snap.Load(); snap != nil {
		return snap, nil
	}
	snap, err := g.rebuild(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	st.snap.Store(snap)
	return snap, nil
}

// rematerialize recomputes and persists the effective permission set of the
// given role and every descendant. Runs over the already-swapped snapshot.
func (g *HierarchyGraph) rematerialize(ctx context.Context, tenantID string, snap *graphSnapshot, rootID string) error {
	affected := []string{rootID}
	seen := map[string]bool{rootID: true}
	for i := 0; i < len(affected); i++ {
		for _, childID := range snap.outgoing[affected[i]] {
			if !seen[childID] {
				seen[childID] = true
				affected = append(affected, childID)
			}
		}
	}

	var firstErr error
	for _, roleID := range affected {
		set, err := resolveWithin(snap, roleID)
		if err == nil {
			err = g.roles.SaveEffectivePermissions(ctx, tenantID, roleID, set.Sorted())
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("role %s: %w", roleID, err)
		}
	}
	return firstErr
}

// reachable reports whether target can be reached from start following
// parent->child edges
func (s *graphSnapshot) reachable(start, target string) bool {
	stack := []string{start}
	visited := map[string]bool{start: true}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		for _, next := range s.outgoing[cur] {
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// withEdge returns a copy of the snapshot with the edge added
func (s *graphSnapshot) withEdge(edge HierarchyEdge) *graphSnapshot {
	next := s.clone()
	next.incoming[edge.ChildRoleID] = append(next.incoming[edge.ChildRoleID], edge)
	next.outgoing[edge.ParentRoleID] = append(next.outgoing[edge.ParentRoleID], edge.ChildRoleID)
	return next
}

// withoutEdge returns a copy of the snapshot with the edge removed
func (s *graphSnapshot) withoutEdge(edgeID string) *graphSnapshot {
	next := s.clone()
	for childID, edges := range next.incoming {
		for i, e := range edges {
			if e.ID != edgeID {
				continue
			}
			next.incoming[childID] = append(edges[:i:i], edges[i+1:]...)
			children := next.outgoing[e.ParentRoleID]
			for j, c := range children {
				if c == childID {
					next.outgoing[e.ParentRoleID] = append(children[:j:j], children[j+1:]...)
					break
				}
			}
			return next
		}
	}
	return next
}

func (s *graphSnapshot) clone() *graphSnapshot {
	next := &graphSnapshot{
		roles:    make(map[string]*Role, len(s.roles)),
		incoming: make(map[string][]HierarchyEdge, len(s.incoming)),
		outgoing: make(map[string][]string, len(s.outgoing)),
	}
	for id, role := range s.roles {
		next.roles[id] = role
	}
	for id, edges := range s.incoming {
		next.incoming[id] = append([]HierarchyEdge(nil), edges...)
	}
	for id, children := range s.outgoing {
		next.outgoing[id] = append([]string(nil), children...)
	}
	return next
}
