package rbac

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mkrall/warden/pkg/audit"
	"github.com/mkrall/warden/pkg/observability"
)

// memStore is an in-memory implementation of every persistence contract,
// shared by the package tests.
type memStore struct {
	mu          sync.Mutex
	roles       map[string]*Role
	edges       map[string]*HierarchyEdge
	assignments map[string]*RoleAssignment
	templates   map[string]*RoleTemplate
	groups      map[string]*PermissionGroup
	users       map[string]bool // tenantID/userID -> exists
	auditLog    []audit.Entry

	// failAudit makes AppendAuditEntry fail while set, for failure-path tests
	failAudit bool
	// insertEdgeErr forces InsertEdge to fail
	insertEdgeErr error
}

func newMemStore() *memStore {
	return &memStore{
		roles:       make(map[string]*Role),
		edges:       make(map[string]*HierarchyEdge),
		assignments: make(map[string]*RoleAssignment),
		templates:   make(map[string]*RoleTemplate),
		groups:      make(map[string]*PermissionGroup),
		users:       make(map[string]bool),
	}
}

func (s *memStore) GetRole(ctx context.Context, tenantID, roleID string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok || role.TenantID != tenantID || !role.IsActive {
		return nil, &RoleNotFoundError{TenantID: tenantID, RoleID: roleID}
	}
	cp := *role
	return &cp, nil
}

func (s *memStore) ListRolesByTenant(ctx context.Context, tenantID string) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Role
	for _, role := range s.roles {
		if role.TenantID == tenantID {
			out = append(out, *role)
		}
	}
	return out, nil
}

func (s *memStore) CreateRole(ctx context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *role
	s.roles[role.ID] = &cp
	return nil
}

func (s *memStore) UpdateRolePermissions(ctx context.Context, tenantID, roleID string, permissions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return &RoleNotFoundError{TenantID: tenantID, RoleID: roleID}
	}
	role.Permissions = append([]string(nil), permissions...)
	role.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) SaveEffectivePermissions(ctx context.Context, tenantID, roleID string, effective []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return &RoleNotFoundError{TenantID: tenantID, RoleID: roleID}
	}
	role.EffectivePermissions = append([]string(nil), effective...)
	return nil
}

func (s *memStore) DeactivateRole(ctx context.Context, tenantID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return &RoleNotFoundError{TenantID: tenantID, RoleID: roleID}
	}
	role.IsActive = false
	return nil
}

func (s *memStore) ListActiveEdges(ctx context.Context, tenantID string) ([]HierarchyEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HierarchyEdge
	for _, edge := range s.edges {
		if edge.TenantID == tenantID && edge.IsActive {
			out = append(out, *edge)
		}
	}
	return out, nil
}

func (s *memStore) InsertEdge(ctx context.Context, edge *HierarchyEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertEdgeErr != nil {
		return s.insertEdgeErr
	}
	cp := *edge
	s.edges[edge.ID] = &cp
	return nil
}

func (s *memStore) DeactivateEdge(ctx context.Context, tenantID, edgeID string) (*HierarchyEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	edge, ok := s.edges[edgeID]
	if !ok || edge.TenantID != tenantID || !edge.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrEdgeNotFound, edgeID)
	}
	edge.IsActive = false
	cp := *edge
	return &cp, nil
}

func (s *memStore) GetActiveAssignment(ctx context.Context, tenantID, userID, roleID string) (*RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.TenantID == tenantID && a.UserID == userID && a.RoleID == roleID && a.IsActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListActiveAssignmentsForUser(ctx context.Context, tenantID, userID string) ([]RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RoleAssignment
	for _, a := range s.assignments {
		if a.TenantID == tenantID && a.UserID == userID && a.IsActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *memStore) InsertAssignment(ctx context.Context, assignment *RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *assignment
	s.assignments[assignment.ID] = &cp
	return nil
}

func (s *memStore) DeactivateAssignment(ctx context.Context, assignmentID string, at time.Time, by *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[assignmentID]
	if !ok || !a.IsActive {
		return false, nil
	}
	a.IsActive = false
	a.DeactivatedAt = &at
	a.DeactivatedBy = by
	return true, nil
}

func (s *memStore) ListExpiredActiveAssignments(ctx context.Context, now time.Time) ([]RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RoleAssignment
	for _, a := range s.assignments {
		if a.IsActive && a.Expired(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *memStore) UserExists(ctx context.Context, tenantID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[tenantID+"/"+userID], nil
}

func (s *memStore) CreateRoleTemplate(ctx context.Context, tpl *RoleTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tpl
	s.templates[tpl.ID] = &cp
	return nil
}

func (s *memStore) GetRoleTemplate(ctx context.Context, templateID string) (*RoleTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}
	cp := *tpl
	return &cp, nil
}

func (s *memStore) IncrementTemplateUsage(ctx context.Context, templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[templateID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}
	tpl.UsageCount++
	return nil
}

func (s *memStore) CreatePermissionGroup(ctx context.Context, group *PermissionGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *group
	s.groups[group.ID] = &cp
	return nil
}

func (s *memStore) ListPermissionGroups(ctx context.Context, tenantID string) ([]PermissionGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PermissionGroup
	for _, g := range s.groups {
		if g.TenantID == tenantID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (s *memStore) AppendAuditEntry(ctx context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAudit {
		return fmt.Errorf("audit store unavailable")
	}
	s.auditLog = append(s.auditLog, *entry)
	return nil
}

func (s *memStore) QueryAuditEntries(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.auditLog {
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.RoleID != "" && e.RoleID != filter.RoleID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *memStore) auditEntries(action audit.Action) []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.auditLog {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) edgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.edges {
		if e.IsActive {
			n++
		}
	}
	return n
}

// testEngine bundles an engine built over a memStore with its collaborators
type testEngine struct {
	*Engine
	store   *memStore
	auditor *audit.Logger
}

func newTestEngine(t testingT) *testEngine {
	store := newMemStore()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	auditor := audit.NewLogger(store, logger, nil, audit.Options{BufferSize: 128})
	t.Cleanup(func() { _ = auditor.Close(context.Background()) })

	engine, err := NewEngine(Stores{
		Roles:       store,
		Hierarchy:   store,
		Assignments: store,
		Templates:   store,
		Groups:      store,
	}, auditor, logger, nil, Config{MaxCachedTenants: 16, EventBufferSize: 64})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &testEngine{Engine: engine, store: store, auditor: auditor}
}

// testingT is the subset of *testing.T the helpers need
type testingT interface {
	Cleanup(func())
	Fatalf(format string, args ...interface{})
}

// seedRole inserts an active role directly into the store
func (te *testEngine) seedRole(id, tenantID, name string, permissions ...string) *Role {
	role := &Role{
		ID:          id,
		TenantID:    tenantID,
		Name:        name,
		Permissions: permissions,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	_ = te.store.CreateRole(context.Background(), role)
	te.Graph.InvalidateTenant(tenantID)
	return role
}
