package bulk

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrall/warden/pkg/audit"
	"github.com/mkrall/warden/pkg/observability"
	"github.com/mkrall/warden/pkg/rbac"
)

// memBulkStore is an in-memory Store for the package tests
type memBulkStore struct {
	mu  sync.Mutex
	ops map[string]Operation
}

func newMemBulkStore() *memBulkStore {
	return &memBulkStore{ops: make(map[string]Operation)}
}

func (s *memBulkStore) CreateBulkOperation(ctx context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = *op
	return nil
}

func (s *memBulkStore) SaveBulkOperation(ctx context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = *op
	return nil
}

func (s *memBulkStore) GetBulkOperation(ctx context.Context, tenantID, operationID string) (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[operationID]
	if !ok || op.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, operationID)
	}
	cp := op
	return &cp, nil
}

// fakeRoleService records calls and fails the pairs listed in failing
type fakeRoleService struct {
	mu      sync.Mutex
	failing map[string]error // "user/role" -> error
	assigns []string
	revokes []string
}

func newFakeRoleService() *fakeRoleService {
	return &fakeRoleService{failing: make(map[string]error)}
}

func (f *fakeRoleService) failPair(userID, roleID string, err error) {
	f.failing[userID+"/"+roleID] = err
}

func (f *fakeRoleService) AssignRole(ctx context.Context, tenantID, userID, roleID, assignedBy string,
	opts rbac.AssignmentOptions) (*rbac.RoleAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing[userID+"/"+roleID]; err != nil {
		return nil, err
	}
	f.assigns = append(f.assigns, userID+"/"+roleID)
	return &rbac.RoleAssignment{TenantID: tenantID, UserID: userID, RoleID: roleID, IsActive: true}, nil
}

func (f *fakeRoleService) RevokeRole(ctx context.Context, tenantID, userID, roleID, revokedBy, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing[userID+"/"+roleID]; err != nil {
		return err
	}
	f.revokes = append(f.revokes, userID+"/"+roleID)
	return nil
}

func newTestProcessor(t *testing.T, svc RoleService) (*Processor, *memBulkStore, *memAuditStore) {
	store := newMemBulkStore()
	auditStore := &memAuditStore{}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	auditor := audit.NewLogger(auditStore, logger, nil, audit.Options{BufferSize: 64})
	p := NewProcessor(svc, store, auditor, logger, nil, Options{Workers: 2, QueueSize: 8})
	t.Cleanup(func() {
		_ = p.Close(context.Background())
		_ = auditor.Close(context.Background())
	})
	return p, store, auditStore
}

// memAuditStore collects audit entries
type memAuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *memAuditStore) AppendAuditEntry(ctx context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memAuditStore) QueryAuditEntries(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.entries...), nil
}

// waitDone polls until the operation reaches a terminal status
func waitDone(t *testing.T, store *memBulkStore, tenantID, opID string) *Operation {
	t.Helper()
	var out *Operation
	require.Eventually(t, func() bool {
		op, err := store.GetBulkOperation(context.Background(), tenantID, opID)
		if err != nil {
			return false
		}
		if op.Status != StatusCompleted && op.Status != StatusFailed {
			return false
		}
		out = op
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return out
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	svc := newFakeRoleService()
	p, _, _ := newTestProcessor(t, svc)

	_, err := p.Submit(ctx, Request{TenantID: "t1", Type: "rename_roles",
		UserIDs: []string{"u1"}, RoleIDs: []string{"r1"}}, "ops")
	assert.Error(t, err)

	_, err = p.Submit(ctx, Request{TenantID: "t1", Type: OpAssignRoles,
		UserIDs: nil, RoleIDs: []string{"r1"}}, "ops")
	assert.Error(t, err)

	_, err = p.Submit(ctx, Request{TenantID: "t1", Type: OpAssignRoles,
		UserIDs: []string{"u1"}, RoleIDs: nil}, "ops")
	assert.Error(t, err)
}

func TestBulkAssignPartialFailure(t *testing.T) {
	ctx := context.Background()
	svc := newFakeRoleService()
	// One pair already holds the role; its failure must not infect the rest
	svc.failPair("u2", "r1", &rbac.DuplicateAssignmentError{TenantID: "t1", UserID: "u2", RoleID: "r1"})
	p, store, _ := newTestProcessor(t, svc)

	op, err := p.Submit(ctx, Request{
		TenantID: "t1",
		Type:     OpAssignRoles,
		UserIDs:  []string{"u1", "u2", "u3", "u4", "u5"},
		RoleIDs:  []string{"r1", "r2", "r3"},
	}, "ops")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, op.Status)
	assert.Equal(t, 15, op.TotalItems)

	final := waitDone(t, store, "t1", op.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 14, final.ProcessedItems)
	assert.Equal(t, 1, final.FailedItems)
	assert.Equal(t, 100, final.Progress)
	require.Len(t, final.Errors, 1)
	assert.Equal(t, "u2", final.Errors[0].UserID)
	assert.Equal(t, "r1", final.Errors[0].RoleID)
	assert.Contains(t, final.Errors[0].Message, "already assigned")
	require.NotNil(t, final.CompletedAt)
	require.NotNil(t, final.Result)
	assert.Equal(t, 14, final.Result.ProcessedItems)
	assert.Equal(t, 1, final.Result.FailedItems)

	svc.mu.Lock()
	assert.Len(t, svc.assigns, 14)
	svc.mu.Unlock()
}

func TestBulkAllItemsFailing(t *testing.T) {
	ctx := context.Background()
	svc := newFakeRoleService()
	svc.failPair("u1", "r1", fmt.Errorf("store down"))
	svc.failPair("u2", "r1", fmt.Errorf("store down"))
	p, store, _ := newTestProcessor(t, svc)

	op, err := p.Submit(ctx, Request{
		TenantID: "t1", Type: OpAssignRoles,
		UserIDs: []string{"u1", "u2"}, RoleIDs: []string{"r1"},
	}, "ops")
	require.NoError(t, err)

	// Item failures are reported through the counters; even a fully failed
	// batch ran to the end, so it still terminates completed
	final := waitDone(t, store, "t1", op.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 0, final.ProcessedItems)
	assert.Equal(t, 2, final.FailedItems)
	assert.Equal(t, 100, final.Progress)
	require.Len(t, final.Errors, 2)
}

func TestProgressPct(t *testing.T) {
	cases := []struct {
		done, total, want int
	}{
		{0, 15, 0},
		{1, 15, 7},
		{7, 15, 47},
		{8, 15, 53},
		{15, 15, 100},
		{2, 3, 67},
		{0, 0, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, progressPct(tc.done, tc.total), "%d/%d", tc.done, tc.total)
	}
}

func TestBulkRevoke(t *testing.T) {
	ctx := context.Background()
	svc := newFakeRoleService()
	p, store, _ := newTestProcessor(t, svc)

	op, err := p.Submit(ctx, Request{
		TenantID: "t1", Type: OpRevokeRoles, Reason: "reorg",
		UserIDs: []string{"u1", "u2"}, RoleIDs: []string{"r1"},
	}, "ops")
	require.NoError(t, err)

	final := waitDone(t, store, "t1", op.ID)
	assert.Equal(t, StatusCompleted, final.Status)

	svc.mu.Lock()
	assert.ElementsMatch(t, []string{"u1/r1", "u2/r1"}, svc.revokes)
	assert.Empty(t, svc.assigns)
	svc.mu.Unlock()
}

func TestBulkAuditEntries(t *testing.T) {
	ctx := context.Background()
	svc := newFakeRoleService()
	p, store, auditStore := newTestProcessor(t, svc)

	op, err := p.Submit(ctx, Request{
		TenantID: "t1", Type: OpAssignRoles,
		UserIDs: []string{"u1"}, RoleIDs: []string{"r1"},
	}, "ops")
	require.NoError(t, err)
	waitDone(t, store, "t1", op.ID)

	require.Eventually(t, func() bool {
		auditStore.mu.Lock()
		defer auditStore.mu.Unlock()
		submitted, completed := 0, 0
		for _, e := range auditStore.entries {
			switch e.Action {
			case audit.ActionBulkSubmitted:
				submitted++
			case audit.ActionBulkCompleted:
				completed++
			}
		}
		return submitted == 1 && completed == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGetStatusUnknownOperation(t *testing.T) {
	svc := newFakeRoleService()
	p, _, _ := newTestProcessor(t, svc)

	_, err := p.GetStatus(context.Background(), "t1", "nope")
	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestCloseRejectsNewWork(t *testing.T) {
	svc := newFakeRoleService()
	store := newMemBulkStore()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	auditor := audit.NewLogger(&memAuditStore{}, logger, nil, audit.Options{BufferSize: 64})
	defer auditor.Close(context.Background())

	p := NewProcessor(svc, store, auditor, logger, nil, Options{Workers: 1, QueueSize: 4})
	require.NoError(t, p.Close(context.Background()))

	_, err := p.Submit(context.Background(), Request{
		TenantID: "t1", Type: OpAssignRoles,
		UserIDs: []string{"u1"}, RoleIDs: []string{"r1"},
	}, "ops")
	assert.ErrorIs(t, err, ErrShuttingDown)
}
