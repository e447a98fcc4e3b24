package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrall/warden/pkg/observability"
)

// fakeStore is an in-memory Store whose writes can be made to fail or block
type fakeStore struct {
	mu      sync.Mutex
	entries []Entry
	failErr error
	gate    chan struct{} // when set, writes block until the gate closes
}

func (s *fakeStore) AppendAuditEntry(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	gate := s.gate
	failErr := s.failErr
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if failErr != nil {
		return failErr
	}

	s.mu.Lock()
	s.entries = append(s.entries, *entry)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) QueryAuditEntries(ctx context.Context, filter Filter) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeStore) setFailing(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *fakeStore) entry(i int) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[i]
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestRecordPersistsAsynchronously(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	l := NewLogger(store, testLogger(), nil, Options{BufferSize: 16})
	defer l.Close(ctx)

	actor := "alice"
	l.Record(ctx, Entry{
		TenantID:   "t1",
		Action:     ActionRoleAssigned,
		EntityType: EntityUser,
		EntityID:   "u1",
		ChangedBy:  &actor,
	})
	require.NoError(t, l.Flush(ctx))

	require.Equal(t, 1, store.count())
	got := store.entry(0)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, "t1", got.TenantID)
}

func TestRecordFillsRequestInfoFromContext(t *testing.T) {
	store := &fakeStore{}
	l := NewLogger(store, testLogger(), nil, Options{BufferSize: 16})
	defer l.Close(context.Background())

	ctx := WithRequestInfo(context.Background(), "10.0.0.7", "warden-admin/2.1")
	l.Record(ctx, Entry{TenantID: "t1", Action: ActionRoleCreated, EntityType: EntityRole, EntityID: "r1"})
	require.NoError(t, l.Flush(context.Background()))

	got := store.entry(0)
	assert.Equal(t, "10.0.0.7", got.IPAddress)
	assert.Equal(t, "warden-admin/2.1", got.UserAgent)
}

func TestRecordNeverBlocksTheCaller(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{gate: make(chan struct{})}
	l := NewLogger(store, testLogger(), nil, Options{BufferSize: 2})

	// The writer is stuck on the gated store; these must all return promptly
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			l.Record(ctx, Entry{TenantID: "t1", Action: ActionRoleAssigned, EntityType: EntityUser, EntityID: "u1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a wedged audit store")
	}

	assert.Greater(t, l.Dropped(), int64(0))

	close(store.gate)
	require.NoError(t, l.Close(ctx))
}

func TestSystemicFailureAlert(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	store.setFailing(errors.New("disk full"))

	var mu sync.Mutex
	alerts := 0
	var alertedFails int
	l := NewLogger(store, testLogger(), nil, Options{
		BufferSize:       16,
		MaxRetries:       1,
		RetryBackoff:     time.Millisecond,
		FailureThreshold: 3,
		OnSystemicFailure: func(fails int, lastErr error) {
			mu.Lock()
			alerts++
			alertedFails = fails
			mu.Unlock()
		},
	})
	defer l.Close(ctx)

	for i := 0; i < 5; i++ {
		l.Record(ctx, Entry{TenantID: "t1", Action: ActionRoleAssigned, EntityType: EntityUser, EntityID: "u1"})
	}
	require.NoError(t, l.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	// The alert fires once when the streak crosses the threshold, not on
	// every subsequent failure
	assert.Equal(t, 1, alerts)
	assert.Equal(t, 3, alertedFails)
}

func TestRecoveryResetsTheFailureStreak(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	store.setFailing(errors.New("connection refused"))

	var mu sync.Mutex
	alerts := 0
	l := NewLogger(store, testLogger(), nil, Options{
		BufferSize:       16,
		MaxRetries:       1,
		RetryBackoff:     time.Millisecond,
		FailureThreshold: 2,
		OnSystemicFailure: func(int, error) {
			mu.Lock()
			alerts++
			mu.Unlock()
		},
	})
	defer l.Close(ctx)

	for i := 0; i < 2; i++ {
		l.Record(ctx, Entry{TenantID: "t1", Action: ActionRoleAssigned, EntityType: EntityUser, EntityID: "u1"})
	}
	require.NoError(t, l.Flush(ctx))

	store.setFailing(nil)
	l.Record(ctx, Entry{TenantID: "t1", Action: ActionRoleAssigned, EntityType: EntityUser, EntityID: "u2"})
	require.NoError(t, l.Flush(ctx))

	store.setFailing(errors.New("connection refused"))
	for i := 0; i < 2; i++ {
		l.Record(ctx, Entry{TenantID: "t1", Action: ActionRoleAssigned, EntityType: EntityUser, EntityID: "u3"})
	}
	require.NoError(t, l.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	// Two separate streaks, two alerts
	assert.Equal(t, 2, alerts)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	l := NewLogger(store, testLogger(), nil, Options{BufferSize: 16})
	defer l.Close(ctx)

	actor := "alice"
	for i := 0; i < 3; i++ {
		l.Record(ctx, Entry{
			TenantID:   "t1",
			UserID:     fmt.Sprintf("u%d", i),
			Action:     ActionRoleAssigned,
			EntityType: EntityUser,
			EntityID:   fmt.Sprintf("u%d", i),
			ChangedBy:  &actor,
		})
	}
	require.NoError(t, l.Flush(ctx))

	t.Run("json", func(t *testing.T) {
		data, err := l.Export(ctx, Filter{TenantID: "t1"}, FormatJSON)
		require.NoError(t, err)

		var entries []Entry
		require.NoError(t, json.Unmarshal(data, &entries))
		assert.Len(t, entries, 3)
	})

	t.Run("csv", func(t *testing.T) {
		data, err := l.Export(ctx, Filter{TenantID: "t1"}, FormatCSV)
		require.NoError(t, err)

		records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 4) // header + 3 rows
		assert.Equal(t, "ID", records[0][0])
		assert.Equal(t, "role_assigned", records[1][3])
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := l.Export(ctx, Filter{}, ExportFormat("xml"))
		assert.Error(t, err)
	})
}
