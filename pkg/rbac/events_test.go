package rbac

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrall/warden/pkg/observability"
)

func TestEventPublisher(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	t.Run("delivers events in order", func(t *testing.T) {
		p := NewEventPublisher(8, logger, nil)
		p.Publish(Event{Type: EventRoleAssigned, TenantID: "t1"})
		p.Publish(Event{Type: EventRoleRevoked, TenantID: "t1"})
		p.Close()

		var types []EventType
		for ev := range p.Events() {
			types = append(types, ev.Type)
			assert.False(t, ev.Time.IsZero())
		}
		require.Equal(t, []EventType{EventRoleAssigned, EventRoleRevoked}, types)
	})

	t.Run("never blocks on a full buffer", func(t *testing.T) {
		p := NewEventPublisher(2, logger, nil)
		for i := 0; i < 10; i++ {
			p.Publish(Event{Type: EventRoleAssigned, TenantID: "t1"})
		}
		p.Close()

		n := 0
		for range p.Events() {
			n++
		}
		// Overflow is dropped, not queued
		assert.Equal(t, 2, n)
	})
}
