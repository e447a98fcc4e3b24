package rbac

import (
	"time"

	"github.com/mkrall/warden/pkg/observability"
)

// EventType identifies an outbound RBAC event
type EventType string

const (
	EventRoleAssigned     EventType = "role_assigned"
	EventRoleRevoked      EventType = "role_revoked"
	EventRoleExpired      EventType = "role_expired"
	EventRoleCreated      EventType = "role_created"
	EventHierarchyChanged EventType = "hierarchy_changed"
	EventAuditFailing     EventType = "audit_failing"
)

// Event is published on every permission-relevant state change for external
// consumers (notification/compliance layers). The engine never blocks on
// slow consumers: a full buffer drops the event and counts the drop.
type Event struct {
	Type     EventType              `json:"type"`
	TenantID string                 `json:"tenant_id"`
	UserID   string                 `json:"user_id,omitempty"`
	RoleID   string                 `json:"role_id,omitempty"`
	Actor    string                 `json:"actor,omitempty"` // empty for system actions
	Time     time.Time              `json:"time"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// EventPublisher fans RBAC events out to a single consumer channel. It
// replaces the in-process event-emitter pattern with an explicit handoff the
// surrounding platform can wire to whatever transport it uses.
type EventPublisher struct {
	ch      chan Event
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewEventPublisher creates a publisher with the given buffer size
func NewEventPublisher(bufferSize int, logger *observability.Logger, metrics *observability.Metrics) *EventPublisher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventPublisher{
		ch:      make(chan Event, bufferSize),
		metrics: metrics,
		logger:  logger,
	}
}

// Publish enqueues an event without blocking
func (p *EventPublisher) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	select {
	case p.ch <- event:
		if p.metrics != nil {
			p.metrics.EventsPublishedTotal.WithLabelValues(string(event.Type)).Inc()
		}
	default:
		if p.metrics != nil {
			p.metrics.EventsDroppedTotal.Inc()
		}
		p.logger.WithFields(map[string]interface{}{
			"event_type": event.Type,
			"tenant_id":  event.TenantID,
		}).Warn("event buffer full, event dropped")
	}
}

// Events returns the consumer side of the publisher
func (p *EventPublisher) Events() <-chan Event {
	return p.ch
}

// Close closes the channel; Publish must not be called afterwards
func (p *EventPublisher) Close() {
	close(p.ch)
}
