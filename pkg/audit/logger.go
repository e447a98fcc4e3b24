package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkrall/warden/pkg/observability"
)

// Options configures the logger's buffering and failure-surfacing behavior
type Options struct {
	// BufferSize is the number of entries held in memory awaiting write
	BufferSize int
	// MaxRetries is how many times a failed write is retried before the entry
	// is dropped (and counted) rather than wedging the buffer
	MaxRetries int
	// RetryBackoff is the pause between write retries
	RetryBackoff time.Duration
	// FailureThreshold is the number of consecutive failed writes after which
	// OnSystemicFailure fires
	FailureThreshold int
	// OnSystemicFailure is invoked (once per failure streak) when the
	// threshold is crossed. Optional; the condition is always logged and
	// counted regardless.
	OnSystemicFailure func(consecutiveFailures int, lastErr error)
	// WriteTimeout bounds each store write
	WriteTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.BufferSize <= 0 {
		out.BufferSize = 1024
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 250 * time.Millisecond
	}
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 10
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 5 * time.Second
	}
	return out
}

// Logger appends audit entries through an in-memory buffer so that a
// transiently unavailable store never fails the mutation being audited.
// Writes are retried in the background; a persistent failure streak is
// surfaced to operators instead of being silently swallowed.
type Logger struct {
	store   Store
	log     *observability.Logger
	metrics *observability.Metrics
	opts    Options

	entries chan Entry
	done    chan struct{}
	wg      sync.WaitGroup

	mu           sync.Mutex
	consecFails  int
	alertedAt    int // failure count at which OnSystemicFailure last fired
	droppedTotal int64
	inFlight     int
}

// NewLogger creates a buffered audit logger and starts its writer goroutine
func NewLogger(store Store, log *observability.Logger, metrics *observability.Metrics, opts Options) *Logger {
	opts = opts.withDefaults()
	l := &Logger{
		store:   store,
		log:     log,
		metrics: metrics,
		opts:    opts,
		entries: make(chan Entry, opts.BufferSize),
		done:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writer()
	return l
}

// Record queues an entry for appending. It never returns an error: audit
// write failure is non-fatal to the mutation being audited. A full buffer
// drops the entry and counts the drop.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.IPAddress == "" {
		entry.IPAddress = ipFromContext(ctx)
	}
	if entry.UserAgent == "" {
		entry.UserAgent = userAgentFromContext(ctx)
	}

	select {
	case l.entries <- entry:
		if l.metrics != nil {
			l.metrics.AuditEntriesTotal.WithLabelValues(string(entry.Action)).Inc()
			l.metrics.AuditBufferDepth.Set(float64(len(l.entries)))
		}
	default:
		l.mu.Lock()
		l.droppedTotal++
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.AuditWriteFailures.Inc()
		}
		l.log.WithFields(map[string]interface{}{
			"tenant_id": entry.TenantID,
			"action":    entry.Action,
		}).Error("audit buffer full, entry dropped")
	}
}

// Query reads entries matching the filter straight from the store
func (l *Logger) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	return l.store.QueryAuditEntries(ctx, filter)
}

// Flush blocks until every buffered entry has been handed to the store or the
// context expires. Intended for tests and shutdown.
func (l *Logger) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		l.mu.Lock()
		idle := l.inFlight == 0
		l.mu.Unlock()
		if idle && len(l.entries) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close drains the buffer and stops the writer
func (l *Logger) Close(ctx context.Context) error {
	if err := l.Flush(ctx); err != nil {
		return err
	}
	close(l.done)
	l.wg.Wait()
	return nil
}

// writer drains the buffer, retrying failed writes with backoff
func (l *Logger) writer() {
	defer l.wg.Done()
	for {
		select {
		case entry := <-l.entries:
			l.mu.Lock()
			l.inFlight++
			l.mu.Unlock()
			l.write(entry)
			l.mu.Lock()
			l.inFlight--
			l.mu.Unlock()
			if l.metrics != nil {
				l.metrics.AuditBufferDepth.Set(float64(len(l.entries)))
			}
		case <-l.done:
			// Drain whatever is left before exiting
			for {
				select {
				case entry := <-l.entries:
					l.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(entry Entry) {
	var lastErr error
	for attempt := 0; attempt <= l.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(l.opts.RetryBackoff)
			if l.metrics != nil {
				l.metrics.AuditRetriesTotal.Inc()
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.opts.WriteTimeout)
		err := l.store.AppendAuditEntry(ctx, &entry)
		cancel()
		if err == nil {
			l.mu.Lock()
			l.consecFails = 0
			l.alertedAt = 0
			l.mu.Unlock()
			return
		}
		lastErr = err
	}

	if l.metrics != nil {
		l.metrics.AuditWriteFailures.Inc()
	}
	l.log.WithError(lastErr).WithFields(map[string]interface{}{
		"tenant_id": entry.TenantID,
		"action":    entry.Action,
		"entity_id": entry.EntityID,
	}).Error("audit entry write failed after retries, entry lost")

	l.mu.Lock()
	l.consecFails++
	fails := l.consecFails
	shouldAlert := fails >= l.opts.FailureThreshold && l.alertedAt == 0
	if shouldAlert {
		l.alertedAt = fails
	}
	l.mu.Unlock()

	if shouldAlert {
		l.log.Errorf("audit store failing persistently (%d consecutive write failures)", fails)
		if l.opts.OnSystemicFailure != nil {
			l.opts.OnSystemicFailure(fails, lastErr)
		}
	}
}

// Dropped returns the number of entries dropped due to a full buffer
func (l *Logger) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.droppedTotal
}
