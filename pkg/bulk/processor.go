package bulk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mkrall/warden/pkg/audit"
	"github.com/mkrall/warden/pkg/observability"
	"github.com/mkrall/warden/pkg/rbac"
)

// Options tunes the processor
type Options struct {
	// Workers is the number of operations processed concurrently
	Workers int
	// QueueSize bounds how many accepted operations may wait for a worker
	QueueSize int
	// ItemConcurrency bounds concurrent items within one operation. Items of
	// the same tenant serialize on the tenant lock anyway, so this mostly
	// helps multi-tenant batches; 1 disables it.
	ItemConcurrency int
	// MaxItems caps the cartesian product size of a single operation
	MaxItems int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.ItemConcurrency <= 0 {
		o.ItemConcurrency = 1
	}
	if o.MaxItems <= 0 {
		o.MaxItems = 10000
	}
	return o
}

// Processor runs bulk role operations asynchronously on a bounded worker
// pool. Submit returns as soon as the operation is accepted; progress and the
// final outcome are persisted through the Store.
type Processor struct {
	svc     RoleService
	store   Store
	auditor *audit.Logger
	logger  *observability.Logger
	metrics *observability.Metrics
	opts    Options

	queue chan *Operation
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	closing bool
}

// NewProcessor creates a processor and starts its workers
func NewProcessor(svc RoleService, store Store, auditor *audit.Logger,
	logger *observability.Logger, metrics *observability.Metrics, opts Options) *Processor {

	opts = opts.withDefaults()
	p := &Processor{
		svc:     svc,
		store:   store,
		auditor: auditor,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
		queue:   make(chan *Operation, opts.QueueSize),
		done:    make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Request carries the inputs of Submit
type Request struct {
	TenantID  string
	Type      OperationType
	UserIDs   []string
	RoleIDs   []string
	Reason    string
	ExpiresAt *time.Time
}

// Submit validates and enqueues a bulk operation, returning it in pending
// state. The work itself happens on the processor's workers.
func (p *Processor) Submit(ctx context.Context, req Request, submittedBy string) (*Operation, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("bulk: invalid operation type %q", req.Type)
	}
	if len(req.UserIDs) == 0 || len(req.RoleIDs) == 0 {
		return nil, fmt.Errorf("bulk: user and role lists must be non-empty")
	}
	total := len(req.UserIDs) * len(req.RoleIDs)
	if total > p.opts.MaxItems {
		return nil, fmt.Errorf("bulk: %d items exceeds the limit of %d", total, p.opts.MaxItems)
	}

	p.mu.Lock()
	closing := p.closing
	p.mu.Unlock()
	if closing {
		return nil, ErrShuttingDown
	}

	op := &Operation{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		Type:        req.Type,
		Status:      StatusPending,
		UserIDs:     append([]string(nil), req.UserIDs...),
		RoleIDs:     append([]string(nil), req.RoleIDs...),
		TotalItems:  total,
		Reason:      req.Reason,
		ExpiresAt:   req.ExpiresAt,
		SubmittedBy: submittedBy,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.store.CreateBulkOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to persist bulk operation: %w", err)
	}

	select {
	case p.queue <- op:
	default:
		// The row stays pending; an operator can resubmit once the queue drains
		return nil, ErrQueueFull
	}

	if p.metrics != nil {
		p.metrics.BulkOperationsTotal.WithLabelValues(string(req.Type), "submitted").Inc()
		p.metrics.BulkQueueDepth.Set(float64(len(p.queue)))
	}
	p.auditor.Record(ctx, audit.Entry{
		TenantID:   req.TenantID,
		Action:     audit.ActionBulkSubmitted,
		EntityType: audit.EntityBulkOp,
		EntityID:   op.ID,
		NewValue: audit.Value(map[string]interface{}{
			"operation_type": req.Type,
			"user_count":     len(req.UserIDs),
			"role_count":     len(req.RoleIDs),
			"total_items":    total,
		}),
		ChangedBy: &submittedBy,
	})

	return op, nil
}

// GetStatus returns the operation's current persisted state
func (p *Processor) GetStatus(ctx context.Context, tenantID, operationID string) (*Operation, error) {
	return p.store.GetBulkOperation(ctx, tenantID, operationID)
}

// Close stops accepting work, drains the queue and waits for in-flight
// operations to finish or the context to expire.
func (p *Processor) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	p.mu.Unlock()

	close(p.queue)

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		close(p.done)
		return nil
	case <-ctx.Done():
		close(p.done)
		return ctx.Err()
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for op := range p.queue {
		if p.metrics != nil {
			p.metrics.BulkQueueDepth.Set(float64(len(p.queue)))
		}
		p.run(context.Background(), op)
	}
}

// run executes one operation. Item failures are isolated: every pair is
// attempted, and the operation always terminates completed with per-item
// outcomes in its counters and error list.
func (p *Processor) run(ctx context.Context, op *Operation) {
	start := time.Now()
	now := start.UTC()
	op.Status = StatusProcessing
	op.StartedAt = &now
	if err := p.store.SaveBulkOperation(ctx, op); err != nil {
		p.logger.WithError(err).Error("failed to mark bulk operation processing")
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.ItemConcurrency)

	for _, userID := range op.UserIDs {
		for _, roleID := range op.RoleIDs {
			userID, roleID := userID, roleID
			g.Go(func() error {
				err := p.processItem(gctx, op, userID, roleID)

				mu.Lock()
				if err == nil {
					op.ProcessedItems++
				} else {
					op.FailedItems++
					op.Errors = append(op.Errors, ItemError{
						UserID:  userID,
						RoleID:  roleID,
						Message: err.Error(),
					})
				}
				op.Progress = progressPct(op.ProcessedItems+op.FailedItems, op.TotalItems)
				// Persist after every item so progress survives a crash and
				// never moves backwards
				if serr := p.store.SaveBulkOperation(gctx, op); serr != nil {
					p.logger.WithError(serr).Error("failed to persist bulk progress")
				}
				mu.Unlock()

				if p.metrics != nil {
					status := "ok"
					if err != nil {
						status = "error"
					}
					p.metrics.BulkItemsTotal.WithLabelValues(string(op.Type), status).Inc()
				}
				// Item errors are captured, never propagated; one bad pair
				// must not abort the rest
				return nil
			})
		}
	}
	_ = g.Wait()

	done := time.Now().UTC()
	op.CompletedAt = &done
	// Item failures never fail the job; completed with a failed count is the
	// terminal state even when every item failed
	op.Status = StatusCompleted
	op.Result = &Result{
		ProcessedItems: op.ProcessedItems,
		FailedItems:    op.FailedItems,
		Errors:         op.Errors,
	}
	if err := p.store.SaveBulkOperation(ctx, op); err != nil {
		p.logger.WithError(err).Error("failed to persist bulk completion")
	}

	if p.metrics != nil {
		p.metrics.BulkOperationsTotal.WithLabelValues(string(op.Type), string(op.Status)).Inc()
		p.metrics.BulkJobDuration.Observe(time.Since(start).Seconds())
	}
	p.auditor.Record(ctx, audit.Entry{
		TenantID:   op.TenantID,
		Action:     audit.ActionBulkCompleted,
		EntityType: audit.EntityBulkOp,
		EntityID:   op.ID,
		NewValue: audit.Value(map[string]interface{}{
			"status":          op.Status,
			"processed_items": op.ProcessedItems,
			"failed_items":    op.FailedItems,
		}),
		ChangedBy: &op.SubmittedBy,
	})
	p.logger.WithFields(map[string]interface{}{
		"operation_id": op.ID,
		"tenant_id":    op.TenantID,
		"status":       op.Status,
		"failed_items": op.FailedItems,
	}).Info("bulk operation finished")
}

func (p *Processor) processItem(ctx context.Context, op *Operation, userID, roleID string) error {
	switch op.Type {
	case OpAssignRoles:
		opts := rbacOptions(op)
		_, err := p.svc.AssignRole(ctx, op.TenantID, userID, roleID, op.SubmittedBy, opts)
		return err
	case OpRevokeRoles:
		return p.svc.RevokeRole(ctx, op.TenantID, userID, roleID, op.SubmittedBy, op.Reason)
	default:
		return fmt.Errorf("bulk: unknown operation type %q", op.Type)
	}
}

// progressPct rounds done/total to a whole percentage
func progressPct(done, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

// rbacOptions maps an operation's grant parameters onto assignment options
func rbacOptions(op *Operation) rbac.AssignmentOptions {
	opts := rbac.AssignmentOptions{Reason: op.Reason, ExpiresAt: op.ExpiresAt}
	if op.ExpiresAt != nil {
		opts.AssignmentType = rbac.AssignmentTemporary
	}
	return opts
}
