// Package bulk processes large role assignment and revocation jobs
// asynchronously.
//
// # Overview
//
// A bulk operation is the cross product of a user list and a role list,
// executed item by item on a worker pool. Submit validates, persists the
// operation in pending state and enqueues it; callers poll GetStatus while
// the workers grind through the items.
//
//	processor := bulk.NewProcessor(engine, store, auditor, logger, metrics, bulk.Options{
//		Workers:   4,
//		QueueSize: 64,
//	})
//	defer processor.Close(ctx)
//
//	op, err := processor.Submit(ctx, bulk.Request{
//		TenantID: tenantID,
//		Type:     bulk.OpAssignRoles,
//		UserIDs:  userIDs,
//		RoleIDs:  roleIDs,
//		Reason:   "Q3 reorg",
//	}, "alice")
//
// # Partial Failure
//
// Item failures are isolated: one user already holding a role does not stop
// the rest of the job. Each failure is captured as an ItemError on the
// operation, the 0-100 Progress and the counters are persisted after every
// item, and the job always terminates StatusCompleted with a Result summary;
// failure is reported through FailedItems, never the status. StatusFailed is
// reserved for a job that could not run at all.
//
// A full queue rejects Submit with ErrQueueFull rather than blocking; the
// persisted row stays pending so the caller can resubmit.
//
// # Related Packages
//
//   - pkg/rbac: the RoleService the items are executed against
//   - pkg/storage/postgres: durable operation state
package bulk
