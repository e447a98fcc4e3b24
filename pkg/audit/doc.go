// Package audit provides a buffered, non-fatal audit trail for RBAC changes.
//
// # Overview
//
// Every permission change (role created, edge added, assignment granted,
// revoked, expired, bulk operation submitted) is recorded as an immutable
// Entry. Writes are asynchronous: Record enqueues and returns immediately so
// an audit outage can never fail or slow the operation being audited.
//
// # Recording
//
//	auditor := audit.NewLogger(store, logger, metrics, audit.Options{
//		BufferSize:       1024,
//		FailureThreshold: 10,
//		OnSystemicFailure: func(fails int, lastErr error) {
//			pager.Alert("audit store failing", lastErr)
//		},
//	})
//	defer auditor.Close(ctx)
//
//	auditor.Record(ctx, audit.Entry{
//		TenantID:   tenantID,
//		Action:     audit.ActionRoleAssigned,
//		EntityType: audit.EntityUser,
//		EntityID:   userID,
//		RoleID:     roleID,
//		ChangedBy:  &actor,
//	})
//
// Failed writes are retried with backoff and then dropped with an error log;
// a streak of consecutive failures past FailureThreshold fires the
// OnSystemicFailure hook once per streak. A full buffer drops the entry and
// increments the Dropped counter rather than blocking the caller.
//
// ChangedBy is nil for system-initiated entries such as expiry sweeps.
//
// # Querying and Export
//
//	entries, err := auditor.Query(ctx, audit.Filter{
//		TenantID: tenantID,
//		Action:   audit.ActionRoleRevoked,
//		Limit:    100,
//	})
//
//	csvBytes, err := auditor.Export(ctx, audit.Filter{TenantID: tenantID}, audit.FormatCSV)
//
// # Related Packages
//
//   - pkg/rbac: records every mutation through this package
//   - pkg/storage/postgres: the durable Store implementation
package audit
