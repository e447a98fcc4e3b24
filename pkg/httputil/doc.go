// Package httputil provides HTTP middleware for the Warden probe/metrics
// server: panic recovery, request IDs, request logging, and stamping of
// caller IP and user agent into the context for audit entries.
//
//	handler := httputil.Chain(
//		httputil.Recovery(logger),
//		httputil.RequestID,
//		httputil.RequestInfo,
//		httputil.RequestLogging(logger),
//	)(router)
package httputil
