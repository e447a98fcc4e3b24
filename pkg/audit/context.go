package audit

import "context"

type contextKey string

const (
	ipKey        contextKey = "audit_ip"
	userAgentKey contextKey = "audit_user_agent"
)

// WithRequestInfo attaches the caller's IP address and user agent to the
// context so entries recorded downstream carry them. HTTP middleware is
// expected to call this once per request.
func WithRequestInfo(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ipKey, ip)
	return context.WithValue(ctx, userAgentKey, userAgent)
}

// RequestInfoFromContext returns the IP and user agent previously attached
// with WithRequestInfo, or empty strings
func RequestInfoFromContext(ctx context.Context) (ip, userAgent string) {
	return ipFromContext(ctx), userAgentFromContext(ctx)
}

func ipFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(ipKey).(string); ok {
		return ip
	}
	return ""
}

func userAgentFromContext(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey).(string); ok {
		return ua
	}
	return ""
}
