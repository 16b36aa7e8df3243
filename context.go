package hrauth

import (
	"context"
	"strings"

	"github.com/MrEthical07/hrauth/identity"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses it
// for per-IP login throttling, audit events and session device metadata.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, strings.TrimSpace(ip))
}

// WithUserAgent attaches the HTTP User-Agent to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithTenant scopes login and provider email lookups made with ctx to one
// tenant. Without it an email shared by several tenants resolves to the
// oldest identity.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return identity.WithTenantScope(ctx, tenantID)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

// deviceMeta fills empty fields of meta from ctx.
func deviceMeta(ctx context.Context, meta DeviceMeta) DeviceMeta {
	if meta.IP == "" {
		meta.IP = clientIPFromContext(ctx)
	}
	if meta.UserAgent == "" {
		meta.UserAgent = userAgentFromContext(ctx)
	}
	return meta
}
