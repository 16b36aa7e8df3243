package identity

import (
	"context"
	"strings"
)

type tenantScopeKey struct{}

// WithTenantScope restricts email and login lookups made with ctx to one
// tenant. An empty tenantID leaves lookups unscoped.
func WithTenantScope(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantScopeKey{}, strings.TrimSpace(tenantID))
}

// TenantScope returns the tenant set by WithTenantScope, or "".
func TenantScope(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(tenantScopeKey{}).(string)
	return id
}
