package hrauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/hrauth/identity"
)

// LoginWithProvider signs in with a Google ID token or a Facebook access
// token. It never creates accounts: an unmatched assertion returns
// ErrIdentityNotFound, and an email owned by another sign-in method returns
// a *ProviderConflictError.
func (e *Engine) LoginWithProvider(ctx context.Context, p identity.Provider, providerToken string, meta DeviceMeta) (*AuthBundle, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.resolver == nil || !e.resolver.Supports(p) {
		return nil, ErrUnsupportedProvider
	}
	meta = deviceMeta(ctx, meta)

	ident, err := e.resolver.Resolve(ctx, p, providerToken)
	if err != nil {
		e.metricInc(MetricProviderLoginFailure)
		if errors.Is(err, ErrProviderConflict) {
			e.metricInc(MetricProviderConflict)
		}
		e.emitAudit(ctx, auditEventProviderLoginFailure, false, "", "", err, providerMeta(p))
		return nil, err
	}
	if !ident.Active || ident.Deleted {
		e.metricInc(MetricProviderLoginFailure)
		e.emitAudit(ctx, auditEventProviderLoginFailure, false, ident.ID, ident.TenantID, ErrIdentityNotFound, providerMeta(p))
		return nil, ErrIdentityNotFound
	}
	if err := e.checkTenant(ctx, ident); err != nil {
		e.metricInc(MetricProviderLoginFailure)
		e.emitAudit(ctx, auditEventProviderLoginFailure, false, ident.ID, ident.TenantID, err, providerMeta(p))
		return nil, err
	}

	e.touchLastLogin(ctx, ident)

	bundle, err := e.openSession(ctx, ident, meta, "")
	if err != nil {
		e.metricInc(MetricProviderLoginFailure)
		return nil, err
	}

	e.metricInc(MetricProviderLoginSuccess)
	e.emitAudit(ctx, auditEventProviderLoginSuccess, true, ident.ID, ident.TenantID, nil, providerMeta(p))
	return bundle, nil
}

func providerMeta(p identity.Provider) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"provider": string(p)}
	}
}
