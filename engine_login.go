package hrauth

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/hrauth/identity"
	"github.com/MrEthical07/hrauth/internal/rate"
)

// Login authenticates login (username or email) with a password and opens
// a session mirrored into the external provider.
//
// Unknown, inactive and wrong-password attempts all return
// ErrInvalidCredential. Accounts without a password whose primary provider
// is external return a *NoCredentialMethodError instead.
func (e *Engine) Login(ctx context.Context, login, pw string, meta DeviceMeta) (*AuthBundle, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	meta = deviceMeta(ctx, meta)
	login = strings.TrimSpace(login)

	if err := e.checkLoginRate(ctx, login, meta.IP); err != nil {
		return nil, err
	}

	ident, err := e.dir.FindByLogin(ctx, login, identity.TenantScope(ctx))
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, e.loginFailed(ctx, login, meta.IP, nil, "identity_not_found")
		}
		return nil, err
	}
	if !ident.Active || ident.Deleted {
		return nil, e.loginFailed(ctx, login, meta.IP, ident, "identity_inactive")
	}

	if err := e.checkTenant(ctx, ident); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, ident.ID, ident.TenantID, err, nil)
		return nil, err
	}

	if !ident.HasPassword() {
		if ident.PrimaryProvider.External() {
			steer := &NoCredentialMethodError{Provider: ident.PrimaryProvider}
			e.metricInc(MetricLoginNoCredentialMethod)
			e.emitAudit(ctx, auditEventLoginFailure, false, ident.ID, ident.TenantID, steer, func() map[string]string {
				return map[string]string{"provider": string(ident.PrimaryProvider)}
			})
			return nil, steer
		}
		return nil, e.loginFailed(ctx, login, meta.IP, ident, "no_credential")
	}

	if _, err := e.verifier.Check(ctx, ident.ID, pw, credentialsOf(ident)); err != nil {
		return nil, e.loginFailed(ctx, login, meta.IP, ident, "password_mismatch")
	}

	bundle, err := e.openSession(ctx, ident, meta, pw)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}

	e.touchLastLogin(ctx, ident)
	e.resetLoginRate(ctx, login)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, ident.ID, ident.TenantID, nil, nil)
	return bundle, nil
}

// loginFailed records a failed attempt and returns the uniform error. The
// audit reason keeps the distinction the caller never sees.
func (e *Engine) loginFailed(ctx context.Context, login, ip string, ident *identity.Identity, why string) error {
	e.metricInc(MetricLoginFailure)
	var userID, tenantID string
	if ident != nil {
		userID, tenantID = ident.ID, ident.TenantID
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, tenantID, ErrInvalidCredential, reason(why))

	if e.limiter != nil {
		if err := e.limiter.IncrementLogin(ctx, login, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
			e.log.Warn().Err(err).Msg("login throttle unavailable")
		}
	}
	return ErrInvalidCredential
}

// checkLoginRate fails open when Redis is down.
func (e *Engine) checkLoginRate(ctx context.Context, login, ip string) error {
	if e.limiter == nil {
		return nil
	}
	err := e.limiter.CheckLogin(ctx, login, ip)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.metricInc(MetricLoginRateLimited)
		e.metricInc(MetricRateLimitHit)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
			return map[string]string{"scope": "login"}
		})
		return ErrLoginRateLimited
	default:
		e.log.Warn().Err(err).Msg("login throttle unavailable")
		return nil
	}
}

func (e *Engine) resetLoginRate(ctx context.Context, login string) {
	if e.limiter == nil {
		return
	}
	if err := e.limiter.ResetLogin(ctx, login); err != nil {
		e.log.Warn().Err(err).Msg("login throttle reset failed")
	}
}
