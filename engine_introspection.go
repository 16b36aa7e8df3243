package hrauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/hrauth/extauth"
	"github.com/MrEthical07/hrauth/identity"
	"github.com/MrEthical07/hrauth/internal"
	"github.com/MrEthical07/hrauth/session"
)

// Validate resolves a session token to the identity view frozen at issue
// time. Unknown and invalidated tokens return ErrSessionNotFound.
func (e *Engine) Validate(ctx context.Context, token string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}
	}()

	entry, err := e.sessions.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrSessionInactive) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return &AuthResult{
		IdentityID:      entry.IdentityID,
		TenantID:        entry.TenantID,
		Email:           entry.Email,
		Username:        entry.Username,
		RoleID:          entry.RoleID,
		PrimaryProvider: identity.Provider(entry.PrimaryProvider),
		EmailVerified:   entry.EmailVerified,
		IssuedAt:        time.Unix(entry.IssuedAt, 0).UTC(),
	}, nil
}

// ListSessions returns the active sessions of identityID without exposing
// the tokens.
func (e *Engine) ListSessions(ctx context.Context, identityID string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	rows, err := e.sessions.ListActive(ctx, identityID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, SessionInfo{
			TokenPrefix: internal.TokenPrefix(r.Token, 8),
			Device:      r.Device,
			IP:          r.IP,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out, nil
}

// RefreshExternal rotates the external pair for a client-presented refresh
// token.
func (e *Engine) RefreshExternal(ctx context.Context, identityID, refreshToken string) (*ExternalTokens, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	sess, err := e.external.RefreshWithToken(ctx, identityID, refreshToken)
	if err != nil {
		return nil, e.refreshFailed(ctx, identityID, err)
	}

	e.metricInc(MetricExternalRefresh)
	e.emitAudit(ctx, auditEventExternalRefresh, true, identityID, "", nil, nil)
	return &ExternalTokens{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    sess.ExpiresAt,
	}, nil
}

// ExternalAccessToken returns a usable external access token, rotating the
// stored pair when it is close to expiry.
func (e *Engine) ExternalAccessToken(ctx context.Context, identityID string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	tok, err := e.external.Refresh(ctx, identityID)
	if err != nil {
		return "", e.refreshFailed(ctx, identityID, err)
	}
	return tok, nil
}

func (e *Engine) refreshFailed(ctx context.Context, identityID string, err error) error {
	switch {
	case errors.Is(err, extauth.ErrRefreshReplayed):
		e.metricInc(MetricExternalRefreshReplay)
		e.emitAudit(ctx, auditEventExternalRefreshReplay, false, identityID, "", ErrRefreshReplayed, nil)
		return ErrRefreshReplayed
	case errors.Is(err, extauth.ErrRefreshRejected), errors.Is(err, extauth.ErrNoExternalSession):
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	case errors.Is(err, extauth.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrExternalAuthUnavailable, err)
	default:
		return err
	}
}

// Health pings Redis and the directory.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	var h HealthStatus
	if e == nil {
		return h
	}
	h.AuditDropped = e.AuditDropped()

	if e.redis != nil {
		start := time.Now()
		if err := e.redis.Ping(ctx).Err(); err != nil {
			h.RedisError = err.Error()
		} else {
			h.Redis = true
			h.RedisLatency = time.Since(start)
		}
	}
	if e.dir != nil {
		if err := e.dir.Ping(ctx); err != nil {
			h.PostgresError = err.Error()
		} else {
			h.Postgres = true
		}
	}
	return h
}
