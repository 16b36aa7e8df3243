package hrauth

import (
	"context"
	"strconv"
)

// Logout invalidates one session token. Unknown and already invalidated
// tokens succeed. External tokens are left alone.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.sessions.Invalidate(ctx, token); err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	if e.audit != nil {
		ev := e.auditEvent(ctx, auditEventLogoutSession, "", "")
		ev.SessionRef = sessionRef(token)
		e.audit.Emit(ctx, ev)
	}
	return nil
}

// LogoutAll invalidates every session of identityID, then the external
// token pair. Only the local step can fail the call.
func (e *Engine) LogoutAll(ctx context.Context, identityID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	n, err := e.sessions.InvalidateAll(ctx, identityID)
	if err != nil {
		return err
	}

	if err := e.external.InvalidateAll(ctx, identityID); err != nil {
		e.metricInc(MetricExternalInvalidateFailure)
		e.log.Error().Err(err).Str("identity_id", identityID).Msg("external token invalidation failed")
		e.emitAudit(ctx, auditEventExternalInvalidateFailed, false, identityID, "", err, nil)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, identityID, "", nil, func() map[string]string {
		return map[string]string{"sessions": strconv.Itoa(n)}
	})
	return nil
}
