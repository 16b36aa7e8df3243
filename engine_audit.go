package hrauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/hrauth/extauth"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLoginRateLimited         = "login_rate_limited"
	auditEventProviderLoginSuccess     = "provider_login_success"
	auditEventProviderLoginFailure     = "provider_login_failure"
	auditEventSignupSuccess            = "signup_success"
	auditEventSignupFailure            = "signup_failure"
	auditEventSignupRolledBack         = "signup_rolled_back"
	auditEventCredentialMigrated       = "credential_migrated"
	auditEventLogoutSession            = "logout_session"
	auditEventLogoutAll                = "logout_all"
	auditEventExternalEnsureFailure    = "external_ensure_failure"
	auditEventExternalInvalidateFailed = "external_invalidate_failure"
	auditEventExternalRefresh          = "external_refresh"
	auditEventExternalRefreshReplay    = "external_refresh_replay"
	auditEventPasswordChangeSuccess    = "password_change_success"
	auditEventPasswordChangeInvalidOld = "password_change_invalid_old"
	auditEventPasswordChangeReuse      = "password_change_reuse_attempt"
	auditEventPasswordSet              = "password_set"
	auditEventPasswordDisconnected     = "password_disconnected"
	auditEventProviderLinked           = "provider_linked"
	auditEventProviderUnlinked         = "provider_unlinked"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventInviteCreated            = "invite_created"
	auditEventInviteAccepted           = "invite_accepted"
	auditEventInviteCancelled          = "invite_cancelled"
)

// AuditErrorCode is the stable error label recorded on failed events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials   AuditErrorCode = "invalid_credentials"
	auditErrNoCredentialMethod   AuditErrorCode = "no_credential_method"
	auditErrTenantDeactivated    AuditErrorCode = "tenant_deactivated"
	auditErrRateLimited          AuditErrorCode = "rate_limited"
	auditErrIdentityNotFound     AuditErrorCode = "identity_not_found"
	auditErrProviderConflict     AuditErrorCode = "provider_conflict"
	auditErrInvalidProviderToken AuditErrorCode = "invalid_provider_token"
	auditErrDuplicate            AuditErrorCode = "duplicate"
	auditErrLastAuthMethod       AuditErrorCode = "last_auth_method"
	auditErrPasswordReuse        AuditErrorCode = "password_reuse"
	auditErrInvalidToken         AuditErrorCode = "invalid_token"
	auditErrRefreshReplay        AuditErrorCode = "refresh_replay"
	auditErrInvalidRequest       AuditErrorCode = "invalid_request"
	auditErrExternalUnavailable  AuditErrorCode = "external_unavailable"
	auditErrSessionNotFound      AuditErrorCode = "session_not_found"
	auditErrUnavailable          AuditErrorCode = "backend_unavailable"
	auditErrInternal             AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	tenantID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		IdentityID: userID,
		TenantID:   tenantID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// auditEvent builds an event for writers that persist it themselves.
func (e *Engine) auditEvent(ctx context.Context, eventType, userID, tenantID string) AuditEvent {
	return AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		IdentityID: userID,
		TenantID:   tenantID,
		IP:         clientIPFromContext(ctx),
		Success:    true,
	}
}

// sessionRef is the part of a session token that may appear in audit rows.
func sessionRef(token string) string {
	const n = 8
	if len(token) <= n {
		return ""
	}
	return token[:n]
}

func reason(r string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": r}
	}
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredential):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrNoCredentialMethod):
		return auditErrNoCredentialMethod
	case errors.Is(err, ErrTenantDeactivated):
		return auditErrTenantDeactivated
	case errors.Is(err, ErrLoginRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrIdentityNotFound):
		return auditErrIdentityNotFound
	case errors.Is(err, ErrProviderConflict),
		errors.Is(err, ErrProviderAlreadyLinked):
		return auditErrProviderConflict
	case errors.Is(err, ErrInvalidProviderToken),
		errors.Is(err, ErrUnsupportedProvider):
		return auditErrInvalidProviderToken
	case errors.Is(err, ErrDuplicateEmail),
		errors.Is(err, ErrDuplicateUsername):
		return auditErrDuplicate
	case errors.Is(err, ErrLastAuthMethod):
		return auditErrLastAuthMethod
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrLinkTokenInvalid),
		errors.Is(err, ErrInviteInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrRefreshReplayed):
		return auditErrRefreshReplay
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrExternalAuthUnavailable),
		errors.Is(err, extauth.ErrUnavailable):
		return auditErrExternalUnavailable
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
