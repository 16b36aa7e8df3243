package hrauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/hrauth/extauth"
	"github.com/MrEthical07/hrauth/identity"
	internalaudit "github.com/MrEthical07/hrauth/internal/audit"
	"github.com/MrEthical07/hrauth/internal/rate"
	"github.com/MrEthical07/hrauth/jwt"
	"github.com/MrEthical07/hrauth/mail"
	"github.com/MrEthical07/hrauth/password"
	"github.com/MrEthical07/hrauth/session"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Engine orchestrates the authentication flows.
//
// Engine instances are configured by [Builder] and then treated as
// immutable.
type Engine struct {
	config   Config
	dir      Directory
	sessions *session.Issuer
	resolver *identity.Resolver
	verifier *password.Verifier
	hasher   *password.Hasher
	external ExternalSessions
	limiter  *rate.Limiter
	links    *jwt.Manager
	mailer   mail.Sender
	validate *validator.Validate
	redis    redis.UniversalClient
	audit    *internalaudit.Dispatcher
	metrics  *Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.dir == nil || e.sessions == nil || e.external == nil {
		return ErrEngineNotReady
	}
	return nil
}

// checkTenant refuses identities whose company is deactivated.
func (e *Engine) checkTenant(ctx context.Context, ident *identity.Identity) error {
	t, err := e.dir.GetTenant(ctx, ident.TenantID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ErrTenantDeactivated
		}
		return err
	}
	if !t.Active {
		return ErrTenantDeactivated
	}
	return nil
}

// openSession issues a local session and brings the external session in
// sync. An external failure undoes the local session.
func (e *Engine) openSession(ctx context.Context, ident *identity.Identity, meta DeviceMeta, firstPassword string) (*AuthBundle, error) {
	token, err := e.sessions.Issue(ctx, ident, meta)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSessionCreated)

	ext, err := e.external.Ensure(ctx, ident, firstPassword)
	if err != nil {
		e.externalFailed(ctx, ident, err)
		e.dropSession(ctx, ident, token)
		return nil, fmt.Errorf("%w: %v", ErrExternalAuthUnavailable, err)
	}

	e.attachExternal(ctx, token, ident, ext)
	return newBundle(token, ident, ext), nil
}

func (e *Engine) externalFailed(ctx context.Context, ident *identity.Identity, err error) {
	e.metricInc(MetricExternalEnsureFailure)
	e.log.Error().Err(err).Str("identity_id", ident.ID).Str("tenant_id", ident.TenantID).Msg("external session unavailable")
	e.emitAudit(ctx, auditEventExternalEnsureFailure, false, ident.ID, ident.TenantID, ErrExternalAuthUnavailable, nil)
}

// dropSession invalidates a just-issued token on a context that survives
// request cancellation.
func (e *Engine) dropSession(ctx context.Context, ident *identity.Identity, token string) {
	ctx, cancel := e.detached(ctx)
	defer cancel()
	if err := e.sessions.Invalidate(ctx, token); err != nil {
		e.log.Error().Err(err).Str("identity_id", ident.ID).Msg("session rollback failed")
		return
	}
	e.metricInc(MetricSessionInvalidated)
}

func (e *Engine) attachExternal(ctx context.Context, token string, ident *identity.Identity, ext *extauth.Session) {
	if ext == nil {
		return
	}
	if err := e.sessions.AttachExternal(ctx, token, ext.AccessToken, ext.RefreshToken); err != nil {
		e.log.Warn().Err(err).Str("identity_id", ident.ID).Msg("attach external tokens failed")
	}
}

func (e *Engine) touchLastLogin(ctx context.Context, ident *identity.Identity) {
	now := e.now().UTC()
	if err := e.dir.TouchLastLogin(ctx, ident.ID, now); err != nil {
		e.log.Warn().Err(err).Str("identity_id", ident.ID).Msg("last login update failed")
		return
	}
	ident.LastLoginAt = &now
}

func (e *Engine) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.config.External.CallTimeout)
}

func (e *Engine) onCredentialMigrated(ctx context.Context, identityID string, from password.Method, err error) {
	if err != nil {
		e.metricInc(MetricCredentialMigrationFailed)
	} else {
		e.metricInc(MetricCredentialMigrated)
	}
	e.emitAudit(ctx, auditEventCredentialMigrated, err == nil, identityID, "", err, func() map[string]string {
		return map[string]string{"from": from.String()}
	})
}

func newBundle(token string, ident *identity.Identity, ext *extauth.Session) *AuthBundle {
	b := &AuthBundle{
		Token:    token,
		Identity: ident.Summary(),
	}
	if ext != nil {
		b.ExternalAccessToken = ext.AccessToken
		b.ExternalRefreshToken = ext.RefreshToken
		b.ExternalExpiresAt = ext.ExpiresAt
	}
	return b
}

func credentialsOf(ident *identity.Identity) password.Credentials {
	return password.Credentials{
		Hash:       ident.PasswordHash,
		LegacyBlob: ident.LegacyPassword,
		LegacyKey:  ident.LegacyKey,
	}
}

// validateRequest runs struct tags and wraps failures in ErrInvalidRequest.
func (e *Engine) validateRequest(req any) error {
	if err := e.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+":"+fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// checkPasswordPolicy enforces length bounds. bcrypt ignores bytes past 72.
func (e *Engine) checkPasswordPolicy(pw string) error {
	if len(pw) < e.config.Password.MinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRequest, e.config.Password.MinLength)
	}
	if len(pw) > 72 {
		return fmt.Errorf("%w: password must be at most 72 bytes", ErrInvalidRequest)
	}
	return nil
}

func (e *Engine) lookupIdentity(ctx context.Context, identityID string) (*identity.Identity, error) {
	ident, err := e.dir.GetIdentity(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	if ident.Deleted {
		return nil, ErrIdentityNotFound
	}
	return ident, nil
}
