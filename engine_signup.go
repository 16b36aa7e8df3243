package hrauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/hrauth/extauth"
	"github.com/MrEthical07/hrauth/identity"
	"github.com/google/uuid"
)

// Signup creates a company with its first identity, opens a session and
// provisions the external user.
//
// Tenant, identity and the signup audit row are written in one
// transaction. If the session or the external user cannot be created, the
// tenant is deleted again. A provider user is removed only if this signup
// created it; an adopted one is left alone.
func (e *Engine) Signup(ctx context.Context, req SignupRequest, meta DeviceMeta) (*AuthBundle, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	meta = deviceMeta(ctx, meta)
	if err := e.validateRequest(req); err != nil {
		e.emitAudit(ctx, auditEventSignupFailure, false, "", "", err, nil)
		return nil, err
	}
	if err := e.checkPasswordPolicy(req.Password); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	tenant := &identity.Tenant{
		ID:     uuid.NewString(),
		Name:   strings.TrimSpace(req.CompanyName),
		Active: true,
	}
	ident := &identity.Identity{
		ID:              uuid.NewString(),
		TenantID:        tenant.ID,
		Email:           identity.NormalizeEmail(req.Email),
		Username:        strings.TrimSpace(req.Username),
		RoleID:          req.RoleID,
		PasswordHash:    hash,
		PrimaryProvider: identity.ProviderLocal,
		Active:          true,
	}

	ev := e.auditEvent(ctx, auditEventSignupSuccess, ident.ID, tenant.ID)
	if err := e.dir.CreateAccount(ctx, tenant, ident, ev); err != nil {
		if errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrDuplicateUsername) {
			e.metricInc(MetricSignupDuplicate)
		}
		e.emitAudit(ctx, auditEventSignupFailure, false, "", "", err, nil)
		return nil, err
	}

	token, err := e.sessions.Issue(ctx, ident, meta)
	if err != nil {
		e.rollbackSignup(ctx, tenant, ident, "", "session", err)
		return nil, err
	}
	e.metricInc(MetricSessionCreated)

	ext, err := e.external.CreateExternalUser(ctx, ident, req.Password)
	if err != nil {
		e.externalFailed(ctx, ident, err)
		e.rollbackSignup(ctx, tenant, ident, extauth.CreatedUserID(err), "external", err)
		return nil, fmt.Errorf("%w: %v", ErrExternalAuthUnavailable, err)
	}
	e.attachExternal(ctx, token, ident, ext)

	if err := e.sendVerificationEmail(ctx, ident); err != nil {
		e.log.Warn().Err(err).Str("identity_id", ident.ID).Msg("signup verification mail failed")
	}

	e.metricInc(MetricSignupSuccess)
	e.log.Info().Str("identity_id", ident.ID).Str("tenant_id", tenant.ID).Msg("signup complete")
	return newBundle(token, ident, ext), nil
}

// rollbackSignup undoes a signup whose session or external step failed.
// createdExternalID is the provider user the signup created, if any. Every
// step runs even if an earlier one fails.
func (e *Engine) rollbackSignup(ctx context.Context, tenant *identity.Tenant, ident *identity.Identity, createdExternalID, step string, cause error) {
	ctx, cancel := e.detached(ctx)
	defer cancel()

	log := e.log.With().Str("identity_id", ident.ID).Str("tenant_id", tenant.ID).Str("step", step).Logger()
	log.Warn().Err(cause).Msg("rolling back signup")

	if _, err := e.sessions.InvalidateAll(ctx, ident.ID); err != nil {
		log.Error().Err(err).Msg("signup rollback: session invalidation failed")
	}
	if createdExternalID != "" {
		if err := e.external.DeleteExternalUser(ctx, createdExternalID); err != nil {
			log.Error().Err(err).Str("external_user_id", createdExternalID).Msg("signup rollback: external user delete failed")
		}
	}
	if err := e.dir.DeleteTenant(ctx, tenant.ID); err != nil {
		log.Error().Err(err).Msg("signup rollback: tenant delete failed")
	}

	e.metricInc(MetricSignupRolledBack)
	e.emitAudit(ctx, auditEventSignupRolledBack, false, ident.ID, tenant.ID, cause, reason(step))
}
