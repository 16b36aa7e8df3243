package hrauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/hrauth/identity"
	"github.com/MrEthical07/hrauth/internal"
	"github.com/MrEthical07/hrauth/jwt"
	"github.com/MrEthical07/hrauth/mail"
	"github.com/google/uuid"
)

// CreateInvite creates an inactive placeholder identity and a pending
// invite, then mails the invite link. The link token is returned as well
// so callers can deliver it themselves.
func (e *Engine) CreateInvite(ctx context.Context, req InviteRequest) (*Invite, string, error) {
	if err := e.ready(); err != nil {
		return nil, "", err
	}
	if err := e.validateRequest(req); err != nil {
		return nil, "", err
	}
	tenant, err := e.dir.GetTenant(ctx, req.TenantID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, "", ErrTenantDeactivated
		}
		return nil, "", err
	}
	if !tenant.Active {
		return nil, "", ErrTenantDeactivated
	}

	username, err := internal.NewInviteUsername()
	if err != nil {
		return nil, "", err
	}
	email := identity.NormalizeEmail(req.Email)
	placeholder := &identity.Identity{
		ID:              uuid.NewString(),
		TenantID:        tenant.ID,
		Email:           email,
		Username:        username,
		RoleID:          req.RoleID,
		PrimaryProvider: identity.ProviderLocal,
	}
	inv := &identity.Invite{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		Email:     email,
		RoleID:    req.RoleID,
		InvitedBy: req.InvitedBy,
		ExpiresAt: e.now().UTC().Add(e.links.TTL(jwt.PurposeInvite)),
	}
	if err := e.dir.CreateInvite(ctx, inv, placeholder); err != nil {
		e.emitAudit(ctx, auditEventInviteCreated, false, req.InvitedBy, tenant.ID, err, nil)
		return nil, "", err
	}

	token, _, err := e.links.Issue(jwt.PurposeInvite, inv.ID, tenant.ID, email)
	if err != nil {
		return nil, "", err
	}
	if err := e.sendMail(ctx, email, "You have been invited to "+tenant.Name, mail.TemplateInvite, mail.InviteData{
		Company:   tenant.Name,
		Link:      linkURL(e.config.Links.InviteURL, token),
		ExpiresIn: humanDuration(e.links.TTL(jwt.PurposeInvite)),
	}); err != nil {
		e.log.Warn().Err(err).Str("invite_id", inv.ID).Msg("invite mail failed")
	}

	e.metricInc(MetricInviteCreated)
	e.emitAudit(ctx, auditEventInviteCreated, true, req.InvitedBy, tenant.ID, nil, func() map[string]string {
		return map[string]string{"invite_id": inv.ID}
	})
	return inv, token, nil
}

// AcceptInvite activates the invited identity with the chosen username and
// password, then opens a session and creates the external user. When the
// external step fails the identity stays active and the next login
// provisions it.
func (e *Engine) AcceptInvite(ctx context.Context, req AcceptInviteRequest, meta DeviceMeta) (*AuthBundle, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	meta = deviceMeta(ctx, meta)
	if err := e.validateRequest(req); err != nil {
		return nil, err
	}
	if err := e.checkPasswordPolicy(req.Password); err != nil {
		return nil, err
	}

	claims, err := e.links.Parse(req.Token, jwt.PurposeInvite)
	if err != nil {
		e.emitAudit(ctx, auditEventInviteAccepted, false, "", "", ErrInviteInvalid, nil)
		return nil, fmt.Errorf("%w: %v", ErrInviteInvalid, err)
	}
	inv, err := e.dir.GetInvite(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrInviteInvalid
		}
		return nil, err
	}
	if !inv.Usable(e.now()) || inv.IdentityID == "" {
		e.emitAudit(ctx, auditEventInviteAccepted, false, inv.IdentityID, inv.TenantID, ErrInviteInvalid, reason(string(inv.Status)))
		return nil, ErrInviteInvalid
	}

	ident, err := e.dir.GetIdentity(ctx, inv.IdentityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrInviteInvalid
		}
		return nil, err
	}
	if err := e.checkTenant(ctx, ident); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	ident.Username = req.Username
	ident.PasswordHash = hash
	ident.EmailVerified = true
	ident.Active = true
	if err := e.dir.AcceptInvite(ctx, inv.ID, ident); err != nil {
		if errors.Is(err, identity.ErrInviteNotPending) {
			return nil, ErrInviteInvalid
		}
		e.emitAudit(ctx, auditEventInviteAccepted, false, ident.ID, ident.TenantID, err, nil)
		return nil, err
	}

	token, err := e.sessions.Issue(ctx, ident, meta)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSessionCreated)

	ext, err := e.external.CreateExternalUser(ctx, ident, req.Password)
	if err != nil {
		e.externalFailed(ctx, ident, err)
		e.dropSession(ctx, ident, token)
		return nil, fmt.Errorf("%w: %v", ErrExternalAuthUnavailable, err)
	}
	e.attachExternal(ctx, token, ident, ext)

	e.metricInc(MetricInviteAccepted)
	e.emitAudit(ctx, auditEventInviteAccepted, true, ident.ID, ident.TenantID, nil, func() map[string]string {
		return map[string]string{"invite_id": inv.ID}
	})
	return newBundle(token, ident, ext), nil
}

// CancelInvite cancels a pending invite of tenantID and deletes its
// placeholder. Invites of other tenants are reported as ErrInviteInvalid.
func (e *Engine) CancelInvite(ctx context.Context, tenantID, inviteID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if tenantID == "" || inviteID == "" {
		return fmt.Errorf("%w: tenant and invite id required", ErrInvalidRequest)
	}
	if err := e.dir.CancelInvite(ctx, tenantID, inviteID); err != nil {
		if errors.Is(err, identity.ErrInviteNotPending) || errors.Is(err, identity.ErrNotFound) {
			return ErrInviteInvalid
		}
		return err
	}
	e.metricInc(MetricInviteCancelled)
	e.emitAudit(ctx, auditEventInviteCancelled, true, "", tenantID, nil, func() map[string]string {
		return map[string]string{"invite_id": inviteID}
	})
	return nil
}
