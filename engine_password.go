package hrauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/hrauth/identity"
)

// ChangePassword replaces the password of identityID after verifying
// current, then signs the identity out everywhere. The legacy credential is
// cleared with the change.
//
// If the sign-out fails the new password is already stored and the error
// wraps both ErrSessionsNotRevoked and the store failure.
func (e *Engine) ChangePassword(ctx context.Context, identityID, current, next string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ident, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return err
	}

	if ident.HasPassword() {
		if _, err := e.verifier.Check(ctx, ident.ID, current, credentialsOf(ident)); err != nil {
			e.metricInc(MetricPasswordChangeInvalidOld)
			e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, ident.ID, ident.TenantID, ErrInvalidCredential, nil)
			return ErrInvalidCredential
		}
		if current == next {
			e.emitAudit(ctx, auditEventPasswordChangeReuse, false, ident.ID, ident.TenantID, ErrPasswordReuse, nil)
			return ErrPasswordReuse
		}
	}
	if err := e.checkPasswordPolicy(next); err != nil {
		return err
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := e.dir.ReplacePassword(ctx, ident.ID, hash); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, ident.ID, ident.TenantID, nil, nil)

	if err := e.LogoutAll(ctx, ident.ID); err != nil {
		e.log.Error().Err(err).Str("identity_id", ident.ID).Msg("post password change logout failed")
		return fmt.Errorf("%w: %w", ErrSessionsNotRevoked, err)
	}
	return nil
}

// SetPassword adds a password to an identity that signs in only through a
// provider. Identities that already have one must use ChangePassword.
func (e *Engine) SetPassword(ctx context.Context, identityID, next string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ident, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if ident.HasPassword() {
		return fmt.Errorf("%w: password already set", ErrInvalidRequest)
	}
	if err := e.checkPasswordPolicy(next); err != nil {
		return err
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := e.dir.ReplacePassword(ctx, ident.ID, hash); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventPasswordSet, true, ident.ID, ident.TenantID, nil, nil)
	return nil
}

// DisconnectPassword removes every password credential of identityID. A
// password-primary identity is repointed to a linked provider. Removing the
// only method returns ErrLastAuthMethod.
func (e *Engine) DisconnectPassword(ctx context.Context, identityID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ident, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if !ident.HasPassword() {
		return nil
	}

	linked := ident.LinkedProviders()
	if len(linked) == 0 {
		e.emitAudit(ctx, auditEventPasswordDisconnected, false, ident.ID, ident.TenantID, ErrLastAuthMethod, nil)
		return ErrLastAuthMethod
	}
	primary := ident.PrimaryProvider
	if !primary.External() || !ident.Link(primary).Linked() {
		primary = linked[0]
	}

	if err := e.dir.ClearPassword(ctx, ident.ID, primary); err != nil {
		if errors.Is(err, identity.ErrLastAuthMethod) {
			e.emitAudit(ctx, auditEventPasswordDisconnected, false, ident.ID, ident.TenantID, err, nil)
		}
		return err
	}

	e.emitAudit(ctx, auditEventPasswordDisconnected, true, ident.ID, ident.TenantID, nil, func() map[string]string {
		return map[string]string{"primary_provider": string(primary)}
	})
	return nil
}
