package hrauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/hrauth/identity"
)

// LinkProvider attaches a Google or Facebook account to identityID after
// verifying providerToken. Linking the same provider account twice is a
// no-op; a provider account owned by another identity is refused.
func (e *Engine) LinkProvider(ctx context.Context, identityID string, p identity.Provider, providerToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.resolver == nil || !e.resolver.Supports(p) {
		return ErrUnsupportedProvider
	}
	ident, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return err
	}

	a, err := e.resolver.Assert(ctx, p, providerToken)
	if err != nil {
		e.emitAudit(ctx, auditEventProviderLinked, false, ident.ID, ident.TenantID, err, providerMeta(p))
		return err
	}

	owner, err := e.dir.FindByProviderID(ctx, p, a.Subject)
	switch {
	case err == nil && owner.ID == ident.ID:
		return nil
	case err == nil:
		return e.linkConflict(ctx, ident, p)
	case !errors.Is(err, identity.ErrNotFound):
		return err
	}

	if cur := ident.Link(p); cur.Linked() {
		return fmt.Errorf("%w: a different %s account is already linked", ErrInvalidRequest, p.DisplayName())
	}

	link := identity.ProviderLink{ID: a.Subject, Email: identity.NormalizeEmail(a.Email)}
	wrote, err := e.dir.LinkProviderIfAbsent(ctx, ident.ID, p, link)
	if err != nil {
		if errors.Is(err, ErrProviderAlreadyLinked) {
			return e.linkConflict(ctx, ident, p)
		}
		return err
	}
	if !wrote {
		return fmt.Errorf("%w: a different %s account is already linked", ErrInvalidRequest, p.DisplayName())
	}

	e.metricInc(MetricProviderLinked)
	e.emitAudit(ctx, auditEventProviderLinked, true, ident.ID, ident.TenantID, nil, providerMeta(p))
	return nil
}

func (e *Engine) linkConflict(ctx context.Context, ident *identity.Identity, p identity.Provider) error {
	err := fmt.Errorf("%w: %w", ErrProviderConflict, ErrProviderAlreadyLinked)
	e.metricInc(MetricProviderConflict)
	e.emitAudit(ctx, auditEventProviderLinked, false, ident.ID, ident.TenantID, err, providerMeta(p))
	return err
}

// UnlinkProvider detaches p from identityID. Unlinking a provider that is
// not linked succeeds. The last remaining method cannot be removed.
func (e *Engine) UnlinkProvider(ctx context.Context, identityID string, p identity.Provider) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !p.External() {
		return ErrUnsupportedProvider
	}
	ident, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if !ident.Link(p).Linked() {
		return nil
	}
	if ident.AuthMethodCount() <= 1 {
		e.emitAudit(ctx, auditEventProviderUnlinked, false, ident.ID, ident.TenantID, ErrLastAuthMethod, providerMeta(p))
		return ErrLastAuthMethod
	}

	primary := ident.PrimaryProvider
	if primary == p {
		primary = remainingMethod(ident, p)
	}
	if err := e.dir.UnlinkProvider(ctx, ident.ID, p, primary); err != nil {
		if errors.Is(err, ErrLastAuthMethod) {
			e.emitAudit(ctx, auditEventProviderUnlinked, false, ident.ID, ident.TenantID, err, providerMeta(p))
		}
		return err
	}

	e.metricInc(MetricProviderUnlinked)
	e.emitAudit(ctx, auditEventProviderUnlinked, true, ident.ID, ident.TenantID, nil, providerMeta(p))
	return nil
}

// remainingMethod picks the primary provider once p is gone: the password
// when present, otherwise the other linked provider.
func remainingMethod(ident *identity.Identity, p identity.Provider) identity.Provider {
	if ident.HasPassword() {
		return identity.ProviderLocal
	}
	for _, other := range ident.LinkedProviders() {
		if other != p {
			return other
		}
	}
	return identity.ProviderLocal
}
