package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Assertion is what a provider vouches for after token verification.
type Assertion struct {
	Provider      Provider
	Subject       string
	Email         string
	EmailVerified bool
}

// TokenVerifier validates a provider-issued token.
type TokenVerifier interface {
	Provider() Provider
	// RequireVerifiedEmail reports whether unverified emails are rejected.
	RequireVerifiedEmail() bool
	Verify(ctx context.Context, token string) (Assertion, error)
}

// Store is the lookup surface the resolver needs. Lookups return
// ErrNotFound when nothing matches.
type Store interface {
	FindByProviderID(ctx context.Context, p Provider, providerID string) (*Identity, error)
	FindByProviderEmail(ctx context.Context, p Provider, email string) (*Identity, error)
	// FindByEmail matches the primary email within tenantID, or across all
	// tenants when tenantID is empty.
	FindByEmail(ctx context.Context, email, tenantID string) (*Identity, error)
	// LinkProviderIfAbsent stores link only when no provider id is set yet.
	// It reports whether a write happened.
	LinkProviderIfAbsent(ctx context.Context, identityID string, p Provider, link ProviderLink) (bool, error)
}

// Resolver maps provider identities to local identities.
type Resolver struct {
	store     Store
	verifiers map[Provider]TokenVerifier
	log       zerolog.Logger
}

// NewResolver registers one verifier per provider. Nil verifiers are skipped
// so optional providers can be left unconfigured.
func NewResolver(store Store, logger zerolog.Logger, verifiers ...TokenVerifier) *Resolver {
	r := &Resolver{
		store:     store,
		verifiers: make(map[Provider]TokenVerifier, len(verifiers)),
		log:       logger,
	}
	for _, v := range verifiers {
		if v == nil {
			continue
		}
		r.verifiers[v.Provider()] = v
	}
	return r
}

// Supports reports whether a verifier is registered for p.
func (r *Resolver) Supports(p Provider) bool {
	_, ok := r.verifiers[p]
	return ok
}

// Assert verifies token without resolving an identity. Used when linking a
// provider to an already authenticated identity.
func (r *Resolver) Assert(ctx context.Context, p Provider, token string) (Assertion, error) {
	v, ok := r.verifiers[p]
	if !ok {
		return Assertion{}, ErrUnsupportedProvider
	}
	if token == "" {
		return Assertion{}, ErrInvalidProviderToken
	}

	a, err := v.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidProviderToken) {
			return Assertion{}, err
		}
		// Transport failures are not a verdict on the token.
		return Assertion{}, fmt.Errorf("verify %s token: %w", p, err)
	}
	if a.Subject == "" {
		return Assertion{}, ErrInvalidProviderToken
	}
	if v.RequireVerifiedEmail() && (a.Email == "" || !a.EmailVerified) {
		return Assertion{}, fmt.Errorf("%w: email not verified by provider", ErrInvalidProviderToken)
	}
	a.Provider = p
	a.Email = NormalizeEmail(a.Email)
	return a, nil
}

// Resolve verifies token and finds the local identity it belongs to.
//
// Lookup order is provider id, then provider email, then primary email. A
// provider id match is returned as is. A primary email match is only linked
// when the account already declares p as its primary provider.
func (r *Resolver) Resolve(ctx context.Context, p Provider, token string) (*Identity, error) {
	a, err := r.Assert(ctx, p, token)
	if err != nil {
		return nil, err
	}

	ident, err := r.store.FindByProviderID(ctx, p, a.Subject)
	if err == nil {
		return ident, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if a.Email == "" {
		return nil, ErrIdentityNotFound
	}

	ident, err = r.store.FindByProviderEmail(ctx, p, a.Email)
	if err == nil {
		r.linkIfAbsent(ctx, ident, a)
		return ident, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	ident, err = r.store.FindByEmail(ctx, a.Email, TenantScope(ctx))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}

	primary := ident.PrimaryProvider
	if primary == "" {
		primary = ProviderLocal
	}
	if primary != p {
		return nil, &ConflictError{Existing: primary}
	}

	r.linkIfAbsent(ctx, ident, a)
	return ident, nil
}

func (r *Resolver) linkIfAbsent(ctx context.Context, ident *Identity, a Assertion) {
	if ident.Link(a.Provider).Linked() {
		return
	}

	link := ProviderLink{ID: a.Subject, Email: a.Email}
	linked, err := r.store.LinkProviderIfAbsent(ctx, ident.ID, a.Provider, link)
	if err != nil {
		// Resolution already succeeded; the link is retried on the next login.
		r.log.Warn().Err(err).
			Str("identity_id", ident.ID).
			Str("provider", string(a.Provider)).
			Msg("provider link write failed")
		return
	}
	if linked {
		ident.SetLink(a.Provider, link)
	}
}
