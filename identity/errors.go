package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when no row matches a lookup.
	ErrNotFound = errors.New("identity not found")
	// ErrIdentityNotFound is returned by the resolver when no lookup path matched.
	ErrIdentityNotFound = errors.New("no account matches the provider identity")
	// ErrProviderConflict means the matched email is bound to a different auth method.
	ErrProviderConflict = errors.New("email already registered with a different sign-in method")
	// ErrInvalidProviderToken means the provider assertion failed verification.
	ErrInvalidProviderToken = errors.New("invalid provider token")
	// ErrUnsupportedProvider is returned for providers without a registered verifier.
	ErrUnsupportedProvider = errors.New("unsupported identity provider")
	// ErrDuplicateEmail is a unique violation on (tenant, email).
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateUsername is a unique violation on username.
	ErrDuplicateUsername = errors.New("username already taken")
	// ErrProviderTaken means the provider id is already linked to another identity.
	ErrProviderTaken = errors.New("provider identity already linked to another account")
	// ErrLastAuthMethod guards removal of the only remaining authentication method.
	ErrLastAuthMethod = errors.New("cannot remove the last authentication method")
	// ErrInviteNotPending is returned when an invite was already accepted,
	// cancelled or has expired.
	ErrInviteNotPending = errors.New("invite is no longer pending")
)

// ConflictError names the method the matched account already uses.
type ConflictError struct {
	Existing Provider
}

func (e *ConflictError) Error() string {
	if e.Existing == ProviderLocal {
		return "account exists with password sign-in; log in with your password and link this provider from settings"
	}
	return fmt.Sprintf("account exists with %s sign-in; continue with %s", e.Existing.DisplayName(), e.Existing.DisplayName())
}

// Is lets errors.Is(err, ErrProviderConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrProviderConflict
}
