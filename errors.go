package hrauth

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/hrauth/identity"
	"github.com/MrEthical07/hrauth/session"
)

var (
	// ErrIdentityNotFound means no account matched a provider login.
	ErrIdentityNotFound = identity.ErrIdentityNotFound
	// ErrTenantDeactivated means the identity's company is switched off.
	ErrTenantDeactivated = errors.New("tenant deactivated")
	// ErrNoCredentialMethod means the account has no password and must sign
	// in with a provider. See NoCredentialMethodError.
	ErrNoCredentialMethod = errors.New("no password set for this account")
	// ErrInvalidCredential is the uniform login failure.
	ErrInvalidCredential = errors.New("invalid credentials")
	// ErrProviderConflict carries an *identity.ConflictError naming the
	// method the account already uses.
	ErrProviderConflict = identity.ErrProviderConflict
	// ErrInvalidProviderToken means a Google/Facebook assertion failed verification.
	ErrInvalidProviderToken = identity.ErrInvalidProviderToken
	// ErrExternalAuthUnavailable means the secondary identity provider could
	// not be brought in sync.
	ErrExternalAuthUnavailable = errors.New("external authentication unavailable")
	ErrDuplicateUsername       = identity.ErrDuplicateUsername
	ErrDuplicateEmail          = identity.ErrDuplicateEmail
	// ErrLastAuthMethod refuses removal of the only sign-in method.
	ErrLastAuthMethod = identity.ErrLastAuthMethod

	ErrLoginRateLimited = errors.New("too many login attempts")
	ErrSessionNotFound  = errors.New("session not found")
	// ErrRefreshReplayed means a rotated-out external refresh token was presented.
	ErrRefreshReplayed = errors.New("refresh token replay detected")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	ErrInviteInvalid  = errors.New("invite invalid or expired")
	// ErrLinkTokenInvalid covers bad, expired or mis-scoped email link tokens.
	ErrLinkTokenInvalid = errors.New("link token invalid or expired")
	ErrPasswordReuse    = errors.New("new password must differ from the current one")
	ErrEngineNotReady   = errors.New("engine not initialized")
	// ErrUnsupportedProvider is returned for providers without a configured verifier.
	ErrUnsupportedProvider = identity.ErrUnsupportedProvider
	// ErrProviderAlreadyLinked means the provider id belongs to another account.
	ErrProviderAlreadyLinked = identity.ErrProviderTaken
	// ErrStoreUnavailable wraps durable session store failures.
	ErrStoreUnavailable = session.ErrStoreUnavailable
	// ErrSessionsNotRevoked means a password was changed but the old
	// sessions could not be invalidated.
	ErrSessionsNotRevoked = errors.New("password changed but sessions were not revoked")
)

// NoCredentialMethodError steers a password login to the provider the
// account was created with.
type NoCredentialMethodError struct {
	Provider identity.Provider
}

func (e *NoCredentialMethodError) Error() string {
	return fmt.Sprintf("this account signs in with %s; continue with %s",
		e.Provider.DisplayName(), e.Provider.DisplayName())
}

// Is lets errors.Is(err, ErrNoCredentialMethod) match.
func (e *NoCredentialMethodError) Is(target error) bool {
	return target == ErrNoCredentialMethod
}

// ProviderConflictError is the conflict returned by provider login.
type ProviderConflictError = identity.ConflictError
