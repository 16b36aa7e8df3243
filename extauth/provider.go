package extauth

import (
	"context"
	"errors"
	"net"
	"time"
)

var (
	// ErrUnavailable wraps every unrecoverable Ensure/Refresh failure.
	ErrUnavailable = errors.New("external auth unavailable")
	// ErrUserNotFound is returned by providers when the user does not exist.
	ErrUserNotFound = errors.New("external user not found")
	// ErrUserExists is returned by providers on create when the identifier is taken.
	ErrUserExists = errors.New("external user already exists")
	// ErrRefreshRejected means the provider refused the refresh token.
	ErrRefreshRejected = errors.New("external refresh token rejected")
	// ErrRefreshReplayed means a rotated-out refresh token was presented.
	ErrRefreshReplayed = errors.New("external refresh token replay detected")
	// ErrNoExternalSession means no refresh token is stored for the identity.
	ErrNoExternalSession = errors.New("no external session")
	// ErrUserOwned means the provider user for an email is linked to a
	// different identity.
	ErrUserOwned = errors.New("external user linked to another identity")
)

// User is a secondary-provider account.
type User struct {
	ID    string
	Email string
}

// TokenPair is an access/refresh pair issued by the provider.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Provider is the secondary identity provider: user management plus token
// issuance. Implementations return ErrUserNotFound, ErrUserExists and
// ErrRefreshRejected for the matching outcomes and mark retryable failures
// with Transient.
type Provider interface {
	GetUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, email, password string, claims map[string]any) (*User, error)
	// SetPassword replaces the password and the public metadata claims.
	SetPassword(ctx context.Context, id, password string, claims map[string]any) error
	DeleteUser(ctx context.Context, id string) error
	IssueTokens(ctx context.Context, login, password string) (*TokenPair, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error)
}

// TransientError marks a provider failure as eligible for retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried. Timeouts count as
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
