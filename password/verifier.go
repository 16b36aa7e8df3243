package password

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalidCredential is the single failure outcome of Verifier.Check.
var ErrInvalidCredential = errors.New("invalid credential")

// Method identifies which stored scheme accepted a password.
type Method int

const (
	MethodNone Method = iota
	MethodModern
	MethodLegacy
)

func (m Method) String() string {
	switch m {
	case MethodModern:
		return "bcrypt"
	case MethodLegacy:
		return "legacy"
	}
	return "none"
}

// Credentials is the stored credential material of one identity. Any field
// may be empty.
type Credentials struct {
	Hash       string
	LegacyBlob string
	LegacyKey  string
}

// CredentialWriter persists a replacement modern hash.
type CredentialWriter interface {
	UpdatePasswordHash(ctx context.Context, identityID, hash string) error
}

// MigrationHook observes every hash write attempted by the verifier. err is
// nil on success.
type MigrationHook func(ctx context.Context, identityID string, from Method, err error)

// VerifierConfig wires a Verifier.
type VerifierConfig struct {
	Hasher       *Hasher
	Writer       CredentialWriter
	Logger       zerolog.Logger
	OnMigrate    MigrationHook
	WriteTimeout time.Duration
}

// Verifier checks a plaintext against whichever scheme an identity has and
// moves legacy and low-cost credentials onto the current bcrypt cost.
type Verifier struct {
	hasher       *Hasher
	writer       CredentialWriter
	log          zerolog.Logger
	onMigrate    MigrationHook
	writeTimeout time.Duration
}

// NewVerifier builds a Verifier. Writer may be nil, which disables
// migration writes.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Hasher == nil {
		return nil, errors.New("password hasher required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Verifier{
		hasher:       cfg.Hasher,
		writer:       cfg.Writer,
		log:          cfg.Logger,
		onMigrate:    cfg.OnMigrate,
		writeTimeout: cfg.WriteTimeout,
	}, nil
}

// Verify reports whether plaintext matches creds.
func (v *Verifier) Verify(ctx context.Context, identityID, plaintext string, creds Credentials) bool {
	_, err := v.Check(ctx, identityID, plaintext, creds)
	return err == nil
}

// Check is Verify with the accepting scheme reported. Every failure cause
// returns ErrInvalidCredential.
//
// A modern hash is tried first. The legacy pair is consulted only when no
// modern hash exists or it does not match. On a legacy match a bcrypt hash
// is written before Check returns; the legacy columns are left untouched.
// Write failures are logged and never change the outcome.
func (v *Verifier) Check(ctx context.Context, identityID, plaintext string, creds Credentials) (Method, error) {
	if plaintext == "" {
		return MethodNone, ErrInvalidCredential
	}

	if creds.Hash != "" {
		ok, err := v.hasher.Verify(plaintext, creds.Hash)
		if err != nil {
			v.log.Warn().Err(err).Str("identity_id", identityID).Msg("stored password hash unreadable")
		}
		if ok {
			if upgrade, err := v.hasher.NeedsUpgrade(creds.Hash); err == nil && upgrade {
				v.migrate(ctx, identityID, plaintext, MethodModern)
			}
			return MethodModern, nil
		}
	}

	if creds.LegacyBlob != "" && creds.LegacyKey != "" {
		recovered, err := DecryptLegacy(creds.LegacyBlob, creds.LegacyKey)
		if err != nil {
			v.log.Warn().Err(err).Str("identity_id", identityID).Msg("legacy credential unreadable")
			return MethodNone, ErrInvalidCredential
		}
		if subtle.ConstantTimeCompare([]byte(recovered), []byte(plaintext)) == 1 {
			v.migrate(ctx, identityID, plaintext, MethodLegacy)
			return MethodLegacy, nil
		}
	}

	return MethodNone, ErrInvalidCredential
}

func (v *Verifier) migrate(ctx context.Context, identityID, plaintext string, from Method) {
	if v.writer == nil {
		return
	}

	hash, err := v.hasher.Hash(plaintext)
	if err == nil {
		// The write must not be cut short by the caller's request ending.
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.writeTimeout)
		err = v.writer.UpdatePasswordHash(wctx, identityID, hash)
		cancel()
	}

	if err != nil {
		v.log.Warn().Err(err).
			Str("identity_id", identityID).
			Str("from", from.String()).
			Msg("password hash migration failed")
	}
	if v.onMigrate != nil {
		v.onMigrate(ctx, identityID, from, err)
	}
}
