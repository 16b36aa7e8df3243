package extauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/hrauth/identity"
	"github.com/MrEthical07/hrauth/internal"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// IdentityStore persists the external linkage and token fields on the
// identity row.
type IdentityStore interface {
	// SetExternalUserID stores id; an empty id clears the linkage and the
	// persisted token fields.
	SetExternalUserID(ctx context.Context, identityID, externalUserID string) error
	SaveExternalTokens(ctx context.Context, identityID string, pair *TokenPair) error
	// GetExternalTokens returns the persisted pair; fields are empty when
	// none is stored.
	GetExternalTokens(ctx context.Context, identityID string) (*TokenPair, error)
	ClearExternalTokens(ctx context.Context, identityID string) error
	// SwapExternalRefreshToken replaces the stored refresh token with next
	// only while it still equals old, and reports whether it did. An empty
	// value stands for no token.
	SwapExternalRefreshToken(ctx context.Context, identityID, old, next string) (bool, error)
	// ExternalUserOwner returns the identity linked to externalUserID, or ""
	// when none is.
	ExternalUserOwner(ctx context.Context, externalUserID string) (string, error)
}

// Config tunes a Manager.
type Config struct {
	// ServerSecret keys the deterministic provider password.
	ServerSecret     []byte
	RefreshThreshold time.Duration
	BlacklistTTL     time.Duration
	RefreshTokenTTL  time.Duration
	// CreateRetries is the number of retries after a transient create
	// failure. Zero takes the default; use NoRetries to disable.
	CreateRetries    int
	BackoffBase      time.Duration
	CallTimeout      time.Duration
}

// NoRetries disables create retries when set as Config.CreateRetries.
const NoRetries = -1

// DefaultConfig returns the documented defaults without a secret.
func DefaultConfig() Config {
	return Config{
		RefreshThreshold: 300 * time.Second,
		BlacklistTTL:     24 * time.Hour,
		RefreshTokenTTL:  30 * 24 * time.Hour,
		CreateRetries:    3,
		BackoffBase:      time.Second,
		CallTimeout:      10 * time.Second,
	}
}

// Session is the external half of an authenticated session.
type Session struct {
	ExternalUserID string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
	// Created is set when the call created the provider user.
	Created bool
}

// ProvisionError is returned by CreateExternalUser. CreatedUserID names the
// provider user the failed call created, if any; only that user may be
// deleted by a compensating step.
type ProvisionError struct {
	CreatedUserID string
	Err           error
}

func (e *ProvisionError) Error() string { return e.Err.Error() }

func (e *ProvisionError) Unwrap() error { return e.Err }

// CreatedUserID returns the provider user created by the failed call that
// produced err, or "".
func CreatedUserID(err error) string {
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return pe.CreatedUserID
	}
	return ""
}

var errRecreate = errors.New("external user needs recreate")

// Manager keeps one secondary-provider user per identity and the token pair
// issued for it.
//
// Per identity the states are: no external user, linked with a valid pair,
// linked with a pair near expiry, linked but unusable (cleared and
// recreated on the next Ensure).
type Manager struct {
	provider Provider
	store    IdentityStore
	cache    *TokenCache
	cfg      Config
	log      zerolog.Logger

	refreshes singleflight.Group

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewManager validates cfg and wires a Manager. Zero values take the
// defaults.
func NewManager(p Provider, store IdentityStore, cache *TokenCache, cfg Config, logger zerolog.Logger) (*Manager, error) {
	if p == nil || store == nil || cache == nil {
		return nil, errors.New("extauth: provider, store and cache required")
	}
	if len(cfg.ServerSecret) < 16 {
		return nil, errors.New("extauth: server secret must be at least 16 bytes")
	}

	def := DefaultConfig()
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = def.RefreshThreshold
	}
	if cfg.BlacklistTTL <= 0 {
		cfg.BlacklistTTL = def.BlacklistTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = def.RefreshTokenTTL
	}
	switch {
	case cfg.CreateRetries == 0:
		cfg.CreateRetries = def.CreateRetries
	case cfg.CreateRetries < 0:
		cfg.CreateRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}

	return &Manager{
		provider: p,
		store:    store,
		cache:    cache,
		cfg:      cfg,
		log:      logger,
		now:      time.Now,
		sleep:    sleepContext,
	}, nil
}

// DerivePassword returns the provider password for identityID. The server
// can always recompute it, so it is never stored.
func (m *Manager) DerivePassword(identityID string) string {
	mac := hmac.New(sha256.New, m.cfg.ServerSecret)
	mac.Write([]byte(identityID))
	return hex.EncodeToString(mac.Sum(nil))
}

func claimsFor(ident *identity.Identity) map[string]any {
	return map[string]any{
		"tenant_id":  ident.TenantID,
		"role_id":    ident.RoleID,
		"account_id": ident.ID,
	}
}

func (m *Manager) unavailable(ident *identity.Identity, step string, err error) error {
	m.log.Warn().Err(err).Str("identity_id", ident.ID).Str("step", step).Msg("external auth step failed")
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, step, err)
}

// Ensure makes sure ident has a provider user and returns a fresh pair.
// firstPassword, when set, is used only if a new provider user is created.
// Every failure is returned wrapped in ErrUnavailable.
func (m *Manager) Ensure(ctx context.Context, ident *identity.Identity, firstPassword string) (*Session, error) {
	if ident.ExternalUserID != "" {
		sess, err := m.ensureLinked(ctx, ident)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, errRecreate) {
			return nil, m.unavailable(ident, "validate", err)
		}

		m.log.Info().Str("identity_id", ident.ID).Msg("stale external user link cleared")
		if err := m.store.SetExternalUserID(ctx, ident.ID, ""); err != nil {
			return nil, m.unavailable(ident, "clear", err)
		}
		ident.ExternalUserID = ""
	}

	sess, _, err := m.provision(ctx, ident, firstPassword)
	if err != nil {
		return nil, m.unavailable(ident, "provision", err)
	}
	return sess, nil
}

// CreateExternalUser is Ensure for a freshly created identity. Failures are
// returned as *ProvisionError.
func (m *Manager) CreateExternalUser(ctx context.Context, ident *identity.Identity, password string) (*Session, error) {
	sess, createdID, err := m.provision(ctx, ident, password)
	if err != nil {
		return nil, &ProvisionError{CreatedUserID: createdID, Err: m.unavailable(ident, "create", err)}
	}
	return sess, nil
}

func (m *Manager) ensureLinked(ctx context.Context, ident *identity.Identity) (*Session, error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	u, err := m.provider.GetUser(cctx, ident.ExternalUserID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, errRecreate
		}
		return nil, err
	}

	sess, err := m.mint(ctx, ident, u)
	if err != nil {
		if IsTransient(err) {
			return nil, err
		}
		m.log.Warn().Err(err).Str("identity_id", ident.ID).Msg("external token mint failed on linked user")
		return nil, errRecreate
	}
	return sess, nil
}

// provision links an orphan provider user found by email or creates one.
// createdID is the id of a user created by this call, also on failure.
func (m *Manager) provision(ctx context.Context, ident *identity.Identity, firstPassword string) (sess *Session, createdID string, err error) {
	u, err := m.findByEmail(ctx, ident.Email)
	switch {
	case err == nil:
		if err := m.adopt(ctx, ident, u); err != nil {
			return nil, "", err
		}
	case errors.Is(err, ErrUserNotFound):
		u, err = m.create(ctx, ident, firstPassword)
		switch {
		case errors.Is(err, ErrUserExists):
			// Lost a creation race or a prior attempt half-succeeded.
			if u, err = m.findByEmail(ctx, ident.Email); err != nil {
				return nil, "", err
			}
			if err := m.adopt(ctx, ident, u); err != nil {
				return nil, "", err
			}
		case err != nil:
			return nil, "", err
		default:
			createdID = u.ID
		}
	default:
		return nil, "", err
	}

	if err := m.store.SetExternalUserID(ctx, ident.ID, u.ID); err != nil {
		return nil, createdID, err
	}
	ident.ExternalUserID = u.ID

	sess, err = m.mint(ctx, ident, u)
	if err != nil {
		return nil, createdID, err
	}
	sess.Created = createdID != ""
	return sess, createdID, nil
}

// adopt allows linking an existing provider user only when no other
// identity holds it. The provider keys users by email while identities are
// unique by email only within a tenant.
func (m *Manager) adopt(ctx context.Context, ident *identity.Identity, u *User) error {
	owner, err := m.store.ExternalUserOwner(ctx, u.ID)
	if err != nil {
		return err
	}
	if owner != "" && owner != ident.ID {
		m.log.Warn().Str("identity_id", ident.ID).Str("owner_id", owner).Msg("external user belongs to another identity")
		return ErrUserOwned
	}
	m.log.Info().Str("identity_id", ident.ID).Msg("orphan external user linked")
	return nil
}

func (m *Manager) findByEmail(ctx context.Context, email string) (*User, error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return m.provider.FindUserByEmail(cctx, email)
}

func (m *Manager) create(ctx context.Context, ident *identity.Identity, password string) (*User, error) {
	if password == "" {
		p, err := internal.NewRandomPassword()
		if err != nil {
			return nil, err
		}
		password = p
	}
	claims := claimsFor(ident)

	return retry(ctx, m.cfg.CreateRetries, m.cfg.BackoffBase, m.sleep, func(ctx context.Context) (*User, error) {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()
		return m.provider.CreateUser(cctx, ident.Email, password, claims)
	})
}

// mint sets the deterministic password with fresh claims, issues a pair and
// stores it.
func (m *Manager) mint(ctx context.Context, ident *identity.Identity, u *User) (*Session, error) {
	pw := m.DerivePassword(ident.ID)

	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	err := m.provider.SetPassword(cctx, u.ID, pw, claimsFor(ident))
	cancel()
	if err != nil {
		return nil, err
	}

	login := u.Email
	if login == "" {
		login = ident.Email
	}
	cctx, cancel = context.WithTimeout(ctx, m.cfg.CallTimeout)
	pair, err := m.provider.IssueTokens(cctx, login, pw)
	cancel()
	if err != nil {
		return nil, err
	}

	if err := m.persist(ctx, ident.ID, pair); err != nil {
		return nil, err
	}
	return &Session{
		ExternalUserID: u.ID,
		AccessToken:    pair.AccessToken,
		RefreshToken:   pair.RefreshToken,
		ExpiresAt:      pair.ExpiresAt,
	}, nil
}

func (m *Manager) persist(ctx context.Context, identityID string, pair *TokenPair) error {
	if err := m.store.SaveExternalTokens(ctx, identityID, pair); err != nil {
		return err
	}
	if err := m.cache.SetPair(ctx, identityID, pair, m.cfg.RefreshTokenTTL); err != nil {
		m.log.Warn().Err(err).Str("identity_id", identityID).Msg("external token cache write failed")
	}
	return nil
}

// Refresh returns a usable access token for identityID, rotating the pair
// when the current access token expires within the threshold.
func (m *Manager) Refresh(ctx context.Context, identityID string) (string, error) {
	if tok, exp, err := m.cache.GetAccess(ctx, identityID); err == nil {
		if exp.Sub(m.now()) > m.cfg.RefreshThreshold {
			return tok, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		m.log.Warn().Err(err).Str("identity_id", identityID).Msg("external token cache read failed")
	}

	stored, err := m.store.GetExternalTokens(ctx, identityID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if stored.AccessToken != "" && stored.ExpiresAt.Sub(m.now()) > m.cfg.RefreshThreshold {
		if err := m.cache.SetPair(ctx, identityID, stored, m.cfg.RefreshTokenTTL); err != nil {
			m.log.Warn().Err(err).Str("identity_id", identityID).Msg("external token cache write failed")
		}
		return stored.AccessToken, nil
	}

	if stored.RefreshToken == "" {
		return "", ErrNoExternalSession
	}

	sess, err := m.rotateOnce(ctx, identityID, stored.RefreshToken)
	if errors.Is(err, ErrRefreshReplayed) {
		// A client-presented rotation claimed the token first.
		latest, lerr := m.store.GetExternalTokens(ctx, identityID)
		if lerr == nil && latest.AccessToken != "" && latest.ExpiresAt.After(m.now()) {
			return latest.AccessToken, nil
		}
		return "", fmt.Errorf("%w: concurrent rotation", ErrUnavailable)
	}
	if err != nil {
		return "", err
	}
	return sess.AccessToken, nil
}

// RefreshWithToken rotates the pair for a client-presented refresh token.
// A token that was rotated out, that is not the current one, or that a
// concurrent caller already claimed is rejected with ErrRefreshReplayed.
// Client-presented rotations never share a result.
func (m *Manager) RefreshWithToken(ctx context.Context, identityID, presented string) (*Session, error) {
	if presented == "" {
		return nil, ErrNoExternalSession
	}

	blacklisted, err := m.cache.IsBlacklisted(ctx, presented)
	if err != nil {
		// The durable comparison below still catches replays.
		m.log.Warn().Err(err).Str("identity_id", identityID).Msg("refresh blacklist read failed")
	}
	if blacklisted {
		m.log.Warn().Str("identity_id", identityID).Msg("rotated refresh token replayed")
		return nil, ErrRefreshReplayed
	}

	stored, err := m.store.GetExternalTokens(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if stored.RefreshToken == "" {
		return nil, ErrNoExternalSession
	}
	if subtle.ConstantTimeCompare([]byte(stored.RefreshToken), []byte(presented)) != 1 {
		m.log.Warn().Str("identity_id", identityID).Msg("stale refresh token presented")
		return nil, ErrRefreshReplayed
	}

	return m.rotate(ctx, identityID, presented)
}

// rotateOnce collapses server-side refreshes of one identity.
func (m *Manager) rotateOnce(ctx context.Context, identityID, current string) (*Session, error) {
	v, err, _ := m.refreshes.Do(identityID, func() (any, error) {
		return m.rotate(ctx, identityID, current)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// rotate exchanges current for a new pair. current is first claimed on the
// durable row so exactly one caller reaches the provider with it. The old
// refresh token is blacklisted before the new pair is stored anywhere.
func (m *Manager) rotate(ctx context.Context, identityID, current string) (*Session, error) {
	claimed, err := m.store.SwapExternalRefreshToken(ctx, identityID, current, "")
	if err != nil {
		return nil, fmt.Errorf("%w: claim: %v", ErrUnavailable, err)
	}
	if !claimed {
		m.log.Warn().Str("identity_id", identityID).Msg("refresh token claimed by a concurrent rotation")
		return nil, ErrRefreshReplayed
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	pair, err := m.provider.RefreshTokens(cctx, current)
	cancel()
	if err != nil {
		if errors.Is(err, ErrRefreshRejected) {
			return nil, err
		}
		m.release(ctx, identityID, current)
		return nil, fmt.Errorf("%w: refresh: %v", ErrUnavailable, err)
	}

	if pair.RefreshToken == "" {
		pair.RefreshToken = current
	}
	if pair.RefreshToken != current {
		if err := m.cache.Blacklist(ctx, current, m.cfg.BlacklistTTL); err != nil {
			m.log.Warn().Err(err).Str("identity_id", identityID).Msg("refresh blacklist write failed")
		}
	}

	if err := m.persist(ctx, identityID, pair); err != nil {
		return nil, fmt.Errorf("%w: persist: %v", ErrUnavailable, err)
	}
	return &Session{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	}, nil
}

// release puts back a claimed token the provider never consumed.
func (m *Manager) release(ctx context.Context, identityID, current string) {
	if _, err := m.store.SwapExternalRefreshToken(ctx, identityID, "", current); err != nil {
		m.log.Warn().Err(err).Str("identity_id", identityID).Msg("refresh token release failed")
	}
}

// InvalidateAll drops the cached and persisted pair of identityID and
// blacklists its refresh token. The provider user is kept.
func (m *Manager) InvalidateAll(ctx context.Context, identityID string) error {
	stored, err := m.store.GetExternalTokens(ctx, identityID)
	if err == nil && stored.RefreshToken != "" {
		if err := m.cache.Blacklist(ctx, stored.RefreshToken, m.cfg.BlacklistTTL); err != nil {
			m.log.Warn().Err(err).Str("identity_id", identityID).Msg("refresh blacklist write failed")
		}
	}
	if err := m.cache.Clear(ctx, identityID); err != nil {
		m.log.Warn().Err(err).Str("identity_id", identityID).Msg("external token cache clear failed")
	}
	if err := m.store.ClearExternalTokens(ctx, identityID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteExternalUser removes a provider user. Missing users succeed.
func (m *Manager) DeleteExternalUser(ctx context.Context, externalUserID string) error {
	if externalUserID == "" {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	if err := m.provider.DeleteUser(cctx, externalUserID); err != nil && !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
