package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/hrauth/identity"
	"github.com/MrEthical07/hrauth/internal"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("session token not found")
	// ErrSessionInactive is returned when the durable row is not active.
	ErrSessionInactive = errors.New("session token inactive")
	// ErrStoreUnavailable wraps durable store failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// DefaultCacheTTL bounds how long a mirrored entry may outlive an
// invalidation whose cache delete failed.
const DefaultCacheTTL = 24 * time.Hour

// Repository is the durable session-token table.
type Repository interface {
	CreateSessionToken(ctx context.Context, t *Token) error
	GetSessionToken(ctx context.Context, token string) (*Token, error)
	// DeactivateSessionToken flips an active row to inactive and returns its
	// identity id. A missing or already inactive row returns "", nil.
	DeactivateSessionToken(ctx context.Context, token string) (string, error)
	// DeactivateIdentitySessionTokens flips every active row of identityID
	// and returns the affected tokens.
	DeactivateIdentitySessionTokens(ctx context.Context, identityID string) ([]string, error)
	ListActiveSessionTokens(ctx context.Context, identityID string) ([]Token, error)
	UpdateSessionExternalTokens(ctx context.Context, token, access, refresh string) error
}

// CacheStore is the best-effort mirror. *Cache implements it.
type CacheStore interface {
	Save(ctx context.Context, token string, e *Entry, ttl time.Duration) error
	Get(ctx context.Context, token string) (*Entry, error)
	Delete(ctx context.Context, identityID, token string) error
	DeleteAll(ctx context.Context, identityID string, tokens []string) error
}

// IssuerConfig tunes an Issuer.
type IssuerConfig struct {
	CacheTTL time.Duration
}

// Issuer mints and invalidates session tokens across the durable store and
// the cache. The durable store decides; the cache only accelerates.
type Issuer struct {
	repo     Repository
	cache    CacheStore
	cacheTTL time.Duration
	log      zerolog.Logger

	now      func() time.Time
	newToken func() (string, error)
}

// NewIssuer wires an Issuer. cache may be nil.
func NewIssuer(repo Repository, cache CacheStore, cfg IssuerConfig, logger zerolog.Logger) *Issuer {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Issuer{
		repo:     repo,
		cache:    cache,
		cacheTTL: cfg.CacheTTL,
		log:      logger,
		now:      time.Now,
		newToken: internal.NewSessionToken,
	}
}

// Issue persists a new active token for ident, then mirrors it. Only the
// durable write can fail the call.
func (i *Issuer) Issue(ctx context.Context, ident *identity.Identity, meta DeviceMeta) (string, error) {
	token, err := i.newToken()
	if err != nil {
		return "", err
	}

	snap := SnapshotOf(ident)
	payload, err := EncodeSnapshot(snap)
	if err != nil {
		return "", err
	}

	now := i.now().UTC()
	row := &Token{
		Token:      token,
		IdentityID: ident.ID,
		TenantID:   ident.TenantID,
		Snapshot:   payload,
		Device:     meta.UserAgent,
		IP:         meta.IP,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := i.repo.CreateSessionToken(ctx, row); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	i.mirror(ctx, token, snap, now)
	return token, nil
}

func (i *Issuer) mirror(ctx context.Context, token string, snap Snapshot, now time.Time) {
	if i.cache == nil {
		return
	}
	entry := &Entry{
		Snapshot:  snap,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(i.cacheTTL).Unix(),
	}
	if err := i.cache.Save(ctx, token, entry, i.cacheTTL); err != nil {
		i.log.Warn().Err(err).Str("identity_id", snap.IdentityID).Msg("session cache write failed")
	}
}

// Invalidate deactivates token in both stores. Unknown and already inactive
// tokens succeed.
func (i *Issuer) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	identityID, err := i.repo.DeactivateSessionToken(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if i.cache != nil {
		if err := i.cache.Delete(ctx, identityID, token); err != nil {
			i.log.Warn().Err(err).Str("identity_id", identityID).Msg("session cache delete failed")
		}
	}
	return nil
}

// InvalidateAll deactivates every active token of identityID and returns
// how many rows changed.
func (i *Issuer) InvalidateAll(ctx context.Context, identityID string) (int, error) {
	tokens, err := i.repo.DeactivateIdentitySessionTokens(ctx, identityID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if i.cache != nil {
		if err := i.cache.DeleteAll(ctx, identityID, tokens); err != nil {
			i.log.Warn().Err(err).Str("identity_id", identityID).Msg("session cache sweep failed")
		}
	}
	return len(tokens), nil
}

// Validate returns the identity view for an active token. The cache is
// consulted first; any miss or cache error falls through to the durable
// row, which then re-warms the cache.
func (i *Issuer) Validate(ctx context.Context, token string) (*Entry, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	if i.cache != nil {
		entry, err := i.cache.Get(ctx, token)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			i.log.Warn().Err(err).Msg("session cache read failed")
		}
	}

	row, err := i.repo.GetSessionToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !row.Active() {
		return nil, ErrSessionInactive
	}

	snap, err := DecodeSnapshot(row.Snapshot)
	if err != nil {
		return nil, err
	}

	now := i.now().UTC()
	i.mirror(ctx, token, snap, now)
	return &Entry{
		Snapshot:  snap,
		IssuedAt:  row.CreatedAt.Unix(),
		ExpiresAt: now.Add(i.cacheTTL).Unix(),
	}, nil
}

// ListActive returns the active durable rows of identityID.
func (i *Issuer) ListActive(ctx context.Context, identityID string) ([]Token, error) {
	rows, err := i.repo.ListActiveSessionTokens(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rows, nil
}

// AttachExternal records the external token pair issued alongside token.
func (i *Issuer) AttachExternal(ctx context.Context, token, access, refresh string) error {
	if err := i.repo.UpdateSessionExternalTokens(ctx, token, access, refresh); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
