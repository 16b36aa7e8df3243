package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/hrauth/extauth"
	"github.com/MrEthical07/hrauth/identity"
	"github.com/jackc/pgx/v5"
)

const identityColumns = `id::text, tenant_id::text, email, username, COALESCE(role_id, ''),
	COALESCE(password, ''), COALESCE("key", ''), COALESCE(password_hash, ''),
	COALESCE(google_id, ''), COALESCE(google_email, ''),
	COALESCE(facebook_id, ''), COALESCE(facebook_email, ''),
	primary_provider, email_verified, active, deleted, COALESCE(external_user_id, ''),
	last_login_at, created_at, updated_at`

func scanIdentity(row pgx.Row) (*identity.Identity, error) {
	var (
		ident   identity.Identity
		primary string
	)
	err := row.Scan(
		&ident.ID, &ident.TenantID, &ident.Email, &ident.Username, &ident.RoleID,
		&ident.LegacyPassword, &ident.LegacyKey, &ident.PasswordHash,
		&ident.Google.ID, &ident.Google.Email,
		&ident.Facebook.ID, &ident.Facebook.Email,
		&primary, &ident.EmailVerified, &ident.Active, &ident.Deleted, &ident.ExternalUserID,
		&ident.LastLoginAt, &ident.CreatedAt, &ident.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	ident.PrimaryProvider = identity.Provider(primary)
	return &ident, nil
}

// providerColumns returns the id and email columns for an external provider.
func providerColumns(p identity.Provider) (string, string, error) {
	switch p {
	case identity.ProviderGoogle:
		return "google_id", "google_email", nil
	case identity.ProviderFacebook:
		return "facebook_id", "facebook_email", nil
	}
	return "", "", identity.ErrUnsupportedProvider
}

// GetIdentity loads an identity by id, deleted rows included.
func (s *Store) GetIdentity(ctx context.Context, id string) (*identity.Identity, error) {
	return scanIdentity(s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id))
}

// FindByLogin matches a username exactly or an email case-insensitively.
// A non-empty tenantID limits the match to that tenant; otherwise an email
// held in several tenants resolves to the oldest identity.
// A username match wins over an email match.
func (s *Store) FindByLogin(ctx context.Context, login, tenantID string) (*identity.Identity, error) {
	login = strings.TrimSpace(login)
	return scanIdentity(s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities
		WHERE NOT deleted AND (username = $1 OR email = $2)
		AND ($3 = '' OR tenant_id::text = $3)
		ORDER BY username = $1 DESC, created_at
		LIMIT 1`, login, identity.NormalizeEmail(login), strings.TrimSpace(tenantID)))
}

// FindByEmail matches the primary email, scoped like FindByLogin.
func (s *Store) FindByEmail(ctx context.Context, email, tenantID string) (*identity.Identity, error) {
	return scanIdentity(s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities
		WHERE NOT deleted AND email = $1
		AND ($2 = '' OR tenant_id::text = $2)
		ORDER BY created_at
		LIMIT 1`, identity.NormalizeEmail(email), strings.TrimSpace(tenantID)))
}

// FindByProviderID matches the stored provider user id.
func (s *Store) FindByProviderID(ctx context.Context, p identity.Provider, providerID string) (*identity.Identity, error) {
	idCol, _, err := providerColumns(p)
	if err != nil {
		return nil, err
	}
	return scanIdentity(s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities
		WHERE NOT deleted AND `+idCol+` = $1`, providerID))
}

// FindByProviderEmail matches the stored provider email.
func (s *Store) FindByProviderEmail(ctx context.Context, p identity.Provider, email string) (*identity.Identity, error) {
	_, emailCol, err := providerColumns(p)
	if err != nil {
		return nil, err
	}
	return scanIdentity(s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities
		WHERE NOT deleted AND `+emailCol+` = $1
		ORDER BY created_at
		LIMIT 1`, identity.NormalizeEmail(email)))
}

// LinkProviderIfAbsent stores link only while the provider id is NULL.
func (s *Store) LinkProviderIfAbsent(ctx context.Context, identityID string, p identity.Provider, link identity.ProviderLink) (bool, error) {
	idCol, emailCol, err := providerColumns(p)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE identities SET `+idCol+` = $2, `+emailCol+` = $3, updated_at = $4
		WHERE id = $1 AND `+idCol+` IS NULL`,
		identityID, link.ID, nullable(identity.NormalizeEmail(link.Email)), s.now())
	if err != nil {
		return false, mapUniqueViolation(err)
	}
	return tag.RowsAffected() == 1, nil
}

// UnlinkProvider clears the provider link and sets primary. The statement
// only applies while another method remains, so concurrent unlinks cannot
// strip the last one.
func (s *Store) UnlinkProvider(ctx context.Context, identityID string, p identity.Provider, primary identity.Provider) error {
	idCol, emailCol, err := providerColumns(p)
	if err != nil {
		return err
	}
	otherCol := "facebook_id"
	if p == identity.ProviderFacebook {
		otherCol = "google_id"
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE identities SET `+idCol+` = NULL, `+emailCol+` = NULL, primary_provider = $2, updated_at = $3
		WHERE id = $1 AND `+idCol+` IS NOT NULL
		AND (password_hash IS NOT NULL OR (password IS NOT NULL AND "key" IS NOT NULL) OR `+otherCol+` IS NOT NULL)`,
		identityID, string(primary), s.now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrLastAuthMethod
	}
	return nil
}

// ClearPassword drops the modern and legacy credentials while a provider
// link remains.
func (s *Store) ClearPassword(ctx context.Context, identityID string, primary identity.Provider) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE identities SET password_hash = NULL, password = NULL, "key" = NULL, primary_provider = $2, updated_at = $3
		WHERE id = $1 AND (google_id IS NOT NULL OR facebook_id IS NOT NULL)`,
		identityID, string(primary), s.now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrLastAuthMethod
	}
	return nil
}

// UpdatePasswordHash stores a bcrypt hash. Legacy fields are kept.
func (s *Store) UpdatePasswordHash(ctx context.Context, identityID, hash string) error {
	return s.execOne(ctx,
		`UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		identityID, hash, s.now())
}

// ReplacePassword stores a new bcrypt hash and drops the legacy credential.
func (s *Store) ReplacePassword(ctx context.Context, identityID, hash string) error {
	return s.execOne(ctx,
		`UPDATE identities SET password_hash = $2, password = NULL, "key" = NULL, updated_at = $3 WHERE id = $1`,
		identityID, hash, s.now())
}

// SetEmailVerified marks the primary email verified.
func (s *Store) SetEmailVerified(ctx context.Context, identityID string) error {
	return s.execOne(ctx,
		`UPDATE identities SET email_verified = true, updated_at = $2 WHERE id = $1`,
		identityID, s.now())
}

// TouchLastLogin records a successful login.
func (s *Store) TouchLastLogin(ctx context.Context, identityID string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE identities SET last_login_at = $2 WHERE id = $1`, identityID, at)
	return err
}

// SetExternalUserID links the secondary-provider user. An empty id clears
// the link and the persisted tokens.
func (s *Store) SetExternalUserID(ctx context.Context, identityID, externalUserID string) error {
	if externalUserID == "" {
		return s.execOne(ctx,
			`UPDATE identities SET external_user_id = NULL, external_access_token = NULL,
			external_refresh_token = NULL, external_token_expires_at = NULL, updated_at = $2
			WHERE id = $1`, identityID, s.now())
	}
	err := s.execOne(ctx,
		`UPDATE identities SET external_user_id = $2, updated_at = $3 WHERE id = $1`,
		identityID, externalUserID, s.now())
	return mapUniqueViolation(err)
}

// ExternalUserOwner returns the identity linked to externalUserID, or "".
func (s *Store) ExternalUserOwner(ctx context.Context, externalUserID string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx,
		`SELECT id::text FROM identities WHERE external_user_id = $1`, externalUserID).Scan(&id)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// SwapExternalRefreshToken is a compare-and-set on the persisted refresh
// token. Empty strings stand for NULL.
func (s *Store) SwapExternalRefreshToken(ctx context.Context, identityID, old, next string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE identities SET external_refresh_token = $3
		WHERE id = $1 AND COALESCE(external_refresh_token, '') = $2`,
		identityID, old, nullable(next))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SaveExternalTokens persists the current external pair.
func (s *Store) SaveExternalTokens(ctx context.Context, identityID string, pair *extauth.TokenPair) error {
	return s.execOne(ctx,
		`UPDATE identities SET external_access_token = $2, external_refresh_token = $3,
		external_token_expires_at = $4 WHERE id = $1`,
		identityID, nullable(pair.AccessToken), nullable(pair.RefreshToken), nullableTime(pair.ExpiresAt))
}

// GetExternalTokens returns the persisted pair; empty fields when none.
func (s *Store) GetExternalTokens(ctx context.Context, identityID string) (*extauth.TokenPair, error) {
	var (
		pair extauth.TokenPair
		exp  *time.Time
	)
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(external_access_token, ''), COALESCE(external_refresh_token, ''), external_token_expires_at
		FROM identities WHERE id = $1`, identityID).Scan(&pair.AccessToken, &pair.RefreshToken, &exp)
	if err != nil {
		if isNoRows(err) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	if exp != nil {
		pair.ExpiresAt = *exp
	}
	return &pair, nil
}

// ClearExternalTokens drops the persisted pair; the external user link stays.
func (s *Store) ClearExternalTokens(ctx context.Context, identityID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE identities SET external_access_token = NULL, external_refresh_token = NULL,
		external_token_expires_at = NULL WHERE id = $1`, identityID)
	return err
}

func insertIdentity(ctx context.Context, q Querier, ident *identity.Identity) error {
	primary := ident.PrimaryProvider
	if primary == "" {
		primary = identity.ProviderLocal
	}
	_, err := q.Exec(ctx,
		`INSERT INTO identities (id, tenant_id, email, username, role_id,
			password, "key", password_hash,
			google_id, google_email, facebook_id, facebook_email,
			primary_provider, email_verified, active, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, false, $16, $16)`,
		ident.ID, ident.TenantID, identity.NormalizeEmail(ident.Email), ident.Username, nullable(ident.RoleID),
		nullable(ident.LegacyPassword), nullable(ident.LegacyKey), nullable(ident.PasswordHash),
		nullable(ident.Google.ID), nullable(ident.Google.Email),
		nullable(ident.Facebook.ID), nullable(ident.Facebook.Email),
		string(primary), ident.EmailVerified, ident.Active, ident.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert identity: %w", mapUniqueViolation(err))
	}
	return nil
}

// execOne runs a single-row update and reports identity.ErrNotFound when
// nothing matched.
func (s *Store) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}
