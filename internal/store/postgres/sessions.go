package postgres

import (
	"context"

	"github.com/MrEthical07/hrauth/session"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `token, identity_id::text, tenant_id::text, payload, device, ip, status,
	COALESCE(external_access_token, ''), COALESCE(external_refresh_token, ''), created_at, updated_at`

func scanSession(row pgx.Row) (*session.Token, error) {
	var (
		t      session.Token
		status string
	)
	err := row.Scan(&t.Token, &t.IdentityID, &t.TenantID, &t.Snapshot, &t.Device, &t.IP, &status,
		&t.ExternalAccessToken, &t.ExternalRefreshToken, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = session.Status(status)
	return &t, nil
}

// CreateSessionToken inserts an active session row.
func (s *Store) CreateSessionToken(ctx context.Context, t *session.Token) error {
	if t.CreatedAt.IsZero() {
		now := s.now()
		t.CreatedAt, t.UpdatedAt = now, now
	}
	if t.Status == "" {
		t.Status = session.StatusActive
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO session_tokens (token, identity_id, tenant_id, payload, device, ip, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		t.Token, t.IdentityID, t.TenantID, t.Snapshot, t.Device, t.IP, string(t.Status), t.CreatedAt)
	return err
}

// GetSessionToken loads a row regardless of status.
func (s *Store) GetSessionToken(ctx context.Context, token string) (*session.Token, error) {
	t, err := scanSession(s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM session_tokens WHERE token = $1`, token))
	if err != nil {
		if isNoRows(err) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// DeactivateSessionToken flips one active row. Missing or inactive rows
// return "", nil.
func (s *Store) DeactivateSessionToken(ctx context.Context, token string) (string, error) {
	var identityID string
	err := s.db.QueryRow(ctx,
		`UPDATE session_tokens SET status = 'inactive', updated_at = $2
		WHERE token = $1 AND status = 'active'
		RETURNING identity_id::text`, token, s.now()).Scan(&identityID)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return identityID, nil
}

// DeactivateIdentitySessionTokens flips every active row of identityID.
func (s *Store) DeactivateIdentitySessionTokens(ctx context.Context, identityID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE session_tokens SET status = 'inactive', updated_at = $2
		WHERE identity_id = $1 AND status = 'active'
		RETURNING token`, identityID, s.now())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListActiveSessionTokens returns active rows, newest first.
func (s *Store) ListActiveSessionTokens(ctx context.Context, identityID string) ([]session.Token, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM session_tokens
		WHERE identity_id = $1 AND status = 'active'
		ORDER BY created_at DESC`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Token
	for rows.Next() {
		t, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateSessionExternalTokens mirrors the external pair onto the row.
func (s *Store) UpdateSessionExternalTokens(ctx context.Context, token, access, refresh string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE session_tokens SET external_access_token = $2, external_refresh_token = $3, updated_at = $4
		WHERE token = $1`, token, nullable(access), nullable(refresh), s.now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}
