package postgres

import (
	"context"
	"fmt"

	"github.com/MrEthical07/hrauth/identity"
)

// CreateInvite inserts the placeholder identity and the invite together.
func (s *Store) CreateInvite(ctx context.Context, inv *identity.Invite, placeholder *identity.Identity) error {
	now := s.now()
	inv.CreatedAt, inv.UpdatedAt = now, now
	placeholder.CreatedAt, placeholder.UpdatedAt = now, now
	if inv.Status == "" {
		inv.Status = identity.InvitePending
	}

	return s.withTx(ctx, func(q Querier) error {
		if err := insertIdentity(ctx, q, placeholder); err != nil {
			return err
		}
		_, err := q.Exec(ctx,
			`INSERT INTO invites (id, tenant_id, identity_id, email, role_id, invited_by, status, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
			inv.ID, inv.TenantID, placeholder.ID, identity.NormalizeEmail(inv.Email), nullable(inv.RoleID),
			nullable(inv.InvitedBy), string(inv.Status), inv.ExpiresAt, now)
		if err != nil {
			return fmt.Errorf("insert invite: %w", err)
		}
		inv.IdentityID = placeholder.ID
		return nil
	})
}

// GetInvite loads an invite by id.
func (s *Store) GetInvite(ctx context.Context, id string) (*identity.Invite, error) {
	var (
		inv    identity.Invite
		status string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id::text, tenant_id::text, COALESCE(identity_id::text, ''), email, COALESCE(role_id, ''),
		COALESCE(invited_by, ''), status, expires_at, created_at, updated_at
		FROM invites WHERE id = $1`, id).
		Scan(&inv.ID, &inv.TenantID, &inv.IdentityID, &inv.Email, &inv.RoleID,
			&inv.InvitedBy, &status, &inv.ExpiresAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	inv.Status = identity.InviteStatus(status)
	return &inv, nil
}

// AcceptInvite marks a pending, unexpired invite accepted and activates its
// placeholder with the chosen username and password hash.
func (s *Store) AcceptInvite(ctx context.Context, inviteID string, ident *identity.Identity) error {
	now := s.now()
	return s.withTx(ctx, func(q Querier) error {
		tag, err := q.Exec(ctx,
			`UPDATE invites SET status = 'accepted', updated_at = $2
			WHERE id = $1 AND status = 'pending' AND expires_at > $2`, inviteID, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return identity.ErrInviteNotPending
		}

		tag, err = q.Exec(ctx,
			`UPDATE identities SET username = $2, password_hash = $3, email_verified = true, active = true, updated_at = $4
			WHERE id = $1 AND NOT active AND NOT deleted`,
			ident.ID, ident.Username, ident.PasswordHash, now)
		if err != nil {
			return mapUniqueViolation(err)
		}
		if tag.RowsAffected() == 0 {
			return identity.ErrInviteNotPending
		}
		return nil
	})
}

// CancelInvite marks a pending invite of tenantID cancelled and
// hard-deletes its never-activated placeholder.
func (s *Store) CancelInvite(ctx context.Context, tenantID, inviteID string) error {
	now := s.now()
	return s.withTx(ctx, func(q Querier) error {
		var identityID *string
		err := q.QueryRow(ctx,
			`UPDATE invites SET status = 'cancelled', updated_at = $2
			WHERE id = $1 AND tenant_id = $3 AND status = 'pending'
			RETURNING identity_id::text`, inviteID, now, tenantID).Scan(&identityID)
		if err != nil {
			if isNoRows(err) {
				return identity.ErrInviteNotPending
			}
			return err
		}
		if identityID == nil {
			return nil
		}
		_, err = q.Exec(ctx, `DELETE FROM identities WHERE id = $1 AND NOT active`, *identityID)
		return err
	})
}
