package postgres

import (
	"context"
	"fmt"

	"github.com/MrEthical07/hrauth/identity"
	"github.com/MrEthical07/hrauth/internal/audit"
)

// GetTenant loads a tenant by id.
func (s *Store) GetTenant(ctx context.Context, id string) (*identity.Tenant, error) {
	var t identity.Tenant
	err := s.db.QueryRow(ctx,
		`SELECT id::text, name, active, created_at, updated_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// SetTenantActive flips the tenant's active flag.
func (s *Store) SetTenantActive(ctx context.Context, id string, active bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tenants SET active = $2, updated_at = $3 WHERE id = $1`, id, active, s.now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// CreateAccount inserts the tenant, its first identity and the signup audit
// row in one transaction.
func (s *Store) CreateAccount(ctx context.Context, t *identity.Tenant, ident *identity.Identity, ev audit.Event) error {
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt, t.UpdatedAt = now, now
	}
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt, ident.UpdatedAt = now, now
	}

	return s.withTx(ctx, func(q Querier) error {
		if _, err := q.Exec(ctx,
			`INSERT INTO tenants (id, name, active, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`,
			t.ID, t.Name, t.Active, t.CreatedAt); err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}
		if err := insertIdentity(ctx, q, ident); err != nil {
			return err
		}
		return insertAudit(ctx, q, ev)
	})
}

// DeleteTenant hard-deletes a tenant; identities and sessions cascade.
// Used only to compensate a failed signup.
func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	return err
}
