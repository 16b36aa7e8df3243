package postgres

import (
	"errors"

	"github.com/MrEthical07/hrauth/extauth"
	"github.com/MrEthical07/hrauth/identity"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

var constraintErrors = map[string]error{
	"identities_tenant_email_key":     identity.ErrDuplicateEmail,
	"identities_username_key":         identity.ErrDuplicateUsername,
	"identities_google_id_key":        identity.ErrProviderTaken,
	"identities_facebook_id_key":      identity.ErrProviderTaken,
	"identities_external_user_id_key": extauth.ErrUserOwned,
}

// mapUniqueViolation translates known unique constraints into domain
// sentinels. Other errors are returned unchanged.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	if mapped, ok := constraintErrors[pgErr.ConstraintName]; ok {
		return mapped
	}
	return err
}
