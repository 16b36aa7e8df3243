package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/hrauth/extauth"
	"github.com/MrEthical07/hrauth/identity"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var identityCols = []string{
	"id", "tenant_id", "email", "username", "role_id",
	"password", "key", "password_hash",
	"google_id", "google_email", "facebook_id", "facebook_email",
	"primary_provider", "email_verified", "active", "deleted", "external_user_id",
	"last_login_at", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return New(mock), mock
}

func identityRows(googleID string) *pgxmock.Rows {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return pgxmock.NewRows(identityCols).AddRow(
		"id-1", "t-1", "a@corp.test", "alice", "r-1",
		"", "", "$2a$12$hash",
		googleID, "a@gmail.test", "", "",
		"LOCAL", true, true, false, "ext-1",
		nil, created, created,
	)
}

func TestGetIdentityScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM identities WHERE id").
		WithArgs("id-1").
		WillReturnRows(identityRows("g-1"))

	ident, err := s.GetIdentity(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", ident.Username)
	assert.Equal(t, identity.ProviderLocal, ident.PrimaryProvider)
	assert.Equal(t, "g-1", ident.Google.ID)
	assert.True(t, ident.HasModernCredential())
	assert.False(t, ident.HasLegacyCredential())
	assert.Nil(t, ident.LastLoginAt)
	assert.Equal(t, "ext-1", ident.ExternalUserID)
}

func TestFindByLoginNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM identities").
		WithArgs("Alice@Corp.Test", "alice@corp.test", "").
		WillReturnRows(pgxmock.NewRows(identityCols))

	_, err := s.FindByLogin(context.Background(), "  Alice@Corp.Test ", "")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestFindByLoginScopedToTenant(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`tenant_id::text = \$3`).
		WithArgs("alice@corp.test", "alice@corp.test", "t-2").
		WillReturnRows(pgxmock.NewRows(identityCols))

	_, err := s.FindByLogin(context.Background(), "alice@corp.test", " t-2 ")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestFindByEmailScopedToTenant(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`tenant_id::text = \$2`).
		WithArgs("alice@corp.test", "t-1").
		WillReturnRows(identityRows(""))

	ident, err := s.FindByEmail(context.Background(), "Alice@Corp.Test", "t-1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", ident.ID)
}

func TestFindByProviderIDUsesProviderColumn(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("AND facebook_id = ").
		WithArgs("fb-1").
		WillReturnRows(identityRows(""))

	ident, err := s.FindByProviderID(context.Background(), identity.ProviderFacebook, "fb-1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", ident.ID)

	_, err = s.FindByProviderID(context.Background(), identity.ProviderLocal, "x")
	assert.ErrorIs(t, err, identity.ErrUnsupportedProvider)
}

func TestLinkProviderIfAbsent(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	link := identity.ProviderLink{ID: "g-1", Email: "A@Gmail.test"}

	mock.ExpectExec("UPDATE identities SET google_id").
		WithArgs("id-1", "g-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	wrote, err := s.LinkProviderIfAbsent(ctx, "id-1", identity.ProviderGoogle, link)
	require.NoError(t, err)
	assert.True(t, wrote)

	// Already linked: the IS NULL guard matches nothing.
	mock.ExpectExec("UPDATE identities SET google_id").
		WithArgs("id-1", "g-2", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	wrote, err = s.LinkProviderIfAbsent(ctx, "id-1", identity.ProviderGoogle, identity.ProviderLink{ID: "g-2"})
	require.NoError(t, err)
	assert.False(t, wrote)

	mock.ExpectExec("UPDATE identities SET google_id").
		WithArgs("id-2", "g-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "identities_google_id_key"})
	_, err = s.LinkProviderIfAbsent(ctx, "id-2", identity.ProviderGoogle, link)
	assert.ErrorIs(t, err, identity.ErrProviderTaken)
}

func TestUnlinkProviderGuardsLastMethod(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE identities SET google_id = NULL").
		WithArgs("id-1", "LOCAL", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UnlinkProvider(ctx, "id-1", identity.ProviderGoogle, identity.ProviderLocal))

	// A concurrent unlink removed the other method first.
	mock.ExpectExec("UPDATE identities SET facebook_id = NULL").
		WithArgs("id-1", "GOOGLE", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := s.UnlinkProvider(ctx, "id-1", identity.ProviderFacebook, identity.ProviderGoogle)
	assert.ErrorIs(t, err, identity.ErrLastAuthMethod)
}

func TestClearPasswordGuardsLastMethod(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE identities SET password_hash = NULL").
		WithArgs("id-1", "GOOGLE", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := s.ClearPassword(context.Background(), "id-1", identity.ProviderGoogle)
	assert.ErrorIs(t, err, identity.ErrLastAuthMethod)
}

func TestPasswordUpdates(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE identities SET password_hash = \\$2, updated_at").
		WithArgs("id-1", "h1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdatePasswordHash(ctx, "id-1", "h1"))

	mock.ExpectExec("password = NULL").
		WithArgs("id-1", "h2", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.ReplacePassword(ctx, "id-1", "h2"))

	mock.ExpectExec("UPDATE identities SET password_hash").
		WithArgs("missing", "h3", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, s.UpdatePasswordHash(ctx, "missing", "h3"), identity.ErrNotFound)
}

func TestExternalTokens(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour).UTC()

	mock.ExpectExec("UPDATE identities SET external_access_token").
		WithArgs("id-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.SaveExternalTokens(ctx, "id-1", &extauth.TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresAt: exp}))

	mock.ExpectQuery("SELECT .+ FROM identities WHERE id").
		WithArgs("id-1").
		WillReturnRows(pgxmock.NewRows([]string{"a", "r", "exp"}).AddRow("a", "r", &exp))
	pair, err := s.GetExternalTokens(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "r", pair.RefreshToken)
	assert.True(t, exp.Equal(pair.ExpiresAt))

	mock.ExpectQuery("SELECT .+ FROM identities WHERE id").
		WithArgs("id-2").
		WillReturnRows(pgxmock.NewRows([]string{"a", "r", "exp"}).AddRow("", "", nil))
	pair, err = s.GetExternalTokens(ctx, "id-2")
	require.NoError(t, err)
	assert.Empty(t, pair.RefreshToken)
	assert.True(t, pair.ExpiresAt.IsZero())

	mock.ExpectExec("UPDATE identities SET external_user_id = NULL").
		WithArgs("id-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.SetExternalUserID(ctx, "id-1", ""))

	mock.ExpectExec("UPDATE identities SET external_access_token = NULL").
		WithArgs("id-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.ClearExternalTokens(ctx, "id-1"))
}

func TestSwapExternalRefreshToken(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE identities SET external_refresh_token = \\$3").
		WithArgs("id-1", "r1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := s.SwapExternalRefreshToken(ctx, "id-1", "r1", "")
	require.NoError(t, err)
	assert.True(t, ok)

	// A concurrent rotation already took it.
	mock.ExpectExec("UPDATE identities SET external_refresh_token = \\$3").
		WithArgs("id-1", "r1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = s.SwapExternalRefreshToken(ctx, "id-1", "r1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExternalUserOwner(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT id::text FROM identities WHERE external_user_id").
		WithArgs("ext-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("id-1"))
	owner, err := s.ExternalUserOwner(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", owner)

	mock.ExpectQuery("SELECT id::text FROM identities WHERE external_user_id").
		WithArgs("ext-2").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	owner, err = s.ExternalUserOwner(ctx, "ext-2")
	require.NoError(t, err)
	assert.Empty(t, owner)

	mock.ExpectExec("UPDATE identities SET external_user_id = \\$2").
		WithArgs("id-2", "ext-1", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "identities_external_user_id_key"})
	assert.ErrorIs(t, s.SetExternalUserID(ctx, "id-2", "ext-1"), extauth.ErrUserOwned)
}

func TestMapUniqueViolation(t *testing.T) {
	cases := map[string]error{
		"identities_tenant_email_key":     identity.ErrDuplicateEmail,
		"identities_username_key":         identity.ErrDuplicateUsername,
		"identities_facebook_id_key":      identity.ErrProviderTaken,
		"identities_external_user_id_key": extauth.ErrUserOwned,
	}
	for constraint, want := range cases {
		err := mapUniqueViolation(&pgconn.PgError{Code: "23505", ConstraintName: constraint})
		assert.ErrorIs(t, err, want, constraint)
	}

	other := &pgconn.PgError{Code: "23503", ConstraintName: "identities_username_key"}
	assert.Same(t, other, mapUniqueViolation(other))

	plain := errors.New("conn reset")
	assert.Equal(t, plain, mapUniqueViolation(plain))
}
