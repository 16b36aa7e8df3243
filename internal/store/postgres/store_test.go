package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/hrauth/identity"
	"github.com/MrEthical07/hrauth/internal/audit"
	"github.com/MrEthical07/hrauth/session"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// anyArgs matches n positional arguments of any value.
func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func testAccount() (*identity.Tenant, *identity.Identity, audit.Event) {
	t := &identity.Tenant{ID: "t-1", Name: "Acme", Active: true}
	ident := &identity.Identity{
		ID: "id-1", TenantID: "t-1", Email: "A@Corp.test", Username: "alice",
		PasswordHash: "$2a$12$hash", PrimaryProvider: identity.ProviderLocal, Active: true,
	}
	ev := audit.Event{Timestamp: time.Now(), EventType: "signup_success", IdentityID: "id-1", TenantID: "t-1", Success: true}
	return t, ident, ev
}

func TestCreateAccountCommits(t *testing.T) {
	s, mock := newMockStore(t)
	tenant, ident, ev := testAccount()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tenants").
		WithArgs("t-1", "Acme", true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO identities").
		WithArgs(append([]any{"id-1", "t-1", "a@corp.test", "alice"}, anyArgs(12)...)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO auth_audit_log").
		WithArgs(pgxmock.AnyArg(), "signup_success", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.CreateAccount(context.Background(), tenant, ident, ev))
	assert.False(t, ident.CreatedAt.IsZero())
}

func TestCreateAccountRollsBackOnDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	tenant, ident, ev := testAccount()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tenants").
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO identities").
		WithArgs(anyArgs(16)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "identities_username_key"})
	mock.ExpectRollback()

	err := s.CreateAccount(context.Background(), tenant, ident, ev)
	assert.ErrorIs(t, err, identity.ErrDuplicateUsername)
}

func TestGetTenant(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM tenants").
		WithArgs("t-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "active", "created_at", "updated_at"}).
			AddRow("t-1", "Acme", false, now, now))
	tenant, err := s.GetTenant(context.Background(), "t-1")
	require.NoError(t, err)
	assert.False(t, tenant.Active)

	mock.ExpectQuery("SELECT .+ FROM tenants").
		WithArgs("t-2").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "active", "created_at", "updated_at"}))
	_, err = s.GetTenant(context.Background(), "t-2")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

var sessionCols = []string{"token", "identity_id", "tenant_id", "payload", "device", "ip", "status",
	"external_access_token", "external_refresh_token", "created_at", "updated_at"}

func TestSessionRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec("INSERT INTO session_tokens").
		WithArgs("tok", "id-1", "t-1", "snap", "ua", "10.0.0.1", "active", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.CreateSessionToken(ctx, &session.Token{
		Token: "tok", IdentityID: "id-1", TenantID: "t-1", Snapshot: "snap", Device: "ua", IP: "10.0.0.1",
	}))

	mock.ExpectQuery("SELECT .+ FROM session_tokens WHERE token").
		WithArgs("tok").
		WillReturnRows(pgxmock.NewRows(sessionCols).
			AddRow("tok", "id-1", "t-1", "snap", "ua", "10.0.0.1", "inactive", "", "", now, now))
	row, err := s.GetSessionToken(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, row.Active())

	mock.ExpectQuery("SELECT .+ FROM session_tokens WHERE token").
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows(sessionCols))
	_, err = s.GetSessionToken(ctx, "nope")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestDeactivateSessionTokenIdempotent(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("UPDATE session_tokens SET status = 'inactive'").
		WithArgs("tok", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"identity_id"}).AddRow("id-1"))
	id, err := s.DeactivateSessionToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)

	mock.ExpectQuery("UPDATE session_tokens SET status = 'inactive'").
		WithArgs("tok", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"identity_id"}))
	id, err = s.DeactivateSessionToken(ctx, "tok")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestDeactivateIdentitySessionTokens(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE session_tokens SET status = 'inactive'").
		WithArgs("id-1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"token"}).AddRow("a").AddRow("b"))
	tokens, err := s.DeactivateIdentitySessionTokens(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tokens)
}

func TestAcceptInvite(t *testing.T) {
	s, mock := newMockStore(t)
	ident := &identity.Identity{ID: "id-9", Username: "bob", PasswordHash: "h"}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE invites SET status = 'accepted'").
		WithArgs("inv-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE identities SET username").
		WithArgs("id-9", "bob", "h", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	require.NoError(t, s.AcceptInvite(context.Background(), "inv-1", ident))
}

func TestAcceptInviteNotPending(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE invites SET status = 'accepted'").
		WithArgs("inv-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.AcceptInvite(context.Background(), "inv-1", &identity.Identity{ID: "id-9"})
	assert.ErrorIs(t, err, identity.ErrInviteNotPending)
}

func TestCancelInviteDeletesPlaceholder(t *testing.T) {
	s, mock := newMockStore(t)
	placeholder := "id-9"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE invites SET status = 'cancelled'").
		WithArgs("inv-1", pgxmock.AnyArg(), "t-1").
		WillReturnRows(pgxmock.NewRows([]string{"identity_id"}).AddRow(&placeholder))
	mock.ExpectExec("DELETE FROM identities").
		WithArgs("id-9").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.CancelInvite(context.Background(), "t-1", "inv-1"))
}

func TestCancelInviteOtherTenant(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE invites SET status = 'cancelled'").
		WithArgs("inv-1", pgxmock.AnyArg(), "t-2").
		WillReturnRows(pgxmock.NewRows([]string{"identity_id"}))
	mock.ExpectRollback()

	err := s.CancelInvite(context.Background(), "t-2", "inv-1")
	assert.ErrorIs(t, err, identity.ErrInviteNotPending)
}

func TestCreateInvite(t *testing.T) {
	s, mock := newMockStore(t)
	inv := &identity.Invite{ID: "inv-1", TenantID: "t-1", Email: "bob@corp.test", ExpiresAt: time.Now().Add(time.Hour)}
	placeholder := &identity.Identity{ID: "id-9", TenantID: "t-1", Email: "bob@corp.test", Username: "invite-abcdefgh"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO identities").
		WithArgs(append([]any{"id-9", "t-1", "bob@corp.test", "invite-abcdefgh"}, anyArgs(12)...)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO invites").
		WithArgs(append([]any{"inv-1", "t-1", "id-9", "bob@corp.test"}, anyArgs(5)...)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.CreateInvite(context.Background(), inv, placeholder))
	assert.Equal(t, "id-9", inv.IdentityID)
	assert.Equal(t, identity.InvitePending, inv.Status)
}

func TestInsertAuditEvent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO auth_audit_log").
		WithArgs(pgxmock.AnyArg(), "login_failure", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), false, pgxmock.AnyArg(), []byte(`{"reason":"identity_not_found"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.InsertAuditEvent(context.Background(), audit.Event{
		Timestamp: time.Now(),
		EventType: "login_failure",
		Metadata:  map[string]string{"reason": "identity_not_found"},
	})
	require.NoError(t, err)
}

func TestMigrateDBRunsEmbeddedMigrations(t *testing.T) {
	orig := gooseRun
	t.Cleanup(func() { gooseRun = orig })

	var gotCmd, gotDir string
	gooseRun = func(_ context.Context, command string, _ *sql.DB, dir string, _ ...string) error {
		gotCmd, gotDir = command, dir
		return nil
	}
	require.NoError(t, MigrateDB(context.Background(), nil, "up"))
	assert.Equal(t, "up", gotCmd)
	assert.Equal(t, "migrations", gotDir)

	gooseRun = func(context.Context, string, *sql.DB, string, ...string) error {
		return errors.New("dirty")
	}
	assert.ErrorContains(t, MigrateDB(context.Background(), nil, "down"), "goose down")

	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
