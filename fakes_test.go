package hrauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/hrauth/extauth"
	"github.com/MrEthical07/hrauth/identity"
	"github.com/MrEthical07/hrauth/password"
	"github.com/MrEthical07/hrauth/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

/*
====================================
IN-MEMORY DIRECTORY
====================================
*/

type memDirectory struct {
	mu sync.Mutex

	tenants   map[string]identity.Tenant
	idents    map[string]identity.Identity
	invites   map[string]identity.Invite
	sessions  map[string]session.Token
	extTokens map[string]extauth.TokenPair
	auditRows []AuditEvent

	createSessionErr error
	createAccountErr error
	deactivateAllErr error
	pingErr          error
	seq              int
}

var (
	_ Directory          = (*memDirectory)(nil)
	_ session.Repository = (*memDirectory)(nil)
)

func newMemDirectory() *memDirectory {
	return &memDirectory{
		tenants:   map[string]identity.Tenant{},
		idents:    map[string]identity.Identity{},
		invites:   map[string]identity.Invite{},
		sessions:  map[string]session.Token{},
		extTokens: map[string]extauth.TokenPair{},
	}
}

func (d *memDirectory) addTenant(id string, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[id] = identity.Tenant{ID: id, Name: "Tenant " + id, Active: active}
}

func (d *memDirectory) addIdentity(ident identity.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	ident.CreatedAt = time.Unix(int64(d.seq), 0)
	d.idents[ident.ID] = ident
}

func (d *memDirectory) stored(id string) identity.Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idents[id]
}

func (d *memDirectory) activeSessions(identityID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sessions {
		if s.IdentityID == identityID && s.Active() {
			n++
		}
	}
	return n
}

func (d *memDirectory) get(id string) (*identity.Identity, error) {
	ident, ok := d.idents[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return &ident, nil
}

func (d *memDirectory) GetIdentity(_ context.Context, id string) (*identity.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.get(id)
}

func (d *memDirectory) FindByLogin(_ context.Context, login, tenantID string) (*identity.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	login = strings.TrimSpace(login)
	inScope := func(i identity.Identity) bool { return tenantID == "" || i.TenantID == tenantID }
	for _, ident := range d.idents {
		if ident.Username == login && !ident.Deleted && inScope(ident) {
			c := ident
			return &c, nil
		}
	}
	return d.oldest(func(i identity.Identity) bool { return i.Email == identity.NormalizeEmail(login) && inScope(i) })
}

func (d *memDirectory) oldest(match func(identity.Identity) bool) (*identity.Identity, error) {
	var found *identity.Identity
	for _, ident := range d.idents {
		if ident.Deleted || !match(ident) {
			continue
		}
		if found == nil || ident.CreatedAt.Before(found.CreatedAt) {
			c := ident
			found = &c
		}
	}
	if found == nil {
		return nil, identity.ErrNotFound
	}
	return found, nil
}

func (d *memDirectory) FindByEmail(_ context.Context, email, tenantID string) (*identity.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.oldest(func(i identity.Identity) bool {
		return i.Email == identity.NormalizeEmail(email) && (tenantID == "" || i.TenantID == tenantID)
	})
}

func (d *memDirectory) FindByProviderID(_ context.Context, p identity.Provider, providerID string) (*identity.Identity, error) {
	if !p.External() {
		return nil, identity.ErrUnsupportedProvider
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.oldest(func(i identity.Identity) bool { return i.Link(p).ID == providerID })
}

func (d *memDirectory) FindByProviderEmail(_ context.Context, p identity.Provider, email string) (*identity.Identity, error) {
	if !p.External() {
		return nil, identity.ErrUnsupportedProvider
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.oldest(func(i identity.Identity) bool { return i.Link(p).Email == email })
}

func (d *memDirectory) LinkProviderIfAbsent(_ context.Context, identityID string, p identity.Provider, link identity.ProviderLink) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, other := range d.idents {
		if id != identityID && other.Link(p).ID == link.ID {
			return false, identity.ErrProviderTaken
		}
	}
	ident, ok := d.idents[identityID]
	if !ok {
		return false, identity.ErrNotFound
	}
	if ident.Link(p).Linked() {
		return false, nil
	}
	ident.SetLink(p, link)
	d.idents[identityID] = ident
	return true, nil
}

func (d *memDirectory) GetTenant(_ context.Context, id string) (*identity.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tenants[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return &t, nil
}

func (d *memDirectory) duplicate(ident *identity.Identity) error {
	for id, other := range d.idents {
		if id == ident.ID {
			continue
		}
		if other.Username == ident.Username {
			return identity.ErrDuplicateUsername
		}
		if other.TenantID == ident.TenantID && other.Email == ident.Email {
			return identity.ErrDuplicateEmail
		}
	}
	return nil
}

func (d *memDirectory) CreateAccount(_ context.Context, t *identity.Tenant, ident *identity.Identity, ev AuditEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createAccountErr != nil {
		return d.createAccountErr
	}
	if err := d.duplicate(ident); err != nil {
		return err
	}
	d.seq++
	ident.CreatedAt = time.Unix(int64(d.seq), 0)
	d.tenants[t.ID] = *t
	d.idents[ident.ID] = *ident
	d.auditRows = append(d.auditRows, ev)
	return nil
}

func (d *memDirectory) DeleteTenant(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tenants, id)
	for iid, ident := range d.idents {
		if ident.TenantID == id {
			delete(d.idents, iid)
		}
	}
	for tok, s := range d.sessions {
		if s.TenantID == id {
			delete(d.sessions, tok)
		}
	}
	return nil
}

func (d *memDirectory) update(id string, fn func(*identity.Identity) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ident, ok := d.idents[id]
	if !ok {
		return identity.ErrNotFound
	}
	if err := fn(&ident); err != nil {
		return err
	}
	d.idents[id] = ident
	return nil
}

func (d *memDirectory) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return d.update(id, func(i *identity.Identity) error {
		i.PasswordHash = hash
		return nil
	})
}

func (d *memDirectory) ReplacePassword(_ context.Context, id, hash string) error {
	return d.update(id, func(i *identity.Identity) error {
		i.PasswordHash = hash
		i.LegacyPassword, i.LegacyKey = "", ""
		return nil
	})
}

func (d *memDirectory) ClearPassword(_ context.Context, id string, primary identity.Provider) error {
	return d.update(id, func(i *identity.Identity) error {
		if len(i.LinkedProviders()) == 0 {
			return identity.ErrLastAuthMethod
		}
		i.PasswordHash, i.LegacyPassword, i.LegacyKey = "", "", ""
		i.PrimaryProvider = primary
		return nil
	})
}

func (d *memDirectory) UnlinkProvider(_ context.Context, id string, p, primary identity.Provider) error {
	return d.update(id, func(i *identity.Identity) error {
		if i.AuthMethodCount() <= 1 {
			return identity.ErrLastAuthMethod
		}
		i.SetLink(p, identity.ProviderLink{})
		i.PrimaryProvider = primary
		return nil
	})
}

func (d *memDirectory) SetEmailVerified(_ context.Context, id string) error {
	return d.update(id, func(i *identity.Identity) error {
		i.EmailVerified = true
		return nil
	})
}

func (d *memDirectory) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	return d.update(id, func(i *identity.Identity) error {
		i.LastLoginAt = &at
		return nil
	})
}

func (d *memDirectory) CreateInvite(_ context.Context, inv *identity.Invite, placeholder *identity.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.duplicate(placeholder); err != nil {
		return err
	}
	d.seq++
	placeholder.CreatedAt = time.Unix(int64(d.seq), 0)
	d.idents[placeholder.ID] = *placeholder
	inv.IdentityID = placeholder.ID
	inv.Status = identity.InvitePending
	d.invites[inv.ID] = *inv
	return nil
}

func (d *memDirectory) GetInvite(_ context.Context, id string) (*identity.Invite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inv, ok := d.invites[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return &inv, nil
}

func (d *memDirectory) AcceptInvite(_ context.Context, inviteID string, ident *identity.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	inv, ok := d.invites[inviteID]
	if !ok || inv.Status != identity.InvitePending {
		return identity.ErrInviteNotPending
	}
	if err := d.duplicate(ident); err != nil {
		return err
	}
	stored := d.idents[ident.ID]
	if stored.Active {
		return identity.ErrInviteNotPending
	}
	stored.Username = ident.Username
	stored.PasswordHash = ident.PasswordHash
	stored.EmailVerified = true
	stored.Active = true
	d.idents[ident.ID] = stored
	inv.Status = identity.InviteAccepted
	d.invites[inviteID] = inv
	return nil
}

func (d *memDirectory) CancelInvite(_ context.Context, tenantID, inviteID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	inv, ok := d.invites[inviteID]
	if !ok || inv.TenantID != tenantID || inv.Status != identity.InvitePending {
		return identity.ErrInviteNotPending
	}
	if ph, ok := d.idents[inv.IdentityID]; ok && !ph.Active {
		delete(d.idents, inv.IdentityID)
	}
	inv.Status = identity.InviteCancelled
	inv.IdentityID = ""
	d.invites[inviteID] = inv
	return nil
}

func (d *memDirectory) Ping(context.Context) error {
	return d.pingErr
}

func (d *memDirectory) SetExternalUserID(_ context.Context, id, externalUserID string) error {
	return d.update(id, func(i *identity.Identity) error {
		i.ExternalUserID = externalUserID
		return nil
	})
}

func (d *memDirectory) SaveExternalTokens(_ context.Context, id string, pair *extauth.TokenPair) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extTokens[id] = *pair
	return nil
}

func (d *memDirectory) GetExternalTokens(_ context.Context, id string) (*extauth.TokenPair, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pair := d.extTokens[id]
	return &pair, nil
}

func (d *memDirectory) SwapExternalRefreshToken(_ context.Context, id, old, next string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pair := d.extTokens[id]
	if pair.RefreshToken != old {
		return false, nil
	}
	pair.RefreshToken = next
	d.extTokens[id] = pair
	return true, nil
}

func (d *memDirectory) ExternalUserOwner(_ context.Context, externalUserID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ident := range d.idents {
		if ident.ExternalUserID == externalUserID {
			return id, nil
		}
	}
	return "", nil
}

func (d *memDirectory) ClearExternalTokens(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.extTokens, id)
	return nil
}

func (d *memDirectory) CreateSessionToken(_ context.Context, t *session.Token) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createSessionErr != nil {
		return d.createSessionErr
	}
	d.seq++
	t.Status = session.StatusActive
	t.CreatedAt = time.Now().UTC()
	d.sessions[t.Token] = *t
	return nil
}

func (d *memDirectory) GetSessionToken(_ context.Context, token string) (*session.Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.sessions[token]
	if !ok {
		return nil, session.ErrNotFound
	}
	return &t, nil
}

func (d *memDirectory) DeactivateSessionToken(_ context.Context, token string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.sessions[token]
	if !ok || !t.Active() {
		return "", nil
	}
	t.Status = session.StatusInactive
	d.sessions[token] = t
	return t.IdentityID, nil
}

func (d *memDirectory) DeactivateIdentitySessionTokens(_ context.Context, identityID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deactivateAllErr != nil {
		return nil, d.deactivateAllErr
	}
	var out []string
	for tok, t := range d.sessions {
		if t.IdentityID == identityID && t.Active() {
			t.Status = session.StatusInactive
			d.sessions[tok] = t
			out = append(out, tok)
		}
	}
	return out, nil
}

func (d *memDirectory) ListActiveSessionTokens(_ context.Context, identityID string) ([]session.Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []session.Token
	for _, t := range d.sessions {
		if t.IdentityID == identityID && t.Active() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (d *memDirectory) UpdateSessionExternalTokens(_ context.Context, token, access, refresh string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.sessions[token]
	if !ok {
		return session.ErrNotFound
	}
	t.ExternalAccessToken, t.ExternalRefreshToken = access, refresh
	d.sessions[token] = t
	return nil
}

/*
====================================
EXTERNAL SESSIONS
====================================
*/

type fakeExternal struct {
	mu sync.Mutex

	ensureErr     error
	createErr     error
	// adopted makes a failing create report that no provider user was
	// created by the call.
	adopted       bool
	invalidateErr error
	refreshErr    error

	ensureCalls int
	deleted     []string
	invalidated []string
}

var _ ExternalSessions = (*fakeExternal)(nil)

func (f *fakeExternal) session(ident *identity.Identity) *extauth.Session {
	return &extauth.Session{
		ExternalUserID: ident.ExternalUserID,
		AccessToken:    "access-" + ident.ID,
		RefreshToken:   "refresh-" + ident.ID,
		ExpiresAt:      time.Now().Add(time.Hour),
	}
}

func (f *fakeExternal) Ensure(_ context.Context, ident *identity.Identity, _ string) (*extauth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	if f.ensureErr != nil {
		return nil, fmt.Errorf("%w: %v", extauth.ErrUnavailable, f.ensureErr)
	}
	if ident.ExternalUserID == "" {
		ident.ExternalUserID = "ext-" + ident.ID
	}
	return f.session(ident), nil
}

// CreateExternalUser links the user before failing so rollback paths see
// a user to delete.
func (f *fakeExternal) CreateExternalUser(_ context.Context, ident *identity.Identity, _ string) (*extauth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident.ExternalUserID = "ext-" + ident.ID
	if f.createErr != nil {
		pe := &extauth.ProvisionError{Err: fmt.Errorf("%w: %v", extauth.ErrUnavailable, f.createErr)}
		if !f.adopted {
			pe.CreatedUserID = ident.ExternalUserID
		}
		return nil, pe
	}
	sess := f.session(ident)
	sess.Created = !f.adopted
	return sess, nil
}

func (f *fakeExternal) DeleteExternalUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeExternal) Refresh(_ context.Context, identityID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return "access-" + identityID, nil
}

func (f *fakeExternal) RefreshWithToken(_ context.Context, identityID, presented string) (*extauth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &extauth.Session{AccessToken: "access2-" + identityID, RefreshToken: "refresh2-" + identityID}, nil
}

func (f *fakeExternal) InvalidateAll(_ context.Context, identityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, identityID)
	return f.invalidateErr
}

/*
====================================
PROVIDER TOKENS / MAIL
====================================
*/

type fakeVerifier struct {
	provider identity.Provider
	tokens   map[string]identity.Assertion
}

func (v *fakeVerifier) Provider() identity.Provider { return v.provider }

func (v *fakeVerifier) RequireVerifiedEmail() bool { return false }

func (v *fakeVerifier) Verify(_ context.Context, token string) (identity.Assertion, error) {
	a, ok := v.tokens[token]
	if !ok {
		return identity.Assertion{}, identity.ErrInvalidProviderToken
	}
	return a, nil
}

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (m *fakeMailer) last() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}, false
	}
	return m.sent[len(m.sent)-1], true
}

/*
====================================
ENGINE FIXTURE
====================================
*/

type fixture struct {
	engine   *Engine
	dir      *memDirectory
	external *fakeExternal
	mailer   *fakeMailer
	google   *fakeVerifier
	audit    *ChannelSink
	redis    *miniredis.Miniredis
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.BcryptCost = bcrypt.MinCost
	cfg.External.ServerSecret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Links.SigningKey = []byte("links-signing-key-0123456789abcdef")
	cfg.Links.VerifyEmailURL = "https://hr.test/verify"
	cfg.Links.InviteURL = "https://hr.test/invite"
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	f := &fixture{
		dir:      newMemDirectory(),
		external: &fakeExternal{},
		mailer:   &fakeMailer{},
		google:   &fakeVerifier{provider: identity.ProviderGoogle, tokens: map[string]identity.Assertion{}},
		audit:    NewChannelSink(512),
		redis:    mr,
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(f.dir).
		WithExternalSessions(f.external).
		WithTokenVerifier(f.google).
		WithMailer(f.mailer).
		WithAuditSink(f.audit).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	f.engine = engine
	return f
}

// seedUser stores an active LOCAL identity with a bcrypt password in an
// active tenant.
func (f *fixture) seedUser(t *testing.T, id, username, email, pw string) {
	t.Helper()
	h, err := password.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := h.Hash(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := f.dir.GetTenant(context.Background(), "t-1"); err != nil {
		f.dir.addTenant("t-1", true)
	}
	f.dir.addIdentity(identity.Identity{
		ID: id, TenantID: "t-1", Email: email, Username: username,
		PasswordHash: hash, PrimaryProvider: identity.ProviderLocal, Active: true,
	})
}

// auditEvents closes the engine and returns everything the dispatcher
// delivered.
func (f *fixture) auditEvents() []AuditEvent {
	f.engine.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-f.audit.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasEvent(events []AuditEvent, eventType string, success bool) bool {
	for _, ev := range events {
		if ev.EventType == eventType && ev.Success == success {
			return true
		}
	}
	return false
}

func mustErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
