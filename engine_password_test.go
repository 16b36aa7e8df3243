package hrauth

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/hrauth/identity"
	"github.com/MrEthical07/hrauth/password"
)

func TestChangePasswordRotatesAndSignsOut(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1", "alice", "alice@corp.test", "correct-horse-1")
	ctx := context.Background()

	b, err := f.engine.Login(ctx, "alice", "correct-horse-1", DeviceMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := f.engine.ChangePassword(ctx, "u-1", "correct-horse-1", "brand-new-pass"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := f.engine.Validate(ctx, b.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected sessions invalidated, got %v", err)
	}
	if len(f.external.invalidated) != 1 {
		t.Fatal("expected external tokens invalidated")
	}

	_, err = f.engine.Login(ctx, "alice", "correct-horse-1", DeviceMeta{})
	mustErrorIs(t, err, ErrInvalidCredential)
	if _, err := f.engine.Login(ctx, "alice", "brand-new-pass", DeviceMeta{}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestChangePasswordReportsFailedSignOut(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1", "alice", "alice@corp.test", "correct-horse-1")
	ctx := context.Background()

	b, err := f.engine.Login(ctx, "alice", "correct-horse-1", DeviceMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	f.dir.mu.Lock()
	f.dir.deactivateAllErr = errors.New("connection refused")
	f.dir.mu.Unlock()

	err = f.engine.ChangePassword(ctx, "u-1", "correct-horse-1", "brand-new-pass")
	mustErrorIs(t, err, ErrSessionsNotRevoked)
	mustErrorIs(t, err, ErrStoreUnavailable)

	// The new password is already in place.
	if _, err := f.engine.Login(ctx, "alice", "brand-new-pass", DeviceMeta{}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, err := f.engine.Validate(ctx, b.Token); err != nil {
		t.Fatalf("old session should still be reported as live: %v", err)
	}
}

func TestChangePasswordRejects(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1", "alice", "alice@corp.test", "correct-horse-1")
	ctx := context.Background()

	mustErrorIs(t, f.engine.ChangePassword(ctx, "u-1", "wrong", "brand-new-pass"), ErrInvalidCredential)
	mustErrorIs(t, f.engine.ChangePassword(ctx, "u-1", "correct-horse-1", "correct-horse-1"), ErrPasswordReuse)
	mustErrorIs(t, f.engine.ChangePassword(ctx, "u-1", "correct-horse-1", "short"), ErrInvalidRequest)
	mustErrorIs(t, f.engine.ChangePassword(ctx, "missing", "x", "brand-new-pass"), ErrIdentityNotFound)

	if got := f.engine.MetricsSnapshot().Counters[MetricPasswordChangeInvalidOld]; got != 1 {
		t.Fatalf("expected invalid-old metric 1, got %d", got)
	}
}

func TestChangePasswordClearsLegacyCredential(t *testing.T) {
	f := newFixture(t)
	f.dir.addTenant("t-1", true)
	blob, key, err := password.EncryptLegacy("old-secret-pw")
	if err != nil {
		t.Fatalf("encrypt legacy: %v", err)
	}
	f.dir.addIdentity(identity.Identity{
		ID: "u-1", TenantID: "t-1", Email: "old@corp.test", Username: "oldie",
		LegacyPassword: blob, LegacyKey: key, PrimaryProvider: identity.ProviderLocal, Active: true,
	})

	if err := f.engine.ChangePassword(context.Background(), "u-1", "old-secret-pw", "brand-new-pass"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	stored := f.dir.stored("u-1")
	if stored.HasLegacyCredential() {
		t.Fatal("legacy credential must be cleared")
	}
	_, err = f.engine.Login(context.Background(), "oldie", "old-secret-pw", DeviceMeta{})
	mustErrorIs(t, err, ErrInvalidCredential)
}

func seedGoogleOnly(f *fixture) {
	f.dir.addTenant("t-1", true)
	f.dir.addIdentity(identity.Identity{
		ID: "u-1", TenantID: "t-1", Email: "g@corp.test", Username: "gina",
		Google: identity.ProviderLink{ID: "g-1"}, PrimaryProvider: identity.ProviderGoogle, Active: true,
	})
}

func TestSetPasswordAddsMethod(t *testing.T) {
	f := newFixture(t)
	seedGoogleOnly(f)
	ctx := context.Background()

	if err := f.engine.SetPassword(ctx, "u-1", "fresh-password"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if _, err := f.engine.Login(ctx, "gina", "fresh-password", DeviceMeta{}); err != nil {
		t.Fatalf("login with added password: %v", err)
	}
	mustErrorIs(t, f.engine.SetPassword(ctx, "u-1", "another-password"), ErrInvalidRequest)
}

func TestDisconnectPassword(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1", "alice", "alice@corp.test", "correct-horse-1")
	ctx := context.Background()

	// Only method.
	mustErrorIs(t, f.engine.DisconnectPassword(ctx, "u-1"), ErrLastAuthMethod)
	if s := f.dir.stored("u-1"); !s.HasPassword() {
		t.Fatal("password must survive a refused disconnect")
	}

	_ = f.dir.update("u-1", func(i *identity.Identity) error {
		i.Facebook = identity.ProviderLink{ID: "fb-1"}
		return nil
	})
	if err := f.engine.DisconnectPassword(ctx, "u-1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	stored := f.dir.stored("u-1")
	if stored.HasPassword() || stored.PrimaryProvider != identity.ProviderFacebook {
		t.Fatalf("expected password cleared and primary FACEBOOK, got %+v", stored)
	}

	// Already disconnected.
	if err := f.engine.DisconnectPassword(ctx, "u-1"); err != nil {
		t.Fatalf("idempotent disconnect: %v", err)
	}
}
