package hrauth

import (
	"context"
	"testing"

	"github.com/MrEthical07/hrauth/identity"
)

func TestLinkProvider(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1", "alice", "alice@corp.test", "correct-horse-1")
	f.google.tokens["tok"] = identity.Assertion{Subject: "g-1", Email: "Alice@Gmail.test"}
	ctx := context.Background()

	if err := f.engine.LinkProvider(ctx, "u-1", identity.ProviderGoogle, "tok"); err != nil {
		t.Fatalf("link: %v", err)
	}
	stored := f.dir.stored("u-1")
	if stored.Google.ID != "g-1" || stored.Google.Email != "alice@gmail.test" {
		t.Fatalf("unexpected link %+v", stored.Google)
	}
	if stored.PrimaryProvider != identity.ProviderLocal {
		t.Fatal("linking must not change the primary provider")
	}

	// Same provider account again is a no-op.
	if err := f.engine.LinkProvider(ctx, "u-1", identity.ProviderGoogle, "tok"); err != nil {
		t.Fatalf("relink: %v", err)
	}

	// Now the Google login finds alice by provider id.
	b, err := f.engine.LoginWithProvider(ctx, identity.ProviderGoogle, "tok", DeviceMeta{})
	if err != nil || b.Identity.ID != "u-1" {
		t.Fatalf("provider login after link: %v", err)
	}
}

func TestLinkProviderOwnedByAnotherIdentity(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1", "alice", "alice@corp.test", "correct-horse-1")
	f.seedUser(t, "u-2", "bob", "bob@corp.test", "correct-horse-2")
	_ = f.dir.update("u-2", func(i *identity.Identity) error {
		i.Google = identity.ProviderLink{ID: "g-1"}
		return nil
	})
	f.google.tokens["tok"] = identity.Assertion{Subject: "g-1"}

	err := f.engine.LinkProvider(context.Background(), "u-1", identity.ProviderGoogle, "tok")
	mustErrorIs(t, err, ErrProviderConflict)
	mustErrorIs(t, err, ErrProviderAlreadyLinked)
	if f.dir.stored("u-1").Google.Linked() {
		t.Fatal("must not link")
	}
}

func TestLinkProviderRejectsBadToken(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1", "alice", "alice@corp.test", "correct-horse-1")

	mustErrorIs(t, f.engine.LinkProvider(context.Background(), "u-1", identity.ProviderGoogle, "forged"), ErrInvalidProviderToken)
	mustErrorIs(t, f.engine.LinkProvider(context.Background(), "u-1", identity.ProviderFacebook, "tok"), ErrUnsupportedProvider)
}

func TestUnlinkProviderGuardsLastMethod(t *testing.T) {
	f := newFixture(t)
	seedGoogleOnly(f)
	ctx := context.Background()

	mustErrorIs(t, f.engine.UnlinkProvider(ctx, "u-1", identity.ProviderGoogle), ErrLastAuthMethod)
	if !f.dir.stored("u-1").Google.Linked() {
		t.Fatal("google must stay linked")
	}

	// Not linked: nothing to do.
	if err := f.engine.UnlinkProvider(ctx, "u-1", identity.ProviderFacebook); err != nil {
		t.Fatalf("unlink absent provider: %v", err)
	}
	mustErrorIs(t, f.engine.UnlinkProvider(ctx, "u-1", identity.ProviderLocal), ErrUnsupportedProvider)
}

func TestUnlinkProviderRepointsPrimary(t *testing.T) {
	f := newFixture(t)
	seedGoogleOnly(f)
	ctx := context.Background()

	if err := f.engine.SetPassword(ctx, "u-1", "fresh-password"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if err := f.engine.UnlinkProvider(ctx, "u-1", identity.ProviderGoogle); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	stored := f.dir.stored("u-1")
	if stored.Google.Linked() || stored.PrimaryProvider != identity.ProviderLocal {
		t.Fatalf("expected google removed and primary LOCAL, got %+v", stored)
	}
	if got := f.engine.MetricsSnapshot().Counters[MetricProviderUnlinked]; got != 1 {
		t.Fatalf("expected unlink metric 1, got %d", got)
	}
}
