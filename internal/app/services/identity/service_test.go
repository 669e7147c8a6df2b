package identity

import (
	"context"
	"testing"

	"github.com/earnloop/earnloop/internal/app/auth"
	"github.com/earnloop/earnloop/internal/app/domain/task"
	"github.com/earnloop/earnloop/internal/app/domain/user"
	"github.com/earnloop/earnloop/internal/app/storage/memory"
)

func principal() auth.Principal {
	return auth.Principal{TelegramID: 42, FirstName: "Ada", LastName: "Lovelace", Username: "ada"}
}

func taskFixture() task.Task {
	return task.Task{ID: "task-1", Title: "Join the channel", Code: "WELCOME", Reward: 50, Active: true}
}

func TestResolveVerifiedCreatesOnFirstContact(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)

	res, err := svc.ResolveVerified(context.Background(), principal(), "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Created {
		t.Fatal("expected a freshly created user")
	}
	if res.User.ID != "tg:42" || res.User.Username != "ada" {
		t.Fatalf("unexpected user: %+v", res.User)
	}
}

func TestResolveVerifiedRefreshesProfile(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	if _, err := svc.ResolveVerified(ctx, principal(), ""); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	p := principal()
	p.Username = "ada_l"
	p.FirstName = "Augusta"

	res, err := svc.ResolveVerified(ctx, p, "")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if res.Created {
		t.Fatal("second visit must not create")
	}
	if res.User.Username != "ada_l" || res.User.FirstName != "Augusta" {
		t.Fatalf("profile not refreshed: %+v", res.User)
	}
}

func TestResolveVerifiedMergesAnonymousIdentity(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	anon, err := svc.ResolveAnonymous(ctx, "web_abc12345")
	if err != nil {
		t.Fatalf("resolve anonymous: %v", err)
	}

	// Give the anonymous identity some earned balance.
	if _, err := store.CreateTask(ctx, taskFixture()); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := store.CreditCompletion(ctx, anon.User.ID, "task-1", 50, "", 0); err != nil {
		t.Fatalf("credit: %v", err)
	}

	res, err := svc.ResolveVerified(ctx, principal(), anon.User.ID)
	if err != nil {
		t.Fatalf("resolve verified with anon id: %v", err)
	}
	if res.User.Balance != 50 {
		t.Fatalf("expected merged balance 50, got %v", res.User.Balance)
	}
	if _, err := store.GetUser(ctx, anon.User.ID); err == nil {
		t.Fatal("anonymous identity should be gone after the merge")
	}
}

func TestResolveVerifiedMergeIsIdempotent(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	anon, err := svc.ResolveAnonymous(ctx, "web_abc12345")
	if err != nil {
		t.Fatalf("resolve anonymous: %v", err)
	}
	if _, err := store.CreateTask(ctx, taskFixture()); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := store.CreditCompletion(ctx, anon.User.ID, "task-1", 50, "", 0); err != nil {
		t.Fatalf("credit: %v", err)
	}

	for i := 0; i < 3; i++ {
		res, err := svc.ResolveVerified(ctx, principal(), anon.User.ID)
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if res.User.Balance != 50 {
			t.Fatalf("resolve %d: balance drifted to %v", i, res.User.Balance)
		}
	}
}

func TestResolveVerifiedMergeInheritsReferrer(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	if _, _, err := store.EnsureUser(ctx, user.User{ID: "tg:7"}); err != nil {
		t.Fatalf("ensure referrer: %v", err)
	}
	anon, err := svc.ResolveAnonymous(ctx, "web_abc12345")
	if err != nil {
		t.Fatalf("resolve anonymous: %v", err)
	}
	if _, err := store.AttributeReferral(ctx, anon.User.ID, "tg:7", 0); err != nil {
		t.Fatalf("attribute: %v", err)
	}

	res, err := svc.ResolveVerified(ctx, principal(), anon.User.ID)
	if err != nil {
		t.Fatalf("resolve verified: %v", err)
	}
	if res.User.ReferrerID != "tg:7" {
		t.Fatalf("expected inherited referrer tg:7, got %q", res.User.ReferrerID)
	}
}

func TestResolveAnonymousRejectsMalformedIDs(t *testing.T) {
	svc := New(memory.New(), nil)

	for _, id := range []string{"", "  ", "tg:42", "bob"} {
		if _, err := svc.ResolveAnonymous(context.Background(), id); err == nil {
			t.Fatalf("expected rejection for %q", id)
		}
	}
}

func TestResolveOverride(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	if _, _, err := store.EnsureUser(ctx, user.User{ID: "tg:42", Username: "ada"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	res, err := svc.ResolveOverride(ctx, "tg:42")
	if err != nil {
		t.Fatalf("resolve existing: %v", err)
	}
	if res.Created || res.User.Username != "ada" {
		t.Fatalf("expected the existing record untouched, got %+v", res)
	}

	// An id nobody has checked in with yet gets a fresh record.
	res, err = svc.ResolveOverride(ctx, "tg:404")
	if err != nil || !res.Created {
		t.Fatalf("resolve absent: created=%v err=%v", res.Created, err)
	}

	if _, err := svc.ResolveOverride(ctx, "  "); err == nil {
		t.Fatal("expected rejection of a blank override id")
	}
}

func TestResolveAnonymousIsStable(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	first, err := svc.ResolveAnonymous(ctx, "web_abc12345")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := svc.ResolveAnonymous(ctx, "web_abc12345")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !first.Created || second.Created {
		t.Fatalf("expected create-then-reuse, got %v then %v", first.Created, second.Created)
	}
	if first.User.ID != second.User.ID {
		t.Fatalf("anonymous identity not stable: %s vs %s", first.User.ID, second.User.ID)
	}
}
