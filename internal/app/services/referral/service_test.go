package referral

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"

	"github.com/earnloop/earnloop/internal/app/domain/user"
	"github.com/earnloop/earnloop/internal/app/storage/memory"
)

func TestDecodeVariants(t *testing.T) {
	envelope := base64.RawURLEncoding.EncodeToString([]byte(`{"ref":"tg:7"}`))

	cases := []struct {
		name string
		raw  string
		want Candidate
		ok   bool
	}{
		{"raw id", "tg:7", Candidate{Kind: KindRawID, Value: "tg:7"}, true},
		{"ref prefix", "ref_tg:7", Candidate{Kind: KindRawID, Value: "tg:7"}, true},
		{"user prefix", "user_tg:7", Candidate{Kind: KindRawID, Value: "tg:7"}, true},
		{"r dash prefix", "r-tg:7", Candidate{Kind: KindRawID, Value: "tg:7"}, true},
		{"handle", "@ada", Candidate{Kind: KindHandle, Value: "ada"}, true},
		{"envelope", envelope, Candidate{Kind: KindEncodedPayload, Value: "tg:7"}, true},
		{"empty", "", Candidate{}, false},
		{"blank", "   ", Candidate{}, false},
		{"bare prefix", "ref_", Candidate{}, false},
		{"bare at", "@", Candidate{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Decode(tc.raw)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDecodeIgnoresNonEnvelopeBase64(t *testing.T) {
	// Valid base64 that is not a {"ref": ...} object stays a raw id.
	raw := base64.RawURLEncoding.EncodeToString([]byte(`{"other":"x"}`))
	got, ok := Decode(raw)
	if !ok || got.Kind != KindRawID {
		t.Fatalf("expected raw id fallthrough, got %+v ok=%v", got, ok)
	}
}

func seedUsers(t *testing.T, store *memory.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, _, err := store.EnsureUser(context.Background(), user.User{ID: id}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func TestAttributeBindsFirstResolvableCarrier(t *testing.T) {
	store := memory.New()
	svc := New(store, "earnloop_bot", 0, nil)
	ctx := context.Background()
	seedUsers(t, store, "tg:1", "tg:7")

	svc.Attribute(ctx, "tg:1", "ref_tg:404", "ref_tg:7")

	u, err := store.GetUser(ctx, "tg:1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.ReferrerID != "tg:7" {
		t.Fatalf("expected referrer tg:7, got %q", u.ReferrerID)
	}
}

func TestAttributePaysSignupBonusOnce(t *testing.T) {
	store := memory.New()
	svc := New(store, "earnloop_bot", 0.5, nil)
	ctx := context.Background()
	seedUsers(t, store, "tg:1", "tg:7")

	svc.Attribute(ctx, "tg:1", "ref_tg:7")
	svc.Attribute(ctx, "tg:1", "ref_tg:7")

	ref, _ := store.GetUser(ctx, "tg:7")
	if ref.Balance != 0.5 {
		t.Fatalf("expected one signup bonus of 0.5, got balance %v", ref.Balance)
	}
}

func TestAttributeIsAtMostOnce(t *testing.T) {
	store := memory.New()
	svc := New(store, "earnloop_bot", 0, nil)
	ctx := context.Background()
	seedUsers(t, store, "tg:1", "tg:7", "tg:9")

	svc.Attribute(ctx, "tg:1", "ref_tg:7")
	svc.Attribute(ctx, "tg:1", "ref_tg:9")

	u, _ := store.GetUser(ctx, "tg:1")
	if u.ReferrerID != "tg:7" {
		t.Fatalf("first attribution must win, got %q", u.ReferrerID)
	}
}

func TestAttributeConcurrentCarriersBindOnce(t *testing.T) {
	store := memory.New()
	svc := New(store, "earnloop_bot", 0, nil)
	ctx := context.Background()
	seedUsers(t, store, "tg:1", "tg:7", "tg:9")

	var wg sync.WaitGroup
	for _, carrier := range []string{"ref_tg:7", "ref_tg:9", "ref_tg:7", "ref_tg:9"} {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			svc.Attribute(ctx, "tg:1", c)
		}(carrier)
	}
	wg.Wait()

	u, _ := store.GetUser(ctx, "tg:1")
	if u.ReferrerID != "tg:7" && u.ReferrerID != "tg:9" {
		t.Fatalf("expected exactly one referrer bound, got %q", u.ReferrerID)
	}
}

func TestAttributeIgnoresSelfReferral(t *testing.T) {
	store := memory.New()
	svc := New(store, "earnloop_bot", 0, nil)
	ctx := context.Background()
	seedUsers(t, store, "tg:1")

	svc.Attribute(ctx, "tg:1", "ref_tg:1")

	u, _ := store.GetUser(ctx, "tg:1")
	if u.ReferrerID != "" {
		t.Fatalf("self referral must not bind, got %q", u.ReferrerID)
	}
}

func TestAttributeSwallowsUnresolvableCarriers(t *testing.T) {
	store := memory.New()
	svc := New(store, "earnloop_bot", 0, nil)
	ctx := context.Background()
	seedUsers(t, store, "tg:1")

	// None of these resolve; attribution stays silent and the user unbound.
	svc.Attribute(ctx, "tg:1", "ref_tg:404", "@nobody", "!!not-base64!!")

	u, _ := store.GetUser(ctx, "tg:1")
	if u.ReferrerID != "" {
		t.Fatalf("expected no referrer, got %q", u.ReferrerID)
	}
}

func TestAttributeResolvesHandles(t *testing.T) {
	store := memory.New()
	svc := New(store, "earnloop_bot", 0, nil)
	ctx := context.Background()
	seedUsers(t, store, "tg:1")
	if _, _, err := store.EnsureUser(ctx, user.User{ID: "tg:7", Username: "ada"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc.Attribute(ctx, "tg:1", "@ada")

	u, _ := store.GetUser(ctx, "tg:1")
	if u.ReferrerID != "tg:7" {
		t.Fatalf("expected handle to resolve to tg:7, got %q", u.ReferrerID)
	}
}

func TestAttributeResolvesEnvelope(t *testing.T) {
	store := memory.New()
	svc := New(store, "earnloop_bot", 0, nil)
	ctx := context.Background()
	seedUsers(t, store, "tg:1", "tg:7")

	envelope := base64.RawURLEncoding.EncodeToString([]byte(`{"ref":"tg:7"}`))
	svc.Attribute(ctx, "tg:1", envelope)

	u, _ := store.GetUser(ctx, "tg:1")
	if u.ReferrerID != "tg:7" {
		t.Fatalf("expected envelope to resolve to tg:7, got %q", u.ReferrerID)
	}
}

func TestAttributeRejectsNestedEnvelopes(t *testing.T) {
	store := memory.New()
	svc := New(store, "earnloop_bot", 0, nil)
	ctx := context.Background()
	seedUsers(t, store, "tg:1", "tg:7")

	inner := base64.RawURLEncoding.EncodeToString([]byte(`{"ref":"tg:7"}`))
	outer := base64.RawURLEncoding.EncodeToString([]byte(`{"ref":"` + inner + `"}`))
	svc.Attribute(ctx, "tg:1", outer)

	u, _ := store.GetUser(ctx, "tg:1")
	if u.ReferrerID != "" {
		t.Fatalf("nested envelope must not bind, got %q", u.ReferrerID)
	}
}

func TestSummarize(t *testing.T) {
	store := memory.New()
	svc := New(store, "earnloop_bot", 0, nil)
	ctx := context.Background()
	seedUsers(t, store, "tg:7", "tg:1", "tg:2")

	svc.Attribute(ctx, "tg:1", "ref_tg:7")
	svc.Attribute(ctx, "tg:2", "ref_tg:7")

	summary, err := svc.Summarize(ctx, "tg:7")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(summary.Referrals) != 2 {
		t.Fatalf("expected 2 referrals, got %d", len(summary.Referrals))
	}
	if summary.InviteLink != "https://t.me/earnloop_bot?startapp=ref_tg:7" {
		t.Fatalf("unexpected invite link %q", summary.InviteLink)
	}
}
