package withdrawals

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/earnloop/earnloop/internal/app/domain/user"
	"github.com/earnloop/earnloop/internal/app/domain/withdrawal"
	"github.com/earnloop/earnloop/internal/app/storage/memory"
	apperrors "github.com/earnloop/earnloop/internal/errors"
)

func setup(t *testing.T, balance float64) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	if _, _, err := store.EnsureUser(ctx, user.User{ID: "tg:1"}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if balance > 0 {
		if _, err := store.CreditCompletion(ctx, "tg:1", "seed-task", balance, "", 0); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
	}
	return New(store, 10, nil), store
}

func TestRequestDebitsBalance(t *testing.T) {
	svc, store := setup(t, 100)
	ctx := context.Background()

	w, err := svc.Request(ctx, "tg:1", 40, "usdt", "TRC20 address")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if w.Status != withdrawal.StatusPending {
		t.Fatalf("expected pending, got %s", w.Status)
	}

	u, _ := store.GetUser(ctx, "tg:1")
	if u.Balance != 60 {
		t.Fatalf("expected balance 60, got %v", u.Balance)
	}
}

func TestRequestRejectsInvalidAmounts(t *testing.T) {
	svc, store := setup(t, 100)
	ctx := context.Background()

	for _, amount := range []float64{0, -5, 9.99} {
		if _, err := svc.Request(ctx, "tg:1", amount, "usdt", ""); !errors.Is(err, apperrors.InvalidAmount("")) {
			t.Fatalf("expected InvalidAmount for %v, got %v", amount, err)
		}
	}

	u, _ := store.GetUser(ctx, "tg:1")
	if u.Balance != 100 {
		t.Fatalf("rejected requests must not debit, balance %v", u.Balance)
	}
}

func TestRequestRejectsInsufficientBalance(t *testing.T) {
	svc, store := setup(t, 30)
	ctx := context.Background()

	if _, err := svc.Request(ctx, "tg:1", 50, "usdt", ""); !errors.Is(err, apperrors.InsufficientBalance("")) {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}

	u, _ := store.GetUser(ctx, "tg:1")
	if u.Balance != 30 {
		t.Fatalf("failed request must not debit, balance %v", u.Balance)
	}
}

func TestRequestRequiresMethod(t *testing.T) {
	svc, _ := setup(t, 100)

	if _, err := svc.Request(context.Background(), "tg:1", 20, "  ", ""); !errors.Is(err, apperrors.Validation("")) {
		t.Fatalf("expected Validation, got %v", err)
	}
}

func TestConcurrentRequestsNeverOverdraw(t *testing.T) {
	svc, store := setup(t, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Some of these must fail; the invariant is the balance floor.
			_, _ = svc.Request(ctx, "tg:1", 30, "usdt", "")
		}()
	}
	wg.Wait()

	u, _ := store.GetUser(ctx, "tg:1")
	if u.Balance < 0 {
		t.Fatalf("balance went negative: %v", u.Balance)
	}
	pending, _ := svc.List(ctx, "tg:1")
	if len(pending) != 3 {
		t.Fatalf("expected exactly 3 successful requests from a balance of 100, got %d", len(pending))
	}
}

func TestRejectRefundsBalance(t *testing.T) {
	svc, store := setup(t, 100)
	ctx := context.Background()

	w, err := svc.Request(ctx, "tg:1", 40, "usdt", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	updated, err := svc.UpdateStatus(ctx, w.ID, withdrawal.StatusRejected)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if updated.Status != withdrawal.StatusRejected {
		t.Fatalf("expected rejected, got %s", updated.Status)
	}

	u, _ := store.GetUser(ctx, "tg:1")
	if u.Balance != 100 {
		t.Fatalf("rejection must refund, balance %v", u.Balance)
	}
}

func TestApproveThenComplete(t *testing.T) {
	svc, store := setup(t, 100)
	ctx := context.Background()

	w, err := svc.Request(ctx, "tg:1", 40, "usdt", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, w.ID, withdrawal.StatusApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	done, err := svc.UpdateStatus(ctx, w.ID, withdrawal.StatusCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != withdrawal.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}

	// Approval and completion keep the funds debited.
	u, _ := store.GetUser(ctx, "tg:1")
	if u.Balance != 60 {
		t.Fatalf("expected balance 60, got %v", u.Balance)
	}
}

func TestInvalidTransitionsConflict(t *testing.T) {
	svc, _ := setup(t, 100)
	ctx := context.Background()

	w, err := svc.Request(ctx, "tg:1", 40, "usdt", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	// pending cannot jump straight to completed.
	if _, err := svc.UpdateStatus(ctx, w.ID, withdrawal.StatusCompleted); !errors.Is(err, apperrors.Conflict("")) {
		t.Fatalf("expected Conflict, got %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, w.ID, withdrawal.StatusRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}
	// rejected is terminal.
	if _, err := svc.UpdateStatus(ctx, w.ID, withdrawal.StatusApproved); !errors.Is(err, apperrors.Conflict("")) {
		t.Fatalf("expected Conflict for terminal state, got %v", err)
	}
}

func TestConcurrentDecisionsPickOneWinner(t *testing.T) {
	svc, store := setup(t, 100)
	ctx := context.Background()

	w, err := svc.Request(ctx, "tg:1", 40, "usdt", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	var wg sync.WaitGroup
	for _, next := range []withdrawal.Status{withdrawal.StatusApproved, withdrawal.StatusRejected} {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(st withdrawal.Status) {
				defer wg.Done()
				_, _ = svc.UpdateStatus(ctx, w.ID, st)
			}(next)
		}
	}
	wg.Wait()

	final, err := svc.store.GetWithdrawal(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	u, _ := store.GetUser(ctx, "tg:1")
	switch final.Status {
	case withdrawal.StatusApproved:
		if u.Balance != 60 {
			t.Fatalf("approved but balance %v", u.Balance)
		}
	case withdrawal.StatusRejected:
		if u.Balance != 100 {
			t.Fatalf("rejected but balance %v (refund applied %d times?)", u.Balance, int(u.Balance-60)/40)
		}
	default:
		t.Fatalf("unexpected final status %s", final.Status)
	}
}

func TestUpdateStatusUnknownWithdrawal(t *testing.T) {
	svc, _ := setup(t, 100)

	if _, err := svc.UpdateStatus(context.Background(), "missing", withdrawal.StatusApproved); !errors.Is(err, apperrors.NotFound("")) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestListAllFiltersByStatus(t *testing.T) {
	svc, _ := setup(t, 100)
	ctx := context.Background()

	first, err := svc.Request(ctx, "tg:1", 20, "usdt", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Request(ctx, "tg:1", 20, "usdt", ""); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, first.ID, withdrawal.StatusApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	pending, err := svc.ListAll(ctx, "pending")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}

	all, err := svc.ListAll(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 total, got %d", len(all))
	}

	if _, err := svc.ListAll(ctx, "bogus"); !errors.Is(err, apperrors.Validation("")) {
		t.Fatalf("expected Validation for bogus status, got %v", err)
	}
}
