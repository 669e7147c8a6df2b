package storage

import (
	"context"
	"errors"

	"github.com/earnloop/earnloop/internal/app/domain/task"
	"github.com/earnloop/earnloop/internal/app/domain/user"
	"github.com/earnloop/earnloop/internal/app/domain/withdrawal"
)

// Sentinel errors shared by all store implementations. The read-modify-write
// operations below are each a single atomic unit inside the store: two
// concurrent identical calls produce exactly one net effect.
var (
	ErrNotFound            = errors.New("record not found")
	ErrAlreadyExists       = errors.New("record already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConflict            = errors.New("concurrent modification")
)

// UserStore persists user records and owns the identity and referral
// invariants that require conditional writes.
type UserStore interface {
	// EnsureUser returns the user with the given id, creating it when absent.
	// Safe under concurrent first contact: exactly one record results.
	EnsureUser(ctx context.Context, u user.User) (user.User, bool, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	// UpdateProfile refreshes display fields only; monetary fields are
	// deliberately out of reach of this call.
	UpdateProfile(ctx context.Context, id, firstName, lastName, username string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	ListReferrals(ctx context.Context, referrerID string) ([]user.User, error)

	// AttributeReferral sets the user's referrer iff none is set yet, crediting
	// bonus to the referrer's balance in the same atomic unit when the link is
	// created. Returns false without error when the referrer was already set,
	// and ErrNotFound when either side of the link does not exist.
	AttributeReferral(ctx context.Context, userID, referrerID string, bonus float64) (bool, error)

	// MergeUsers folds the anonymous record oldID into newID: balances and
	// referral earnings summed, completions unioned, users referred by oldID
	// repointed to newID, oldID deleted. A missing oldID returns the intact
	// newID record with ErrNotFound, so running the merge twice cannot
	// double-credit.
	MergeUsers(ctx context.Context, oldID, newID string) (user.User, error)
}

// TaskStore persists tasks and task completions.
type TaskStore interface {
	CreateTask(ctx context.Context, t task.Task) (task.Task, error)
	UpdateTask(ctx context.Context, t task.Task) (task.Task, error)
	DeleteTask(ctx context.Context, id string) error
	GetTask(ctx context.Context, id string) (task.Task, error)
	ListTasks(ctx context.Context, activeOnly bool) ([]task.Task, error)

	ListCompletions(ctx context.Context, userID string) ([]user.Completion, error)
	HasCompletion(ctx context.Context, userID, taskID string) (bool, error)
	CountCompletions(ctx context.Context) (int64, error)

	// CreditCompletion records the (userID, taskID) completion and applies the
	// reward credit, plus the referrer commission when referrerID is non-empty,
	// in one atomic unit. Returns false when the completion already existed;
	// in that case no balance changes.
	CreditCompletion(ctx context.Context, userID, taskID string, reward float64, referrerID string, commission float64) (bool, error)
}

// WithdrawalStore persists withdrawal requests.
type WithdrawalStore interface {
	// CreateWithdrawal debits the owning user's balance and inserts the
	// pending record in one atomic unit. ErrInsufficientBalance when the
	// balance cannot cover the amount; nothing changes in that case.
	CreateWithdrawal(ctx context.Context, w withdrawal.Withdrawal) (withdrawal.Withdrawal, error)
	GetWithdrawal(ctx context.Context, id string) (withdrawal.Withdrawal, error)
	ListWithdrawals(ctx context.Context, userID string) ([]withdrawal.Withdrawal, error)
	ListAllWithdrawals(ctx context.Context, status withdrawal.Status) ([]withdrawal.Withdrawal, error)

	// TransitionWithdrawal moves the record from one status to another,
	// optionally crediting the amount back to the owner in the same atomic
	// unit (rejection refund). ErrConflict when the record is no longer in
	// the expected status.
	TransitionWithdrawal(ctx context.Context, id string, from, to withdrawal.Status, refund bool) (withdrawal.Withdrawal, error)
}

// Store aggregates every store interface; both the memory and the postgres
// implementations satisfy it.
type Store interface {
	UserStore
	TaskStore
	WithdrawalStore
}
