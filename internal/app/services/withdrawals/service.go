// Package withdrawals manages the withdrawal ledger and its state machine.
package withdrawals

import (
	"context"
	"strings"

	"github.com/earnloop/earnloop/internal/app/domain/withdrawal"
	"github.com/earnloop/earnloop/internal/app/metrics"
	"github.com/earnloop/earnloop/internal/app/storage"
	apperrors "github.com/earnloop/earnloop/internal/errors"
	"github.com/earnloop/earnloop/pkg/logger"
)

// Service handles withdrawal requests and admin processing.
type Service struct {
	store     storage.WithdrawalStore
	minAmount float64
	log       *logger.Logger
}

// New constructs a withdrawals service. minAmount is the smallest request
// accepted; zero disables the floor.
func New(store storage.WithdrawalStore, minAmount float64, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("withdrawals")
	}
	return &Service{store: store, minAmount: minAmount, log: log}
}

// Request debits the user's balance and records a pending withdrawal. The
// debit and the record are one atomic step, so a failed request leaves the
// balance untouched.
func (s *Service) Request(ctx context.Context, userID string, amount float64, method, details string) (withdrawal.Withdrawal, error) {
	method = strings.TrimSpace(method)
	details = strings.TrimSpace(details)

	if amount <= 0 {
		return withdrawal.Withdrawal{}, apperrors.InvalidAmount("amount must be positive")
	}
	if s.minAmount > 0 && amount < s.minAmount {
		return withdrawal.Withdrawal{}, apperrors.InvalidAmount("amount is below the minimum withdrawal")
	}
	if method == "" {
		return withdrawal.Withdrawal{}, apperrors.Validation("method is required")
	}

	w, err := s.store.CreateWithdrawal(ctx, withdrawal.Withdrawal{
		UserID:  userID,
		Amount:  amount,
		Method:  method,
		Details: details,
	})
	switch err {
	case nil:
	case storage.ErrInsufficientBalance:
		return withdrawal.Withdrawal{}, apperrors.InsufficientBalance("balance is too low for this withdrawal")
	case storage.ErrNotFound:
		return withdrawal.Withdrawal{}, apperrors.NotFound("user not found")
	default:
		return withdrawal.Withdrawal{}, err
	}

	metrics.RecordWithdrawalTransition(string(withdrawal.StatusPending))
	s.log.WithField("withdrawal_id", w.ID).WithField("user_id", userID).WithField("amount", amount).Info("withdrawal requested")
	return w, nil
}

// List returns the user's withdrawals, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]withdrawal.Withdrawal, error) {
	result, err := s.store.ListWithdrawals(ctx, userID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = []withdrawal.Withdrawal{}
	}
	return result, nil
}

// ListAll returns every withdrawal, optionally filtered by status, for the
// admin surface.
func (s *Service) ListAll(ctx context.Context, status string) ([]withdrawal.Withdrawal, error) {
	st := withdrawal.Status(strings.TrimSpace(status))
	if st != "" && !st.Valid() {
		return nil, apperrors.Validation("unknown withdrawal status")
	}

	result, err := s.store.ListAllWithdrawals(ctx, st)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = []withdrawal.Withdrawal{}
	}
	return result, nil
}

// UpdateStatus moves a withdrawal along the state machine. A rejection
// refunds the debited amount in the same atomic step as the transition.
func (s *Service) UpdateStatus(ctx context.Context, id string, next withdrawal.Status) (withdrawal.Withdrawal, error) {
	if !next.Valid() || next == withdrawal.StatusPending {
		return withdrawal.Withdrawal{}, apperrors.Validation("unknown target status")
	}

	current, err := s.store.GetWithdrawal(ctx, id)
	if err == storage.ErrNotFound {
		return withdrawal.Withdrawal{}, apperrors.NotFound("withdrawal not found")
	}
	if err != nil {
		return withdrawal.Withdrawal{}, err
	}

	if !current.Status.CanTransition(next) {
		return withdrawal.Withdrawal{}, apperrors.Conflict("withdrawal cannot move from " + string(current.Status) + " to " + string(next))
	}

	refund := next == withdrawal.StatusRejected
	updated, err := s.store.TransitionWithdrawal(ctx, id, current.Status, next, refund)
	switch err {
	case nil:
	case storage.ErrConflict:
		// A concurrent admin action won the transition.
		return withdrawal.Withdrawal{}, apperrors.Conflict("withdrawal was updated concurrently")
	case storage.ErrNotFound:
		return withdrawal.Withdrawal{}, apperrors.NotFound("withdrawal not found")
	default:
		return withdrawal.Withdrawal{}, err
	}

	metrics.RecordWithdrawalTransition(string(next))
	s.log.WithField("withdrawal_id", id).WithField("status", string(next)).Info("withdrawal status updated")
	return updated, nil
}
