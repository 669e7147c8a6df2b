package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/earnloop/earnloop/internal/app/domain/task"
	"github.com/earnloop/earnloop/internal/app/domain/user"
	"github.com/earnloop/earnloop/internal/app/domain/withdrawal"
	"github.com/earnloop/earnloop/internal/app/storage"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and mirrors the postgres semantics exactly, which makes
// it the substrate for the concurrency and idempotency tests as well as for
// local development without a database.
type Store struct {
	mu          sync.Mutex
	users       map[string]user.User
	tasks       map[string]task.Task
	completions map[string]map[string]time.Time // userID -> taskID -> completedAt
	withdrawals map[string]withdrawal.Withdrawal
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]user.User),
		tasks:       make(map[string]task.Task),
		completions: make(map[string]map[string]time.Time),
		withdrawals: make(map[string]withdrawal.Withdrawal),
	}
}

// UserStore implementation ----------------------------------------------------

func (s *Store) EnsureUser(_ context.Context, u user.User) (user.User, bool, error) {
	if u.ID == "" {
		return user.User{}, false, fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[u.ID]; ok {
		return existing, false, nil
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, true, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username != "" && strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

func (s *Store) UpdateProfile(_ context.Context, id, firstName, lastName, username string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	u.FirstName = firstName
	u.LastName = lastName
	u.Username = username
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListReferrals(_ context.Context, referrerID string) ([]user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []user.User
	for _, u := range s.users {
		if u.ReferrerID == referrerID {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) AttributeReferral(_ context.Context, userID, referrerID string, bonus float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if u.ReferrerID != "" {
		return false, nil
	}
	if userID == referrerID {
		return false, fmt.Errorf("self referral")
	}
	ref, ok := s.users[referrerID]
	if !ok {
		return false, storage.ErrNotFound
	}

	now := time.Now().UTC()
	u.ReferrerID = referrerID
	u.UpdatedAt = now
	s.users[userID] = u

	if bonus > 0 {
		ref.Balance += bonus
		ref.UpdatedAt = now
		s.users[referrerID] = ref
	}
	return true, nil
}

func (s *Store) MergeUsers(_ context.Context, oldID, newID string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.users[newID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}

	anon, ok := s.users[oldID]
	if !ok {
		// Already merged or never existed; the caller treats this as a no-op.
		return target, storage.ErrNotFound
	}

	merged := user.Merge(anon, target)
	merged.UpdatedAt = time.Now().UTC()

	// Union the completion sets; existing entries win.
	if anonDone := s.completions[oldID]; len(anonDone) > 0 {
		done := s.completions[newID]
		if done == nil {
			done = make(map[string]time.Time, len(anonDone))
			s.completions[newID] = done
		}
		for taskID, at := range anonDone {
			if _, exists := done[taskID]; !exists {
				done[taskID] = at
			}
		}
	}
	delete(s.completions, oldID)

	// Repoint users referred by the anonymous identity.
	for id, u := range s.users {
		if u.ReferrerID == oldID {
			u.ReferrerID = newID
			s.users[id] = u
		}
	}
	// A referrer pointing at either half of the merge collapses into a
	// self-referral; clear it instead of leaving a dangling or circular link.
	if merged.ReferrerID == oldID || merged.ReferrerID == merged.ID {
		merged.ReferrerID = ""
	}

	delete(s.users, oldID)
	s.users[newID] = merged
	return merged, nil
}

// TaskStore implementation ----------------------------------------------------

func (s *Store) CreateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	} else if _, exists := s.tasks[t.ID]; exists {
		return task.Task{}, storage.ErrAlreadyExists
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tasks[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tasks[t.ID]
	if !ok {
		return task.Task{}, storage.ErrNotFound
	}
	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	s.tasks[t.ID] = t
	return t, nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListTasks(_ context.Context, activeOnly bool) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if activeOnly && !t.Active {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListCompletions(_ context.Context, userID string) ([]user.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	done := s.completions[userID]
	result := make([]user.Completion, 0, len(done))
	for taskID, at := range done {
		result = append(result, user.Completion{UserID: userID, TaskID: taskID, CompletedAt: at})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CompletedAt.Before(result[j].CompletedAt) })
	return result, nil
}

func (s *Store) HasCompletion(_ context.Context, userID, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.completions[userID][taskID]
	return exists, nil
}

func (s *Store) CountCompletions(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, done := range s.completions {
		count += int64(len(done))
	}
	return count, nil
}

func (s *Store) CreditCompletion(_ context.Context, userID, taskID string, reward float64, referrerID string, commission float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, storage.ErrNotFound
	}

	done := s.completions[userID]
	if _, exists := done[taskID]; exists {
		return false, nil
	}

	// The completion insert and both credits happen under one lock: a
	// concurrent duplicate observes the recorded completion and backs off.
	if done == nil {
		done = make(map[string]time.Time)
		s.completions[userID] = done
	}
	done[taskID] = time.Now().UTC()

	u.Balance += reward
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u

	if referrerID != "" && commission > 0 {
		if ref, ok := s.users[referrerID]; ok {
			ref.Balance += commission
			ref.ReferralEarnings += commission
			ref.UpdatedAt = time.Now().UTC()
			s.users[referrerID] = ref
		}
	}
	return true, nil
}

// WithdrawalStore implementation ----------------------------------------------

func (s *Store) CreateWithdrawal(_ context.Context, w withdrawal.Withdrawal) (withdrawal.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[w.UserID]
	if !ok {
		return withdrawal.Withdrawal{}, storage.ErrNotFound
	}
	if u.Balance < w.Amount {
		return withdrawal.Withdrawal{}, storage.ErrInsufficientBalance
	}

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	w.Status = withdrawal.StatusPending
	w.CreatedAt = now
	w.UpdatedAt = now

	u.Balance -= w.Amount
	u.UpdatedAt = now
	s.users[w.UserID] = u
	s.withdrawals[w.ID] = w
	return w, nil
}

func (s *Store) GetWithdrawal(_ context.Context, id string) (withdrawal.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return withdrawal.Withdrawal{}, storage.ErrNotFound
	}
	return w, nil
}

func (s *Store) ListWithdrawals(_ context.Context, userID string) ([]withdrawal.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []withdrawal.Withdrawal
	for _, w := range s.withdrawals {
		if w.UserID == userID {
			result = append(result, w)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListAllWithdrawals(_ context.Context, status withdrawal.Status) ([]withdrawal.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []withdrawal.Withdrawal
	for _, w := range s.withdrawals {
		if status != "" && w.Status != status {
			continue
		}
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) TransitionWithdrawal(_ context.Context, id string, from, to withdrawal.Status, refund bool) (withdrawal.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return withdrawal.Withdrawal{}, storage.ErrNotFound
	}
	if w.Status != from {
		return withdrawal.Withdrawal{}, storage.ErrConflict
	}

	now := time.Now().UTC()
	w.Status = to
	w.UpdatedAt = now

	if refund {
		u, ok := s.users[w.UserID]
		if !ok {
			return withdrawal.Withdrawal{}, storage.ErrNotFound
		}
		u.Balance += w.Amount
		u.UpdatedAt = now
		s.users[w.UserID] = u
	}

	s.withdrawals[id] = w
	return w, nil
}
