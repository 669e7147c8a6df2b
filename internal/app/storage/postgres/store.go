package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/earnloop/earnloop/internal/app/domain/task"
	"github.com/earnloop/earnloop/internal/app/domain/user"
	"github.com/earnloop/earnloop/internal/app/domain/withdrawal"
	"github.com/earnloop/earnloop/internal/app/storage"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store implements the storage interfaces backed by PostgreSQL. The atomic
// primitives (EnsureUser, AttributeReferral, MergeUsers, CreditCompletion,
// CreateWithdrawal, TransitionWithdrawal) each run inside a single
// transaction or a single conditional statement, so concurrent duplicates
// resolve at the database rather than in application code.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// --- UserStore --------------------------------------------------------------

const userColumns = `id, first_name, last_name, username, balance, referral_earnings, referrer_id, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (user.User, error) {
	var (
		u        user.User
		referrer sql.NullString
	)
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Username, &u.Balance, &u.ReferralEarnings, &referrer, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return user.User{}, err
	}
	u.ReferrerID = referrer.String
	return u, nil
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) EnsureUser(ctx context.Context, u user.User) (user.User, bool, error) {
	if u.ID == "" {
		return user.User{}, false, fmt.Errorf("user id is required")
	}

	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO app_users (id, first_name, last_name, username, balance, referral_earnings, referrer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $6, $6)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+userColumns+`
	`, u.ID, u.FirstName, u.LastName, u.Username, toNullString(u.ReferrerID), now)

	created, err := scanUser(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return user.User{}, false, err
	}

	// Lost the race (or the row already existed): read the winner.
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, false, err
	}
	return existing, false, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM app_users
		WHERE id = $1
	`, id)

	u, err := scanUser(row)
	if err != nil {
		return user.User{}, mapNotFound(err)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM app_users
		WHERE lower(username) = lower($1)
	`, username)

	u, err := scanUser(row)
	if err != nil {
		return user.User{}, mapNotFound(err)
	}
	return u, nil
}

func (s *Store) UpdateProfile(ctx context.Context, id, firstName, lastName, username string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE app_users
		SET first_name = $2, last_name = $3, username = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+userColumns+`
	`, id, firstName, lastName, username, time.Now().UTC())

	u, err := scanUser(row)
	if err != nil {
		return user.User{}, mapNotFound(err)
	}
	return u, nil
}

func (s *Store) listUsers(ctx context.Context, query string, args ...any) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	return s.listUsers(ctx, `
		SELECT `+userColumns+`
		FROM app_users
		ORDER BY created_at
	`)
}

func (s *Store) ListReferrals(ctx context.Context, referrerID string) ([]user.User, error) {
	return s.listUsers(ctx, `
		SELECT `+userColumns+`
		FROM app_users
		WHERE referrer_id = $1
		ORDER BY created_at
	`, referrerID)
}

func (s *Store) AttributeReferral(ctx context.Context, userID, referrerID string, bonus float64) (bool, error) {
	if userID == referrerID {
		return false, fmt.Errorf("self referral")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Conditional write: only the first attribution for a user sticks. The
	// subselect makes a dangling referrer a no-op rather than a broken link.
	result, err := tx.ExecContext(ctx, `
		UPDATE app_users
		SET referrer_id = $2, updated_at = $3
		WHERE id = $1
		  AND referrer_id IS NULL
		  AND EXISTS (SELECT 1 FROM app_users WHERE id = $2)
	`, userID, referrerID, now)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		if bonus > 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE app_users SET balance = balance + $2, updated_at = $3 WHERE id = $1
			`, referrerID, bonus, now); err != nil {
				return false, err
			}
		}
		if err := tx.Commit(); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	// Distinguish "already attributed" from "user or referrer missing".
	var referrer sql.NullString
	if err := s.db.QueryRowContext(ctx, `
		SELECT referrer_id FROM app_users WHERE id = $1
	`, userID).Scan(&referrer); err != nil {
		return false, mapNotFound(err)
	}
	if referrer.Valid {
		return false, nil
	}
	return false, storage.ErrNotFound
}

func (s *Store) MergeUsers(ctx context.Context, oldID, newID string) (user.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return user.User{}, err
	}
	defer tx.Rollback()

	target, err := scanUser(tx.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM app_users
		WHERE id = $1
		FOR UPDATE
	`, newID))
	if err != nil {
		return user.User{}, mapNotFound(err)
	}

	anon, err := scanUser(tx.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM app_users
		WHERE id = $1
		FOR UPDATE
	`, oldID))
	if errors.Is(err, sql.ErrNoRows) {
		// Already merged or never existed; the caller treats this as a no-op.
		return target, storage.ErrNotFound
	}
	if err != nil {
		return user.User{}, err
	}

	merged := user.Merge(anon, target)
	merged.UpdatedAt = time.Now().UTC()

	// Move completions first; duplicates between the two identities keep the
	// target's row.
	if _, err := tx.ExecContext(ctx, `
		UPDATE app_task_completions
		SET user_id = $2
		WHERE user_id = $1
		  AND task_id NOT IN (SELECT task_id FROM app_task_completions WHERE user_id = $2)
	`, oldID, newID); err != nil {
		return user.User{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM app_task_completions WHERE user_id = $1
	`, oldID); err != nil {
		return user.User{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE app_withdrawals SET user_id = $2 WHERE user_id = $1
	`, oldID, newID); err != nil {
		return user.User{}, err
	}
	// The target row is excluded: repointing it at itself would trip the
	// referrer_id <> id check. Its referrer is settled below instead.
	if _, err := tx.ExecContext(ctx, `
		UPDATE app_users SET referrer_id = $2 WHERE referrer_id = $1 AND id <> $2
	`, oldID, newID); err != nil {
		return user.User{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM app_users WHERE id = $1
	`, oldID); err != nil {
		return user.User{}, err
	}

	if merged.ReferrerID == oldID || merged.ReferrerID == merged.ID {
		merged.ReferrerID = ""
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE app_users
		SET balance = $2, referral_earnings = $3, referrer_id = $4, updated_at = $5
		WHERE id = $1
	`, merged.ID, merged.Balance, merged.ReferralEarnings, toNullString(merged.ReferrerID), merged.UpdatedAt); err != nil {
		return user.User{}, err
	}

	if err := tx.Commit(); err != nil {
		return user.User{}, err
	}
	return merged, nil
}

// --- TaskStore --------------------------------------------------------------

const taskColumns = `id, title, link, description, reward, code, active, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (task.Task, error) {
	var t task.Task
	if err := row.Scan(&t.ID, &t.Title, &t.Link, &t.Description, &t.Reward, &t.Code, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func (s *Store) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_tasks (id, title, link, description, reward, code, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.Title, t.Link, t.Description, t.Reward, t.Code, t.Active, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return task.Task{}, storage.ErrAlreadyExists
		}
		return task.Task{}, err
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t task.Task) (task.Task, error) {
	t.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_tasks
		SET title = $2, link = $3, description = $4, reward = $5, code = $6, active = $7, updated_at = $8
		WHERE id = $1
	`, t.ID, t.Title, t.Link, t.Description, t.Reward, t.Code, t.Active, t.UpdatedAt)
	if err != nil {
		return task.Task{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return task.Task{}, storage.ErrNotFound
	}
	return s.GetTask(ctx, t.ID)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM app_tasks WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM app_tasks
		WHERE id = $1
	`, id)

	t, err := scanTask(row)
	if err != nil {
		return task.Task{}, mapNotFound(err)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, activeOnly bool) ([]task.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM app_tasks
		ORDER BY created_at
	`
	if activeOnly {
		query = `
		SELECT ` + taskColumns + `
		FROM app_tasks
		WHERE active
		ORDER BY created_at
	`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) ListCompletions(ctx context.Context, userID string) ([]user.Completion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, task_id, completed_at
		FROM app_task_completions
		WHERE user_id = $1
		ORDER BY completed_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []user.Completion
	for rows.Next() {
		var c user.Completion
		if err := rows.Scan(&c.UserID, &c.TaskID, &c.CompletedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) HasCompletion(ctx context.Context, userID, taskID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM app_task_completions WHERE user_id = $1 AND task_id = $2)
	`, userID, taskID).Scan(&exists)
	return exists, err
}

func (s *Store) CountCompletions(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM app_task_completions
	`).Scan(&count)
	return count, err
}

func (s *Store) CreditCompletion(ctx context.Context, userID, taskID string, reward float64, referrerID string, commission float64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// The primary key on (user_id, task_id) arbitrates concurrent duplicates:
	// exactly one insert wins, the loser rolls back without crediting.
	result, err := tx.ExecContext(ctx, `
		INSERT INTO app_task_completions (user_id, task_id, completed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, task_id) DO NOTHING
	`, userID, taskID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return false, nil
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE app_users
		SET balance = balance + $2, updated_at = $3
		WHERE id = $1
	`, userID, reward, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return false, storage.ErrNotFound
	}

	if referrerID != "" && commission > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE app_users
			SET balance = balance + $2, referral_earnings = referral_earnings + $2, updated_at = $3
			WHERE id = $1
		`, referrerID, commission, time.Now().UTC()); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// --- WithdrawalStore --------------------------------------------------------

const withdrawalColumns = `id, user_id, amount, method, details, status, created_at, updated_at`

func scanWithdrawal(row interface{ Scan(...any) error }) (withdrawal.Withdrawal, error) {
	var w withdrawal.Withdrawal
	if err := row.Scan(&w.ID, &w.UserID, &w.Amount, &w.Method, &w.Details, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return withdrawal.Withdrawal{}, err
	}
	return w, nil
}

func (s *Store) CreateWithdrawal(ctx context.Context, w withdrawal.Withdrawal) (withdrawal.Withdrawal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return withdrawal.Withdrawal{}, err
	}
	defer tx.Rollback()

	// Conditional debit: the balance check and the decrement are one
	// statement, so two racing requests cannot both draw the same funds.
	result, err := tx.ExecContext(ctx, `
		UPDATE app_users
		SET balance = balance - $2, updated_at = $3
		WHERE id = $1 AND balance >= $2
	`, w.UserID, w.Amount, time.Now().UTC())
	if err != nil {
		return withdrawal.Withdrawal{}, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return withdrawal.Withdrawal{}, err
	}
	if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM app_users WHERE id = $1)
		`, w.UserID).Scan(&exists); err != nil {
			return withdrawal.Withdrawal{}, err
		}
		if !exists {
			return withdrawal.Withdrawal{}, storage.ErrNotFound
		}
		return withdrawal.Withdrawal{}, storage.ErrInsufficientBalance
	}

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	w.Status = withdrawal.StatusPending
	w.CreatedAt = now
	w.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO app_withdrawals (id, user_id, amount, method, details, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.ID, w.UserID, w.Amount, w.Method, w.Details, w.Status, w.CreatedAt, w.UpdatedAt); err != nil {
		return withdrawal.Withdrawal{}, err
	}

	if err := tx.Commit(); err != nil {
		return withdrawal.Withdrawal{}, err
	}
	return w, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (withdrawal.Withdrawal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM app_withdrawals
		WHERE id = $1
	`, id)

	w, err := scanWithdrawal(row)
	if err != nil {
		return withdrawal.Withdrawal{}, mapNotFound(err)
	}
	return w, nil
}

func (s *Store) listWithdrawals(ctx context.Context, query string, args ...any) ([]withdrawal.Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []withdrawal.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *Store) ListWithdrawals(ctx context.Context, userID string) ([]withdrawal.Withdrawal, error) {
	return s.listWithdrawals(ctx, `
		SELECT `+withdrawalColumns+`
		FROM app_withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
}

func (s *Store) ListAllWithdrawals(ctx context.Context, status withdrawal.Status) ([]withdrawal.Withdrawal, error) {
	if status == "" {
		return s.listWithdrawals(ctx, `
			SELECT `+withdrawalColumns+`
			FROM app_withdrawals
			ORDER BY created_at DESC
		`)
	}
	return s.listWithdrawals(ctx, `
		SELECT `+withdrawalColumns+`
		FROM app_withdrawals
		WHERE status = $1
		ORDER BY created_at DESC
	`, status)
}

func (s *Store) TransitionWithdrawal(ctx context.Context, id string, from, to withdrawal.Status, refund bool) (withdrawal.Withdrawal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return withdrawal.Withdrawal{}, err
	}
	defer tx.Rollback()

	// Guarding on the current status makes the transition a compare-and-swap:
	// a concurrent admin action leaves exactly one winner.
	row := tx.QueryRowContext(ctx, `
		UPDATE app_withdrawals
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+withdrawalColumns+`
	`, id, from, to, time.Now().UTC())

	w, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM app_withdrawals WHERE id = $1)
		`, id).Scan(&exists); err != nil {
			return withdrawal.Withdrawal{}, err
		}
		if !exists {
			return withdrawal.Withdrawal{}, storage.ErrNotFound
		}
		return withdrawal.Withdrawal{}, storage.ErrConflict
	}
	if err != nil {
		return withdrawal.Withdrawal{}, err
	}

	if refund {
		if _, err := tx.ExecContext(ctx, `
			UPDATE app_users
			SET balance = balance + $2, updated_at = $3
			WHERE id = $1
		`, w.UserID, w.Amount, time.Now().UTC()); err != nil {
			return withdrawal.Withdrawal{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return withdrawal.Withdrawal{}, err
	}
	return w, nil
}
