// Package rewards verifies task completion codes and credits the reward
// ledger.
package rewards

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/earnloop/earnloop/internal/app/domain/user"
	"github.com/earnloop/earnloop/internal/app/metrics"
	"github.com/earnloop/earnloop/internal/app/storage"
	apperrors "github.com/earnloop/earnloop/internal/errors"
	"github.com/earnloop/earnloop/pkg/logger"
)

// DefaultCommissionRate is the referrer's cut of each reward.
const DefaultCommissionRate = 0.05

// Service credits tasks and referral commissions.
type Service struct {
	users          storage.UserStore
	tasks          storage.TaskStore
	commissionRate float64
	log            *logger.Logger
}

// New constructs a rewards service. A non-positive commissionRate falls back
// to the default.
func New(users storage.UserStore, tasks storage.TaskStore, commissionRate float64, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rewards")
	}
	if commissionRate <= 0 {
		commissionRate = DefaultCommissionRate
	}
	return &Service{users: users, tasks: tasks, commissionRate: commissionRate, log: log}
}

// Result is the outcome of a verification attempt.
type Result struct {
	User             user.User `json:"user"`
	Reward           float64   `json:"reward"`
	AlreadyCompleted bool      `json:"already_completed"`
}

// VerifyTask checks the submitted code against the task and, on the first
// correct submission, credits the reward to the user and the commission to
// their referrer in one atomic step. Repeat submissions succeed without
// crediting again and without re-checking the code: a completion, once
// recorded, stays a success.
func (s *Service) VerifyTask(ctx context.Context, userID, taskID, code string) (Result, error) {
	t, err := s.tasks.GetTask(ctx, taskID)
	if err == storage.ErrNotFound {
		return Result{}, apperrors.NotFound("task not found")
	}
	if err != nil {
		return Result{}, err
	}
	if !t.Active {
		return Result{}, apperrors.NotFound("task not found")
	}

	u, err := s.users.GetUser(ctx, userID)
	if err == storage.ErrNotFound {
		return Result{}, apperrors.NotFound("user not found")
	}
	if err != nil {
		return Result{}, err
	}

	done, err := s.tasks.HasCompletion(ctx, userID, taskID)
	if err != nil {
		return Result{}, err
	}
	if done {
		metrics.RecordTaskVerification("repeat")
		return Result{User: u, Reward: t.Reward, AlreadyCompleted: true}, nil
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return Result{}, apperrors.InvalidCode("verification code is required")
	}
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(code)), []byte(strings.ToLower(t.Code))) != 1 {
		metrics.RecordTaskVerification("invalid_code")
		return Result{}, apperrors.InvalidCode("verification code does not match")
	}

	commission := t.Reward * s.commissionRate
	credited, err := s.tasks.CreditCompletion(ctx, userID, taskID, t.Reward, u.ReferrerID, commission)
	if err != nil {
		return Result{}, err
	}

	fresh, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	if credited {
		metrics.RecordTaskVerification("credited")
		s.log.WithField("user_id", userID).WithField("task_id", taskID).WithField("reward", t.Reward).Info("task reward credited")
	} else {
		metrics.RecordTaskVerification("repeat")
	}
	return Result{User: fresh, Reward: t.Reward, AlreadyCompleted: !credited}, nil
}
