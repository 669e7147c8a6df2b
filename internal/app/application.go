// Package app wires the domain services to their stores.
package app

import (
	"context"
	"time"

	"github.com/earnloop/earnloop/internal/app/auth"
	"github.com/earnloop/earnloop/internal/app/domain/withdrawal"
	identitysvc "github.com/earnloop/earnloop/internal/app/services/identity"
	referralsvc "github.com/earnloop/earnloop/internal/app/services/referral"
	rewardssvc "github.com/earnloop/earnloop/internal/app/services/rewards"
	taskssvc "github.com/earnloop/earnloop/internal/app/services/tasks"
	withdrawalssvc "github.com/earnloop/earnloop/internal/app/services/withdrawals"
	"github.com/earnloop/earnloop/internal/app/storage"
	"github.com/earnloop/earnloop/internal/app/storage/memory"
	"github.com/earnloop/earnloop/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users       storage.UserStore
	Tasks       storage.TaskStore
	Withdrawals storage.WithdrawalStore
}

// Config carries the application-level knobs.
type Config struct {
	BotToken       string
	BotUsername    string
	AdminUsername  string
	AdminPassword  string
	JWTSecret      string
	AdminTokenTTL  time.Duration
	InitDataMaxAge time.Duration
	CommissionRate float64
	SignupBonus    float64
	MinWithdrawal  float64
	TaskCache      taskssvc.Cache
}

// Application ties domain services together.
type Application struct {
	log    *logger.Logger
	stores Stores

	Verifier *auth.Verifier
	Admin    *auth.Manager

	Identity    *identitysvc.Service
	Referrals   *referralsvc.Service
	Rewards     *rewardssvc.Service
	Tasks       *taskssvc.Service
	Withdrawals *withdrawalssvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, cfg Config, log *logger.Logger) *Application {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Tasks == nil {
		stores.Tasks = mem
	}
	if stores.Withdrawals == nil {
		stores.Withdrawals = mem
	}

	if cfg.AdminTokenTTL <= 0 {
		cfg.AdminTokenTTL = 12 * time.Hour
	}

	return &Application{
		log:         log,
		stores:      stores,
		Verifier:    auth.NewVerifier(cfg.BotToken, cfg.InitDataMaxAge),
		Admin:       auth.NewManager(cfg.AdminUsername, cfg.AdminPassword, cfg.JWTSecret, cfg.AdminTokenTTL),
		Identity:    identitysvc.New(stores.Users, log),
		Referrals:   referralsvc.New(stores.Users, cfg.BotUsername, cfg.SignupBonus, log),
		Rewards:     rewardssvc.New(stores.Users, stores.Tasks, cfg.CommissionRate, log),
		Tasks:       taskssvc.New(stores.Tasks, cfg.TaskCache, log),
		Withdrawals: withdrawalssvc.New(stores.Withdrawals, cfg.MinWithdrawal, log),
	}
}

// Stats summarises platform activity for the admin dashboard.
type Stats struct {
	Users              int     `json:"users"`
	ActiveTasks        int     `json:"active_tasks"`
	Completions        int64   `json:"completions"`
	PendingWithdrawals int     `json:"pending_withdrawals"`
	TotalBalance       float64 `json:"total_balance"`
}

// Stats gathers the current platform counters.
func (a *Application) Stats(ctx context.Context) (Stats, error) {
	users, err := a.stores.Users.ListUsers(ctx)
	if err != nil {
		return Stats{}, err
	}
	active, err := a.stores.Tasks.ListTasks(ctx, true)
	if err != nil {
		return Stats{}, err
	}
	completions, err := a.stores.Tasks.CountCompletions(ctx)
	if err != nil {
		return Stats{}, err
	}
	pending, err := a.stores.Withdrawals.ListAllWithdrawals(ctx, withdrawal.StatusPending)
	if err != nil {
		return Stats{}, err
	}

	var totalBalance float64
	for _, u := range users {
		totalBalance += u.Balance
	}

	return Stats{
		Users:              len(users),
		ActiveTasks:        len(active),
		Completions:        completions,
		PendingWithdrawals: len(pending),
		TotalBalance:       totalBalance,
	}, nil
}
