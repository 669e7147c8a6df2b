// Package tasks manages the promotional task catalog.
package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/earnloop/earnloop/internal/app/domain/task"
	"github.com/earnloop/earnloop/internal/app/storage"
	apperrors "github.com/earnloop/earnloop/internal/errors"
	"github.com/earnloop/earnloop/pkg/logger"
)

// Cache is an optional read-through cache for the active task list. It is
// best effort: cache failures fall back to the store.
type Cache interface {
	GetTasks(ctx context.Context) ([]task.Task, bool)
	SetTasks(ctx context.Context, tasks []task.Task)
	Invalidate(ctx context.Context)
}

// Service manages tasks and reports per-user completion status.
type Service struct {
	store storage.TaskStore
	cache Cache
	log   *logger.Logger
}

// New constructs a task service. cache may be nil.
func New(store storage.TaskStore, cache Cache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tasks")
	}
	return &Service{store: store, cache: cache, log: log}
}

// ListForUser returns the active tasks annotated with the user's completion
// status.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]task.WithStatus, error) {
	active, err := s.listActive(ctx)
	if err != nil {
		return nil, err
	}

	completions, err := s.store.ListCompletions(ctx, userID)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(completions))
	for _, c := range completions {
		done[c.TaskID] = true
	}

	result := make([]task.WithStatus, 0, len(active))
	for _, t := range active {
		status := task.StatusPending
		if done[t.ID] {
			status = task.StatusCompleted
		}
		result = append(result, task.WithStatus{Task: t, Status: status})
	}
	return result, nil
}

func (s *Service) listActive(ctx context.Context) ([]task.Task, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetTasks(ctx); ok {
			return cached, nil
		}
	}

	active, err := s.store.ListTasks(ctx, true)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetTasks(ctx, active)
	}
	return active, nil
}

// ListAll returns every task including inactive ones, for the admin surface.
func (s *Service) ListAll(ctx context.Context) ([]task.Task, error) {
	return s.store.ListTasks(ctx, false)
}

// Get returns a single task.
func (s *Service) Get(ctx context.Context, id string) (task.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err == storage.ErrNotFound {
		return task.Task{}, apperrors.NotFound("task not found")
	}
	return t, err
}

func validate(t task.Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return apperrors.Validation("title is required")
	}
	if strings.TrimSpace(t.Code) == "" {
		return apperrors.Validation("code is required")
	}
	if t.Reward < 0 {
		return apperrors.Validation("reward must not be negative")
	}
	return nil
}

// Create adds a task to the catalog.
func (s *Service) Create(ctx context.Context, t task.Task) (task.Task, error) {
	if err := validate(t); err != nil {
		return task.Task{}, err
	}

	created, err := s.store.CreateTask(ctx, t)
	if err != nil {
		return task.Task{}, err
	}
	s.invalidate(ctx)
	s.log.WithField("task_id", created.ID).WithField("title", created.Title).Info("task created")
	return created, nil
}

// Update replaces a task's definition.
func (s *Service) Update(ctx context.Context, t task.Task) (task.Task, error) {
	if err := validate(t); err != nil {
		return task.Task{}, err
	}

	updated, err := s.store.UpdateTask(ctx, t)
	if err == storage.ErrNotFound {
		return task.Task{}, apperrors.NotFound("task not found")
	}
	if err != nil {
		return task.Task{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// Delete removes a task. Past completions and credited rewards are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.DeleteTask(ctx, id)
	if err == storage.ErrNotFound {
		return apperrors.NotFound("task not found")
	}
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

// SeedDemo inserts a small starter catalog when the store is empty. It is a
// development convenience gated behind configuration.
func (s *Service) SeedDemo(ctx context.Context) error {
	existing, err := s.store.ListTasks(ctx, false)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	demo := []task.Task{
		{Title: "Join our Telegram channel", Link: "https://t.me/earnloop", Description: "Join the announcement channel and grab the code from the pinned post.", Reward: 50, Code: "WELCOME", Active: true},
		{Title: "Follow us on X", Link: "https://x.com/earnloop", Description: "Follow the project account and find the code in the bio.", Reward: 30, Code: "FOLLOW", Active: true},
		{Title: "Invite a friend", Description: "Share your invite link and submit the code your friend receives.", Reward: 100, Code: "TOGETHER", Active: true},
	}
	for _, t := range demo {
		if _, err := s.store.CreateTask(ctx, t); err != nil {
			return fmt.Errorf("seed task %q: %w", t.Title, err)
		}
	}
	s.invalidate(ctx)
	s.log.WithField("count", len(demo)).Info("seeded demo tasks")
	return nil
}
