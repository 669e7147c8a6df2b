package task

import "time"

// Task is a promotional task users complete for a reward. The verification
// code is a secret: it is compared case-insensitively against user submissions
// and must never appear on the public API surface.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link,omitempty"`
	Description string    `json:"description,omitempty"`
	Reward      float64   `json:"reward"`
	Code        string    `json:"-"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Status of a task relative to one user.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// WithStatus is a task annotated with one user's completion state.
type WithStatus struct {
	Task
	Status Status `json:"status"`
}
