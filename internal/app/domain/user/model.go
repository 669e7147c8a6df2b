package user

import (
	"strings"
	"time"
)

// ID prefixes distinguish verified Telegram identities from anonymous
// browser identities in one keyspace.
const (
	TelegramPrefix  = "tg:"
	AnonymousPrefix = "anon:"
)

// User is one end user of the mini-app. A user is created on first resolved
// request and never deleted, except when an anonymous record is merged into a
// verified one.
type User struct {
	ID               string    `json:"id"`
	FirstName        string    `json:"first_name,omitempty"`
	LastName         string    `json:"last_name,omitempty"`
	Username         string    `json:"username,omitempty"`
	Balance          float64   `json:"balance"`
	ReferralEarnings float64   `json:"referral_earnings"`
	ReferrerID       string    `json:"referrer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Completion records that a user finished a task. The (UserID, TaskID) pair
// exists at most once and is never removed.
type Completion struct {
	UserID      string    `json:"user_id"`
	TaskID      string    `json:"task_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// IsAnonymous reports whether the id names an unverified browser identity.
func IsAnonymous(id string) bool {
	return strings.HasPrefix(id, AnonymousPrefix) || strings.HasPrefix(id, "web_")
}

// IsVerified reports whether the id names a verified Telegram identity.
func IsVerified(id string) bool {
	return strings.HasPrefix(id, TelegramPrefix)
}

// Merge folds an anonymous record into a verified one: numeric fields are
// summed and the referrer is inherited when the verified record has none.
// Completion-set union and referrer repointing of other users are the store's
// responsibility. Merge is pure; applying it to an already-merged pair (an
// anonymous record that no longer exists contributes zero values) changes
// nothing, which is what makes the merge operation idempotent.
func Merge(anon, verified User) User {
	verified.Balance += anon.Balance
	verified.ReferralEarnings += anon.ReferralEarnings
	if verified.ReferrerID == "" && anon.ReferrerID != "" && anon.ReferrerID != verified.ID {
		verified.ReferrerID = anon.ReferrerID
	}
	return verified
}

// DisplayName returns the best human-readable name for the user.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.ID
}
