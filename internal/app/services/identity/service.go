// Package identity resolves incoming requests to a stored user, creating,
// refreshing and merging identities as needed.
package identity

import (
	"context"
	"strings"

	"github.com/earnloop/earnloop/internal/app/auth"
	"github.com/earnloop/earnloop/internal/app/domain/user"
	"github.com/earnloop/earnloop/internal/app/metrics"
	"github.com/earnloop/earnloop/internal/app/storage"
	apperrors "github.com/earnloop/earnloop/internal/errors"
	"github.com/earnloop/earnloop/pkg/logger"
)

// Service resolves verified and anonymous identities.
type Service struct {
	users storage.UserStore
	log   *logger.Logger
}

// New constructs an identity service.
func New(users storage.UserStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("identity")
	}
	return &Service{users: users, log: log}
}

// Resolution is the outcome of resolving a request to a user.
type Resolution struct {
	User    user.User
	Created bool
	Merged  bool
}

// ResolveVerified resolves a verified Telegram principal, creating the user
// on first contact and refreshing the profile fields on every visit. When
// anonID names a previously used anonymous identity, that identity is folded
// into the verified one.
func (s *Service) ResolveVerified(ctx context.Context, p auth.Principal, anonID string) (Resolution, error) {
	anonID = strings.TrimSpace(anonID)

	u, created, err := s.users.EnsureUser(ctx, user.User{
		ID:        p.UserID(),
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Username:  p.Username,
	})
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{User: u, Created: created}

	if !created {
		if u.FirstName != p.FirstName || u.LastName != p.LastName || u.Username != p.Username {
			refreshed, err := s.users.UpdateProfile(ctx, u.ID, p.FirstName, p.LastName, p.Username)
			if err != nil {
				return Resolution{}, err
			}
			res.User = refreshed
		}
	}

	if anonID != "" && anonID != res.User.ID && isAnonymous(anonID) {
		merged, err := s.users.MergeUsers(ctx, anonID, res.User.ID)
		switch err {
		case nil:
			res.User = merged
			res.Merged = true
			metrics.RecordIdentityMerge()
			s.log.WithField("anon_id", anonID).WithField("user_id", merged.ID).Info("folded anonymous identity into verified user")
		case storage.ErrNotFound:
			// Nothing left to fold in; a repeat of an earlier merge.
		default:
			return Resolution{}, err
		}
	}

	return res, nil
}

// ResolveAnonymous resolves a client-generated anonymous identifier.
func (s *Service) ResolveAnonymous(ctx context.Context, anonID string) (Resolution, error) {
	anonID = strings.TrimSpace(anonID)
	if anonID == "" {
		return Resolution{}, apperrors.Unauthorized("anonymous id is required")
	}
	if !isAnonymous(anonID) {
		return Resolution{}, apperrors.Unauthorized("malformed anonymous id")
	}

	u, created, err := s.users.EnsureUser(ctx, user.User{ID: anonID})
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{User: u, Created: created}, nil
}

// ResolveOverride resolves an explicit user id supplied through the admin
// surface, bypassing the request's own identity carriers. Callers must gate
// it behind admin authentication. The record is created when absent, so
// support tooling can inspect and prepare accounts that have not checked in
// yet.
func (s *Service) ResolveOverride(ctx context.Context, overrideID string) (Resolution, error) {
	overrideID = strings.TrimSpace(overrideID)
	if overrideID == "" {
		return Resolution{}, apperrors.Validation("override id is required")
	}

	u, created, err := s.users.EnsureUser(ctx, user.User{ID: overrideID})
	if err != nil {
		return Resolution{}, err
	}
	if created {
		s.log.WithField("user_id", overrideID).Info("user record created via admin override")
	}
	return Resolution{User: u, Created: created}, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err == storage.ErrNotFound {
		return user.User{}, apperrors.NotFound("user not found")
	}
	return u, err
}

// List returns every known user, for the admin surface.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.users.ListUsers(ctx)
}

func isAnonymous(id string) bool {
	return strings.HasPrefix(id, user.AnonymousPrefix) || strings.HasPrefix(id, "web_")
}
