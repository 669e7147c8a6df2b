package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/earnloop/earnloop/internal/app/auth"
	"github.com/earnloop/earnloop/internal/app/services/identity"
	"github.com/earnloop/earnloop/internal/app/services/referral"
	apperrors "github.com/earnloop/earnloop/internal/errors"
	"github.com/earnloop/earnloop/internal/httputil"
	"github.com/earnloop/earnloop/pkg/logger"
)

type contextKey string

const (
	userIDKey     contextKey = "user_id"
	startParamKey contextKey = "start_param"
)

// Request headers carrying identity and referral context.
const (
	HeaderInitData = "X-Telegram-Init-Data"
	HeaderAnonID   = "X-Anon-Id"
	HeaderReferrer = "X-Referrer"
)

// UserIDFromContext returns the resolved user id, or "" when the request was
// not identified.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// Identity authenticates requests: it verifies Telegram init data when
// present, falls back to the anonymous id header when allowed, and runs
// referral attribution for newly seen users.
type Identity struct {
	verifier       *auth.Verifier
	identities     *identity.Service
	referrals      *referral.Service
	allowAnonymous bool
	log            *logger.Logger
}

// NewIdentity creates the identity middleware.
func NewIdentity(verifier *auth.Verifier, identities *identity.Service, referrals *referral.Service, allowAnonymous bool, log *logger.Logger) *Identity {
	if log == nil {
		log = logger.NewDefault("identity-middleware")
	}
	return &Identity{
		verifier:       verifier,
		identities:     identities,
		referrals:      referrals,
		allowAnonymous: allowAnonymous,
		log:            log,
	}
}

// Handler returns the identity middleware handler.
func (m *Identity) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, startParam, err := m.resolve(r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		// Referral carriers ride along on any request; only the first one a
		// user ever presents can bind.
		if res.User.ReferrerID == "" {
			m.referrals.Attribute(r.Context(), res.User.ID,
				startParam,
				r.Header.Get(HeaderReferrer),
				r.URL.Query().Get("ref"),
			)
		}

		ctx := context.WithValue(r.Context(), userIDKey, res.User.ID)
		if startParam != "" {
			ctx = context.WithValue(ctx, startParamKey, startParam)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Identity) resolve(r *http.Request) (identity.Resolution, string, error) {
	initData := r.Header.Get(HeaderInitData)
	anonID := strings.TrimSpace(r.Header.Get(HeaderAnonID))

	if initData != "" {
		principal, err := m.verifier.Verify(initData)
		if err != nil {
			if errors.Is(err, auth.ErrNoInitData) && m.allowAnonymous && anonID != "" {
				res, rerr := m.identities.ResolveAnonymous(r.Context(), anonID)
				return res, "", rerr
			}
			m.log.WithError(err).Debug("init data rejected")
			return identity.Resolution{}, "", apperrors.Unauthorized("invalid init data")
		}

		res, err := m.identities.ResolveVerified(r.Context(), principal, anonID)
		return res, principal.StartParam, err
	}

	if m.allowAnonymous && anonID != "" {
		res, err := m.identities.ResolveAnonymous(r.Context(), anonID)
		return res, "", err
	}

	return identity.Resolution{}, "", apperrors.Unauthorized("authentication required")
}
