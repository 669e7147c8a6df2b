package middleware

import (
	"net/http"
	"strings"

	"github.com/earnloop/earnloop/internal/app/auth"
	apperrors "github.com/earnloop/earnloop/internal/errors"
	"github.com/earnloop/earnloop/internal/httputil"
	"github.com/earnloop/earnloop/pkg/logger"
)

// HeaderAdminSecret is the legacy admin carrier: the raw admin secret in
// place of a session token.
const HeaderAdminSecret = "X-Admin-Secret"

// AdminAuth guards the admin surface with bearer session tokens or the
// legacy admin secret header.
type AdminAuth struct {
	manager *auth.Manager
	log     *logger.Logger
}

// NewAdminAuth creates the admin authentication middleware.
func NewAdminAuth(manager *auth.Manager, log *logger.Logger) *AdminAuth {
	if log == nil {
		log = logger.NewDefault("admin-auth")
	}
	return &AdminAuth{manager: manager, log: log}
}

// Handler returns the admin authentication middleware handler.
func (m *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret := r.Header.Get(HeaderAdminSecret); secret != "" {
			if err := m.manager.ValidateSecret(secret); err != nil {
				m.log.WithError(err).Warn("admin secret rejected")
				httputil.WriteError(w, apperrors.Unauthorized("invalid admin secret"))
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			httputil.WriteError(w, apperrors.Unauthorized("missing Authorization header"))
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteError(w, apperrors.Unauthorized("invalid Authorization header format"))
			return
		}

		if _, err := m.manager.Validate(parts[1]); err != nil {
			m.log.WithError(err).Warn("admin token rejected")
			httputil.WriteError(w, apperrors.Unauthorized("invalid or expired token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
