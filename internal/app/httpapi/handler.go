// Package httpapi exposes the reward backend over a JSON REST API.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/earnloop/earnloop/internal/app"
	"github.com/earnloop/earnloop/internal/app/domain/task"
	"github.com/earnloop/earnloop/internal/app/domain/withdrawal"
	"github.com/earnloop/earnloop/internal/app/metrics"
	apperrors "github.com/earnloop/earnloop/internal/errors"
	"github.com/earnloop/earnloop/internal/httputil"
	"github.com/earnloop/earnloop/internal/middleware"
	"github.com/earnloop/earnloop/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// Options configures the HTTP surface around the core API.
type Options struct {
	AllowAnonymous bool
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewHandler returns the router exposing the REST API.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler)
	r.Use(middleware.NewCORSMiddleware(opts.CORSOrigins).Handler)
	if opts.RateLimitRPS > 0 {
		r.Use(middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, log).Handler)
	}

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/admin/login", h.adminLogin).Methods(http.MethodPost)

	identityMW := middleware.NewIdentity(application.Verifier, application.Identity, application.Referrals, opts.AllowAnonymous, log)
	api := r.PathPrefix("/").Subrouter()
	api.Use(identityMW.Handler)
	api.Use(middleware.Logging(log))

	api.HandleFunc("/me", h.me).Methods(http.MethodGet)
	api.HandleFunc("/tasks", h.listTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/verify", h.verifyTask).Methods(http.MethodPost)
	api.HandleFunc("/referrals", h.referrals).Methods(http.MethodGet)
	api.HandleFunc("/withdraw", h.requestWithdrawal).Methods(http.MethodPost)
	api.HandleFunc("/withdrawals", h.listWithdrawals).Methods(http.MethodGet)

	adminMW := middleware.NewAdminAuth(application.Admin, log)
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(adminMW.Handler)
	admin.Use(middleware.Logging(log))

	admin.HandleFunc("/logout", h.adminLogout).Methods(http.MethodPost)
	admin.HandleFunc("/tasks", h.adminListTasks).Methods(http.MethodGet)
	admin.HandleFunc("/tasks", h.adminCreateTask).Methods(http.MethodPost)
	admin.HandleFunc("/tasks/{id}", h.adminUpdateTask).Methods(http.MethodPut)
	admin.HandleFunc("/tasks/{id}", h.adminDeleteTask).Methods(http.MethodDelete)
	admin.HandleFunc("/withdrawals", h.adminListWithdrawals).Methods(http.MethodGet)
	admin.HandleFunc("/withdrawals/{id}", h.adminUpdateWithdrawal).Methods(http.MethodPatch)
	admin.HandleFunc("/users", h.adminListUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}", h.adminGetUser).Methods(http.MethodGet)
	admin.HandleFunc("/stats", h.adminStats).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- user surface -----------------------------------------------------------

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Identity.Get(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	listed, err := h.app.Tasks.ListForUser(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listed)
}

func (h *handler) verifyTask(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code string `json:"code"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, apperrors.Validation(err.Error()))
		return
	}

	taskID := mux.Vars(r)["id"]
	res, err := h.app.Rewards.VerifyTask(r.Context(), middleware.UserIDFromContext(r.Context()), taskID, payload.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) referrals(w http.ResponseWriter, r *http.Request) {
	summary, err := h.app.Referrals.Summarize(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *handler) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount  float64 `json:"amount"`
		Method  string  `json:"method"`
		Details string  `json:"details"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, apperrors.Validation(err.Error()))
		return
	}

	created, err := h.app.Withdrawals.Request(r.Context(), middleware.UserIDFromContext(r.Context()), payload.Amount, payload.Method, payload.Details)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	listed, err := h.app.Withdrawals.List(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listed)
}

// --- admin surface ----------------------------------------------------------

func (h *handler) adminLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, apperrors.Validation(err.Error()))
		return
	}

	token, err := h.app.Admin.Login(payload.Username, payload.Password)
	if err != nil {
		h.writeError(w, apperrors.Unauthorized("invalid credentials"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *handler) adminLogout(w http.ResponseWriter, _ *http.Request) {
	// Tokens are stateless; logout is a client-side discard.
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type taskPayload struct {
	Title       string  `json:"title"`
	Link        string  `json:"link"`
	Description string  `json:"description"`
	Reward      float64 `json:"reward"`
	Code        string  `json:"code"`
	Active      bool    `json:"active"`
}

func (h *handler) adminListTasks(w http.ResponseWriter, r *http.Request) {
	listed, err := h.app.Tasks.ListAll(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listed)
}

func (h *handler) adminCreateTask(w http.ResponseWriter, r *http.Request) {
	var payload taskPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, apperrors.Validation(err.Error()))
		return
	}

	created, err := h.app.Tasks.Create(r.Context(), task.Task{
		Title:       payload.Title,
		Link:        payload.Link,
		Description: payload.Description,
		Reward:      payload.Reward,
		Code:        payload.Code,
		Active:      payload.Active,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) adminUpdateTask(w http.ResponseWriter, r *http.Request) {
	var payload taskPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, apperrors.Validation(err.Error()))
		return
	}

	updated, err := h.app.Tasks.Update(r.Context(), task.Task{
		ID:          mux.Vars(r)["id"],
		Title:       payload.Title,
		Link:        payload.Link,
		Description: payload.Description,
		Reward:      payload.Reward,
		Code:        payload.Code,
		Active:      payload.Active,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) adminDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Tasks.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) adminListWithdrawals(w http.ResponseWriter, r *http.Request) {
	listed, err := h.app.Withdrawals.ListAll(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listed)
}

func (h *handler) adminUpdateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, apperrors.Validation(err.Error()))
		return
	}

	updated, err := h.app.Withdrawals.UpdateStatus(r.Context(), mux.Vars(r)["id"], withdrawal.Status(payload.Status))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) adminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.app.Identity.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, users)
}

// adminGetUser resolves an explicit user id on the admin's behalf, creating
// the record when the user has not checked in yet.
func (h *handler) adminGetUser(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Identity.ResolveOverride(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res.User)
}

func (h *handler) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	if apperrors.StatusFor(err) == http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
	}
	httputil.WriteError(w, err)
}
