package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ngoyal88/docgen/pkg/middleware"
	"github.com/ngoyal88/docgen/pkg/storage"
	"github.com/ngoyal88/docgen/pkg/users"
)

// AdminAPI provides endpoints for managing users and reading the request log.
type AdminAPI struct {
	users  UserStore
	tokens *middleware.TokenIssuer
	store  storage.Store
	checks map[string]HealthCheck
	logger *zap.Logger
}

func (api *AdminAPI) routes(r chi.Router) {
	// Users
	r.Get("/users", api.handleListUsers)
	r.Post("/users", api.handleCreateUser)
	r.Put("/users/{id}", api.handleUpdateUser)
	r.Delete("/users/{id}", api.handleDeleteUser)
	r.Post("/users/{id}/token", api.handleIssueToken)

	// Analytics
	r.Get("/logs", api.handleLogs)
	r.Get("/logs/{id}", api.handleLog)
	r.Get("/usage", api.handleUsageStats)

	// System
	r.Get("/health", api.handleHealth)
}

func (api *AdminAPI) handleListUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := api.users.List(ctx)
	if err != nil {
		writeError(w, r, api.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"users": list,
		"count": len(list),
	})
}

func (api *AdminAPI) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string `json:"email"`
		FullName     string `json:"full_name"`
		Organization string `json:"organization"`
		Role         string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = users.RoleUser
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	u, err := api.users.Create(ctx, req.Email, req.FullName, req.Organization, req.Role)
	if err != nil {
		writeError(w, r, api.logger, err)
		return
	}
	api.logger.Info("user created", zap.String("user_id", u.ID), zap.String("role", u.Role))
	respondJSON(w, http.StatusCreated, u)
}

func (api *AdminAPI) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var upd users.UserUpdate
	if err := decodeJSON(r, &upd); err != nil {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	u, err := api.users.Update(ctx, chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, r, api.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (api *AdminAPI) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := api.users.Delete(ctx, id); err != nil {
		writeError(w, r, api.logger, err)
		return
	}
	api.logger.Info("user deleted", zap.String("user_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// handleIssueToken mints an access token for a user. Tokens are not stored, so
// the response is the only time it is shown.
func (api *AdminAPI) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	u, err := api.users.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, api.logger, err)
		return
	}
	token, exp, err := api.tokens.Issue(u)
	if err != nil {
		writeError(w, r, api.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"expires_at": exp,
		"user":       u,
	})
}

// timeRange parses RFC3339 from/to query parameters. A missing "to" means now
// and a missing "from" means defaultSpan before "to".
func timeRange(r *http.Request, defaultSpan time.Duration) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	var from, to time.Time
	var err error
	if s := q.Get("to"); s != "" {
		if to, err = time.Parse(time.RFC3339, s); err != nil {
			return from, to, false
		}
	} else {
		to = time.Now()
	}
	to = to.UTC()
	if s := q.Get("from"); s != "" {
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			return from, to, false
		}
	} else {
		from = to.Add(-defaultSpan)
	}
	return from.UTC(), to, true
}

func (api *AdminAPI) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	if api.store == nil {
		respondMessage(w, http.StatusServiceUnavailable, "Request logging not enabled")
		return
	}
	from, to, ok := timeRange(r, 7*24*time.Hour)
	if !ok {
		respondMessage(w, http.StatusBadRequest, "from and to must be RFC3339 timestamps")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	stats, err := api.store.GetUsageStats(ctx, r.URL.Query().Get("user_id"), from, to)
	if err != nil {
		writeError(w, r, api.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (api *AdminAPI) handleLogs(w http.ResponseWriter, r *http.Request) {
	if api.store == nil {
		respondMessage(w, http.StatusServiceUnavailable, "Request logging not enabled")
		return
	}
	q := r.URL.Query()
	filters := storage.LogFilters{
		UserID:    q.Get("user_id"),
		Operation: q.Get("operation"),
		Status:    q.Get("status"),
	}
	var err error
	if filters.Limit, err = queryInt(r, "limit", 100); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if filters.Offset, err = queryInt(r, "offset", 0); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Get("from") != "" || q.Get("to") != "" {
		from, to, ok := timeRange(r, 30*24*time.Hour)
		if !ok {
			respondMessage(w, http.StatusBadRequest, "from and to must be RFC3339 timestamps")
			return
		}
		filters.From, filters.To = from, to
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	logs, err := api.store.ListRequestLogs(ctx, filters)
	if err != nil {
		writeError(w, r, api.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}

func (api *AdminAPI) handleLog(w http.ResponseWriter, r *http.Request) {
	if api.store == nil {
		respondMessage(w, http.StatusServiceUnavailable, "Request logging not enabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	entry, err := api.store.GetRequestLog(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, api.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// handleHealth returns system health
func (api *AdminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	for name, check := range api.checks {
		if err := check(ctx); err != nil {
			health[name] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		health[name] = "healthy"
	}

	respondJSON(w, status, health)
}
