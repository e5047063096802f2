// Package api exposes the document service and the admin endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ngoyal88/docgen/pkg/ai"
	"github.com/ngoyal88/docgen/pkg/cache"
	"github.com/ngoyal88/docgen/pkg/documents"
	"github.com/ngoyal88/docgen/pkg/middleware"
	"github.com/ngoyal88/docgen/pkg/storage"
	"github.com/ngoyal88/docgen/pkg/users"
)

// UserStore is the profile directory used by authentication and the admin API.
type UserStore interface {
	middleware.UserDirectory
	Create(ctx context.Context, email, fullName, organization, role string) (*users.User, error)
	Update(ctx context.Context, id string, upd users.UserUpdate) (*users.User, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*users.User, error)
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// Deps holds everything the router needs. Logs, Cache and Limiter may be nil.
type Deps struct {
	Documents *documents.Service
	Users     UserStore
	Tokens    *middleware.TokenIssuer
	Logs      storage.Store
	Cache     *cache.Client
	Limiter   *middleware.RateLimiter
	AdminKey  string
	QACache   time.Duration
	// MaxUploadBytes bounds a whole multipart request.
	MaxUploadBytes int64
	Checks         map[string]HealthCheck
	Logger         *zap.Logger
}

// NewRouter wires the public, authenticated and admin routes.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 4 * documents.MaxUploadBytes
	}

	docs := &documentHandler{svc: d.Documents, maxUpload: d.MaxUploadBytes, logger: d.Logger.Named("api")}
	admin := &AdminAPI{users: d.Users, tokens: d.Tokens, store: d.Logs, checks: d.Checks, logger: d.Logger.Named("admin")}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Logger.Named("http")))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)

	r.Get("/health", admin.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Authenticate(d.Tokens, d.Users, true))
		if d.Limiter != nil {
			r.Use(d.Limiter.Middleware)
		}

		r.Get("/me", docs.me)
		r.Get("/templates", docs.templates)
		r.Post("/generate", docs.generate)
		r.With(middleware.ResponseCache(d.Cache, "docgen:qa:", d.QACache, d.Logger)).Post("/qa", docs.qa)
		r.Post("/upload", docs.upload)
		r.Get("/telemetry", docs.telemetry)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", docs.list)
			r.Post("/", docs.generate)
			r.Get("/{id}", docs.get)
			r.Patch("/{id}", docs.update)
			r.Delete("/{id}", docs.delete)
		})

		r.Get("/vector-stores/{id}", docs.getVectorStore)
		r.Delete("/vector-stores/{id}", docs.deleteVectorStore)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminKey(d.AdminKey))
		r.Use(middleware.Authenticate(d.Tokens, d.Users, true))
		r.Use(middleware.RequireRole(users.RoleAdmin))
		admin.routes(r)
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondMessage(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// errorBody is the JSON shape for failed requests. Executor failures carry the
// sanitized user message and retry metadata.
type errorBody struct {
	Error      string `json:"error"`
	Retryable  *bool  `json:"retryable,omitempty"`
	RetryCount *int   `json:"retryCount,omitempty"`
}

func statusFor(err error) int {
	var opErr *ai.OperationError
	switch {
	case errors.As(err, &opErr):
		if opErr.Status == http.StatusTooManyRequests {
			return http.StatusTooManyRequests
		}
		if opErr.IsConfigError() {
			return http.StatusInternalServerError
		}
		return http.StatusBadGateway
	case errors.Is(err, documents.ErrInvalidInput), errors.Is(err, documents.ErrNoFiles),
		errors.Is(err, users.ErrInvalidRole), errors.Is(err, users.ErrInvalidUser):
		return http.StatusBadRequest
	case errors.Is(err, documents.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, documents.ErrNotFound), errors.Is(err, users.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, users.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, documents.ErrPromptTooLarge), errors.Is(err, documents.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, documents.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, documents.ErrEmptyCompletion), errors.Is(err, documents.ErrMalformedOutput):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorPayload(err error, status int) errorBody {
	var opErr *ai.OperationError
	if errors.As(err, &opErr) {
		return errorBody{Error: opErr.UserMessage, Retryable: &opErr.IsRetryable, RetryCount: &opErr.RetryCount}
	}
	if status >= http.StatusInternalServerError {
		if status == http.StatusBadGateway {
			return errorBody{Error: ai.MsgUnexpected}
		}
		return errorBody{Error: "Internal server error"}
	}
	return errorBody{Error: err.Error()}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.Int("status", status),
			zap.Error(err))
	}
	respondJSON(w, status, errorPayload(err, status))
}
