// Package httpapi serves the operational HTTP endpoints: health checks, and
// for administrators a manually triggered refresh-token sweep and a listing
// of a user's sessions.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/go-chi/chi/v5"
)

// AdminRole is required to call the /admin routes.
const AdminRole = models.RoleAdmin

type Pinger interface {
	PingContext(ctx context.Context) error
}

type CachePinger interface {
	Ping(ctx context.Context) error
}

// Sessions is the part of the refresh-token manager the admin routes use.
type Sessions interface {
	Sweep(ctx context.Context) (int64, error)
	GetAll(ctx context.Context, userID string) ([]models.RefreshToken, error)
}

type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

type Handler struct {
	db       Pinger
	cache    CachePinger
	sessions Sessions
	tokens   TokenParser
	log      logging.Logger
	now      func() time.Time
}

func NewHandler(db Pinger, cache CachePinger, sessions Sessions, tokens TokenParser, log logging.Logger) *Handler {
	return &Handler{
		db:       db,
		cache:    cache,
		sessions: sessions,
		tokens:   tokens,
		log:      log.With("module", "httpapi"),
		now:      time.Now,
	}
}

// Routes builds the chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Post("/sweep", h.sweep)
		r.Get("/users/{id}/sessions", h.listSessions)
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{"postgres": "ok", "redis": "ok"}
	code := http.StatusOK

	if err := h.db.PingContext(ctx); err != nil {
		h.log.Warn(ctx, "postgres ping failed", "error", err)
		checks["postgres"] = "down"
		code = http.StatusServiceUnavailable
	}
	if err := h.cache.Ping(ctx); err != nil {
		h.log.Warn(ctx, "redis ping failed", "error", err)
		checks["redis"] = "down"
		code = http.StatusServiceUnavailable
	}

	status := "ok"
	if code != http.StatusOK {
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.sessions.Sweep(r.Context())
	if err != nil {
		h.log.Error(r.Context(), "manual sweep failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "deleted": deleted})
}

// session is the admin view of a refresh token. The token value is never
// exposed.
type session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	Active    bool      `json:"active"`
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	rows, err := h.sessions.GetAll(r.Context(), userID)
	if err != nil {
		h.log.Error(r.Context(), "listing sessions failed", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}

	now := h.now()
	out := make([]session, 0, len(rows))
	for _, t := range rows {
		out = append(out, session{
			ID:        t.ID,
			CreatedAt: t.CreatedAt,
			ExpiresAt: t.ExpiresAt,
			Revoked:   t.Revoked,
			Active:    t.Valid(now),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "sessions": out})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "unauthorized"})
			return
		}

		claims, err := h.tokens.Parse(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "unauthorized"})
			return
		}
		if !slices.Contains(claims.Roles, AdminRole) {
			writeJSON(w, http.StatusForbidden, map[string]string{"status": "forbidden"})
			return
		}

		ctx := auth.WithPrincipal(r.Context(), auth.Principal{UserID: claims.Subject, Roles: claims.Roles})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
