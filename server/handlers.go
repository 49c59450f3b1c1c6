// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/okaneo/drivetube/backend/auth"
	"github.com/okaneo/drivetube/backend/config"
	"github.com/okaneo/drivetube/backend/googleapi"
	"github.com/okaneo/drivetube/backend/token"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db         *sql.DB
	ctx        context.Context
	cfg        *config.Config
	sessions   *auth.Issuer
	tokens     *token.Manager
	stateStore map[string]time.Time
	stateMu    sync.RWMutex
	startedAt  time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, db *sql.DB) *Handlers {
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("config load", slog.Any("err", err))
	}
	return &Handlers{
		db:         db,
		ctx:        ctx,
		cfg:        cfg,
		sessions:   auth.NewIssuer(cfg.SessionSecret, cfg.SessionTTL),
		tokens:     token.NewManager(db, googleapi.OAuthConfig(cfg)),
		stateStore: make(map[string]time.Time),
		startedAt:  time.Now(),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// If we're still over the limit after cleanup, refuse to add more
	if len(h.stateStore) >= maxOAuthStates {
		// Not adding the state makes the OAuth flow fail, which is better
		// than memory exhaustion
		return
	}

	h.stateStore[state] = expiry
}

// takeOAuthState consumes a state, returning false when unknown or expired.
// States are single-use.
func (h *Handlers) takeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(exp)
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// writeJSONError writes an error body with a machine-readable code.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": code, "message": message})
}

// isNetworkError reports whether err looks like a transient connectivity
// failure rather than a definitive upstream answer.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// writeError maps domain errors onto HTTP statuses. Revoked tokens get 401
// with needs_reauth so the frontend can prompt a reconnect; transient network
// failures get 503 so clients retry instead of surfacing a hard error.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, token.ErrReauthRequired) || errors.Is(err, googleapi.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":        "token_revoked",
			"needs_reauth": true,
			"message":      "Google account access was revoked; reconnect the account",
		})
	case errors.Is(err, token.ErrNoToken), errors.Is(err, auth.ErrInvalidSession):
		writeJSONError(w, http.StatusUnauthorized, "authentication_required", "sign in required")
	case errors.Is(err, googleapi.ErrQuotaExceeded):
		w.Header().Set("Retry-After", "3600")
		writeJSONError(w, http.StatusTooManyRequests, "quota_exceeded", "Google API quota exceeded, try again later")
	case errors.Is(err, googleapi.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		writeJSONError(w, http.StatusNotFound, "not_found", "resource not found")
	case isNetworkError(err):
		writeJSONError(w, http.StatusServiceUnavailable, "network_error", "upstream temporarily unreachable, try again")
	default:
		slog.Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
