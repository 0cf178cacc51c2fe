// Package oauthflow implements the HTTP handlers of the PKCE flow: authorization
// URL generation, code exchange in server-held and client-held modes, and the
// public settings used by the browser page.
package oauthflow

import (
	"context"
	"sync"
	"time"

	"github.com/loLollipop/refresh-token-got-it/internal/auth/codex"
	"github.com/loLollipop/refresh-token-got-it/internal/config"
	"github.com/loLollipop/refresh-token-got-it/internal/logging"
	"github.com/loLollipop/refresh-token-got-it/internal/metrics"
	"github.com/loLollipop/refresh-token-got-it/internal/session"
)

// Handler serves the flow endpoints. The session store is injected; config and
// auth client can be swapped at runtime by UpdateConfig.
type Handler struct {
	mu    sync.RWMutex
	cfg   *config.Config
	auth  *codex.CodexAuth
	store session.Store
	now   func() time.Time
}

// NewHandler creates a handler bound to the given store.
func NewHandler(cfg *config.Config, auth *codex.CodexAuth, store session.Store) *Handler {
	return &Handler{cfg: cfg, auth: auth, store: store, now: time.Now}
}

// UpdateConfig swaps the configuration and the auth client used for new requests.
func (h *Handler) UpdateConfig(cfg *config.Config, auth *codex.CodexAuth) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
	h.auth = auth
}

func (h *Handler) snapshot() (*config.Config, *codex.CodexAuth) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg, h.auth
}

// purgeExpired runs the lazy session cleanup that precedes every flow request.
func (h *Handler) purgeExpired(ctx context.Context) {
	removed, err := h.store.PurgeExpired(ctx)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("failed to purge expired sessions")
		return
	}
	if removed > 0 {
		metrics.SessionsPurged.Add(float64(removed))
		logging.FromContext(ctx).Debugf("purged %d expired session(s)", removed)
	}
}
