package oauthflow

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loLollipop/refresh-token-got-it/internal/auth/codex"
	"github.com/loLollipop/refresh-token-got-it/internal/logging"
	"github.com/loLollipop/refresh-token-got-it/internal/metrics"
	"github.com/loLollipop/refresh-token-got-it/internal/misc"
	"github.com/loLollipop/refresh-token-got-it/internal/session"
)

type authURLData struct {
	AuthURL      string   `json:"authUrl"`
	SessionID    string   `json:"sessionId"`
	State        string   `json:"state"`
	ExpiresAt    string   `json:"expiresAt"`
	Instructions []string `json:"instructions"`
}

type authURLResponse struct {
	Success bool        `json:"success"`
	Data    authURLData `json:"data"`
}

// GenerateAuthURL starts a server-held flow: it creates the PKCE pair and state,
// stores them in a session and returns the authorization URL.
func (h *Handler) GenerateAuthURL(c *gin.Context) {
	ctx := c.Request.Context()
	cfg, auth := h.snapshot()
	h.purgeExpired(ctx)

	pkceCodes, err := codex.GeneratePKCECodes()
	if err != nil {
		writeError(c, fmt.Errorf("failed to generate PKCE codes: %w", err))
		return
	}
	state, err := misc.GenerateRandomState()
	if err != nil {
		writeError(c, fmt.Errorf("failed to generate state: %w", err))
		return
	}

	settings := auth.Settings()
	sess := session.New(pkceCodes.CodeVerifier, state, settings.RedirectURI, settings.ClientID, cfg.Session.TTL, h.now())
	authURL, err := auth.GenerateAuthURL(state, pkceCodes)
	if err != nil {
		writeError(c, err)
		return
	}
	if err = h.store.Save(ctx, sess); err != nil {
		writeError(c, fmt.Errorf("failed to save session: %w", err))
		return
	}

	metrics.AuthURLsGenerated.Inc()
	logging.FromContext(ctx).WithField("session", sess.ID).Info("authorization url generated")

	c.JSON(http.StatusOK, authURLResponse{
		Success: true,
		Data: authURLData{
			AuthURL:   authURL,
			SessionID: sess.ID,
			State:     state,
			ExpiresAt: sess.ExpiresAt.UTC().Format(time.RFC3339),
			Instructions: []string{
				"Open the authorization URL and sign in.",
				fmt.Sprintf("The browser is redirected to %s, which usually fails to load; that is expected.", settings.RedirectURI),
				"Copy the full address from the address bar and paste it back here.",
				fmt.Sprintf("The session expires in %s.", cfg.Session.TTL),
			},
		},
	})
}
