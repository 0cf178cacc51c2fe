package oauthflow

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type publicSettings struct {
	AuthorizeURL string            `json:"authorizeUrl"`
	ClientID     string            `json:"clientId"`
	RedirectURI  string            `json:"redirectUri"`
	Scope        string            `json:"scope"`
	Prompt       string            `json:"prompt,omitempty"`
	ExtraParams  map[string]string `json:"extraParams,omitempty"`
	SessionTTL   int64             `json:"sessionTtlSeconds"`
}

// Settings returns the public OAuth settings the browser needs to run the
// client-held flow on its own.
func (h *Handler) Settings(c *gin.Context) {
	cfg, auth := h.snapshot()
	s := auth.Settings()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": publicSettings{
			AuthorizeURL: s.AuthorizeURL(),
			ClientID:     s.ClientID,
			RedirectURI:  s.RedirectURI,
			Scope:        s.Scope,
			Prompt:       s.Prompt,
			ExtraParams:  s.ExtraParams,
			SessionTTL:   int64(cfg.Session.TTL.Seconds()),
		},
	})
}
