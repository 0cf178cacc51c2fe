package oauthflow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/loLollipop/refresh-token-got-it/internal/auth/codex"
	"github.com/loLollipop/refresh-token-got-it/internal/logging"
	"github.com/loLollipop/refresh-token-got-it/internal/metrics"
	"github.com/loLollipop/refresh-token-got-it/internal/misc"
	"github.com/loLollipop/refresh-token-got-it/internal/session"
	log "github.com/sirupsen/logrus"
)

const (
	modeSession = "session"
	modeClient  = "client"
)

type exchangeRequest struct {
	Code         string `json:"code"`
	SessionID    string `json:"sessionId"`
	CallbackURL  string `json:"callbackUrl"`
	CodeVerifier string `json:"codeVerifier"`
	RedirectURI  string `json:"redirectUri"`
	ClientID     string `json:"clientId"`
	State        string `json:"state"`
}

type sessionExchangeData struct {
	Tokens      *codex.TokenSet   `json:"tokens"`
	AccountInfo codex.AccountInfo `json:"accountInfo"`
}

type sessionExchangeResponse struct {
	Success bool                `json:"success"`
	Data    sessionExchangeData `json:"data"`
}

type clientExchangeResponse struct {
	Success      bool              `json:"success"`
	RefreshToken string            `json:"refreshToken"`
	AccessToken  string            `json:"accessToken"`
	ExpiresIn    int64             `json:"expiresIn"`
	TokenType    string            `json:"tokenType"`
	Scope        string            `json:"scope"`
	IDToken      string            `json:"idToken"`
	AccountInfo  codex.AccountInfo `json:"accountInfo"`
}

// Exchange trades an authorization code for tokens. A sessionId selects the
// server-held mode; a codeVerifier selects the client-held mode.
func (h *Handler) Exchange(c *gin.Context) {
	started := time.Now()
	ctx := c.Request.Context()
	cfg, auth := h.snapshot()
	h.purgeExpired(ctx)

	req, callbackState, err := readExchangeRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Exchange.Timeout)
	defer cancel()

	switch {
	case req.SessionID != "":
		h.exchangeSession(ctx, c, auth, req, callbackState, started)
	case req.CodeVerifier != "":
		h.exchangeClient(ctx, c, auth, req, callbackState, started)
	default:
		writeError(c, invalidRequest("sessionId or codeVerifier is required"))
	}
}

// readExchangeRequest binds the body and merges the pasted callback into it.
// The returned state is the one carried by the callback, if any.
func readExchangeRequest(c *gin.Context) (*exchangeRequest, string, error) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		if _, ok := errors.AsType[*http.MaxBytesError](err); ok {
			return nil, "", &requestError{status: http.StatusRequestEntityTooLarge, kind: KindInvalidRequest, message: "Request body too large"}
		}
		return nil, "", invalidRequest("Failed to read request body")
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = []byte("{}")
	}

	var req exchangeRequest
	if err = binding.JSON.BindBody(raw, &req); err != nil {
		return nil, "", invalidRequest("Invalid JSON body")
	}
	req.Code = strings.TrimSpace(req.Code)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.CodeVerifier = strings.TrimSpace(req.CodeVerifier)
	req.State = strings.TrimSpace(req.State)

	var callbackState string
	if strings.TrimSpace(req.CallbackURL) != "" {
		cb, errParse := misc.ParseOAuthCallback(req.CallbackURL)
		switch {
		case cb != nil && cb.HasError():
			message := cb.Error
			if cb.ErrorDescription != "" {
				message = cb.Error + ": " + cb.ErrorDescription
			}
			return nil, "", &requestError{status: http.StatusBadRequest, kind: KindOAuthError, message: message}
		case errParse != nil && req.Code == "":
			return nil, "", invalidRequest(fmt.Sprintf("Could not parse callback URL: %v", errParse))
		case errParse == nil:
			if req.Code == "" {
				req.Code = cb.Code
			}
			callbackState = cb.State
		}
	}

	if req.Code == "" {
		return nil, "", invalidRequest("Authorization code is required")
	}
	return &req, callbackState, nil
}

func (h *Handler) exchangeSession(ctx context.Context, c *gin.Context, auth *codex.CodexAuth, req *exchangeRequest, callbackState string, started time.Time) {
	entry := logging.FromContext(ctx).WithField("session", req.SessionID)

	sess, err := h.store.Take(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			err = &requestError{status: http.StatusNotFound, kind: KindSessionInvalid, message: "Session is invalid or expired; generate a new authorization URL"}
		}
		metrics.ObserveExchange(modeSession, writeError(c, err), started, 0)
		return
	}

	returned := firstNonEmpty(callbackState, req.State)
	if returned != "" && sess.State != "" && !statesEqual(sess.State, returned) {
		entry.Warn("state mismatch on code exchange")
		h.restoreSession(ctx, sess)
		err = &requestError{status: http.StatusForbidden, kind: KindStateMismatch, message: codex.ErrStateMismatch.Error()}
		metrics.ObserveExchange(modeSession, writeError(c, err), started, 0)
		return
	}

	result, err := auth.ExchangeCode(ctx, codex.TokenRequest{
		Code:         req.Code,
		CodeVerifier: sess.CodeVerifier,
		RedirectURI:  sess.RedirectURI,
		ClientID:     sess.ClientID,
	})
	if err != nil {
		h.restoreSession(ctx, sess)
		metrics.ObserveExchange(modeSession, writeError(c, err), started, attemptsOf(err))
		return
	}

	metrics.ObserveExchange(modeSession, "success", started, result.Tokens.Attempts)
	entry.WithFields(log.Fields{"encoding": result.Tokens.Encoding, "attempt": result.Tokens.Attempts}).Info("code exchanged")

	c.JSON(http.StatusOK, sessionExchangeResponse{
		Success: true,
		Data:    sessionExchangeData{Tokens: result.Tokens, AccountInfo: result.Account},
	})
}

// restoreSession puts back a session claimed by a failed exchange so the
// operator can retry until it expires.
func (h *Handler) restoreSession(ctx context.Context, sess *session.FlowSession) {
	if err := h.store.Save(context.WithoutCancel(ctx), sess); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("session", sess.ID).Warn("failed to restore session after failed exchange")
	}
}

func (h *Handler) exchangeClient(ctx context.Context, c *gin.Context, auth *codex.CodexAuth, req *exchangeRequest, callbackState string, started time.Time) {
	if req.State != "" && callbackState != "" && !statesEqual(req.State, callbackState) {
		logging.FromContext(ctx).Warn("state mismatch on code exchange")
		err := &requestError{status: http.StatusForbidden, kind: KindStateMismatch, message: codex.ErrStateMismatch.Error()}
		metrics.ObserveExchange(modeClient, writeError(c, err), started, 0)
		return
	}

	result, err := auth.ExchangeCode(ctx, codex.TokenRequest{
		Code:         req.Code,
		CodeVerifier: req.CodeVerifier,
		RedirectURI:  strings.TrimSpace(req.RedirectURI),
		ClientID:     strings.TrimSpace(req.ClientID),
	})
	if err != nil {
		metrics.ObserveExchange(modeClient, writeError(c, err), started, attemptsOf(err))
		return
	}
	metrics.ObserveExchange(modeClient, "success", started, result.Tokens.Attempts)

	tokens := result.Tokens
	c.JSON(http.StatusOK, clientExchangeResponse{
		Success:      true,
		RefreshToken: tokens.RefreshToken,
		AccessToken:  tokens.AccessToken,
		ExpiresIn:    tokens.ExpiresIn,
		TokenType:    tokens.TokenType,
		Scope:        tokens.Scope,
		IDToken:      tokens.IDToken,
		AccountInfo:  result.Account,
	})
}

func statesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func attemptsOf(err error) int {
	if exErr, ok := errors.AsType[*codex.ExchangeError](err); ok {
		return exErr.Attempts
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
