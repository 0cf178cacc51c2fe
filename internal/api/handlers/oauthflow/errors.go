package oauthflow

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/loLollipop/refresh-token-got-it/internal/auth/codex"
	"github.com/loLollipop/refresh-token-got-it/internal/logging"
)

// Error kinds reported in the code field of failure responses.
const (
	KindInvalidRequest  = "invalid_request"
	KindOAuthError      = "oauth_error"
	KindSessionInvalid  = "session_invalid"
	KindStateMismatch   = "state_mismatch"
	KindExchangeFailed  = "exchange_failed"
	KindUpstreamInvalid = "upstream_invalid"
	KindUpstreamTimeout = "upstream_timeout"
	KindIDTokenInvalid  = "id_token_invalid"
	KindInternal        = "internal_error"
)

type errorResponse struct {
	Success        bool            `json:"success"`
	Code           string          `json:"code"`
	Message        string          `json:"message"`
	Error          json.RawMessage `json:"error,omitempty"`
	UpstreamStatus int             `json:"upstreamStatus,omitempty"`
}

// requestError is a failure detected by the handlers themselves.
type requestError struct {
	status  int
	kind    string
	message string
	detail  json.RawMessage
}

func (e *requestError) Error() string { return e.kind + ": " + e.message }

func invalidRequest(message string) error {
	return &requestError{status: http.StatusBadRequest, kind: KindInvalidRequest, message: message}
}

// classify maps an error to its HTTP status and response body.
func classify(err error) (int, errorResponse) {
	resp := errorResponse{Success: false}

	if reqErr, ok := errors.AsType[*requestError](err); ok {
		resp.Code, resp.Message, resp.Error = reqErr.kind, reqErr.message, reqErr.detail
		return reqErr.status, resp
	}
	if exErr, ok := errors.AsType[*codex.ExchangeError](err); ok {
		resp.Code = KindExchangeFailed
		resp.Message = "Token exchange rejected by the identity provider"
		if oauthErr := exErr.OAuthError(); oauthErr != nil && oauthErr.Description != "" {
			resp.Message += ": " + oauthErr.Description
		}
		resp.Error = exErr.Body
		resp.UpstreamStatus = exErr.StatusCode
		return http.StatusBadRequest, resp
	}
	if upErr, ok := errors.AsType[*codex.UpstreamResponseError](err); ok {
		resp.Code = KindUpstreamInvalid
		resp.Message = upErr.Error()
		resp.UpstreamStatus = upErr.StatusCode
		return http.StatusBadGateway, resp
	}
	if errors.Is(err, codex.ErrUpstreamTimeout) {
		resp.Code = KindUpstreamTimeout
		resp.Message = "The identity provider did not answer in time; restart the flow"
		return http.StatusGatewayTimeout, resp
	}
	if idErr, ok := errors.AsType[*codex.IDTokenError](err); ok {
		resp.Code = KindIDTokenInvalid
		resp.Message = idErr.Error()
		return http.StatusBadGateway, resp
	}

	resp.Code = KindInternal
	resp.Message = err.Error()
	return http.StatusInternalServerError, resp
}

// writeError sends the failure envelope for err and returns its kind.
func writeError(c *gin.Context, err error) string {
	status, resp := classify(err)
	entry := logging.FromContext(c.Request.Context()).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithError(err).Warn("request rejected")
	}
	c.JSON(status, resp)
	return resp.Code
}
