package codex

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidTokenFormat is returned when an identity token is not a three segment compact token.
	ErrInvalidTokenFormat = errors.New("invalid ID token format")
	// ErrStateMismatch is returned when the callback state differs from the issued state.
	ErrStateMismatch = errors.New("state mismatch")
	// ErrUpstreamTimeout is returned when the token endpoint does not answer in time.
	ErrUpstreamTimeout = errors.New("token endpoint timed out")
	// ErrSignatureInvalid is returned when identity token verification fails.
	ErrSignatureInvalid = errors.New("ID token signature verification failed")
)

// OAuthError represents an OAuth-specific error.
type OAuthError struct {
	// Code is the OAuth error code.
	Code string `json:"error"`
	// Description is a human-readable description of the error.
	Description string `json:"error_description,omitempty"`
	// URI is a URI identifying a human-readable web page with information about the error.
	URI string `json:"error_uri,omitempty"`
	// StatusCode is the HTTP status code associated with the error.
	StatusCode int `json:"-"`
}

// Error returns a string representation of the OAuth error.
func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("OAuth error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("OAuth error: %s", e.Code)
}

// NewOAuthError creates a new OAuth error with the specified code, description, and status code.
func NewOAuthError(code, description string, statusCode int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		StatusCode:  statusCode,
	}
}

// ExchangeError reports a non-2xx answer from the token endpoint. Body is the
// JSON body of the authoritative attempt, passed through for diagnostics.
type ExchangeError struct {
	StatusCode int
	Body       json.RawMessage
	Encoding   string
	Attempts   int
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed with status %d (%s body, %d attempt(s))", e.StatusCode, e.Encoding, e.Attempts)
}

// UpstreamResponseError reports a token endpoint answer that is not valid JSON.
type UpstreamResponseError struct {
	StatusCode int
	Snippet    string
}

func (e *UpstreamResponseError) Error() string {
	return fmt.Sprintf("upstream returned a non-JSON response (HTTP %d): %s", e.StatusCode, e.Snippet)
}

// snippetLimit bounds the raw body excerpt carried by UpstreamResponseError.
const snippetLimit = 200

func newUpstreamResponseError(status int, body []byte) *UpstreamResponseError {
	raw := string(body)
	if len(raw) > snippetLimit {
		cut := snippetLimit
		for cut > 0 && !utf8.RuneStart(raw[cut]) {
			cut--
		}
		raw = raw[:cut]
	}
	return &UpstreamResponseError{
		StatusCode: status,
		Snippet:    strings.Join(strings.Fields(raw), " "),
	}
}

// IDTokenError wraps a failure to decode or verify the identity token.
type IDTokenError struct {
	Cause error
}

func (e *IDTokenError) Error() string { return fmt.Sprintf("invalid ID token: %v", e.Cause) }

func (e *IDTokenError) Unwrap() error { return e.Cause }

// AuthenticationError represents authentication-related errors of the terminal login.
type AuthenticationError struct {
	// Type is the type of authentication error.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code is the HTTP status code (or process exit code) associated with the error.
	Code int `json:"code"`
	// Cause is the underlying error that caused this authentication error.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }

// Common authentication error types.
var (
	// ErrInvalidState represents an error for invalid OAuth state parameter.
	ErrInvalidState = &AuthenticationError{
		Type:    "invalid_state",
		Message: "OAuth state parameter is invalid",
		Code:    http.StatusForbidden,
	}

	// ErrCodeExchangeFailed represents an error when exchanging authorization code for tokens fails.
	ErrCodeExchangeFailed = &AuthenticationError{
		Type:    "code_exchange_failed",
		Message: "Failed to exchange authorization code for tokens",
		Code:    http.StatusBadRequest,
	}

	// ErrServerStartFailed represents an error when starting the OAuth callback server fails.
	ErrServerStartFailed = &AuthenticationError{
		Type:    "server_start_failed",
		Message: "Failed to start OAuth callback server",
		Code:    http.StatusInternalServerError,
	}

	// ErrPortInUse represents an error when the OAuth callback port is already in use.
	ErrPortInUse = &AuthenticationError{
		Type:    "port_in_use",
		Message: "OAuth callback port is already in use",
		Code:    13, // exit code
	}

	// ErrCallbackTimeout represents an error when waiting for OAuth callback times out.
	ErrCallbackTimeout = &AuthenticationError{
		Type:    "callback_timeout",
		Message: "Timeout waiting for OAuth callback",
		Code:    http.StatusRequestTimeout,
	}
)

// NewAuthenticationError creates a new authentication error with a cause based on a base error.
func NewAuthenticationError(baseErr *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    baseErr.Type,
		Message: baseErr.Message,
		Code:    baseErr.Code,
		Cause:   cause,
	}
}

// GetUserFriendlyMessage returns a user-friendly error message based on the error type.
func GetUserFriendlyMessage(err error) string {
	if authErr, ok := errors.AsType[*AuthenticationError](err); ok {
		switch authErr.Type {
		case "invalid_state":
			return "The callback does not belong to this login attempt. Please start again."
		case "port_in_use":
			return "The OAuth callback port is already in use. Close the application using it and try again."
		case "callback_timeout":
			return "Authentication timed out. Please try again."
		case "code_exchange_failed":
			return "The authorization code could not be exchanged. Codes are single-use; please start again."
		default:
			return "Authentication failed. Please try again."
		}
	}
	if oauthErr, ok := errors.AsType[*OAuthError](err); ok {
		switch oauthErr.Code {
		case "access_denied":
			return "Authentication was cancelled or denied."
		case "invalid_request":
			return "Invalid authentication request. Please try again."
		case "server_error":
			return "Authentication server error. Please try again later."
		default:
			if oauthErr.Description != "" {
				return fmt.Sprintf("Authentication failed: %s", oauthErr.Description)
			}
			return fmt.Sprintf("Authentication failed: %s", oauthErr.Code)
		}
	}
	if _, ok := errors.AsType[*ExchangeError](err); ok {
		return "The identity provider rejected the authorization code."
	}
	if _, ok := errors.AsType[*UpstreamResponseError](err); ok {
		return "The identity provider returned an unexpected response."
	}
	if errors.Is(err, ErrUpstreamTimeout) {
		return "The identity provider did not answer in time. Please start again."
	}
	return "An unexpected error occurred. Please try again."
}
