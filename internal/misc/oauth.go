// Package misc provides small helpers shared by the server and the terminal
// login: OAuth state generation, callback URL parsing, and config bootstrap.
package misc

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// stateBytes is the entropy of the anti-forgery state value.
const stateBytes = 32

var (
	// ErrEmptyCallback is returned when no callback text was supplied.
	ErrEmptyCallback = errors.New("callback URL is empty")
	// ErrInvalidCallback is returned when the text does not contain a parsable URL.
	ErrInvalidCallback = errors.New("invalid callback URL")
	// ErrMissingCode is returned when the callback carries neither a code nor an error.
	ErrMissingCode = errors.New("callback URL missing code parameter")
)

var firstURLPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// GenerateRandomState generates a cryptographically secure random state parameter
// for OAuth2 flows to prevent CSRF attacks.
func GenerateRandomState() (string, error) {
	bytes := make([]byte, stateBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// OAuthCallback captures the parsed OAuth callback parameters.
type OAuthCallback struct {
	URL              string
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// HasError reports whether the provider answered the authorization request with an error.
func (c *OAuthCallback) HasError() bool {
	return c != nil && c.Error != ""
}

// ExtractFirstURL returns the first http(s) URL found in text, or the trimmed text itself
// when it already is a bare URL. Trailing sentence punctuation is dropped.
func ExtractFirstURL(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	if (strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")) && !strings.ContainsAny(trimmed, " \t\r\n") {
		return trimmed
	}
	match := firstURLPattern.FindString(trimmed)
	return strings.TrimRight(match, ".,;:!?)]}")
}

// ParseOAuthCallback extracts OAuth parameters from pasted callback text.
// The input may be a bare URL, prose containing a URL, a bare query string,
// or a host/path without a scheme.
func ParseOAuthCallback(input string) (*OAuthCallback, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, ErrEmptyCallback
	}

	candidate := ExtractFirstURL(trimmed)
	if candidate == "" {
		switch {
		case strings.HasPrefix(trimmed, "?"):
			candidate = "http://localhost/" + trimmed
		case strings.Contains(trimmed, " "):
			return nil, ErrInvalidCallback
		case strings.Contains(trimmed, "://"):
			candidate = trimmed
		case strings.ContainsAny(trimmed, "/?#") || strings.Contains(trimmed, ":"):
			candidate = "http://" + trimmed
		case strings.Contains(trimmed, "="):
			candidate = "http://localhost/?" + trimmed
		default:
			return nil, ErrInvalidCallback
		}
	}

	parsedURL, err := url.Parse(candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	query := parsedURL.Query()
	code := strings.TrimSpace(query.Get("code"))
	state := strings.TrimSpace(query.Get("state"))
	errCode := strings.TrimSpace(query.Get("error"))
	errDesc := strings.TrimSpace(query.Get("error_description"))

	if parsedURL.Fragment != "" {
		if fragQuery, errFrag := url.ParseQuery(parsedURL.Fragment); errFrag == nil {
			if code == "" {
				code = strings.TrimSpace(fragQuery.Get("code"))
			}
			if state == "" {
				state = strings.TrimSpace(fragQuery.Get("state"))
			}
			if errCode == "" {
				errCode = strings.TrimSpace(fragQuery.Get("error"))
			}
			if errDesc == "" {
				errDesc = strings.TrimSpace(fragQuery.Get("error_description"))
			}
		}
	}

	if code != "" && state == "" && strings.Contains(code, "#") {
		code, state, _ = strings.Cut(code, "#")
	}

	if errCode == "" && errDesc != "" {
		errCode = errDesc
		errDesc = ""
	}

	if code == "" && errCode == "" {
		return nil, ErrMissingCode
	}

	return &OAuthCallback{
		URL:              candidate,
		Code:             code,
		State:            state,
		Error:            errCode,
		ErrorDescription: errDesc,
	}, nil
}
