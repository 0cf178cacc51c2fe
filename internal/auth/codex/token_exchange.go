package codex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/loLollipop/refresh-token-got-it/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// maxTokenResponseSize bounds how much of a token endpoint answer is read.
const maxTokenResponseSize = 1 << 20

// TokenExchanger posts authorization_code grants to the token endpoint. It sends
// the primary encoding first and only tries the fallback encoding when the
// primary attempt got a non-2xx answer. Transport errors are never retried:
// authorization codes are single use.
type TokenExchanger struct {
	httpClient *http.Client
	tokenURL   string
	encodings  []string
}

// NewTokenExchanger returns an exchanger for tokenURL. encodings lists the body
// encodings in attempt order; at most two are used.
func NewTokenExchanger(httpClient *http.Client, tokenURL string, encodings []string) *TokenExchanger {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if len(encodings) == 0 {
		encodings = []string{config.EncodingForm, config.EncodingJSON}
	}
	if len(encodings) > 2 {
		encodings = encodings[:2]
	}
	return &TokenExchanger{httpClient: httpClient, tokenURL: tokenURL, encodings: encodings}
}

// attemptResult is one request to the token endpoint.
type attemptResult struct {
	encoding string
	status   int
	body     []byte
}

func (a *attemptResult) ok() bool { return a.status >= 200 && a.status < 300 }

// hasOAuthError reports whether the body is a JSON object carrying an OAuth error field.
func (a *attemptResult) hasOAuthError() bool {
	return gjson.ValidBytes(a.body) && gjson.GetBytes(a.body, "error").Exists()
}

// Exchange performs the grant and returns the token set of the first successful attempt.
func (e *TokenExchanger) Exchange(ctx context.Context, req TokenRequest) (*TokenSet, error) {
	primary, err := e.send(ctx, e.encodings[0], req)
	if err != nil {
		return nil, err
	}
	if primary.ok() {
		return parseTokenSet(primary, 1)
	}
	if len(e.encodings) < 2 {
		return nil, failureFor(primary, 1)
	}

	log.WithFields(log.Fields{
		"encoding": primary.encoding,
		"status":   primary.status,
	}).Debug("token endpoint rejected primary encoding, trying fallback")

	fallback, err := e.send(ctx, e.encodings[1], req)
	if err != nil {
		if errors.Is(err, ErrUpstreamTimeout) {
			return nil, err
		}
		log.WithError(err).Warn("fallback token request failed, reporting primary answer")
		return nil, failureFor(primary, 2)
	}
	if fallback.ok() {
		return parseTokenSet(fallback, 2)
	}
	return nil, failureFor(authoritative(primary, fallback), 2)
}

// authoritative picks the attempt whose answer is reported to the caller. The
// primary answer wins unless the server rejected its media type, or only the
// fallback answer carries an OAuth error.
func authoritative(primary, fallback *attemptResult) *attemptResult {
	if primary.status == http.StatusUnsupportedMediaType {
		return fallback
	}
	if !primary.hasOAuthError() && fallback.hasOAuthError() {
		return fallback
	}
	return primary
}

func (e *TokenExchanger) send(ctx context.Context, encoding string, req TokenRequest) (*attemptResult, error) {
	body, contentType, err := encodeTokenRequest(encoding, req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("token response body close error: %v", errClose)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if data, err = decodeContentEncoding(resp.Header.Get("Content-Encoding"), data); err != nil {
		return nil, newUpstreamResponseError(resp.StatusCode, []byte(err.Error()))
	}
	return &attemptResult{encoding: encoding, status: resp.StatusCode, body: data}, nil
}

func encodeTokenRequest(encoding string, req TokenRequest) ([]byte, string, error) {
	switch encoding {
	case config.EncodingForm:
		form := url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {req.Code},
			"redirect_uri":  {req.RedirectURI},
			"client_id":     {req.ClientID},
			"code_verifier": {req.CodeVerifier},
		}
		return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
	case config.EncodingJSON:
		body := []byte(`{}`)
		var err error
		for _, kv := range [][2]string{
			{"grant_type", "authorization_code"},
			{"code", req.Code},
			{"redirect_uri", req.RedirectURI},
			{"client_id", req.ClientID},
			{"code_verifier", req.CodeVerifier},
		} {
			if body, err = sjson.SetBytes(body, kv[0], kv[1]); err != nil {
				return nil, "", fmt.Errorf("failed to encode token request: %w", err)
			}
		}
		return body, "application/json", nil
	default:
		return nil, "", fmt.Errorf("unsupported token request encoding %q", encoding)
	}
}

func parseTokenSet(a *attemptResult, attempts int) (*TokenSet, error) {
	body := normalizeBody(a.body)
	if !gjson.ValidBytes(body) {
		return nil, newUpstreamResponseError(a.status, a.body)
	}
	root := gjson.ParseBytes(body)
	return &TokenSet{
		AccessToken:  root.Get("access_token").String(),
		RefreshToken: root.Get("refresh_token").String(),
		IDToken:      root.Get("id_token").String(),
		ExpiresIn:    root.Get("expires_in").Int(),
		TokenType:    root.Get("token_type").String(),
		Scope:        root.Get("scope").String(),
		Raw:          body,
		Encoding:     a.encoding,
		Attempts:     attempts,
	}, nil
}

func failureFor(a *attemptResult, attempts int) error {
	body := normalizeBody(a.body)
	if !gjson.ValidBytes(body) {
		return newUpstreamResponseError(a.status, a.body)
	}
	return &ExchangeError{
		StatusCode: a.status,
		Body:       body,
		Encoding:   a.encoding,
		Attempts:   attempts,
	}
}

// normalizeBody treats an empty answer as an empty JSON object.
func normalizeBody(body []byte) []byte {
	if len(bytes.TrimSpace(body)) == 0 {
		return []byte(`{}`)
	}
	return body
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// oauthErrorFromBody builds an OAuthError from a JSON error body, if it carries one.
func oauthErrorFromBody(body []byte, status int) *OAuthError {
	code := gjson.GetBytes(body, "error")
	if !code.Exists() {
		return nil
	}
	errCode := code.String()
	if code.IsObject() {
		errCode = firstNonEmpty(code.Get("code").String(), code.Get("type").String())
	}
	desc := firstNonEmpty(gjson.GetBytes(body, "error_description").String(), code.Get("message").String())
	return &OAuthError{Code: strings.TrimSpace(errCode), Description: desc, StatusCode: status}
}

// OAuthError returns the OAuth error carried by the upstream body, or nil.
func (e *ExchangeError) OAuthError() *OAuthError {
	if e == nil {
		return nil
	}
	return oauthErrorFromBody(e.Body, e.StatusCode)
}
