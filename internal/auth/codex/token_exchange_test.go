package codex

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/loLollipop/refresh-token-got-it/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type recordedRequest struct {
	contentType string
	body        string
}

// tokenEndpoint answers each request with the next response in order.
type tokenEndpoint struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses []func(w http.ResponseWriter)
}

func (e *tokenEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	e.mu.Lock()
	idx := len(e.requests)
	e.requests = append(e.requests, recordedRequest{contentType: r.Header.Get("Content-Type"), body: string(body)})
	e.mu.Unlock()
	if idx >= len(e.responses) {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	e.responses[idx](w)
}

func respond(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func newExchanger(t *testing.T, endpoint *tokenEndpoint, encodings ...string) *TokenExchanger {
	t.Helper()
	srv := httptest.NewServer(endpoint)
	t.Cleanup(srv.Close)
	return NewTokenExchanger(srv.Client(), srv.URL+"/oauth/token", encodings)
}

var sampleRequest = TokenRequest{
	Code:         "abc123",
	CodeVerifier: "verifier",
	RedirectURI:  "http://localhost:1455/auth/callback",
	ClientID:     "app_test",
}

func TestExchange_FormSuccess(t *testing.T) {
	endpoint := &tokenEndpoint{responses: []func(http.ResponseWriter){
		respond(http.StatusOK, `{"access_token":"a","refresh_token":"r","id_token":"i","expires_in":3600,"token_type":"Bearer","scope":"openid"}`),
	}}
	tokens, err := newExchanger(t, endpoint).Exchange(context.Background(), sampleRequest)
	require.NoError(t, err)

	assert.Equal(t, "a", tokens.AccessToken)
	assert.Equal(t, "r", tokens.RefreshToken)
	assert.Equal(t, int64(3600), tokens.ExpiresIn)
	assert.Equal(t, config.EncodingForm, tokens.Encoding)
	assert.Equal(t, 1, tokens.Attempts)

	require.Len(t, endpoint.requests, 1)
	req := endpoint.requests[0]
	assert.Equal(t, "application/x-www-form-urlencoded", req.contentType)
	form, err := url.ParseQuery(req.body)
	require.NoError(t, err)
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "abc123", form.Get("code"))
	assert.Equal(t, "verifier", form.Get("code_verifier"))
	assert.Equal(t, "app_test", form.Get("client_id"))
	assert.Equal(t, "http://localhost:1455/auth/callback", form.Get("redirect_uri"))
}

func TestExchange_FallsBackToJSONOnRejection(t *testing.T) {
	endpoint := &tokenEndpoint{responses: []func(http.ResponseWriter){
		respond(http.StatusUnsupportedMediaType, `{"message":"unsupported"}`),
		respond(http.StatusOK, `{"access_token":"a","id_token":"i"}`),
	}}
	tokens, err := newExchanger(t, endpoint).Exchange(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, config.EncodingJSON, tokens.Encoding)
	assert.Equal(t, 2, tokens.Attempts)

	require.Len(t, endpoint.requests, 2)
	jsonReq := endpoint.requests[1]
	assert.Equal(t, "application/json", jsonReq.contentType)
	assert.Equal(t, "abc123", gjson.Get(jsonReq.body, "code").String())
	assert.Equal(t, "authorization_code", gjson.Get(jsonReq.body, "grant_type").String())
	assert.Equal(t, "verifier", gjson.Get(jsonReq.body, "code_verifier").String())
}

func TestExchange_ReportsPrimaryOAuthError(t *testing.T) {
	endpoint := &tokenEndpoint{responses: []func(http.ResponseWriter){
		respond(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"code already used"}`),
		respond(http.StatusBadRequest, `{"error":"invalid_request"}`),
	}}
	_, err := newExchanger(t, endpoint).Exchange(context.Background(), sampleRequest)

	exErr, ok := errors.AsType[*ExchangeError](err)
	require.True(t, ok, "expected ExchangeError, got %v", err)
	assert.Equal(t, http.StatusBadRequest, exErr.StatusCode)
	assert.Equal(t, "invalid_grant", gjson.GetBytes(exErr.Body, "error").String())
	assert.Equal(t, config.EncodingForm, exErr.Encoding)
	assert.Equal(t, 2, exErr.Attempts)

	oauthErr := exErr.OAuthError()
	require.NotNil(t, oauthErr)
	assert.Equal(t, "code already used", oauthErr.Description)
}

func TestExchange_PrefersFallbackWhenOnlyItCarriesOAuthError(t *testing.T) {
	endpoint := &tokenEndpoint{responses: []func(http.ResponseWriter){
		respond(http.StatusBadRequest, `{"detail":"bad body"}`),
		respond(http.StatusBadRequest, `{"error":"invalid_grant"}`),
	}}
	_, err := newExchanger(t, endpoint).Exchange(context.Background(), sampleRequest)

	exErr, ok := errors.AsType[*ExchangeError](err)
	require.True(t, ok)
	assert.Equal(t, config.EncodingJSON, exErr.Encoding)
	assert.JSONEq(t, `{"error":"invalid_grant"}`, string(exErr.Body))
}

func TestExchange_SingleEncodingNeverFallsBack(t *testing.T) {
	endpoint := &tokenEndpoint{responses: []func(http.ResponseWriter){
		respond(http.StatusBadRequest, `{"error":"invalid_grant"}`),
	}}
	_, err := newExchanger(t, endpoint, config.EncodingJSON).Exchange(context.Background(), sampleRequest)
	require.Error(t, err)
	assert.Len(t, endpoint.requests, 1)
	assert.Equal(t, "application/json", endpoint.requests[0].contentType)
}

func TestExchange_NonJSONBodyIsWrappedWithSnippet(t *testing.T) {
	html := "<html>\n  <body>" + strings.Repeat("x", 400) + "</body></html>"
	endpoint := &tokenEndpoint{responses: []func(http.ResponseWriter){
		respond(http.StatusBadGateway, html),
		respond(http.StatusBadGateway, html),
	}}
	_, err := newExchanger(t, endpoint).Exchange(context.Background(), sampleRequest)

	upErr, ok := errors.AsType[*UpstreamResponseError](err)
	require.True(t, ok, "expected UpstreamResponseError, got %v", err)
	assert.Equal(t, http.StatusBadGateway, upErr.StatusCode)
	assert.LessOrEqual(t, len(upErr.Snippet), snippetLimit)
	assert.True(t, strings.HasPrefix(upErr.Snippet, "<html> <body>"))
}

func TestNewUpstreamResponseError_KeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("a", snippetLimit-1) + "é tail"
	upErr := newUpstreamResponseError(http.StatusBadGateway, []byte(body))

	assert.True(t, utf8.ValidString(upErr.Snippet))
	assert.Equal(t, strings.Repeat("a", snippetLimit-1), upErr.Snippet)

	upErr = newUpstreamResponseError(http.StatusBadGateway, []byte(strings.Repeat("é", snippetLimit)))
	assert.True(t, utf8.ValidString(upErr.Snippet))
	assert.Equal(t, strings.Repeat("é", snippetLimit/2), upErr.Snippet)
}

func TestExchange_NonJSONSuccessIsWrapped(t *testing.T) {
	endpoint := &tokenEndpoint{responses: []func(http.ResponseWriter){
		respond(http.StatusOK, "ok"),
	}}
	_, err := newExchanger(t, endpoint).Exchange(context.Background(), sampleRequest)
	_, ok := errors.AsType[*UpstreamResponseError](err)
	assert.True(t, ok)
}

func TestExchange_EmptyErrorBodyBecomesEmptyObject(t *testing.T) {
	endpoint := &tokenEndpoint{responses: []func(http.ResponseWriter){
		respond(http.StatusUnauthorized, ""),
	}}
	_, err := newExchanger(t, endpoint, config.EncodingForm).Exchange(context.Background(), sampleRequest)
	exErr, ok := errors.AsType[*ExchangeError](err)
	require.True(t, ok)
	assert.Equal(t, json.RawMessage(`{}`), exErr.Body)
}

func TestExchange_TimeoutIsNotRetried(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	client := srv.Client()
	client.Timeout = 50 * time.Millisecond
	exchanger := NewTokenExchanger(client, srv.URL, nil)

	_, err := exchanger.Exchange(context.Background(), sampleRequest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamTimeout), "got %v", err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestAuthoritative(t *testing.T) {
	primary := &attemptResult{encoding: "form", status: 400, body: []byte(`{"error":"a"}`)}
	fallback := &attemptResult{encoding: "json", status: 400, body: []byte(`{"error":"b"}`)}
	assert.Same(t, primary, authoritative(primary, fallback))

	unsupported := &attemptResult{encoding: "form", status: 415, body: []byte(`{"error":"a"}`)}
	assert.Same(t, fallback, authoritative(unsupported, fallback))

	plain := &attemptResult{encoding: "form", status: 400, body: []byte(`bad`)}
	assert.Same(t, fallback, authoritative(plain, fallback))

	neither := &attemptResult{encoding: "json", status: 500, body: []byte(`{}`)}
	assert.Same(t, plain, authoritative(plain, neither))
}
