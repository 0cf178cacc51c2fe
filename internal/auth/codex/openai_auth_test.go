package codex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/loLollipop/refresh-token-got-it/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.OAuth.BaseURL = baseURL
	return cfg
}

func TestGenerateAuthURL(t *testing.T) {
	cfg := testConfig(config.DefaultBaseURL)
	cfg.OAuth.Prompt = "login"
	auth := NewCodexAuthWithClient(cfg, http.DefaultClient)

	codes, err := GeneratePKCECodes()
	require.NoError(t, err)

	raw, err := auth.GenerateAuthURL("state-1", codes)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "auth.openai.com", u.Host)
	assert.Equal(t, "/oauth/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, config.DefaultClientID, q.Get("client_id"))
	assert.Equal(t, config.DefaultRedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, config.DefaultScope, q.Get("scope"))
	assert.Equal(t, codes.CodeChallenge, q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "login", q.Get("prompt"))
	assert.Equal(t, "true", q.Get("id_token_add_organizations"))
	assert.Equal(t, "true", q.Get("codex_cli_simplified_flow"))
	assert.Empty(t, q.Get("code_verifier"))
}

func TestGenerateAuthURL_RequiresInputs(t *testing.T) {
	auth := NewCodexAuthWithClient(testConfig(config.DefaultBaseURL), http.DefaultClient)
	_, err := auth.GenerateAuthURL("state", nil)
	assert.Error(t, err)
	_, err = auth.GenerateAuthURL(" ", &PKCECodes{CodeChallenge: "c"})
	assert.Error(t, err)
}

func TestExchangeCode_DecodesAccountInfo(t *testing.T) {
	idToken := fakeIDToken(`{"email":"x@y.com"}`)
	var gotClientID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		gotClientID = r.PostForm.Get("client_id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a","id_token":"` + idToken + `","expires_in":3600}`))
	}))
	defer srv.Close()

	auth := NewCodexAuthWithClient(testConfig(srv.URL), srv.Client())
	result, err := auth.ExchangeCode(context.Background(), TokenRequest{Code: "abc123", CodeVerifier: "v"})
	require.NoError(t, err)

	assert.Equal(t, "a", result.Tokens.AccessToken)
	assert.Equal(t, int64(3600), result.Tokens.ExpiresIn)
	assert.Equal(t, "x@y.com", result.Account.Email)
	assert.Equal(t, config.DefaultClientID, result.Account.ClientID)
	assert.Equal(t, config.DefaultClientID, gotClientID)
}

func TestExchangeCode_InvalidIDToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"a","id_token":"only.two"}`))
	}))
	defer srv.Close()

	auth := NewCodexAuthWithClient(testConfig(srv.URL), srv.Client())
	_, err := auth.ExchangeCode(context.Background(), TokenRequest{Code: "abc123", CodeVerifier: "v"})

	idErr, ok := errors.AsType[*IDTokenError](err)
	require.True(t, ok, "expected IDTokenError, got %v", err)
	assert.True(t, errors.Is(idErr, ErrInvalidTokenFormat))
}

func TestExchangeCode_RequiresCodeAndVerifier(t *testing.T) {
	auth := NewCodexAuthWithClient(testConfig(config.DefaultBaseURL), http.DefaultClient)
	_, err := auth.ExchangeCode(context.Background(), TokenRequest{CodeVerifier: "v"})
	assert.Error(t, err)
	_, err = auth.ExchangeCode(context.Background(), TokenRequest{Code: "c"})
	assert.Error(t, err)
}

type staticClaims struct{ email string }

func (s staticClaims) Extract([]byte) AccountInfo { return AccountInfo{Email: s.email} }

func TestExchangeCode_CustomClaimsExtractor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"a","id_token":"` + fakeIDToken(`{}`) + `"}`))
	}))
	defer srv.Close()

	auth := NewCodexAuthWithClient(testConfig(srv.URL), srv.Client())
	auth.SetClaimsExtractor(staticClaims{email: "custom@example.com"})
	result, err := auth.ExchangeCode(context.Background(), TokenRequest{Code: "c", CodeVerifier: "v", ClientID: "other"})
	require.NoError(t, err)
	assert.Equal(t, "custom@example.com", result.Account.Email)
	assert.Equal(t, "other", result.Account.ClientID)
}
