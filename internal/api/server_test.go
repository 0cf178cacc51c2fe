package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/gin-gonic/gin"
	"github.com/loLollipop/refresh-token-got-it/internal/api/public"
	"github.com/loLollipop/refresh-token-got-it/internal/auth/codex"
	"github.com/loLollipop/refresh-token-got-it/internal/config"
	"github.com/loLollipop/refresh-token-got-it/internal/logging"
	"github.com/loLollipop/refresh-token-got-it/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	enc := base64.RawURLEncoding
	idToken := enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." +
		enc.EncodeToString([]byte(`{"email":"x@y.com"}`)) + ".sig"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r","id_token":"` + idToken + `","expires_in":60}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	assets := public.NewFromFS(fstest.MapFS{"index.html": {Data: []byte("<html>ui</html>")}})
	s, err := NewServer(cfg, session.NewMemoryStore(),
		WithAssets(assets),
		WithAuthFactory(func(c *config.Config) *codex.CodexAuth {
			return codex.NewCodexAuthWithClient(c, http.DefaultClient)
		}),
	)
	require.NoError(t, err)
	return s
}

func request(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServerValidatesInputs(t *testing.T) {
	_, err := NewServer(nil, session.NewMemoryStore())
	assert.Error(t, err)
	_, err = NewServer(config.Default(), nil)
	assert.Error(t, err)
}

func TestServerRoutes(t *testing.T) {
	s := newTestServer(t, config.Default())

	rec := request(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = request(s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ui")

	rec = request(s, http.MethodGet, "/missing.js", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = request(s, http.MethodGet, "/api/config", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Len(t, rec.Header().Get(logging.RequestIDHeader), 8)
}

func TestServerMetricsToggle(t *testing.T) {
	cfg := config.Default()
	s := newTestServer(t, cfg)

	assert.Equal(t, http.StatusNotFound, request(s, http.MethodGet, "/metrics", "").Code)

	next := config.Default()
	next.MetricsEnabled = true
	s.UpdateConfig(next)

	rec := request(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServerExchangeAliasRoundTrip(t *testing.T) {
	upstream := fakeUpstream(t)
	cfg := config.Default()
	cfg.OAuth.BaseURL = upstream.URL
	s := newTestServer(t, cfg)

	rec := request(s, http.MethodPost, "/api/generate-auth-url", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var generated struct {
		Data struct {
			SessionID string `json:"sessionId"`
			State     string `json:"state"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &generated))

	body := `{"sessionId":"` + generated.Data.SessionID + `","callbackUrl":"http://localhost:1455/auth/callback?code=c&state=` + generated.Data.State + `"}`
	rec = request(s, http.MethodPost, "/api/exchange", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var exchanged struct {
		Success bool `json:"success"`
		Data    struct {
			Tokens struct {
				AccessToken string `json:"accessToken"`
			} `json:"tokens"`
			AccountInfo struct {
				Email string `json:"email"`
			} `json:"accountInfo"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exchanged))
	assert.True(t, exchanged.Success)
	assert.Equal(t, "a", exchanged.Data.Tokens.AccessToken)
	assert.Equal(t, "x@y.com", exchanged.Data.AccountInfo.Email)
}

func TestServerRejectsOversizedBody(t *testing.T) {
	s := newTestServer(t, config.Default())
	body := `{"code":"` + strings.Repeat("x", 70<<10) + `"}`
	rec := request(s, http.MethodPost, "/api/exchange-code", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServerStopWithoutStart(t *testing.T) {
	s := newTestServer(t, config.Default())
	assert.NoError(t, s.Stop(t.Context()))
}
