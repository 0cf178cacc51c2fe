package public

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(a *Assets) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.NoRoute(a.Handle)
	return r
}

func serve(r *gin.Engine, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestEmbeddedAssets(t *testing.T) {
	a, err := New("")
	require.NoError(t, err)
	r := newEngine(a)

	rec := serve(r, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "app.js")

	rec = serve(r, http.MethodGet, "/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/javascript; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestAssetsNotFound(t *testing.T) {
	r := newEngine(NewFromFS(fstest.MapFS{
		"index.html":   {Data: []byte("<html></html>")},
		"img/logo.bin": {Data: []byte{1, 2}},
	}))

	rec := serve(r, http.MethodGet, "/missing.css")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not Found"}`, rec.Body.String())

	rec = serve(r, http.MethodGet, "/img")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(r, http.MethodPost, "/index.html")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(r, http.MethodGet, "/img/logo.bin")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
}

func TestAssetNameRejectsTraversal(t *testing.T) {
	for _, p := range []string{"/../server.go", "/static/../../etc/passwd", `/..\secret`} {
		_, err := assetName(p)
		assert.ErrorIs(t, err, errForbidden, p)
	}

	name, err := assetName("/")
	require.NoError(t, err)
	assert.Equal(t, "index.html", name)

	name, err = assetName("/css//site.css")
	require.NoError(t, err)
	assert.Equal(t, "css/site.css", name)
}

func TestAssetsTraversalRequest(t *testing.T) {
	r := newEngine(NewFromFS(fstest.MapFS{"index.html": {Data: []byte("x")}}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.Path = "/../secret.txt"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNewRejectsMissingDir(t *testing.T) {
	_, err := New(t.TempDir() + "/nope")
	assert.Error(t, err)
}
