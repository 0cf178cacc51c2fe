package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestLimitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(LimitBody(8))
	engine.POST("/echo", func(c *gin.Context) {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too large")
			return
		}
		c.String(http.StatusOK, string(data))
	})

	small := httptest.NewRecorder()
	engine.ServeHTTP(small, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("tiny")))
	if small.Code != http.StatusOK || small.Body.String() != "tiny" {
		t.Fatalf("unexpected small response %d %q", small.Code, small.Body.String())
	}

	large := httptest.NewRecorder()
	engine.ServeHTTP(large, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("this body is too long")))
	if large.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", large.Code)
	}
}

func TestNoStore(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(NoStore())
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store, got %q", got)
	}
}
