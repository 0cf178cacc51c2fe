package oauthflow

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/loLollipop/refresh-token-got-it/internal/auth/codex"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"timeout", fmt.Errorf("post: %w", codex.ErrUpstreamTimeout), http.StatusGatewayTimeout, KindUpstreamTimeout},
		{"non json", &codex.UpstreamResponseError{StatusCode: 502, Snippet: "<html>"}, http.StatusBadGateway, KindUpstreamInvalid},
		{"id token", &codex.IDTokenError{Cause: codex.ErrInvalidTokenFormat}, http.StatusBadGateway, KindIDTokenInvalid},
		{"exchange", &codex.ExchangeError{StatusCode: 401, Body: []byte(`{}`)}, http.StatusBadRequest, KindExchangeFailed},
		{"request", invalidRequest("bad"), http.StatusBadRequest, KindInvalidRequest},
		{"other", errors.New("dial tcp: refused"), http.StatusInternalServerError, KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := classify(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.kind, resp.Code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}

	_, resp := classify(&codex.UpstreamResponseError{StatusCode: 502, Snippet: "x"})
	assert.Equal(t, 502, resp.UpstreamStatus)
}
