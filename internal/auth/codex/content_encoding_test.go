package codex

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plainTokenBody = `{"access_token":"a","id_token":"x.y.z"}`

func compress(t *testing.T, encoding string) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch encoding {
	case "gzip":
		w := gzip.NewWriter(&buf)
		_, err := w.Write([]byte(plainTokenBody))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case "br":
		w := brotli.NewWriter(&buf)
		_, err := w.Write([]byte(plainTokenBody))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case "zstd":
		w, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write([]byte(plainTokenBody))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	default:
		buf.WriteString(plainTokenBody)
	}
	return buf.Bytes()
}

func TestDecodeContentEncoding(t *testing.T) {
	for _, enc := range []string{"", "identity", "gzip", "br", "zstd"} {
		t.Run(enc, func(t *testing.T) {
			out, err := decodeContentEncoding(enc, compress(t, enc))
			require.NoError(t, err)
			assert.JSONEq(t, plainTokenBody, string(out))
		})
	}

	out, err := decodeContentEncoding("compress", []byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(out))

	_, err = decodeContentEncoding("gzip", []byte("not gzip"))
	assert.Error(t, err)
}

func TestExchangeDecodesBrotliResponse(t *testing.T) {
	body := compress(t, "br")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	ex := NewTokenExchanger(srv.Client(), srv.URL, nil)
	tokens, err := ex.Exchange(t.Context(), TokenRequest{Code: "c", CodeVerifier: "v"})
	require.NoError(t, err)
	assert.Equal(t, "a", tokens.AccessToken)
}
