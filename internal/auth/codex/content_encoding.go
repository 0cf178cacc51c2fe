package codex

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// browserAcceptEncoding is advertised by the fingerprinted transport, which
// leaves decoding to decodeContentEncoding.
const browserAcceptEncoding = "gzip, deflate, br, zstd"

// decodeContentEncoding undoes the Content-Encoding of a token response body.
// Unknown encodings are returned untouched so the JSON check can report them.
func decodeContentEncoding(encoding string, data []byte) ([]byte, error) {
	var reader io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return data, nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	case "deflate":
		fl := flate.NewReader(bytes.NewReader(data))
		defer func() { _ = fl.Close() }()
		reader = fl
	case "br":
		reader = brotli.NewReader(bytes.NewReader(data))
	case "zstd":
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer decoder.Close()
		reader = decoder
	default:
		return data, nil
	}

	decoded, err := io.ReadAll(io.LimitReader(reader, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", encoding, err)
	}
	return decoded, nil
}
