package codex

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// IDToken is a decoded, unverified identity token.
type IDToken struct {
	Raw     string
	Header  []byte
	Payload []byte
}

// DecodeIDToken splits a compact token and decodes its payload without checking the
// signature. The result is for display; callers that need a trust decision use
// KeySetVerifier.
func DecodeIDToken(token string) (*IDToken, error) {
	token = strings.TrimSpace(token)
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 parts, got %d", ErrInvalidTokenFormat, len(parts))
	}

	payload, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode claims: %v", ErrInvalidTokenFormat, err)
	}
	if !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
		return nil, fmt.Errorf("%w: claims are not a JSON object", ErrInvalidTokenFormat)
	}

	// The header only matters for signature checks, which reject a missing kid/alg on their own.
	header, _ := base64URLDecode(parts[0])
	return &IDToken{Raw: token, Header: header, Payload: payload}, nil
}

// KeyID returns the kid header value, if any.
func (t *IDToken) KeyID() string {
	if t == nil {
		return ""
	}
	return gjson.GetBytes(t.Header, "kid").String()
}

// base64URLDecode decodes a base64url segment, restoring the padding JWTs omit.
func base64URLDecode(data string) ([]byte, error) {
	switch len(data) % 4 {
	case 2:
		data += "=="
	case 3:
		data += "="
	}
	return base64.URLEncoding.DecodeString(data)
}
