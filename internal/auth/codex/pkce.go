// Package codex implements the OpenAI OAuth2 authorization code flow with PKCE:
// authorization URL construction, the token endpoint exchange, identity token
// decoding, and the loopback callback listener used by the terminal login.
package codex

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// verifierBytes yields a 128 character base64url verifier, the RFC 7636 maximum.
const verifierBytes = 96

var rawURLEncoding = base64.URLEncoding.WithPadding(base64.NoPadding)

// GeneratePKCECodes generates a new verifier and its S256 challenge.
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: ChallengeS256(codeVerifier),
	}, nil
}

func generateCodeVerifier() (string, error) {
	bytes := make([]byte, verifierBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return rawURLEncoding.EncodeToString(bytes), nil
}

// ChallengeS256 derives the code challenge for a verifier: base64url(SHA-256(verifier)), unpadded.
func ChallengeS256(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return rawURLEncoding.EncodeToString(hash[:])
}
