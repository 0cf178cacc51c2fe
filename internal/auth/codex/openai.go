package codex

import "encoding/json"

// PKCECodes holds the verification codes for the OAuth2 PKCE (Proof Key for Code Exchange) flow.
type PKCECodes struct {
	// CodeVerifier is the cryptographically random string used to correlate
	// the authorization request to the token request.
	CodeVerifier string `json:"code_verifier"`
	// CodeChallenge is the SHA256 hash of the code verifier, base64url-encoded.
	CodeChallenge string `json:"code_challenge"`
}

// TokenRequest carries the inputs of an authorization_code grant.
type TokenRequest struct {
	Code         string
	CodeVerifier string
	RedirectURI  string
	ClientID     string
}

// TokenSet holds the fields returned by the token endpoint.
type TokenSet struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	IDToken      string `json:"idToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
	Scope        string `json:"scope"`

	// Raw is the untouched upstream response body.
	Raw json.RawMessage `json:"-"`
	// Encoding is the request body encoding that produced this answer.
	Encoding string `json:"-"`
	// Attempts is the number of requests sent to the token endpoint.
	Attempts int `json:"-"`
}

// Organization is a single organization membership from the identity token.
type Organization struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title,omitempty"`
	Role      string `json:"role,omitempty"`
	IsDefault bool   `json:"isDefault,omitempty"`
}

// AccountInfo is the operator-facing view of the identity token claims.
type AccountInfo struct {
	Email         string       `json:"email"`
	Name          string       `json:"name,omitempty"`
	EmailVerified bool         `json:"emailVerified"`
	Subject       string       `json:"subject,omitempty"`
	AccountID     string       `json:"accountId,omitempty"`
	UserID        string       `json:"userId,omitempty"`
	PlanType      string       `json:"planType,omitempty"`
	Organization  Organization `json:"organization"`
	Organizations int          `json:"organizationCount"`
	ClientID      string       `json:"clientId,omitempty"`
}

// ExchangeResult is the outcome of a successful code exchange.
type ExchangeResult struct {
	Tokens  *TokenSet
	Account AccountInfo
}
