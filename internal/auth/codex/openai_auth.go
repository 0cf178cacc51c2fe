package codex

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/loLollipop/refresh-token-got-it/internal/config"
	"github.com/loLollipop/refresh-token-got-it/internal/util"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// CodexAuth handles the OpenAI OAuth2 authorization code flow: it builds authorization
// URLs, exchanges codes for tokens, and turns the identity token into account details.
type CodexAuth struct {
	settings  config.OAuthConfig
	oauth     *oauth2.Config
	exchanger *TokenExchanger
	claims    ClaimsExtractor
	verifier  *KeySetVerifier
}

// NewCodexAuth creates a CodexAuth whose outbound client honours the configured proxy,
// timeout and TLS fingerprint settings.
func NewCodexAuth(cfg *config.Config) *CodexAuth {
	return NewCodexAuthWithClient(cfg, newHTTPClient(cfg))
}

// NewCodexAuthWithClient creates a CodexAuth that uses httpClient for every upstream call.
func NewCodexAuthWithClient(cfg *config.Config, httpClient *http.Client) *CodexAuth {
	settings := cfg.OAuth
	a := &CodexAuth{
		settings: settings,
		oauth: &oauth2.Config{
			ClientID:    settings.ClientID,
			RedirectURL: settings.RedirectURI,
			Scopes:      strings.Fields(settings.Scope),
			Endpoint: oauth2.Endpoint{
				AuthURL:   settings.AuthorizeURL(),
				TokenURL:  settings.TokenURL(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		exchanger: NewTokenExchanger(httpClient, settings.TokenURL(), cfg.Exchange.Encodings),
		claims:    NewNamespacedClaims(settings.ClaimsNamespace),
	}
	if settings.VerifyIDToken {
		a.verifier = NewKeySetVerifier(httpClient, settings.KeySetURL(), 0)
	}
	return a
}

func newHTTPClient(cfg *config.Config) *http.Client {
	client := &http.Client{Timeout: cfg.Exchange.Timeout}
	if cfg.Exchange.TLSFingerprint {
		client.Transport = newFingerprintRoundTripper(cfg.ProxyURL)
		return client
	}
	return util.SetProxy(cfg.ProxyURL, client)
}

// Settings returns the OAuth settings this instance was built with.
func (o *CodexAuth) Settings() config.OAuthConfig {
	return o.settings
}

// SetClaimsExtractor swaps the claims adapter, for identity providers with another layout.
func (o *CodexAuth) SetClaimsExtractor(extractor ClaimsExtractor) {
	if extractor != nil {
		o.claims = extractor
	}
}

// GenerateAuthURL creates the OAuth authorization URL carrying the PKCE challenge and state.
func (o *CodexAuth) GenerateAuthURL(state string, pkceCodes *PKCECodes) (string, error) {
	if pkceCodes == nil {
		return "", fmt.Errorf("PKCE codes are required")
	}
	if strings.TrimSpace(state) == "" {
		return "", fmt.Errorf("state is required")
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", pkceCodes.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if o.settings.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", o.settings.Prompt))
	}
	for key, value := range o.settings.ExtraParams {
		opts = append(opts, oauth2.SetAuthURLParam(key, value))
	}
	return o.oauth.AuthCodeURL(state, opts...), nil
}

// ExchangeCode trades an authorization code for tokens and decodes the identity token.
// Empty redirect URI or client ID fall back to the configured values.
func (o *CodexAuth) ExchangeCode(ctx context.Context, req TokenRequest) (*ExchangeResult, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, fmt.Errorf("authorization code is required")
	}
	if strings.TrimSpace(req.CodeVerifier) == "" {
		return nil, fmt.Errorf("code verifier is required")
	}
	if req.RedirectURI == "" {
		req.RedirectURI = o.settings.RedirectURI
	}
	if req.ClientID == "" {
		req.ClientID = o.settings.ClientID
	}

	tokens, err := o.exchanger.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}

	idToken, err := DecodeIDToken(tokens.IDToken)
	if err != nil {
		return nil, &IDTokenError{Cause: err}
	}
	if o.verifier != nil {
		if err = o.verifier.Verify(ctx, idToken, req.ClientID); err != nil {
			return nil, &IDTokenError{Cause: err}
		}
	}

	account := o.claims.Extract(idToken.Payload)
	account.ClientID = req.ClientID

	log.WithFields(log.Fields{
		"encoding": tokens.Encoding,
		"attempt":  tokens.Attempts,
	}).Debugf("token exchange succeeded for %s", util.HideToken(account.Email))

	return &ExchangeResult{Tokens: tokens, Account: account}, nil
}
