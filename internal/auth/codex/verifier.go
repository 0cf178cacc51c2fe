package codex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultKeySetTTL is how long a fetched key set is reused.
const DefaultKeySetTTL = time.Hour

// KeySetVerifier checks identity token signatures against the provider JWKS.
// Fetched key sets are cached for ttl and concurrent refreshes share one request.
type KeySetVerifier struct {
	httpClient *http.Client
	url        string
	ttl        time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	keys      *jose.JSONWebKeySet
	fetchedAt time.Time

	group singleflight.Group
}

// NewKeySetVerifier returns a verifier for the JWKS at url. ttl <= 0 selects DefaultKeySetTTL.
func NewKeySetVerifier(httpClient *http.Client, url string, ttl time.Duration) *KeySetVerifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultKeySetTTL
	}
	return &KeySetVerifier{httpClient: httpClient, url: url, ttl: ttl, now: time.Now}
}

// Verify checks the RS256 signature, expiry and, when audience is set, the aud claim.
func (v *KeySetVerifier) Verify(ctx context.Context, token *IDToken, audience string) error {
	if token == nil {
		return fmt.Errorf("%w: token is nil", ErrSignatureInvalid)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	_, err := jwt.Parse(token.Raw, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.lookup(ctx, kid)
	}, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// lookup resolves a signing key by kid, refreshing the key set once when the kid is unknown.
func (v *KeySetVerifier) lookup(ctx context.Context, kid string) (any, error) {
	keys, err := v.keySet(ctx, false)
	if err != nil {
		return nil, err
	}
	if key, ok := signingKey(keys, kid); ok {
		return key, nil
	}
	keys, err = v.keySet(ctx, true)
	if err != nil {
		return nil, err
	}
	if key, ok := signingKey(keys, kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("no signing key for kid %q", kid)
}

func signingKey(keys *jose.JSONWebKeySet, kid string) (any, bool) {
	if keys == nil {
		return nil, false
	}
	candidates := keys.Keys
	if kid != "" {
		candidates = keys.Key(kid)
	}
	for _, k := range candidates {
		if k.Use == "enc" || !k.Valid() {
			continue
		}
		return k.Public().Key, true
	}
	return nil, false
}

func (v *KeySetVerifier) cached(force bool) *jose.JSONWebKeySet {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.keys == nil || force {
		return nil
	}
	if v.now().Sub(v.fetchedAt) >= v.ttl {
		return nil
	}
	return v.keys
}

func (v *KeySetVerifier) keySet(ctx context.Context, force bool) (*jose.JSONWebKeySet, error) {
	if keys := v.cached(force); keys != nil {
		return keys, nil
	}
	fetchedBefore := v.lastFetch()
	res, err, _ := v.group.Do("jwks", func() (any, error) {
		// Another caller may have refreshed while this one waited.
		if keys := v.cached(false); keys != nil && (!force || v.lastFetch().After(fetchedBefore)) {
			return keys, nil
		}
		keys, errFetch := v.fetch(ctx)
		if errFetch != nil {
			return nil, errFetch
		}
		v.mu.Lock()
		v.keys = keys
		v.fetchedAt = v.now()
		v.mu.Unlock()
		log.Debugf("fetched %d signing key(s) from %s", len(keys.Keys), v.url)
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*jose.JSONWebKeySet), nil
}

func (v *KeySetVerifier) lastFetch() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.fetchedAt
}

func (v *KeySetVerifier) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create key set request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("key set request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read key set: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key set request failed with status %d", resp.StatusCode)
	}

	var keys jose.JSONWebKeySet
	if err = json.Unmarshal(body, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse key set: %w", err)
	}
	if len(keys.Keys) == 0 {
		return nil, errors.New("key set is empty")
	}
	return &keys, nil
}
