// Package session keeps the short-lived PKCE flow sessions that link an
// authorization request to its later code exchange.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for unknown or expired sessions.
	ErrNotFound = errors.New("session not found or expired")
	// ErrMissingID is returned when saving a session without an identifier.
	ErrMissingID = errors.New("session id is required")
)

// FlowSession is the server-held half of a PKCE flow.
type FlowSession struct {
	ID           string    `json:"id"`
	CodeVerifier string    `json:"code_verifier"`
	State        string    `json:"state"`
	RedirectURI  string    `json:"redirect_uri"`
	ClientID     string    `json:"client_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the session expiry is at or before now.
func (s *FlowSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Store persists flow sessions. Implementations must never return an expired
// session from Get, whether or not it has been purged yet.
type Store interface {
	Save(ctx context.Context, s *FlowSession) error
	Get(ctx context.Context, id string) (*FlowSession, error)
	// Take removes the session and returns it in one step, so only one caller
	// can claim a given session.
	Take(ctx context.Context, id string) (*FlowSession, error)
	Delete(ctx context.Context, id string) error
	// PurgeExpired drops every expired session and returns how many were removed.
	PurgeExpired(ctx context.Context) (int, error)
	Close() error
}

// NewID returns a fresh random session identifier.
func NewID() string {
	return uuid.NewString()
}

// New builds a session that expires ttl after now.
func New(codeVerifier, state, redirectURI, clientID string, ttl time.Duration, now time.Time) *FlowSession {
	return &FlowSession{
		ID:           NewID(),
		CodeVerifier: codeVerifier,
		State:        state,
		RedirectURI:  redirectURI,
		ClientID:     clientID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
