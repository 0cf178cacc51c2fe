package codex

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loLollipop/refresh-token-got-it/internal/misc"
	log "github.com/sirupsen/logrus"
)

// OAuthServer is the loopback listener that receives the provider redirect during
// the terminal login. It accepts a single callback and hands it to WaitForCallback.
type OAuthServer struct {
	server       *http.Server
	port         int
	callbackPath string
	resultChan   chan *misc.OAuthCallback
	errorChan    chan error
	mu           sync.Mutex
	running      bool
	addr         string
}

// NewOAuthServer creates a callback server for the given port and path.
func NewOAuthServer(port int, callbackPath string) *OAuthServer {
	if callbackPath == "" {
		callbackPath = "/auth/callback"
	}
	return &OAuthServer{
		port:         port,
		callbackPath: callbackPath,
		resultChan:   make(chan *misc.OAuthCallback, 1),
		errorChan:    make(chan error, 1),
	}
}

// Start binds the callback port and serves in the background.
func (s *OAuthServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return NewAuthenticationError(ErrPortInUse, err)
	}

	s.addr = listener.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc(s.callbackPath, s.handleCallback)
	mux.HandleFunc("/success", s.handleSuccess)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	go func() {
		if errServe := s.server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			s.sendError(NewAuthenticationError(ErrServerStartFailed, errServe))
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *OAuthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}
	log.Debug("Stopping OAuth callback server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.running = false
	s.server = nil
	return err
}

// Addr returns the bound listener address, useful when the port was 0.
func (s *OAuthServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Results exposes the callback channel for callers that multiplex it with other input.
func (s *OAuthServer) Results() <-chan *misc.OAuthCallback { return s.resultChan }

// Errors exposes server failures.
func (s *OAuthServer) Errors() <-chan error { return s.errorChan }

// WaitForCallback blocks until a callback arrives, the server fails, or timeout elapses.
func (s *OAuthServer) WaitForCallback(ctx context.Context, timeout time.Duration) (*misc.OAuthCallback, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case result := <-s.resultChan:
		return result, nil
	case err := <-s.errorChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, NewAuthenticationError(ErrCallbackTimeout, fmt.Errorf("no callback after %s", timeout))
	}
}

func (s *OAuthServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := misc.ParseOAuthCallback("http://localhost" + r.URL.RequestURI())
	if err != nil {
		log.Errorf("Invalid OAuth callback: %v", err)
		http.Error(w, "No authorization code received", http.StatusBadRequest)
		return
	}
	s.sendResult(result)

	if result.HasError() {
		log.Errorf("OAuth error received: %s", result.Error)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(renderCallbackPage(false, result.Error+" "+result.ErrorDescription)))
		return
	}
	http.Redirect(w, r, "/success", http.StatusFound)
}

func (s *OAuthServer) handleSuccess(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(renderCallbackPage(true, ""))); err != nil {
		log.Errorf("Failed to write success page: %v", err)
	}
}

func (s *OAuthServer) sendResult(result *misc.OAuthCallback) {
	select {
	case s.resultChan <- result:
		log.Debug("OAuth result sent to channel")
	default:
		log.Warn("OAuth result channel is full, result dropped")
	}
}

func (s *OAuthServer) sendError(err error) {
	select {
	case s.errorChan <- err:
	default:
	}
}

// IsRunning returns whether the server is currently running.
func (s *OAuthServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func renderCallbackPage(success bool, detail string) string {
	page := callbackPageHTML
	if success {
		page = strings.Replace(page, "{{TITLE}}", "Authorization received", 2)
		page = strings.Replace(page, "{{BODY}}", "The authorization code was handed to the terminal. You can close this window.", 1)
	} else {
		page = strings.Replace(page, "{{TITLE}}", "Authorization failed", 2)
		page = strings.Replace(page, "{{BODY}}", "The provider returned an error: "+html.EscapeString(strings.TrimSpace(detail)), 1)
	}
	return page
}
