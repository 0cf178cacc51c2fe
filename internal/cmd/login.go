package cmd

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/loLollipop/refresh-token-got-it/internal/auth/codex"
	"github.com/loLollipop/refresh-token-got-it/internal/browser"
	"github.com/loLollipop/refresh-token-got-it/internal/config"
	"github.com/loLollipop/refresh-token-got-it/internal/misc"
	"github.com/loLollipop/refresh-token-got-it/internal/util"
	log "github.com/sirupsen/logrus"
)

const (
	defaultCallbackTimeout = 5 * time.Minute
	manualPromptDelay      = 15 * time.Second
)

// LoginOptions contains options for the terminal login flow.
type LoginOptions struct {
	// NoBrowser skips opening the browser automatically.
	NoBrowser bool

	// CopyToClipboard copies the refresh token to the system clipboard.
	CopyToClipboard bool

	// CallbackTimeout bounds the wait for the browser callback.
	CallbackTimeout time.Duration

	// Prompt allows the caller to provide interactive input when needed.
	Prompt func(prompt string) (string, error)

	// Out receives user-facing output. Defaults to stdout.
	Out io.Writer

	openURL      func(string) error
	copyToBoard  func(string) error
	promptDelay  time.Duration
	sshHints     bool
	authOverride *codex.CodexAuth
}

// DoLogin runs the PKCE flow from the terminal: it listens on the redirect URI,
// opens the browser, exchanges the code and prints the refresh token.
func DoLogin(cfg *config.Config, options *LoginOptions) {
	if options == nil {
		options = &LoginOptions{}
	}
	if options.Prompt == nil {
		options.Prompt = stdinPrompt()
	}
	options.sshHints = true

	result, err := runLogin(context.Background(), cfg, options)
	if err != nil {
		if authErr, ok := errors.AsType[*codex.AuthenticationError](err); ok {
			log.Error(codex.GetUserFriendlyMessage(authErr))
			if authErr.Type == codex.ErrPortInUse.Type {
				os.Exit(codex.ErrPortInUse.Code)
			}
			os.Exit(1)
		}
		log.Errorf("login failed: %v", err)
		os.Exit(1)
	}
	printLoginResult(options.out(), result)
	if options.CopyToClipboard && result.Tokens.RefreshToken != "" {
		copyFn := options.copyToBoard
		if copyFn == nil {
			copyFn = clipboard.WriteAll
		}
		if errCopy := copyFn(result.Tokens.RefreshToken); errCopy != nil {
			log.Warnf("failed to copy refresh token to clipboard: %v", errCopy)
		} else {
			fmt.Fprintln(options.out(), "Refresh token copied to clipboard.")
		}
	}
}

func (o *LoginOptions) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

func runLogin(ctx context.Context, cfg *config.Config, opts *LoginOptions) (*codex.ExchangeResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	out := opts.out()

	port, callbackPath, err := callbackEndpoint(cfg.OAuth.RedirectURI)
	if err != nil {
		return nil, err
	}

	pkceCodes, err := codex.GeneratePKCECodes()
	if err != nil {
		return nil, fmt.Errorf("pkce generation failed: %w", err)
	}
	state, err := misc.GenerateRandomState()
	if err != nil {
		return nil, fmt.Errorf("state generation failed: %w", err)
	}

	oauthServer := codex.NewOAuthServer(port, callbackPath)
	if err = oauthServer.Start(); err != nil {
		if _, ok := errors.AsType[*codex.AuthenticationError](err); ok {
			return nil, err
		}
		return nil, codex.NewAuthenticationError(codex.ErrServerStartFailed, err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if stopErr := oauthServer.Stop(stopCtx); stopErr != nil {
			log.Warnf("oauth callback server stop error: %v", stopErr)
		}
	}()

	authSvc := opts.authOverride
	if authSvc == nil {
		authSvc = codex.NewCodexAuth(cfg)
	}
	authURL, err := authSvc.GenerateAuthURL(state, pkceCodes)
	if err != nil {
		return nil, fmt.Errorf("authorization url generation failed: %w", err)
	}

	openURL := opts.openURL
	if openURL == nil {
		openURL = browser.OpenURL
	}
	manual := opts.NoBrowser
	if !manual {
		fmt.Fprintln(out, "Opening browser for authentication")
		if opts.openURL == nil && !browser.IsAvailable() {
			log.Warn("no browser available; please open the URL manually")
			manual = true
		} else if errOpen := openURL(authURL); errOpen != nil {
			log.Warnf("failed to open browser automatically: %v", errOpen)
			manual = true
		}
	}
	if manual {
		if opts.sshHints {
			util.PrintSSHTunnelInstructions(out, port)
		}
		fmt.Fprintf(out, "Visit the following URL to continue authentication:\n%s\n", authURL)
	}

	callback, err := waitForCallback(ctx, oauthServer, opts)
	if err != nil {
		return nil, err
	}
	if callback.HasError() {
		return nil, codex.NewOAuthError(callback.Error, callback.ErrorDescription, http.StatusBadRequest)
	}
	// A callback without state cannot be checked and is accepted.
	if callback.State != "" && subtle.ConstantTimeCompare([]byte(callback.State), []byte(state)) != 1 {
		return nil, codex.NewAuthenticationError(codex.ErrInvalidState, codex.ErrStateMismatch)
	}

	log.Debug("authorization code received; exchanging for tokens")
	result, err := authSvc.ExchangeCode(ctx, codex.TokenRequest{
		Code:         callback.Code,
		CodeVerifier: pkceCodes.CodeVerifier,
	})
	if err != nil {
		return nil, codex.NewAuthenticationError(codex.ErrCodeExchangeFailed, err)
	}
	return result, nil
}

// waitForCallback waits for the local callback and, after a delay, also
// accepts a pasted callback URL.
func waitForCallback(ctx context.Context, server *codex.OAuthServer, opts *LoginOptions) (*misc.OAuthCallback, error) {
	timeout := opts.CallbackTimeout
	if timeout <= 0 {
		timeout = defaultCallbackTimeout
	}
	fmt.Fprintln(opts.out(), "Waiting for authentication callback...")

	type waitResult struct {
		callback *misc.OAuthCallback
		err      error
	}
	waitCh := make(chan waitResult, 1)
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		callback, err := server.WaitForCallback(waitCtx, timeout)
		waitCh <- waitResult{callback, err}
	}()

	var promptC <-chan time.Time
	if opts.Prompt != nil {
		delay := opts.promptDelay
		if delay <= 0 {
			delay = manualPromptDelay
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		promptC = timer.C
	}

	for {
		select {
		case r := <-waitCh:
			return r.callback, r.err
		case <-promptC:
			promptC = nil
			select {
			case r := <-waitCh:
				return r.callback, r.err
			default:
			}
			input, errPrompt := opts.Prompt("Paste the callback URL (or press Enter to keep waiting): ")
			if errPrompt != nil {
				return nil, errPrompt
			}
			if strings.TrimSpace(input) == "" {
				r := <-waitCh
				return r.callback, r.err
			}
			return misc.ParseOAuthCallback(input)
		}
	}
}

// callbackEndpoint extracts the local port and path from the redirect URI.
func callbackEndpoint(redirectURI string) (int, string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return 0, "", fmt.Errorf("invalid redirect uri: %w", err)
	}
	portStr := u.Port()
	if portStr == "" {
		if u.Scheme == "https" {
			portStr = "443"
		} else {
			portStr = "80"
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, "", fmt.Errorf("invalid redirect uri port %q", portStr)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return port, path, nil
}

func printLoginResult(w io.Writer, result *codex.ExchangeResult) {
	account := result.Account
	fmt.Fprintln(w, "Authentication successful!")
	if account.Email != "" {
		fmt.Fprintf(w, "Account:       %s\n", account.Email)
	}
	if account.PlanType != "" {
		fmt.Fprintf(w, "Plan:          %s\n", account.PlanType)
	}
	fmt.Fprintf(w, "Client ID:     %s\n", account.ClientID)
	if result.Tokens.RefreshToken == "" {
		fmt.Fprintln(w, "No refresh token was returned. Make sure offline_access was granted.")
		return
	}
	fmt.Fprintf(w, "Refresh token: %s\n", result.Tokens.RefreshToken)
}

func stdinPrompt() func(string) (string, error) {
	reader := bufio.NewReader(os.Stdin)
	return func(prompt string) (string, error) {
		fmt.Print(prompt)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
}
