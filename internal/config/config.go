// Package config provides configuration management for the refresh-token helper.
// It handles loading and parsing the YAML configuration file, applying environment
// overrides, and validating the resulting settings for the OAuth flow, the session
// store, and the token exchange client.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 3000
	DefaultBaseURL         = "https://auth.openai.com"
	DefaultClientID        = "app_EMoamEEZ73f0CkXaXp7hrann"
	DefaultRedirectURI     = "http://localhost:1455/auth/callback"
	DefaultScope           = "openid profile email offline_access"
	DefaultClaimsNamespace = "https://api.openai.com/auth"
	DefaultSessionTTL      = 10 * time.Minute
	DefaultExchangeTimeout = 30 * time.Second

	EncodingForm = "form"
	EncodingJSON = "json"

	SessionStoreMemory   = "memory"
	SessionStoreRedis    = "redis"
	SessionStorePostgres = "postgres"
)

// Config represents the application's configuration, loaded from a YAML file
// and overridden by environment variables.
type Config struct {
	// Host is the interface the HTTP server binds to. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the HTTP port of the operator UI and API.
	Port int `yaml:"port" json:"port" validate:"gte=0,lte=65535"`

	// Debug enables debug level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile switches log output from stdout to a rotating file.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB caps the total size of the logs directory. <= 0 disables the cap.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb" validate:"gte=0"`

	// ProxyURL is the URL of an optional proxy server used for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// PublicDir serves the operator UI from disk instead of the embedded assets.
	PublicDir string `yaml:"public-dir" json:"public-dir"`

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool `yaml:"metrics" json:"metrics"`

	OAuth    OAuthConfig    `yaml:"oauth" json:"oauth"`
	Session  SessionConfig  `yaml:"session" json:"session"`
	Exchange ExchangeConfig `yaml:"exchange" json:"exchange"`
}

// OAuthConfig describes the upstream identity provider and the client registration.
type OAuthConfig struct {
	BaseURL     string `yaml:"base-url" json:"base-url" validate:"required,url"`
	ClientID    string `yaml:"client-id" json:"client-id" validate:"required"`
	RedirectURI string `yaml:"redirect-uri" json:"redirect-uri" validate:"required,url"`
	Scope       string `yaml:"scope" json:"scope" validate:"required"`

	// Prompt is forwarded as the prompt parameter when set (e.g. "login").
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`

	// ExtraParams are appended to the authorization URL. Defaults to the provider flags.
	ExtraParams map[string]string `yaml:"extra-params,omitempty" json:"extra-params,omitempty"`

	// ClaimsNamespace is the identity token claim holding account and organization details.
	ClaimsNamespace string `yaml:"claims-namespace" json:"claims-namespace"`

	// VerifyIDToken checks the identity token signature against the provider JWKS.
	VerifyIDToken bool `yaml:"verify-id-token" json:"verify-id-token"`

	// JWKSURL overrides the key set location. Defaults to {base-url}/.well-known/jwks.json.
	JWKSURL string `yaml:"jwks-url,omitempty" json:"jwks-url,omitempty"`
}

// AuthorizeURL returns the authorization endpoint.
func (o OAuthConfig) AuthorizeURL() string { return o.BaseURL + "/oauth/authorize" }

// TokenURL returns the token endpoint.
func (o OAuthConfig) TokenURL() string { return o.BaseURL + "/oauth/token" }

// KeySetURL returns the JWKS endpoint used for optional signature checks.
func (o OAuthConfig) KeySetURL() string {
	if o.JWKSURL != "" {
		return o.JWKSURL
	}
	return o.BaseURL + "/.well-known/jwks.json"
}

// SessionConfig selects and configures the flow session backend.
type SessionConfig struct {
	Store    string         `yaml:"store" json:"store" validate:"oneof=memory redis postgres"`
	TTL      time.Duration  `yaml:"ttl" json:"ttl"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
}

// RedisConfig holds the Redis connection used by the redis session store.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr" validate:"required_if=Enabled true"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key-prefix" json:"key-prefix"`

	// Enabled is derived from SessionConfig.Store and never read from YAML.
	Enabled bool `yaml:"-" json:"-"`
}

// PostgresConfig holds the PostgreSQL connection used by the postgres session store.
type PostgresConfig struct {
	DSN    string `yaml:"dsn" json:"-" validate:"required_if=Enabled true"`
	Schema string `yaml:"schema" json:"schema"`
	Table  string `yaml:"table" json:"table"`

	Enabled bool `yaml:"-" json:"-"`
}

// ExchangeConfig controls the token endpoint client.
type ExchangeConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Encodings lists the request body encodings in attempt order. The second entry,
	// when present, is used only after a non-2xx answer to the first.
	Encodings []string `yaml:"encodings" json:"encodings" validate:"min=1,max=2,unique,dive,oneof=form json"`

	// TLSFingerprint dials the token endpoint with a browser TLS fingerprint.
	TLSFingerprint bool `yaml:"tls-fingerprint" json:"tls-fingerprint"`
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Port: DefaultPort,
		OAuth: OAuthConfig{
			BaseURL:         DefaultBaseURL,
			ClientID:        DefaultClientID,
			RedirectURI:     DefaultRedirectURI,
			Scope:           DefaultScope,
			ClaimsNamespace: DefaultClaimsNamespace,
			ExtraParams: map[string]string{
				"id_token_add_organizations": "true",
				"codex_cli_simplified_flow":  "true",
			},
		},
		Session: SessionConfig{
			Store: SessionStoreMemory,
			TTL:   DefaultSessionTTL,
		},
		Exchange: ExchangeConfig{
			Timeout:   DefaultExchangeTimeout,
			Encodings: []string{EncodingForm, EncodingJSON},
		},
	}
}

// LoadConfig reads the configuration file at path, which must exist.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parseConfig(data, os.Environ())
}

// LoadConfigOptional reads the configuration file at path. A missing or empty file
// yields the defaults plus environment overrides.
func LoadConfigOptional(path string) (*Config, error) {
	var data []byte
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = raw
	}
	return parseConfig(data, os.Environ())
}

func parseConfig(data []byte, environ []string) (*Config, error) {
	cfg := Default()
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := applyEnvOverrides(cfg, environ); err != nil {
		return nil, err
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Sanitize trims user supplied values and restores defaults for unset fields.
func (c *Config) Sanitize() {
	if c == nil {
		return
	}
	c.Host = strings.TrimSpace(c.Host)
	c.ProxyURL = strings.TrimSpace(c.ProxyURL)
	c.PublicDir = strings.TrimSpace(c.PublicDir)

	o := &c.OAuth
	o.BaseURL = strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	o.ClientID = strings.TrimSpace(o.ClientID)
	o.RedirectURI = strings.TrimSpace(o.RedirectURI)
	o.Scope = strings.Join(strings.Fields(o.Scope), " ")
	o.Prompt = strings.TrimSpace(o.Prompt)
	o.ClaimsNamespace = strings.TrimSpace(o.ClaimsNamespace)
	if o.ClaimsNamespace == "" {
		o.ClaimsNamespace = DefaultClaimsNamespace
	}
	o.JWKSURL = strings.TrimSpace(o.JWKSURL)

	s := &c.Session
	s.Store = strings.ToLower(strings.TrimSpace(s.Store))
	if s.Store == "" {
		s.Store = SessionStoreMemory
	}
	if s.TTL <= 0 {
		s.TTL = DefaultSessionTTL
	}
	s.Redis.Addr = strings.TrimSpace(s.Redis.Addr)
	s.Redis.Enabled = s.Store == SessionStoreRedis
	s.Postgres.DSN = strings.TrimSpace(s.Postgres.DSN)
	s.Postgres.Enabled = s.Store == SessionStorePostgres

	e := &c.Exchange
	if e.Timeout <= 0 {
		e.Timeout = DefaultExchangeTimeout
	}
	encodings := make([]string, 0, len(e.Encodings))
	for _, enc := range e.Encodings {
		if enc = strings.ToLower(strings.TrimSpace(enc)); enc != "" {
			encodings = append(encodings, enc)
		}
	}
	if len(encodings) == 0 {
		encodings = []string{EncodingForm, EncodingJSON}
	}
	e.Encodings = encodings
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(parts, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
