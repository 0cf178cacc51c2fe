package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides mirrors the environment variables accepted on top of the YAML file.
// Zero values mean "not set".
type envOverrides struct {
	Port            int           `env:"PORT"`
	Debug           string        `env:"DEBUG"`
	ProxyURL        string        `env:"PROXY_URL"`
	BaseURL         string        `env:"OPENAI_BASE_URL"`
	ClientID        string        `env:"OPENAI_CLIENT_ID"`
	RedirectURI     string        `env:"OPENAI_REDIRECT_URI"`
	Scope           string        `env:"OPENAI_SCOPE"`
	VerifyIDToken   string        `env:"OPENAI_VERIFY_ID_TOKEN"`
	SessionStore    string        `env:"SESSION_STORE"`
	SessionTTL      time.Duration `env:"SESSION_TTL"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB"`
	PostgresDSN     string        `env:"PGSTORE_DSN"`
	PostgresSchema  string        `env:"PGSTORE_SCHEMA"`
	ExchangeTimeout time.Duration `env:"EXCHANGE_TIMEOUT"`
}

func applyEnvOverrides(cfg *Config, environ []string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: toEnvMap(environ)}); err != nil {
		return fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	if o.Port > 0 {
		cfg.Port = o.Port
	}
	if b, ok := parseBool(o.Debug); ok {
		cfg.Debug = b
	}
	setIfNotEmpty(&cfg.ProxyURL, o.ProxyURL)
	setIfNotEmpty(&cfg.OAuth.BaseURL, o.BaseURL)
	setIfNotEmpty(&cfg.OAuth.ClientID, o.ClientID)
	setIfNotEmpty(&cfg.OAuth.RedirectURI, o.RedirectURI)
	setIfNotEmpty(&cfg.OAuth.Scope, o.Scope)
	if b, ok := parseBool(o.VerifyIDToken); ok {
		cfg.OAuth.VerifyIDToken = b
	}
	setIfNotEmpty(&cfg.Session.Store, o.SessionStore)
	if o.SessionTTL > 0 {
		cfg.Session.TTL = o.SessionTTL
	}
	setIfNotEmpty(&cfg.Session.Redis.Addr, o.RedisAddr)
	setIfNotEmpty(&cfg.Session.Redis.Password, o.RedisPassword)
	if o.RedisDB > 0 {
		cfg.Session.Redis.DB = o.RedisDB
	}
	setIfNotEmpty(&cfg.Session.Postgres.DSN, o.PostgresDSN)
	setIfNotEmpty(&cfg.Session.Postgres.Schema, o.PostgresSchema)
	if o.ExchangeTimeout > 0 {
		cfg.Exchange.Timeout = o.ExchangeTimeout
	}
	return nil
}

func toEnvMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[key] = value
	}
	return out
}

func setIfNotEmpty(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return b, true
}
