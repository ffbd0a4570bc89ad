// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads warden configuration from defaults, an optional
// YAML file, and command-line flags, in increasing order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/warden/internal/token"
)

// CodeInvalid is the error code for every validation failure.
const CodeInvalid = "CONFIG_INVALID"

// Session store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the complete warden configuration.
type Config struct {
	DatabaseURL  string        `koanf:"database_url"`
	RedisURL     string        `koanf:"redis_url"`
	SessionStore string        `koanf:"session_store"`
	Token        TokenConfig   `koanf:"token"`
	Session      SessionConfig `koanf:"session"`
	Reset        ResetConfig   `koanf:"reset"`
	CatalogFile  string        `koanf:"catalog_file"`
	Notify       NotifyConfig  `koanf:"notify"`
	MetricsAddr  string        `koanf:"metrics_addr"`
	LogFormat    string        `koanf:"log_format"`
	LogLevel     string        `koanf:"log_level"`
}

// TokenConfig selects access token signing.
type TokenConfig struct {
	Issuer         string        `koanf:"issuer"`
	SigningMethod  string        `koanf:"signing_method"`
	Secret         string        `koanf:"secret"`
	PrivateKeyFile string        `koanf:"private_key_file"`
	AccessTTL      time.Duration `koanf:"access_ttl"`
	RefreshTTL     time.Duration `koanf:"refresh_ttl"`
}

// SessionConfig tunes the session registry.
type SessionConfig struct {
	MaxActive         int           `koanf:"max_active"`
	InactivityTimeout time.Duration `koanf:"inactivity_timeout"`
	CleanupInterval   time.Duration `koanf:"cleanup_interval"`
	Retention         time.Duration `koanf:"retention"`
}

// ResetConfig tunes password reset.
type ResetConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// NotifyConfig selects where reset notifications go. An empty webhook
// URL writes them to the log instead.
type NotifyConfig struct {
	WebhookURL string        `koanf:"webhook_url"`
	Retries    uint64        `koanf:"retries"`
	Timeout    time.Duration `koanf:"timeout"`
}

// defaults are loaded before any file or flag.
var defaults = map[string]any{
	"session_store":              StoreMemory,
	"token.issuer":               "warden",
	"token.signing_method":       token.MethodHS256,
	"token.access_ttl":           "15m",
	"token.refresh_ttl":          "168h",
	"session.max_active":         5,
	"session.inactivity_timeout": "0s",
	"session.cleanup_interval":   "1h",
	"session.retention":          "0s",
	"reset.ttl":                  "1h",
	"notify.retries":             3,
	"notify.timeout":             "10s",
	"metrics_addr":               "127.0.0.1:9100",
	"log_format":                 "json",
	"log_level":                  "info",
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"database-url":   "database_url",
	"redis-url":      "redis_url",
	"session-store":  "session_store",
	"catalog-file":   "catalog_file",
	"metrics-addr":   "metrics_addr",
	"log-format":     "log_format",
	"log-level":      "log_level",
	"token-secret":   "token.secret",
	"token-key-file": "token.private_key_file",
}

// RegisterFlags adds the flags that Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("redis-url", "", "Redis URL or host:port")
	fs.String("session-store", StoreMemory, "session backend (memory, postgres, redis)")
	fs.String("catalog-file", "", "role and permission catalog YAML")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "minimum log level")
	fs.String("token-secret", "", "HS256 signing secret")
	fs.String("token-key-file", "", "PEM private key for RS256/ES256")
}

// Load reads and validates a Config.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	cfg, err := Read(path, fs)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read builds a Config without validating it, for commands that need only
// part of it. path may be empty to skip the file; fs may be nil.
func Read(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code(CodeInvalid).With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).With("operation", "unmarshal").Wrap(err)
	}
	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	return &cfg, nil
}

func invalid(field, format string, args ...any) error {
	return oops.Code(CodeInvalid).With("field", field).Errorf(format, args...)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.SessionStore {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return invalid("database_url", "database_url is required for the postgres session store")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return invalid("redis_url", "redis_url is required for the redis session store")
		}
	default:
		return invalid("session_store", "session_store must be memory, postgres, or redis, got %q", c.SessionStore)
	}

	if c.Token.Issuer == "" {
		return invalid("token.issuer", "token.issuer is required")
	}
	switch c.Token.SigningMethod {
	case "", token.MethodHS256:
		if len(c.Token.Secret) < token.MinSecretBytes {
			return invalid("token.secret", "token.secret must be at least %d bytes for HS256", token.MinSecretBytes)
		}
	case token.MethodRS256, token.MethodES256:
		if c.Token.PrivateKeyFile == "" {
			return invalid("token.private_key_file", "token.private_key_file is required for %s", c.Token.SigningMethod)
		}
	default:
		return invalid("token.signing_method", "unsupported signing method %q", c.Token.SigningMethod)
	}

	if c.Token.AccessTTL <= 0 {
		return invalid("token.access_ttl", "token.access_ttl must be positive")
	}
	if c.Token.RefreshTTL <= 0 {
		return invalid("token.refresh_ttl", "token.refresh_ttl must be positive")
	}
	if c.Reset.TTL <= 0 {
		return invalid("reset.ttl", "reset.ttl must be positive")
	}
	if c.Session.MaxActive < 0 {
		return invalid("session.max_active", "session.max_active must not be negative")
	}
	if c.Session.InactivityTimeout < 0 {
		return invalid("session.inactivity_timeout", "session.inactivity_timeout must not be negative")
	}
	if c.Session.CleanupInterval <= 0 {
		return invalid("session.cleanup_interval", "session.cleanup_interval must be positive")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return invalid("log_format", "log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	return nil
}

// TokenIssuerConfig converts the token section into token.Config,
// reading the private key when an asymmetric method is selected.
func (c *Config) TokenIssuerConfig() (token.Config, error) {
	out := token.Config{Issuer: c.Token.Issuer, Method: c.Token.SigningMethod}
	switch c.Token.SigningMethod {
	case token.MethodRS256, token.MethodES256:
		key, err := token.ParsePrivateKey(c.Token.PrivateKeyFile)
		if err != nil {
			return token.Config{}, err
		}
		out.PrivateKey = key
	default:
		out.Secret = []byte(c.Token.Secret)
	}
	return out, nil
}
