// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/warden/internal/access"
	"github.com/holomush/warden/internal/auth"
	"github.com/holomush/warden/internal/auth/memory"
	authpg "github.com/holomush/warden/internal/auth/postgres"
	"github.com/holomush/warden/internal/config"
	"github.com/holomush/warden/internal/notify"
	"github.com/holomush/warden/internal/observability"
	"github.com/holomush/warden/internal/session"
	sessionpg "github.com/holomush/warden/internal/session/postgres"
	"github.com/holomush/warden/internal/session/redisstore"
	"github.com/holomush/warden/internal/store"
	"github.com/holomush/warden/internal/token"
)

// app is the wired service graph.
type app struct {
	service  *auth.Service
	registry *session.Registry
	notifier *notify.Async

	pool  *pgxpool.Pool
	redis *redis.Client
}

// newApp connects backends and wires the service. On error, anything
// already opened is closed.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.DatabaseURL != "" {
		a.pool, err = store.Connect(ctx, cfg.DatabaseURL, store.WithConnectLogger(logger))
		if err != nil {
			return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
		}
	}

	var (
		principals auth.PrincipalRepository
		resets     auth.ResetRepository
	)
	if a.pool != nil {
		principals = authpg.NewPrincipalRepository(a.pool)
		resets = authpg.NewResetRepository(a.pool)
	} else {
		logger.Warn("no database_url configured; principals are kept in memory and lost on exit")
		mem := memory.NewStore()
		principals = mem
		resets = mem.Resets()
	}

	sessions, err := a.sessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.registry = session.NewRegistry(sessions,
		session.WithSessionTTL(cfg.Token.RefreshTTL),
		session.WithMaxActiveSessions(cfg.Session.MaxActive),
		session.WithIdleTimeout(cfg.Session.InactivityTimeout),
		session.WithRetention(cfg.Session.Retention),
		session.WithLogger(logger),
	)

	catalog := access.DefaultCatalog()
	if cfg.CatalogFile != "" {
		if catalog, err = access.LoadCatalog(cfg.CatalogFile); err != nil {
			return nil, err
		}
	}

	tokenCfg, err := cfg.TokenIssuerConfig()
	if err != nil {
		return nil, err
	}
	issuer, err := token.NewIssuer(tokenCfg)
	if err != nil {
		return nil, err
	}

	delivery, err := newNotifier(cfg.Notify)
	if err != nil {
		return nil, err
	}
	a.notifier = notify.NewAsync(delivery, notify.WithLogger(logger), notify.WithTimeout(cfg.Notify.Timeout))

	a.service, err = auth.NewService(auth.Deps{
		Principals: principals,
		Resets:     resets,
		Hasher:     auth.NewArgon2idHasher(),
		Tokens:     issuer,
		Sessions:   a.registry,
		Access:     access.NewResolver(catalog, access.WithLogger(logger)),
		Notifier:   a.notifier,
	},
		auth.WithLogger(logger),
		auth.WithAccessTTL(cfg.Token.AccessTTL),
		auth.WithResetTTL(cfg.Reset.TTL),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) sessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.SessionStore {
	case config.StorePostgres:
		if a.pool == nil {
			return nil, oops.Code(config.CodeInvalid).With("field", "database_url").Errorf("postgres session store needs a database")
		}
		return sessionpg.NewStore(a.pool), nil
	case config.StoreRedis:
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = client
		return redisstore.NewStore(client), nil
	default:
		return session.NewMemoryStore(), nil
	}
}

// newNotifier posts to the configured webhook, or prints reset tokens to
// stderr when none is set.
func newNotifier(cfg config.NotifyConfig) (notify.Notifier, error) {
	if cfg.WebhookURL == "" {
		return notify.NewWriter(os.Stderr), nil
	}
	return notify.NewWebhook(cfg.WebhookURL, notify.WithRetries(cfg.Retries, 0))
}

// readinessChecks returns one observability check per configured backend.
func (a *app) readinessChecks() []observability.Option {
	var opts []observability.Option
	if a.pool != nil {
		opts = append(opts, observability.WithCheck("database", a.pool.Ping))
	}
	if a.redis != nil {
		opts = append(opts, observability.WithCheck("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}))
	}
	return opts
}

// Close waits for pending notifications and releases backend connections.
func (a *app) Close() {
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
