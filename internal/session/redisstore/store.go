// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redisstore implements session.Store on Redis.
//
// Each session is a hash; refresh references are plain keys pointing at
// the session id. Conditional transitions run as Lua scripts so the
// check and the write happen in one server-side step.
package redisstore

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/warden/internal/session"
)

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "warden:"

const purgeBatch = 500

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Store implements session.Store using Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ session.Store = (*Store)(nil)

// NewStore creates a new Store.
func NewStore(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect builds a client from a redis:// URL or a bare host:port and
// verifies it answers PING.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, oops.Code("REDIS_URL_INVALID").Wrap(err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", opts.Addr).Wrap(err)
	}
	return client, nil
}

func (s *Store) sessionKey(id ulid.ULID) string { return s.prefix + "session:" + id.String() }
func (s *Store) refsKey(id ulid.ULID) string { return s.sessionKey(id) + ":refs" }
func (s *Store) refKey(hash string) string { return s.prefix + "ref:" + hash }
func (s *Store) principalKey(id ulid.ULID) string { return s.prefix + "principal:" + id.String() }
func (s *Store) expiryKey() string { return s.prefix + "sessions:expiry" }
func (s *Store) invalidatedKey() string { return s.prefix + "sessions:invalidated" }

// Create implements session.Store.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	fields, err := encodeFields(sess)
	if err != nil {
		return err
	}
	invalidatedAt := ""
	if sess.InvalidatedAt != nil {
		invalidatedAt = encodeTime(*sess.InvalidatedAt)
	}

	args := append([]any{sess.ID.String(), sess.RefreshHash, encodeTime(sess.ExpiresAt), invalidatedAt}, fields...)
	created, err := createScript.Run(ctx, s.client, []string{
		s.sessionKey(sess.ID),
		s.refKey(sess.RefreshHash),
		s.principalKey(sess.PrincipalID),
		s.refsKey(sess.ID),
		s.expiryKey(),
		s.invalidatedKey(),
	}, args...).Int()
	if err != nil {
		return oops.With("operation", "create session").With("session_id", sess.ID.String()).Wrap(err)
	}
	if created == 0 {
		return session.ErrConflict
	}
	return nil
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, id ulid.ULID) (*session.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, oops.With("operation", "get session").With("session_id", id.String()).Wrap(err)
	}
	if len(fields) == 0 {
		return nil, session.ErrNotFound
	}
	return decodeSession(fields)
}

// GetByRefreshHash implements session.Store.
func (s *Store) GetByRefreshHash(ctx context.Context, hash string) (*session.Session, error) {
	raw, err := s.client.Get(ctx, s.refKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "get refresh reference").Wrap(err)
	}
	id, err := ulid.Parse(raw)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", raw).Wrap(err)
	}
	return s.Get(ctx, id)
}

// ListByPrincipal implements session.Store. Results are ordered by
// creation time then id.
func (s *Store) ListByPrincipal(ctx context.Context, principalID ulid.ULID) ([]*session.Session, error) {
	ids, err := s.client.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		return nil, oops.With("operation", "list sessions").With("principal_id", principalID.String()).Wrap(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, raw := range ids {
			cmds[i] = p.HGetAll(ctx, s.prefix+"session:"+raw)
		}
		return nil
	})
	if err != nil {
		return nil, oops.With("operation", "load sessions").With("principal_id", principalID.String()).Wrap(err)
	}

	out := make([]*session.Session, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue // purged since the index read
		}
		sess, err := decodeSession(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	slices.SortFunc(out, func(a, b *session.Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})
	return out, nil
}

// Invalidate implements session.Store.
func (s *Store) Invalidate(ctx context.Context, id ulid.ULID, reason string, at time.Time) (bool, error) {
	result, err := invalidateScript.Run(ctx, s.client,
		[]string{s.sessionKey(id), s.invalidatedKey()},
		id.String(), encodeTime(at), reason,
	).Int()
	if err != nil {
		return false, oops.With("operation", "invalidate session").With("session_id", id.String()).Wrap(err)
	}
	switch result {
	case resultMissing:
		return false, session.ErrNotFound
	case resultConflict:
		return false, nil
	default:
		return true, nil
	}
}

// Rotate implements session.Store.
func (s *Store) Rotate(ctx context.Context, id ulid.ULID, oldHash, newHash string, at time.Time) (*session.Session, error) {
	reply, err := rotateScript.Run(ctx, s.client,
		[]string{s.sessionKey(id), s.refKey(newHash), s.refsKey(id)},
		id.String(), oldHash, newHash, encodeTime(at),
	).Result()
	if err != nil {
		return nil, oops.With("operation", "rotate refresh hash").With("session_id", id.String()).Wrap(err)
	}
	return sessionReply(reply)
}

// Extend implements session.Store.
func (s *Store) Extend(ctx context.Context, id ulid.ULID, expiresAt time.Time) (*session.Session, error) {
	reply, err := extendScript.Run(ctx, s.client,
		[]string{s.sessionKey(id), s.expiryKey()},
		id.String(), encodeTime(expiresAt),
	).Result()
	if err != nil {
		return nil, oops.With("operation", "extend session").With("session_id", id.String()).Wrap(err)
	}
	return sessionReply(reply)
}

// sessionReply interprets a script that returns either a status integer
// or the session's HGETALL pairs.
func sessionReply(reply any) (*session.Session, error) {
	switch v := reply.(type) {
	case int64:
		if v == resultMissing {
			return nil, session.ErrNotFound
		}
		return nil, session.ErrConflict
	case []any:
		return decodeSession(pairsToMap(v))
	default:
		return nil, oops.Code("SESSION_UNEXPECTED_REPLY").Errorf("unexpected script reply %T", reply)
	}
}

// Purge implements session.Store.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	keys := []string{s.expiryKey(), s.invalidatedKey()}
	total := 0
	for {
		counts, err := purgeScript.Run(ctx, s.client, keys, encodeTime(cutoff), s.prefix, purgeBatch).Int64Slice()
		if err != nil {
			return total, oops.With("operation", "purge sessions").Wrap(err)
		}
		if len(counts) != 2 {
			return total, oops.Code("SESSION_UNEXPECTED_REPLY").Errorf("purge returned %d values", len(counts))
		}
		total += int(counts[0])
		if counts[1] == 0 {
			return total, nil
		}
	}
}
