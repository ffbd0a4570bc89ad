// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements session.Store on PostgreSQL.
//
// Every conditional transition is a single UPDATE whose WHERE clause
// carries the precondition, so concurrent writers are serialized by the
// row lock rather than by the application.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/warden/internal/session"
	"github.com/holomush/warden/internal/store"
)

const sessionColumns = `id, principal_id, refresh_hash, address, user_agent, device_id, metadata,
		created_at, expires_at, last_activity_at, valid, invalidated_at, invalid_reason`

// Store implements session.Store using PostgreSQL.
type Store struct {
	db store.DB
}

// NewStore creates a new Store.
func NewStore(db store.DB) *Store {
	return &Store{db: db}
}

func rollback(ctx context.Context, tx pgx.Tx, err *error) {
	if *err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // the original error wins
	}
}

// Create inserts the session and its first refresh reference.
func (s *Store) Create(ctx context.Context, sess *session.Session) (err error) {
	metadata, err := json.Marshal(sess.Device.Metadata)
	if err != nil {
		return oops.With("operation", "marshal device metadata").Wrap(err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return oops.With("operation", "begin").Wrap(err)
	}
	defer rollback(ctx, tx, &err)

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		sess.ID.String(),
		sess.PrincipalID.String(),
		sess.RefreshHash,
		sess.Device.Address,
		sess.Device.UserAgent,
		sess.Device.DeviceID,
		metadata,
		sess.CreatedAt,
		sess.ExpiresAt,
		sess.LastActivityAt,
		sess.Valid,
		sess.InvalidatedAt,
		sess.InvalidReason,
	)
	if store.IsUniqueViolation(err) {
		return session.ErrConflict
	}
	if err != nil {
		return oops.With("operation", "insert session").With("session_id", sess.ID.String()).Wrap(err)
	}

	if err = insertRef(ctx, tx, sess.RefreshHash, sess.ID); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return oops.With("operation", "commit").Wrap(err)
	}
	return nil
}

func insertRef(ctx context.Context, tx pgx.Tx, hash string, id ulid.ULID) error {
	_, err := tx.Exec(ctx, `INSERT INTO session_refresh_tokens (token_hash, session_id) VALUES ($1, $2)`,
		hash, id.String())
	if err != nil {
		return oops.With("operation", "insert refresh reference").With("session_id", id.String()).Wrap(err)
	}
	return nil
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, id ulid.ULID) (*session.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "get session").With("session_id", id.String()).Wrap(err)
	}
	return sess, nil
}

// GetByRefreshHash resolves current and retired hashes alike.
func (s *Store) GetByRefreshHash(ctx context.Context, hash string) (*session.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = (SELECT session_id FROM session_refresh_tokens WHERE token_hash = $1)
	`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "get session by refresh hash").Wrap(err)
	}
	return sess, nil
}

// ListByPrincipal implements session.Store.
func (s *Store) ListByPrincipal(ctx context.Context, principalID ulid.ULID) ([]*session.Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE principal_id = $1
		ORDER BY created_at, id
	`, principalID.String())
	if err != nil {
		return nil, oops.With("operation", "list sessions").With("principal_id", principalID.String()).Wrap(err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, oops.With("operation", "scan session row").Wrap(err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate sessions").Wrap(err)
	}
	return out, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// exists tells ErrNotFound apart from a failed precondition after an
// UPDATE matched nothing.
func exists(ctx context.Context, q rowQuerier, id ulid.ULID) (bool, error) {
	var ok bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id.String()).Scan(&ok); err != nil {
		return false, oops.With("operation", "check session exists").With("session_id", id.String()).Wrap(err)
	}
	return ok, nil
}

// Invalidate implements session.Store.
func (s *Store) Invalidate(ctx context.Context, id ulid.ULID, reason string, at time.Time) (bool, error) {
	result, err := s.db.Exec(ctx, `
		UPDATE sessions SET valid = FALSE, invalidated_at = $2, invalid_reason = $3
		WHERE id = $1 AND valid
	`, id.String(), at, reason)
	if err != nil {
		return false, oops.With("operation", "invalidate session").With("session_id", id.String()).Wrap(err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}

	ok, err := exists(ctx, s.db, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, session.ErrNotFound
	}
	return false, nil
}

// Rotate swaps the refresh hash if and only if the session is still bound
// to oldHash, valid, and unexpired at at.
func (s *Store) Rotate(ctx context.Context, id ulid.ULID, oldHash, newHash string, at time.Time) (_ *session.Session, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, oops.With("operation", "begin").Wrap(err)
	}
	defer rollback(ctx, tx, &err)

	sess, err := scanSession(tx.QueryRow(ctx, `
		UPDATE sessions SET refresh_hash = $3, last_activity_at = $4
		WHERE id = $1 AND refresh_hash = $2 AND valid AND expires_at >= $4
		RETURNING `+sessionColumns,
		id.String(), oldHash, newHash, at))
	if errors.Is(err, pgx.ErrNoRows) {
		ok, existsErr := exists(ctx, tx, id)
		switch {
		case existsErr != nil:
			return nil, existsErr
		case ok:
			return nil, session.ErrConflict
		default:
			return nil, session.ErrNotFound
		}
	}
	if err != nil {
		return nil, oops.With("operation", "rotate refresh hash").With("session_id", id.String()).Wrap(err)
	}

	if err = insertRef(ctx, tx, newHash, id); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, oops.With("operation", "commit").Wrap(err)
	}
	return sess, nil
}

// Extend implements session.Store.
func (s *Store) Extend(ctx context.Context, id ulid.ULID, expiresAt time.Time) (*session.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx, `
		UPDATE sessions SET expires_at = $2
		WHERE id = $1 AND valid
		RETURNING `+sessionColumns,
		id.String(), expiresAt))
	if errors.Is(err, pgx.ErrNoRows) {
		ok, existsErr := exists(ctx, s.db, id)
		switch {
		case existsErr != nil:
			return nil, existsErr
		case ok:
			return nil, session.ErrConflict
		default:
			return nil, session.ErrNotFound
		}
	}
	if err != nil {
		return nil, oops.With("operation", "extend session").With("session_id", id.String()).Wrap(err)
	}
	return sess, nil
}

// Purge deletes dead sessions; their refresh references go with them via
// ON DELETE CASCADE.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.Exec(ctx, `
		DELETE FROM sessions
		WHERE expires_at < $1 OR (NOT valid AND invalidated_at < $1)
	`, cutoff)
	if err != nil {
		return 0, oops.With("operation", "purge sessions").Wrap(err)
	}
	return int(result.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var (
		idStr, principalStr string
		metadata            []byte
		sess                session.Session
	)
	err := row.Scan(
		&idStr,
		&principalStr,
		&sess.RefreshHash,
		&sess.Device.Address,
		&sess.Device.UserAgent,
		&sess.Device.DeviceID,
		&metadata,
		&sess.CreatedAt,
		&sess.ExpiresAt,
		&sess.LastActivityAt,
		&sess.Valid,
		&sess.InvalidatedAt,
		&sess.InvalidReason,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with lookup context
	}

	if sess.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if sess.PrincipalID, err = ulid.Parse(principalStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_PRINCIPAL_ID").With("principal_id", principalStr).Wrap(err)
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	sess.LastActivityAt = sess.LastActivityAt.UTC()
	if sess.InvalidatedAt != nil {
		at := sess.InvalidatedAt.UTC()
		sess.InvalidatedAt = &at
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sess.Device.Metadata); err != nil {
			return nil, oops.Code("SESSION_INVALID_METADATA").With("id", idStr).Wrap(err)
		}
	}
	return &sess, nil
}

var _ session.Store = (*Store)(nil)
