// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/warden/internal/session"
	"github.com/holomush/warden/internal/session/postgres"
)

var sessionCols = []string{
	"id", "principal_id", "refresh_hash", "address", "user_agent", "device_id", "metadata",
	"created_at", "expires_at", "last_activity_at", "valid", "invalidated_at", "invalid_reason",
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func sampleSession() *session.Session {
	return &session.Session{
		ID:          ulid.Make(),
		PrincipalID: ulid.Make(),
		RefreshHash: "hash-1",
		Device: session.DeviceInfo{
			Address:   "10.0.0.1",
			UserAgent: "warden-cli",
			DeviceID:  "laptop",
			Metadata:  map[string]string{"os": "linux"},
		},
		CreatedAt:      t0,
		ExpiresAt:      t0.Add(7 * 24 * time.Hour),
		LastActivityAt: t0,
		Valid:          true,
	}
}

func sessionRows(sessions ...*session.Session) *pgxmock.Rows {
	rows := pgxmock.NewRows(sessionCols)
	for _, s := range sessions {
		rows.AddRow(
			s.ID.String(), s.PrincipalID.String(), s.RefreshHash,
			s.Device.Address, s.Device.UserAgent, s.Device.DeviceID, []byte(`{"os":"linux"}`),
			s.CreatedAt, s.ExpiresAt, s.LastActivityAt, s.Valid, s.InvalidatedAt, s.InvalidReason,
		)
	}
	return rows
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestStore_Create(t *testing.T) {
	s := sampleSession()

	t.Run("inserts session and refresh reference", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO sessions`).
			WithArgs(s.ID.String(), s.PrincipalID.String(), "hash-1", "10.0.0.1", "warden-cli", "laptop",
				[]byte(`{"os":"linux"}`), t0, s.ExpiresAt, t0, true, (*time.Time)(nil), "").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`INSERT INTO session_refresh_tokens`).
			WithArgs("hash-1", s.ID.String()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, postgres.NewStore(mock).Create(context.Background(), s))
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO sessions`).
			WithArgs(anyArgs(13)...).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
		mock.ExpectRollback()

		err := postgres.NewStore(mock).Create(context.Background(), s)
		assert.ErrorIs(t, err, session.ErrConflict)
	})
}

func TestStore_Get(t *testing.T) {
	s := sampleSession()

	t.Run("found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM sessions WHERE id = \$1`).WithArgs(s.ID.String()).WillReturnRows(sessionRows(s))

		got, err := postgres.NewStore(mock).Get(context.Background(), s.ID)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	})

	t.Run("missing", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM sessions WHERE id = \$1`).WithArgs(s.ID.String()).WillReturnRows(pgxmock.NewRows(sessionCols))

		_, err := postgres.NewStore(mock).Get(context.Background(), s.ID)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("database error is not ErrNotFound", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM sessions`).WithArgs(s.ID.String()).WillReturnError(errors.New("connection reset"))

		_, err := postgres.NewStore(mock).Get(context.Background(), s.ID)
		require.Error(t, err)
		assert.NotErrorIs(t, err, session.ErrNotFound)
	})
}

func TestStore_GetByRefreshHash(t *testing.T) {
	s := sampleSession()
	mock := newMock(t)
	mock.ExpectQuery(`SELECT session_id FROM session_refresh_tokens WHERE token_hash = \$1`).
		WithArgs("retired-hash").
		WillReturnRows(sessionRows(s))

	got, err := postgres.NewStore(mock).GetByRefreshHash(context.Background(), "retired-hash")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, "hash-1", got.RefreshHash)
}

func TestStore_ListByPrincipal(t *testing.T) {
	first := sampleSession()
	second := sampleSession()
	second.PrincipalID = first.PrincipalID
	second.CreatedAt = t0.Add(time.Minute)
	invalidatedAt := t0.Add(time.Hour)
	second.Valid = false
	second.InvalidatedAt = &invalidatedAt
	second.InvalidReason = session.ReasonLogout

	mock := newMock(t)
	mock.ExpectQuery(`WHERE principal_id = \$1\s+ORDER BY created_at, id`).
		WithArgs(first.PrincipalID.String()).
		WillReturnRows(sessionRows(first, second))

	got, err := postgres.NewStore(mock).ListByPrincipal(context.Background(), first.PrincipalID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])
	assert.Equal(t, second, got[1])
}

func TestStore_Invalidate(t *testing.T) {
	id := ulid.Make()

	tests := []struct {
		name    string
		updated int64
		exists  bool
		changed bool
		err     error
	}{
		{name: "changes a valid session", updated: 1, changed: true},
		{name: "already invalid", updated: 0, exists: true},
		{name: "unknown", updated: 0, exists: false, err: session.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectExec(`UPDATE sessions SET valid = FALSE`).
				WithArgs(id.String(), t0, session.ReasonRevoked).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.updated))
			if tt.updated == 0 {
				mock.ExpectQuery(`SELECT EXISTS`).WithArgs(id.String()).
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			}

			changed, err := postgres.NewStore(mock).Invalidate(context.Background(), id, session.ReasonRevoked, t0)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestStore_Rotate(t *testing.T) {
	s := sampleSession()
	at := t0.Add(time.Minute)

	t.Run("swaps and remembers the new hash", func(t *testing.T) {
		rotated := s.Clone()
		rotated.RefreshHash = "hash-2"
		rotated.LastActivityAt = at

		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE sessions SET refresh_hash = \$3, last_activity_at = \$4\s+WHERE id = \$1 AND refresh_hash = \$2 AND valid AND expires_at >= \$4`).
			WithArgs(s.ID.String(), "hash-1", "hash-2", at).
			WillReturnRows(sessionRows(rotated))
		mock.ExpectExec(`INSERT INTO session_refresh_tokens`).
			WithArgs("hash-2", s.ID.String()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		got, err := postgres.NewStore(mock).Rotate(context.Background(), s.ID, "hash-1", "hash-2", at)
		require.NoError(t, err)
		assert.Equal(t, "hash-2", got.RefreshHash)
		assert.Equal(t, at, got.LastActivityAt)
	})

	for _, tc := range []struct {
		name   string
		exists bool
		want   error
	}{
		{"stale hash conflicts", true, session.ErrConflict},
		{"unknown session", false, session.ErrNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectBegin()
			mock.ExpectQuery(`UPDATE sessions SET refresh_hash`).
				WithArgs(s.ID.String(), "stale", "hash-3", at).
				WillReturnRows(pgxmock.NewRows(sessionCols))
			mock.ExpectQuery(`SELECT EXISTS`).WithArgs(s.ID.String()).
				WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(tc.exists))
			mock.ExpectRollback()

			_, err := postgres.NewStore(mock).Rotate(context.Background(), s.ID, "stale", "hash-3", at)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestStore_ExtendInvalidSessionConflicts(t *testing.T) {
	id := ulid.Make()
	mock := newMock(t)
	mock.ExpectQuery(`UPDATE sessions SET expires_at = \$2\s+WHERE id = \$1 AND valid`).
		WithArgs(id.String(), t0).
		WillReturnRows(pgxmock.NewRows(sessionCols))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(id.String()).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := postgres.NewStore(mock).Extend(context.Background(), id, t0)
	assert.ErrorIs(t, err, session.ErrConflict)
}

func TestStore_Purge(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`DELETE FROM sessions\s+WHERE expires_at < \$1 OR \(NOT valid AND invalidated_at < \$1\)`).
		WithArgs(t0).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := postgres.NewStore(mock).Purge(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
