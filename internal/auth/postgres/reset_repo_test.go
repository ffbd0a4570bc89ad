// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/warden/internal/auth"
	"github.com/holomush/warden/internal/auth/postgres"
	"github.com/holomush/warden/pkg/errutil"
)

var resetCols = []string{"id", "principal_id", "token_hash", "expires_at", "created_at"}

func sampleReset(t *testing.T) *auth.PasswordReset {
	t.Helper()
	r, err := auth.NewPasswordReset(ulid.Make(), auth.HashResetToken("plain"), time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return r
}

func TestResetRepository_CreateReplacesOutstanding(t *testing.T) {
	mock := newMock(t)
	r := sampleReset(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM password_resets WHERE principal_id = \$1`).
		WithArgs(r.PrincipalID.String()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO password_resets`).
		WithArgs(r.ID.String(), r.PrincipalID.String(), r.TokenHash, r.ExpiresAt, r.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, postgres.NewResetRepository(mock).Create(context.Background(), r))
}

func TestResetRepository_CreateRollsBackOnInsertFailure(t *testing.T) {
	mock := newMock(t)
	r := sampleReset(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM password_resets`).
		WithArgs(r.PrincipalID.String()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO password_resets`).
		WithArgs(r.ID.String(), r.PrincipalID.String(), r.TokenHash, r.ExpiresAt, r.CreatedAt).
		WillReturnError(errors.New("foreign key violation"))
	mock.ExpectRollback()

	err := postgres.NewResetRepository(mock).Create(context.Background(), r)
	errutil.AssertErrorCode(t, err, "RESET_CREATE_FAILED")
	errutil.AssertErrorContext(t, err, "operation", "insert password_reset")
}

func TestResetRepository_GetByTokenHash(t *testing.T) {
	r := sampleReset(t)

	t.Run("found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM password_resets\s+WHERE token_hash = \$1`).
			WithArgs(r.TokenHash).
			WillReturnRows(pgxmock.NewRows(resetCols).
				AddRow(r.ID.String(), r.PrincipalID.String(), r.TokenHash, r.ExpiresAt, r.CreatedAt))

		got, err := postgres.NewResetRepository(mock).GetByTokenHash(context.Background(), r.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, r, got)
	})

	t.Run("missing", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM password_resets`).
			WithArgs("nope").
			WillReturnRows(pgxmock.NewRows(resetCols))

		_, err := postgres.NewResetRepository(mock).GetByTokenHash(context.Background(), "nope")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestResetRepository_Redeem(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	principalID := ulid.Make()

	t.Run("consumes token and sets password", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`DELETE FROM password_resets\s+WHERE token_hash = \$1 AND expires_at >= \$2\s+RETURNING principal_id`).
			WithArgs("hash", now).
			WillReturnRows(pgxmock.NewRows([]string{"principal_id"}).AddRow(principalID.String()))
		mock.ExpectExec(`UPDATE principals SET password_hash = \$2`).
			WithArgs(principalID.String(), "new-hash", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		got, err := postgres.NewResetRepository(mock).Redeem(context.Background(), "hash", "new-hash", now)
		require.NoError(t, err)
		assert.Equal(t, principalID, got)
	})

	t.Run("unknown or expired token writes nothing", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`DELETE FROM password_resets`).
			WithArgs("hash", now).
			WillReturnRows(pgxmock.NewRows([]string{"principal_id"}))
		mock.ExpectRollback()

		_, err := postgres.NewResetRepository(mock).Redeem(context.Background(), "hash", "new-hash", now)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("principal vanished", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`DELETE FROM password_resets`).
			WithArgs("hash", now).
			WillReturnRows(pgxmock.NewRows([]string{"principal_id"}).AddRow(principalID.String()))
		mock.ExpectExec(`UPDATE principals`).
			WithArgs(principalID.String(), "new-hash", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		_, err := postgres.NewResetRepository(mock).Redeem(context.Background(), "hash", "new-hash", now)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("update failure rolls back the consume", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`DELETE FROM password_resets`).
			WithArgs("hash", now).
			WillReturnRows(pgxmock.NewRows([]string{"principal_id"}).AddRow(principalID.String()))
		mock.ExpectExec(`UPDATE principals`).
			WithArgs(principalID.String(), "new-hash", now).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := postgres.NewResetRepository(mock).Redeem(context.Background(), "hash", "new-hash", now)
		errutil.AssertErrorCode(t, err, "RESET_REDEEM_FAILED")
		assert.NotErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("begin failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		_, err := postgres.NewResetRepository(mock).Redeem(context.Background(), "hash", "new-hash", now)
		errutil.AssertErrorCode(t, err, "RESET_REDEEM_FAILED")
	})
}

func TestResetRepository_DeleteExpired(t *testing.T) {
	now := time.Now()

	mock := newMock(t)
	mock.ExpectExec(`DELETE FROM password_resets WHERE expires_at < \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := postgres.NewResetRepository(mock).DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
