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

	"github.com/holomush/warden/internal/auth"
	"github.com/holomush/warden/internal/auth/postgres"
	"github.com/holomush/warden/pkg/errutil"
)

var principalCols = []string{
	"id", "username", "email", "password_hash", "roles", "permissions",
	"active", "email_verified", "created_at", "updated_at",
}

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

func samplePrincipal() *auth.Principal {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &auth.Principal{
		ID:            ulid.Make(),
		Username:      "ada",
		Email:         "ada@example.com",
		PasswordHash:  "$argon2id$hash",
		Roles:         []string{"user"},
		Permissions:   []string{"read:archive"},
		Active:        true,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func principalRow(p *auth.Principal) *pgxmock.Rows {
	return pgxmock.NewRows(principalCols).AddRow(
		p.ID.String(), p.Username, p.Email, p.PasswordHash, p.Roles, p.Permissions,
		p.Active, p.EmailVerified, p.CreatedAt, p.UpdatedAt,
	)
}

func TestPrincipalRepository_Create(t *testing.T) {
	p := samplePrincipal()

	tests := []struct {
		name    string
		execErr error
		code    string
		isErr   error
	}{
		{name: "inserts"},
		{
			name:    "unique violation",
			execErr: &pgconn.PgError{Code: pgerrcode.UniqueViolation},
			code:    auth.CodePrincipalExists,
			isErr:   auth.ErrExists,
		},
		{
			name:    "database error",
			execErr: errors.New("connection refused"),
			code:    "PRINCIPAL_CREATE_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			exp := mock.ExpectExec(`INSERT INTO principals`).
				WithArgs(p.ID.String(), "ada", "ada@example.com", p.PasswordHash,
					[]string{"user"}, []string{"read:archive"}, true, true, p.CreatedAt, p.UpdatedAt)
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}

			err := postgres.NewPrincipalRepository(mock).Create(context.Background(), p)
			if tt.code == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, tt.code)
			if tt.isErr != nil {
				assert.ErrorIs(t, err, tt.isErr)
			}
		})
	}
}

func TestPrincipalRepository_CreateWritesEmptyArraysForNil(t *testing.T) {
	mock := newMock(t)
	p := samplePrincipal()
	p.Roles = nil
	p.Permissions = nil

	mock.ExpectExec(`INSERT INTO principals`).
		WithArgs(p.ID.String(), "ada", "ada@example.com", p.PasswordHash,
			[]string{}, []string{}, true, true, p.CreatedAt, p.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, postgres.NewPrincipalRepository(mock).Create(context.Background(), p))
}

func TestPrincipalRepository_Lookups(t *testing.T) {
	p := samplePrincipal()

	tests := []struct {
		name   string
		query  string
		arg    string
		lookup func(*postgres.PrincipalRepository) (*auth.Principal, error)
	}{
		{
			name:   "by id",
			query:  `FROM principals WHERE id = \$1`,
			arg:    p.ID.String(),
			lookup: func(r *postgres.PrincipalRepository) (*auth.Principal, error) { return r.GetByID(context.Background(), p.ID) },
		},
		{
			name:   "by username",
			query:  `WHERE LOWER\(username\) = LOWER\(\$1\)`,
			arg:    "ADA",
			lookup: func(r *postgres.PrincipalRepository) (*auth.Principal, error) { return r.GetByUsername(context.Background(), "ADA") },
		},
		{
			name:  "by email",
			query: `WHERE LOWER\(email\) = LOWER\(\$1\)`,
			arg:   "Ada@Example.com",
			lookup: func(r *postgres.PrincipalRepository) (*auth.Principal, error) {
				return r.GetByEmail(context.Background(), "Ada@Example.com")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name+" found", func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectQuery(tt.query).WithArgs(tt.arg).WillReturnRows(principalRow(p))

			got, err := tt.lookup(postgres.NewPrincipalRepository(mock))
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})

		t.Run(tt.name+" missing", func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectQuery(tt.query).WithArgs(tt.arg).WillReturnRows(pgxmock.NewRows(principalCols))

			got, err := tt.lookup(postgres.NewPrincipalRepository(mock))
			assert.Nil(t, got)
			assert.ErrorIs(t, err, auth.ErrNotFound)
			errutil.AssertErrorCode(t, err, auth.CodePrincipalNotFound)
		})

		t.Run(tt.name+" database error", func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectQuery(tt.query).WithArgs(tt.arg).WillReturnError(errors.New("connection reset"))

			_, err := tt.lookup(postgres.NewPrincipalRepository(mock))
			errutil.AssertErrorCode(t, err, "PRINCIPAL_GET_FAILED")
			assert.NotErrorIs(t, err, auth.ErrNotFound)
		})
	}
}

func TestPrincipalRepository_CorruptID(t *testing.T) {
	mock := newMock(t)
	p := samplePrincipal()
	rows := pgxmock.NewRows(principalCols).AddRow(
		"not-a-ulid", p.Username, p.Email, p.PasswordHash, p.Roles, p.Permissions,
		p.Active, p.EmailVerified, p.CreatedAt, p.UpdatedAt,
	)
	mock.ExpectQuery(`FROM principals`).WithArgs("ada").WillReturnRows(rows)

	_, err := postgres.NewPrincipalRepository(mock).GetByUsername(context.Background(), "ada")
	errutil.AssertErrorCode(t, err, "PRINCIPAL_INVALID_ID")
}

func TestPrincipalRepository_Updates(t *testing.T) {
	id := ulid.Make()

	tests := []struct {
		name   string
		query  string
		value  any
		update func(*postgres.PrincipalRepository) error
	}{
		{
			name:   "password",
			query:  `UPDATE principals SET password_hash = \$2`,
			value:  "new-hash",
			update: func(r *postgres.PrincipalRepository) error { return r.UpdatePassword(context.Background(), id, "new-hash") },
		},
		{
			name:   "roles",
			query:  `UPDATE principals SET roles = \$2`,
			value:  []string{"admin", "user"},
			update: func(r *postgres.PrincipalRepository) error { return r.UpdateRoles(context.Background(), id, []string{"admin", "user"}) },
		},
		{
			name:  "permissions",
			query: `UPDATE principals SET permissions = \$2`,
			value: []string{},
			update: func(r *postgres.PrincipalRepository) error {
				return r.UpdatePermissions(context.Background(), id, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectExec(tt.query).WithArgs(id.String(), tt.value, pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			require.NoError(t, tt.update(postgres.NewPrincipalRepository(mock)))
		})

		t.Run(tt.name+" missing", func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectExec(tt.query).WithArgs(id.String(), tt.value, pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("UPDATE", 0))
			err := tt.update(postgres.NewPrincipalRepository(mock))
			assert.ErrorIs(t, err, auth.ErrNotFound)
		})

		t.Run(tt.name+" database error", func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectExec(tt.query).WithArgs(id.String(), tt.value, pgxmock.AnyArg()).
				WillReturnError(errors.New("deadlock detected"))
			err := tt.update(postgres.NewPrincipalRepository(mock))
			errutil.AssertErrorCode(t, err, "PRINCIPAL_UPDATE_FAILED")
			errutil.AssertErrorContext(t, err, "operation", "update "+tt.name)
		})
	}
}

func TestPrincipalRepository_UpdateStatus(t *testing.T) {
	mock := newMock(t)
	id := ulid.Make()
	mock.ExpectExec(`UPDATE principals SET active = \$2, email_verified = \$3`).
		WithArgs(id.String(), false, true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, postgres.NewPrincipalRepository(mock).UpdateStatus(context.Background(), id, false, true))
}
