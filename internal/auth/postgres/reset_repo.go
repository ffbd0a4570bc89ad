// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/warden/internal/auth"
	"github.com/holomush/warden/internal/store"
)

// ResetRepository implements auth.ResetRepository using PostgreSQL.
type ResetRepository struct {
	db store.DB
}

// NewResetRepository creates a new ResetRepository.
func NewResetRepository(db store.DB) *ResetRepository {
	return &ResetRepository{db: db}
}

// rollback is deferred by transactional methods; it is a no-op after a
// successful commit.
func rollback(ctx context.Context, tx pgx.Tx, err *error) {
	if *err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // the original error wins
	}
}

// Create stores reset and deletes every other reset of the same principal
// in one transaction.
func (r *ResetRepository) Create(ctx context.Context, reset *auth.PasswordReset) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").With("operation", "begin").Wrap(err)
	}
	defer rollback(ctx, tx, &err)

	if _, err = tx.Exec(ctx, `DELETE FROM password_resets WHERE principal_id = $1`,
		reset.PrincipalID.String()); err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "delete outstanding resets").
			With("principal_id", reset.PrincipalID.String()).
			Wrap(err)
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO password_resets (id, principal_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, reset.ID.String(), reset.PrincipalID.String(), reset.TokenHash, reset.ExpiresAt, reset.CreatedAt); err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert password_reset").
			With("principal_id", reset.PrincipalID.String()).
			Wrap(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return oops.Code("RESET_CREATE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a reset by its token hash, expired or not.
func (r *ResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, principal_id, token_hash, expires_at, created_at
		FROM password_resets
		WHERE token_hash = $1
	`, tokenHash)

	reset, err := scanReset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_FAILED").With("operation", "get reset by token hash").Wrap(err)
	}
	return reset, nil
}

// Redeem deletes the unexpired reset for tokenHash and writes passwordHash
// to its principal in one transaction. Two concurrent redemptions of the
// same token race on the DELETE; only one sees the row.
func (r *ResetRepository) Redeem(ctx context.Context, tokenHash, passwordHash string, now time.Time) (_ ulid.ULID, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return ulid.ULID{}, oops.Code("RESET_REDEEM_FAILED").With("operation", "begin").Wrap(err)
	}
	defer rollback(ctx, tx, &err)

	var principalStr string
	err = tx.QueryRow(ctx, `
		DELETE FROM password_resets
		WHERE token_hash = $1 AND expires_at >= $2
		RETURNING principal_id
	`, tokenHash, now).Scan(&principalStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return ulid.ULID{}, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return ulid.ULID{}, oops.Code("RESET_REDEEM_FAILED").With("operation", "consume reset").Wrap(err)
	}

	principalID, err := ulid.Parse(principalStr)
	if err != nil {
		return ulid.ULID{}, oops.Code("RESET_INVALID_PRINCIPAL_ID").With("principal_id", principalStr).Wrap(err)
	}

	result, err := tx.Exec(ctx, `
		UPDATE principals SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, principalStr, passwordHash, now)
	if err != nil {
		return ulid.ULID{}, oops.Code("RESET_REDEEM_FAILED").
			With("operation", "update password").
			With("principal_id", principalStr).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		err = oops.Code(auth.CodePrincipalNotFound).With("principal_id", principalStr).Wrap(auth.ErrNotFound)
		return ulid.ULID{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return ulid.ULID{}, oops.Code("RESET_REDEEM_FAILED").With("operation", "commit").Wrap(err)
	}
	return principalID, nil
}

// DeleteExpired removes resets that expired before now.
func (r *ResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM password_resets WHERE expires_at < $1`, now)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired resets").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

func scanReset(row pgx.Row) (*auth.PasswordReset, error) {
	var (
		idStr, principalStr string
		reset               auth.PasswordReset
	)
	if err := row.Scan(&idStr, &principalStr, &reset.TokenHash, &reset.ExpiresAt, &reset.CreatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with lookup context
	}

	var err error
	if reset.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("RESET_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if reset.PrincipalID, err = ulid.Parse(principalStr); err != nil {
		return nil, oops.Code("RESET_INVALID_PRINCIPAL_ID").With("principal_id", principalStr).Wrap(err)
	}
	return &reset, nil
}

var _ auth.ResetRepository = (*ResetRepository)(nil)
