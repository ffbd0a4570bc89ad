// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres provides PostgreSQL implementations of auth repositories.
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

const principalColumns = `id, username, email, password_hash, roles, permissions,
		       active, email_verified, created_at, updated_at`

// PrincipalRepository implements auth.PrincipalRepository using PostgreSQL.
type PrincipalRepository struct {
	db  store.DB
	now func() time.Time
}

// NewPrincipalRepository creates a new PrincipalRepository.
func NewPrincipalRepository(db store.DB) *PrincipalRepository {
	return &PrincipalRepository{db: db, now: time.Now}
}

// Create stores a new principal. A username or email collision, compared
// case-insensitively by unique indexes, yields auth.ErrExists.
func (r *PrincipalRepository) Create(ctx context.Context, p *auth.Principal) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		p.ID.String(),
		p.Username,
		p.Email,
		p.PasswordHash,
		nonNil(p.Roles),
		nonNil(p.Permissions),
		p.Active,
		p.EmailVerified,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if store.IsUniqueViolation(err) {
		return oops.Code(auth.CodePrincipalExists).
			With("username", p.Username).
			Wrap(auth.ErrExists)
	}
	if err != nil {
		return oops.Code("PRINCIPAL_CREATE_FAILED").
			With("operation", "insert principal").
			With("username", p.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a principal by ID.
func (r *PrincipalRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Principal, error) {
	return r.getOne(ctx, "id", id.String(), `SELECT `+principalColumns+` FROM principals WHERE id = $1`)
}

// GetByUsername retrieves a principal by username (case-insensitive).
func (r *PrincipalRepository) GetByUsername(ctx context.Context, username string) (*auth.Principal, error) {
	return r.getOne(ctx, "username", username,
		`SELECT `+principalColumns+` FROM principals WHERE LOWER(username) = LOWER($1)`)
}

// GetByEmail retrieves a principal by email (case-insensitive).
func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	return r.getOne(ctx, "email", email,
		`SELECT `+principalColumns+` FROM principals WHERE LOWER(email) = LOWER($1)`)
}

func (r *PrincipalRepository) getOne(ctx context.Context, key, value, query string) (*auth.Principal, error) {
	p, err := scanPrincipal(r.db.QueryRow(ctx, query, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodePrincipalNotFound).With(key, value).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PRINCIPAL_GET_FAILED").
			With("operation", "get principal by "+key).
			With(key, value).
			Wrap(err)
	}
	return p, nil
}

// UpdatePassword replaces the password hash.
func (r *PrincipalRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return r.update(ctx, id, "update password",
		`UPDATE principals SET password_hash = $2, updated_at = $3 WHERE id = $1`, passwordHash)
}

// UpdateRoles replaces the role set.
func (r *PrincipalRepository) UpdateRoles(ctx context.Context, id ulid.ULID, roles []string) error {
	return r.update(ctx, id, "update roles",
		`UPDATE principals SET roles = $2, updated_at = $3 WHERE id = $1`, nonNil(roles))
}

// UpdatePermissions replaces the direct permission grants.
func (r *PrincipalRepository) UpdatePermissions(ctx context.Context, id ulid.ULID, permissions []string) error {
	return r.update(ctx, id, "update permissions",
		`UPDATE principals SET permissions = $2, updated_at = $3 WHERE id = $1`, nonNil(permissions))
}

// UpdateStatus sets the active and email-verified flags.
func (r *PrincipalRepository) UpdateStatus(ctx context.Context, id ulid.ULID, active, emailVerified bool) error {
	result, err := r.db.Exec(ctx, `
		UPDATE principals SET active = $2, email_verified = $3, updated_at = $4
		WHERE id = $1
	`, id.String(), active, emailVerified, r.now())
	return updateResult(id, "update status", result.RowsAffected(), err)
}

func (r *PrincipalRepository) update(ctx context.Context, id ulid.ULID, op, query string, value any) error {
	result, err := r.db.Exec(ctx, query, id.String(), value, r.now())
	return updateResult(id, op, result.RowsAffected(), err)
}

func updateResult(id ulid.ULID, op string, affected int64, err error) error {
	if err != nil {
		return oops.Code("PRINCIPAL_UPDATE_FAILED").
			With("operation", op).
			With("id", id.String()).
			Wrap(err)
	}
	if affected == 0 {
		return oops.Code(auth.CodePrincipalNotFound).
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanPrincipal scans a single row. pgx.ErrNoRows is returned unwrapped.
func scanPrincipal(row pgx.Row) (*auth.Principal, error) {
	var (
		idStr string
		p     auth.Principal
	)
	err := row.Scan(
		&idStr,
		&p.Username,
		&p.Email,
		&p.PasswordHash,
		&p.Roles,
		&p.Permissions,
		&p.Active,
		&p.EmailVerified,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with lookup context
	}

	p.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("PRINCIPAL_INVALID_ID").With("id", idStr).Wrap(err)
	}
	p.Roles = nonNil(p.Roles)
	p.Permissions = nonNil(p.Permissions)
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ auth.PrincipalRepository = (*PrincipalRepository)(nil)
