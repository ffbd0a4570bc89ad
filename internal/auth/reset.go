// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes  = 32        // 32 bytes = 64 hex chars
	ResetTokenExpiry = time.Hour // 1 hour expiry
)

// PasswordReset is a single-use capability to set a principal's password.
// Only the SHA-256 of the token is stored; absence from the repository
// means the token was consumed or replaced.
type PasswordReset struct {
	ID          ulid.ULID
	PrincipalID ulid.ULID
	TokenHash   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// NewPasswordReset creates a validated PasswordReset.
func NewPasswordReset(principalID ulid.ULID, tokenHash string, expiresAt time.Time) (*PasswordReset, error) {
	if principalID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("RESET_INVALID_PRINCIPAL").Errorf("principal ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("RESET_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}
	return &PasswordReset{
		ID:          ulid.Make(),
		PrincipalID: principalID,
		TokenHash:   tokenHash,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}, nil
}

// IsExpiredAt reports whether the token is past its expiry at t.
// There is no skew allowance.
func (r *PasswordReset) IsExpiredAt(t time.Time) bool {
	return t.After(r.ExpiresAt)
}

// GenerateResetToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token goes to the principal; the hash is stored.
func GenerateResetToken() (token, hash string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").
			With("requested_bytes", ResetTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashResetToken(token), nil
}

// HashResetToken computes the SHA-256 hex digest of a reset token.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyResetToken checks if the plaintext token matches the stored hash
// in constant time.
func VerifyResetToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashResetToken(token)), []byte(hash)) == 1
}

// ResetRepository manages password reset persistence.
type ResetRepository interface {
	// Create stores a reset, replacing any outstanding resets for the
	// same principal.
	Create(ctx context.Context, reset *PasswordReset) error

	// GetByTokenHash retrieves a reset by token hash, expired or not.
	GetByTokenHash(ctx context.Context, tokenHash string) (*PasswordReset, error)

	// Redeem consumes the reset identified by tokenHash and sets the
	// owning principal's password hash in one atomic step. Returns
	// ErrNotFound if the token is unknown or expired at now; in that case
	// nothing is written.
	Redeem(ctx context.Context, tokenHash, passwordHash string, now time.Time) (ulid.ULID, error)

	// DeleteExpired removes resets that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
