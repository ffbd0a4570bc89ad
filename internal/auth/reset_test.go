// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/warden/internal/auth"
	"github.com/holomush/warden/pkg/errutil"
)

func TestGenerateResetToken(t *testing.T) {
	t.Run("generates 256-bit hex token", func(t *testing.T) {
		token, hash, err := auth.GenerateResetToken()
		require.NoError(t, err)
		assert.Len(t, token, 64)
		assert.Len(t, hash, 64)
		assert.NotEqual(t, token, hash)
		assert.Equal(t, auth.HashResetToken(token), hash)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		token1, _, err := auth.GenerateResetToken()
		require.NoError(t, err)
		token2, _, err := auth.GenerateResetToken()
		require.NoError(t, err)
		assert.NotEqual(t, token1, token2)
	})
}

func TestVerifyResetToken(t *testing.T) {
	token, hash, err := auth.GenerateResetToken()
	require.NoError(t, err)

	tampered := []byte(token)
	tampered[0], tampered[1] = tampered[1], tampered[0]
	if string(tampered) == token {
		tampered[0] ^= 1
	}

	tests := []struct {
		name  string
		token string
		hash  string
		want  bool
	}{
		{"correct token", token, hash, true},
		{"wrong token", "wrongtoken", hash, false},
		{"empty token", "", hash, false},
		{"empty hash", token, "", false},
		{"tampered token", string(tampered), hash, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.VerifyResetToken(tt.token, tt.hash))
		})
	}
}

func TestNewPasswordReset(t *testing.T) {
	expires := time.Now().Add(auth.ResetTokenExpiry)

	t.Run("valid", func(t *testing.T) {
		pid := ulid.Make()
		r, err := auth.NewPasswordReset(pid, "hash", expires)
		require.NoError(t, err)
		assert.Equal(t, pid, r.PrincipalID)
		assert.NotZero(t, r.ID)
	})

	t.Run("zero principal", func(t *testing.T) {
		_, err := auth.NewPasswordReset(ulid.ULID{}, "hash", expires)
		errutil.AssertErrorCode(t, err, "RESET_INVALID_PRINCIPAL")
	})

	t.Run("empty hash", func(t *testing.T) {
		_, err := auth.NewPasswordReset(ulid.Make(), "", expires)
		errutil.AssertErrorCode(t, err, "RESET_INVALID_HASH")
	})

	t.Run("zero expiry", func(t *testing.T) {
		_, err := auth.NewPasswordReset(ulid.Make(), "hash", time.Time{})
		errutil.AssertErrorCode(t, err, "RESET_INVALID_EXPIRY")
	})
}

func TestPasswordReset_IsExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reset := &auth.PasswordReset{ExpiresAt: now}

	assert.False(t, reset.IsExpiredAt(now.Add(-time.Second)))
	assert.False(t, reset.IsExpiredAt(now), "expiry instant itself is still valid")
	assert.True(t, reset.IsExpiredAt(now.Add(time.Nanosecond)))
}

func TestResetTokenConstants(t *testing.T) {
	assert.Equal(t, 32, auth.ResetTokenBytes)
	assert.Equal(t, time.Hour, auth.ResetTokenExpiry)
}
