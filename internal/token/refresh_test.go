// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package token_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/warden/internal/token"
)

func TestIssueRefreshToken(t *testing.T) {
	iss := newHS256(t, newClock())
	pid := ulid.Make()

	a, err := iss.IssueRefreshToken(pid)
	require.NoError(t, err)
	b, err := iss.IssueRefreshToken(pid)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, iss.VerifyRefreshTokenFormat(a))

	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, token.RefreshTokenBytes, "refresh tokens carry 256 bits of entropy")
	assert.NotContains(t, a, pid.String(), "refresh tokens embed no principal data")
}

func TestValidRefreshTokenFormat(t *testing.T) {
	good, err := token.GenerateRefreshToken(ulid.Make())
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"generated", good, true},
		{"empty", "", false},
		{"too short", good[:len(good)-1], false},
		{"too long", good + "A", false},
		{"padded std alphabet", base64.StdEncoding.EncodeToString(make([]byte, 32)), false},
		{"invalid characters", strings.Repeat("!", len(good)), false},
		{"jwt shaped", "a.b.c", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, token.ValidRefreshTokenFormat(tt.token))
		})
	}
}

func TestHashRefreshToken(t *testing.T) {
	tok, err := token.GenerateRefreshToken(ulid.Make())
	require.NoError(t, err)

	hash := token.HashRefreshToken(tok)
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, token.HashRefreshToken(tok))
	assert.NotContains(t, hash, tok)

	assert.True(t, token.RefreshTokenMatches(tok, hash))
	assert.False(t, token.RefreshTokenMatches(tok+"x", hash))
	assert.False(t, token.RefreshTokenMatches(tok, ""))
}
