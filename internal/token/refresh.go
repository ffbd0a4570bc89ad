// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RefreshTokenBytes is the entropy of a refresh token (256 bits).
const RefreshTokenBytes = 32

// refreshTokenLen is the encoded length of RefreshTokenBytes in unpadded base64url.
var refreshTokenLen = base64.RawURLEncoding.EncodedLen(RefreshTokenBytes)

// IssueRefreshToken returns an opaque random token. It embeds nothing about
// principalID, which is used only to annotate failures.
func (i *Issuer) IssueRefreshToken(principalID ulid.ULID) (string, error) {
	return GenerateRefreshToken(principalID)
}

// VerifyRefreshTokenFormat is a structural check only. Whether the token is
// live is decided by the session registry.
func (i *Issuer) VerifyRefreshTokenFormat(token string) bool {
	return ValidRefreshTokenFormat(token)
}

// GenerateRefreshToken returns RefreshTokenBytes of crypto/rand output,
// base64url encoded without padding.
func GenerateRefreshToken(principalID ulid.ULID) (string, error) {
	b := make([]byte, RefreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("TOKEN_REFRESH_GENERATE_FAILED").
			With("principal_id", principalID.String()).
			With("requested_bytes", RefreshTokenBytes).
			Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidRefreshTokenFormat reports whether token has the length and alphabet
// of a generated refresh token.
func ValidRefreshTokenFormat(token string) bool {
	if len(token) != refreshTokenLen {
		return false
	}
	b, err := base64.RawURLEncoding.Strict().DecodeString(token)
	return err == nil && len(b) == RefreshTokenBytes
}

// HashRefreshToken returns the SHA-256 hex digest stored in place of the
// raw refresh token.
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RefreshTokenMatches compares token against a stored hash in constant time.
func RefreshTokenMatches(token, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashRefreshToken(token)), []byte(storedHash)) == 1
}
