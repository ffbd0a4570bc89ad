// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package session tracks per-device sessions and the refresh tokens bound
// to them.
//
// A session is Active until invalidated; invalidation is terminal. Expiry
// is not a stored state: it is computed at lookup and treated exactly like
// invalidation. The registry never stores a raw refresh token, only its
// SHA-256 reference.
package session

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/oklog/ulid/v2"
)

// Error codes returned by Registry.
const (
	CodeNotFound    = "SESSION_NOT_FOUND"
	CodeInvalidated = "SESSION_INVALIDATED"
	CodeExpired     = "SESSION_EXPIRED"
	CodeIdle        = "SESSION_IDLE_TIMEOUT"
	CodeTokenReused = "SESSION_TOKEN_REUSED"
	CodeStoreFailed = "SESSION_STORE_FAILED"
)

// Invalidation reasons recorded on sessions and in metrics.
const (
	ReasonLogout         = "logout"
	ReasonLogoutAll      = "logout_all"
	ReasonLogoutOthers   = "logout_others"
	ReasonPasswordChange = "password_change"
	ReasonPasswordReset  = "password_reset"
	ReasonDeactivated    = "deactivated"
	ReasonDeviceReplaced = "device_replaced"
	ReasonSessionLimit   = "session_limit"
	ReasonRefreshReuse   = "refresh_reuse"
	ReasonIdleTimeout    = "idle_timeout"
	ReasonRevoked        = "revoked"
)

// Store sentinels.
var (
	// ErrNotFound is returned when no session matches the key.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned when a conditional update finds the session
	// in a different state than required.
	ErrConflict = errors.New("session state conflict")
)

// DeviceInfo describes the client bound to a session.
type DeviceInfo struct {
	Address   string            `json:"address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	DeviceID  string            `json:"device_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Session binds a refresh token reference to a principal and device.
type Session struct {
	ID             ulid.ULID
	PrincipalID    ulid.ULID
	RefreshHash    string
	Device         DeviceInfo
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
	Valid          bool
	InvalidatedAt  *time.Time
	InvalidReason  string
}

// IsExpiredAt reports whether the session is past its expiry at t.
// There is no skew allowance.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// ActiveAt reports whether the session is valid and unexpired at t.
func (s *Session) ActiveAt(t time.Time) bool {
	return s.Valid && !s.IsExpiredAt(t)
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Device.Metadata = maps.Clone(s.Device.Metadata)
	if s.InvalidatedAt != nil {
		at := *s.InvalidatedAt
		c.InvalidatedAt = &at
	}
	return &c
}

// Store persists sessions. Every method that touches a single session must
// be atomic with respect to other operations on that session. Methods
// return copies; callers may mutate them freely.
type Store interface {
	// Create stores a new session and indexes its refresh hash.
	Create(ctx context.Context, s *Session) error

	// Get returns the session with id, or ErrNotFound.
	Get(ctx context.Context, id ulid.ULID) (*Session, error)

	// GetByRefreshHash returns the session that hash was ever issued to.
	// Rotated-out hashes still resolve, so callers can detect replay by
	// comparing against Session.RefreshHash. Returns ErrNotFound if the
	// hash was never issued or the session was purged.
	GetByRefreshHash(ctx context.Context, hash string) (*Session, error)

	// ListByPrincipal returns every stored session of a principal,
	// including invalidated ones.
	ListByPrincipal(ctx context.Context, principalID ulid.ULID) ([]*Session, error)

	// Invalidate marks the session invalid. It reports whether the session
	// changed state; an already-invalid session returns (false, nil).
	Invalidate(ctx context.Context, id ulid.ULID, reason string, at time.Time) (bool, error)

	// Rotate replaces the refresh hash in one step, provided the session
	// is valid, unexpired at at, and currently bound to oldHash. Otherwise
	// it returns ErrConflict and changes nothing.
	Rotate(ctx context.Context, id ulid.ULID, oldHash, newHash string, at time.Time) (*Session, error)

	// Extend sets a new expiry on a valid session; ErrConflict otherwise.
	Extend(ctx context.Context, id ulid.ULID, expiresAt time.Time) (*Session, error)

	// Purge deletes sessions that expired, or were invalidated, before
	// cutoff, together with their refresh references.
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}
