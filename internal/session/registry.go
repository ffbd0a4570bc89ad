// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/warden/internal/token"
	"github.com/holomush/warden/pkg/errutil"
)

// Default registry configuration values.
const (
	DefaultSessionTTL        = 7 * 24 * time.Hour
	DefaultMaxActiveSessions = 5
)

// Option configures a Registry.
type Option func(*Registry)

// WithSessionTTL sets how long a new session lives.
func WithSessionTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithMaxActiveSessions caps concurrently active sessions per principal.
// Creating one more invalidates the oldest. Zero disables the cap.
func WithMaxActiveSessions(n int) Option {
	return func(r *Registry) {
		r.maxActive = max(n, 0)
	}
}

// WithIdleTimeout rejects sessions with no activity for d. Zero disables.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.idleTimeout = max(d, 0)
	}
}

// WithRetention keeps dead sessions for d before Cleanup purges them.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) {
		r.retention = max(d, 0)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// Registry is the authority on which refresh tokens and sessions are live.
//
// Operations on one session are linearizable through the Store. Bulk
// operations walk a principal's sessions one at a time, so a session
// created by a login racing a bulk invalidation may survive it.
type Registry struct {
	store       Store
	ttl         time.Duration
	maxActive   int
	idleTimeout time.Duration
	retention   time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewRegistry creates a Registry over store.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		ttl:       DefaultSessionTTL,
		maxActive: DefaultMaxActiveSessions,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL returns the lifetime given to new sessions.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// CreateSession records a new session for principalID bound to
// refreshToken. Multiple sessions per principal are normal. A live session
// with the same non-empty DeviceID is replaced, and the oldest sessions are
// invalidated when the per-principal cap is exceeded.
func (r *Registry) CreateSession(ctx context.Context, principalID ulid.ULID, refreshToken string, device DeviceInfo) (*Session, error) {
	if principalID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_PRINCIPAL").Errorf("principal ID cannot be zero")
	}
	if refreshToken == "" {
		return nil, oops.Code("SESSION_INVALID_TOKEN").Errorf("refresh token cannot be empty")
	}

	now := r.now()
	s := &Session{
		ID:             ulid.Make(),
		PrincipalID:    principalID,
		RefreshHash:    token.HashRefreshToken(refreshToken),
		Device:         device,
		CreatedAt:      now,
		ExpiresAt:      now.Add(r.ttl),
		LastActivityAt: now,
		Valid:          true,
	}

	if device.DeviceID != "" {
		r.replaceDevice(ctx, principalID, device.DeviceID, now)
	}

	if err := r.store.Create(ctx, s); err != nil {
		return nil, oops.Code(CodeStoreFailed).
			With("operation", "create").
			With("principal_id", principalID.String()).
			Wrap(err)
	}
	SessionsCreated.Inc()

	if r.maxActive > 0 {
		r.enforceLimit(ctx, principalID, s.ID, now)
	}

	r.logger.DebugContext(ctx, "session created",
		"session_id", s.ID.String(),
		"principal_id", principalID.String(),
		"device_id", device.DeviceID,
	)
	return s.Clone(), nil
}

// replaceDevice invalidates live sessions already bound to deviceID.
func (r *Registry) replaceDevice(ctx context.Context, principalID ulid.ULID, deviceID string, now time.Time) {
	sessions, err := r.store.ListByPrincipal(ctx, principalID)
	if err != nil {
		errutil.LogErrorContext(ctx, r.logger, "device replacement lookup failed", err, "principal_id", principalID.String())
		return
	}
	for _, s := range sessions {
		if s.Device.DeviceID == deviceID && s.ActiveAt(now) {
			r.invalidateQuietly(ctx, s.ID, ReasonDeviceReplaced, now)
		}
	}
}

// enforceLimit invalidates the oldest active sessions beyond maxActive,
// never the one just created.
func (r *Registry) enforceLimit(ctx context.Context, principalID, keep ulid.ULID, now time.Time) {
	sessions, err := r.store.ListByPrincipal(ctx, principalID)
	if err != nil {
		errutil.LogErrorContext(ctx, r.logger, "session limit lookup failed", err, "principal_id", principalID.String())
		return
	}
	active := r.filterActive(sessions, now)
	excess := len(active) - r.maxActive
	for _, s := range active {
		if excess <= 0 {
			break
		}
		if s.ID == keep {
			continue
		}
		r.invalidateQuietly(ctx, s.ID, ReasonSessionLimit, now)
		excess--
	}
}

func (r *Registry) invalidateQuietly(ctx context.Context, id ulid.ULID, reason string, now time.Time) {
	changed, err := r.store.Invalidate(ctx, id, reason, now)
	if err != nil && !errors.Is(err, ErrNotFound) {
		errutil.LogErrorContext(ctx, r.logger, "session invalidation failed", err,
			"session_id", id.String(), "reason", reason)
		return
	}
	if changed {
		recordInvalidated(reason, 1)
	}
}

// GetSessionByRefreshToken returns the live session bound to refreshToken.
//
// A token that was never issued yields SESSION_NOT_FOUND. A token for an
// invalidated, expired, or idle session yields SESSION_INVALIDATED,
// SESSION_EXPIRED, or SESSION_IDLE_TIMEOUT. A token that was rotated out
// yields SESSION_TOKEN_REUSED and invalidates the whole session, since
// either the client or an attacker holds a stale copy.
func (r *Registry) GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	hash := token.HashRefreshToken(refreshToken)
	s, err := r.store.GetByRefreshHash(ctx, hash)
	if err != nil {
		return nil, r.lookupError(err, "get by refresh token")
	}

	if !token.RefreshTokenMatches(refreshToken, s.RefreshHash) {
		return nil, r.handleReuse(ctx, s)
	}
	return r.checkLive(ctx, s)
}

// GetSession returns the live session with id.
func (r *Registry) GetSession(ctx context.Context, id ulid.ULID) (*Session, error) {
	s, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, r.lookupError(err, "get")
	}
	return r.checkLive(ctx, s)
}

// FindSession returns the stored session with id in whatever state it is
// in. Callers that need a live session use GetSession.
func (r *Registry) FindSession(ctx context.Context, id ulid.ULID) (*Session, error) {
	s, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, r.lookupError(err, "find")
	}
	return s, nil
}

func (r *Registry) lookupError(err error, op string) error {
	if errors.Is(err, ErrNotFound) {
		return oops.Code(CodeNotFound).With("operation", op).Wrap(err)
	}
	return oops.Code(CodeStoreFailed).With("operation", op).Wrap(err)
}

func (r *Registry) checkLive(ctx context.Context, s *Session) (*Session, error) {
	now := r.now()
	switch {
	case !s.Valid:
		return nil, oops.Code(CodeInvalidated).
			With("session_id", s.ID.String()).
			With("reason", s.InvalidReason).
			Errorf("session has been invalidated")
	case s.IsExpiredAt(now):
		return nil, oops.Code(CodeExpired).
			With("session_id", s.ID.String()).
			With("expired_at", s.ExpiresAt).
			Errorf("session has expired")
	case r.idleTimeout > 0 && now.Sub(s.LastActivityAt) > r.idleTimeout:
		r.invalidateQuietly(ctx, s.ID, ReasonIdleTimeout, now)
		return nil, oops.Code(CodeIdle).
			With("session_id", s.ID.String()).
			With("last_activity_at", s.LastActivityAt).
			Errorf("session idle timeout exceeded")
	}
	return s, nil
}

func (r *Registry) handleReuse(ctx context.Context, s *Session) error {
	r.logger.WarnContext(ctx, "rotated refresh token presented again, revoking session",
		"session_id", s.ID.String(),
		"principal_id", s.PrincipalID.String(),
	)
	r.invalidateQuietly(ctx, s.ID, ReasonRefreshReuse, r.now())
	return oops.Code(CodeTokenReused).
		With("session_id", s.ID.String()).
		Errorf("refresh token has already been used")
}

// RotateRefreshToken swaps the session's refresh token from oldToken to
// newToken in one atomic store step; the session id is preserved. If the
// old token is no longer current the session is treated as compromised.
func (r *Registry) RotateRefreshToken(ctx context.Context, sessionID ulid.ULID, oldToken, newToken string) (*Session, error) {
	if newToken == "" || newToken == oldToken {
		return nil, oops.Code("SESSION_INVALID_TOKEN").Errorf("new refresh token must be non-empty and differ from the old one")
	}

	now := r.now()
	s, err := r.store.Rotate(ctx, sessionID, token.HashRefreshToken(oldToken), token.HashRefreshToken(newToken), now)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, r.lookupError(err, "rotate")
	}

	// Lost a race or the session changed underneath; report why.
	current, getErr := r.store.Get(ctx, sessionID)
	if getErr != nil {
		return nil, r.lookupError(getErr, "rotate")
	}
	if current.Valid && !token.RefreshTokenMatches(oldToken, current.RefreshHash) {
		return nil, r.handleReuse(ctx, current)
	}
	if _, liveErr := r.checkLive(ctx, current); liveErr != nil {
		return nil, liveErr
	}
	return nil, oops.Code(CodeStoreFailed).With("session_id", sessionID.String()).Wrap(err)
}

// InvalidateSession invalidates the session with id. Invalidating an
// already-invalid session succeeds; an unknown id is SESSION_NOT_FOUND.
func (r *Registry) InvalidateSession(ctx context.Context, id ulid.ULID) error {
	return r.invalidate(ctx, id, ReasonRevoked)
}

// InvalidateSessionWithReason is InvalidateSession with an explicit reason.
func (r *Registry) InvalidateSessionWithReason(ctx context.Context, id ulid.ULID, reason string) error {
	return r.invalidate(ctx, id, reason)
}

func (r *Registry) invalidate(ctx context.Context, id ulid.ULID, reason string) error {
	changed, err := r.store.Invalidate(ctx, id, reason, r.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeNotFound).With("session_id", id.String()).Wrap(err)
		}
		return oops.Code(CodeStoreFailed).
			With("operation", "invalidate").
			With("session_id", id.String()).
			Wrap(err)
	}
	if changed {
		recordInvalidated(reason, 1)
	}
	return nil
}

// InvalidateSessionByRefreshToken invalidates the session refreshToken was
// issued to, with the same idempotency as InvalidateSession.
func (r *Registry) InvalidateSessionByRefreshToken(ctx context.Context, refreshToken string) error {
	return r.InvalidateSessionByRefreshTokenWithReason(ctx, refreshToken, ReasonLogout)
}

// InvalidateSessionByRefreshTokenWithReason is InvalidateSessionByRefreshToken
// with an explicit reason.
func (r *Registry) InvalidateSessionByRefreshTokenWithReason(ctx context.Context, refreshToken, reason string) error {
	s, err := r.store.GetByRefreshHash(ctx, token.HashRefreshToken(refreshToken))
	if err != nil {
		return r.lookupError(err, "invalidate by refresh token")
	}
	return r.invalidate(ctx, s.ID, reason)
}

// InvalidateAllSessionsForPrincipal invalidates every session of
// principalID and returns how many changed state.
func (r *Registry) InvalidateAllSessionsForPrincipal(ctx context.Context, principalID ulid.ULID, reason string) (int, error) {
	return r.invalidateAll(ctx, principalID, ulid.ULID{}, reason)
}

// InvalidateAllSessionsExcept invalidates every session of principalID
// other than keep and returns how many changed state.
func (r *Registry) InvalidateAllSessionsExcept(ctx context.Context, principalID, keep ulid.ULID, reason string) (int, error) {
	return r.invalidateAll(ctx, principalID, keep, reason)
}

func (r *Registry) invalidateAll(ctx context.Context, principalID, keep ulid.ULID, reason string) (int, error) {
	sessions, err := r.store.ListByPrincipal(ctx, principalID)
	if err != nil {
		return 0, oops.Code(CodeStoreFailed).
			With("operation", "list by principal").
			With("principal_id", principalID.String()).
			Wrap(err)
	}

	now := r.now()
	count := 0
	for _, s := range sessions {
		if s.ID == keep || !s.Valid {
			continue
		}
		changed, err := r.store.Invalidate(ctx, s.ID, reason, now)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			recordInvalidated(reason, count)
			return count, oops.Code(CodeStoreFailed).
				With("operation", "invalidate all").
				With("principal_id", principalID.String()).
				With("session_id", s.ID.String()).
				Wrap(err)
		}
		if changed {
			count++
		}
	}
	recordInvalidated(reason, count)

	r.logger.InfoContext(ctx, "sessions invalidated",
		"principal_id", principalID.String(),
		"count", count,
		"reason", reason,
	)
	return count, nil
}

// ListActiveSessions returns the principal's valid, unexpired, non-idle
// sessions ordered by creation time.
func (r *Registry) ListActiveSessions(ctx context.Context, principalID ulid.ULID) ([]*Session, error) {
	sessions, err := r.store.ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, oops.Code(CodeStoreFailed).
			With("operation", "list by principal").
			With("principal_id", principalID.String()).
			Wrap(err)
	}
	return r.filterActive(sessions, r.now()), nil
}

func (r *Registry) filterActive(sessions []*Session, now time.Time) []*Session {
	active := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if !s.ActiveAt(now) {
			continue
		}
		if r.idleTimeout > 0 && now.Sub(s.LastActivityAt) > r.idleTimeout {
			continue
		}
		active = append(active, s)
	}
	slices.SortFunc(active, func(a, b *Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return active
}

// ExtendSession pushes a live session's expiry to now+d.
func (r *Registry) ExtendSession(ctx context.Context, id ulid.ULID, d time.Duration) (*Session, error) {
	if d <= 0 {
		return nil, oops.Code("SESSION_INVALID_EXTENSION").With("duration", d).Errorf("extension must be positive")
	}
	if _, err := r.GetSession(ctx, id); err != nil {
		return nil, err
	}
	s, err := r.store.Extend(ctx, id, r.now().Add(d))
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, oops.Code(CodeInvalidated).With("session_id", id.String()).Errorf("session has been invalidated")
		}
		return nil, r.lookupError(err, "extend")
	}
	return s, nil
}

// Cleanup purges sessions that have been dead for longer than the
// retention period.
func (r *Registry) Cleanup(ctx context.Context) (int, error) {
	n, err := r.store.Purge(ctx, r.now().Add(-r.retention))
	if n > 0 {
		SessionsPurged.Add(float64(n))
	}
	if err != nil {
		return n, oops.Code(CodeStoreFailed).With("operation", "purge").Wrap(err)
	}
	return n, nil
}
