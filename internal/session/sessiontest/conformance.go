// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sessiontest holds behavior tests every session.Store backend
// must pass.
package sessiontest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/warden/internal/session"
)

// Epoch is the reference time used by the suite. Database backends keep
// microsecond precision, so every timestamp is a whole microsecond.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewSession returns a valid session owned by principalID and bound to hash.
func NewSession(principalID ulid.ULID, hash string) *session.Session {
	return &session.Session{
		ID:          ulid.Make(),
		PrincipalID: principalID,
		RefreshHash: hash,
		Device: session.DeviceInfo{
			Address:   "192.0.2.10",
			UserAgent: "warden-test",
			DeviceID:  "device-1",
			Metadata:  map[string]string{"os": "linux"},
		},
		CreatedAt:      Epoch,
		ExpiresAt:      Epoch.Add(time.Hour),
		LastActivityAt: Epoch,
		Valid:          true,
	}
}

// uniqueHash keeps runs against a shared backend from colliding.
func uniqueHash(name string) string {
	return name + "-" + ulid.Make().String()
}

// RunStoreTests exercises store semantics against a fresh store per subtest.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) session.Store) {
	t.Run("create and get", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		s := NewSession(ulid.Make(), uniqueHash("h1"))

		require.NoError(t, store.Create(ctx, s))
		assert.ErrorIs(t, store.Create(ctx, s), session.ErrConflict)

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, s, got)

		byHash, err := store.GetByRefreshHash(ctx, s.RefreshHash)
		require.NoError(t, err)
		assert.Equal(t, s.ID, byHash.ID)

		_, err = store.Get(ctx, ulid.Make())
		assert.ErrorIs(t, err, session.ErrNotFound)
		_, err = store.GetByRefreshHash(ctx, uniqueHash("missing"))
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("invalidate is terminal and reports change once", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		s := NewSession(ulid.Make(), uniqueHash("h1"))
		require.NoError(t, store.Create(ctx, s))

		at := Epoch.Add(time.Minute)
		changed, err := store.Invalidate(ctx, s.ID, session.ReasonLogout, at)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = store.Invalidate(ctx, s.ID, session.ReasonRevoked, at.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.False(t, got.Valid)
		require.NotNil(t, got.InvalidatedAt)
		assert.Equal(t, at, *got.InvalidatedAt)
		assert.Equal(t, session.ReasonLogout, got.InvalidReason)

		_, err = store.Invalidate(ctx, ulid.Make(), session.ReasonLogout, at)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("rotate swaps hash and keeps the old one resolvable", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		oldHash, newHash := uniqueHash("old"), uniqueHash("new")
		s := NewSession(ulid.Make(), oldHash)
		require.NoError(t, store.Create(ctx, s))

		at := Epoch.Add(time.Minute)
		rotated, err := store.Rotate(ctx, s.ID, oldHash, newHash, at)
		require.NoError(t, err)
		assert.Equal(t, newHash, rotated.RefreshHash)
		assert.Equal(t, at, rotated.LastActivityAt)

		viaOld, err := store.GetByRefreshHash(ctx, oldHash)
		require.NoError(t, err)
		assert.Equal(t, s.ID, viaOld.ID)
		assert.Equal(t, newHash, viaOld.RefreshHash)

		_, err = store.Rotate(ctx, s.ID, oldHash, uniqueHash("again"), at)
		assert.ErrorIs(t, err, session.ErrConflict)
		_, err = store.Rotate(ctx, ulid.Make(), oldHash, uniqueHash("again"), at)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("rotate refuses expired and invalid sessions", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		expired := NewSession(ulid.Make(), uniqueHash("exp"))
		require.NoError(t, store.Create(ctx, expired))
		_, err := store.Rotate(ctx, expired.ID, expired.RefreshHash, uniqueHash("n"), expired.ExpiresAt.Add(time.Microsecond))
		assert.ErrorIs(t, err, session.ErrConflict)

		_, err = store.Rotate(ctx, expired.ID, expired.RefreshHash, uniqueHash("n"), expired.ExpiresAt)
		require.NoError(t, err, "expiry instant itself is still valid")

		invalid := NewSession(ulid.Make(), uniqueHash("inv"))
		require.NoError(t, store.Create(ctx, invalid))
		_, err = store.Invalidate(ctx, invalid.ID, session.ReasonLogout, Epoch)
		require.NoError(t, err)
		_, err = store.Rotate(ctx, invalid.ID, invalid.RefreshHash, uniqueHash("n"), Epoch)
		assert.ErrorIs(t, err, session.ErrConflict)
	})

	t.Run("concurrent rotation has one winner", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		s := NewSession(ulid.Make(), uniqueHash("h"))
		require.NoError(t, store.Create(ctx, s))

		var (
			wg      sync.WaitGroup
			winners atomic.Int32
		)
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Rotate(ctx, s.ID, s.RefreshHash, uniqueHash("n"), Epoch.Add(time.Duration(i+1)*time.Second))
				if err == nil {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())
	})

	t.Run("extend", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		s := NewSession(ulid.Make(), uniqueHash("h"))
		require.NoError(t, store.Create(ctx, s))

		later := Epoch.Add(10 * time.Minute)
		newExpiry := Epoch.Add(48 * time.Hour)
		extended, err := store.Extend(ctx, s.ID, newExpiry)
		require.NoError(t, err)
		assert.Equal(t, newExpiry, extended.ExpiresAt)

		_, err = store.Invalidate(ctx, s.ID, session.ReasonLogout, later)
		require.NoError(t, err)
		_, err = store.Extend(ctx, s.ID, newExpiry.Add(time.Hour))
		assert.ErrorIs(t, err, session.ErrConflict)

		_, err = store.Extend(ctx, ulid.Make(), newExpiry)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("list by principal includes invalidated sessions in creation order", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		principal := ulid.Make()

		first := NewSession(principal, uniqueHash("a"))
		second := NewSession(principal, uniqueHash("b"))
		second.CreatedAt = Epoch.Add(time.Second)
		require.NoError(t, store.Create(ctx, second))
		require.NoError(t, store.Create(ctx, first))
		require.NoError(t, store.Create(ctx, NewSession(ulid.Make(), uniqueHash("other"))))
		_, err := store.Invalidate(ctx, second.ID, session.ReasonLogout, Epoch)
		require.NoError(t, err)

		list, err := store.ListByPrincipal(ctx, principal)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, second.ID, list[1].ID)
		assert.False(t, list[1].Valid)

		empty, err := store.ListByPrincipal(ctx, ulid.Make())
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("purge removes dead sessions and their references", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		principal := ulid.Make()

		live := NewSession(principal, uniqueHash("live"))
		live.ExpiresAt = Epoch.Add(24 * time.Hour)
		expired := NewSession(principal, uniqueHash("expired"))
		expired.ExpiresAt = Epoch.Add(-time.Hour)
		revoked := NewSession(principal, uniqueHash("revoked"))
		revoked.ExpiresAt = Epoch.Add(24 * time.Hour)
		recent := NewSession(principal, uniqueHash("recent"))
		recent.ExpiresAt = Epoch.Add(24 * time.Hour)
		for _, s := range []*session.Session{live, expired, revoked, recent} {
			require.NoError(t, store.Create(ctx, s))
		}
		_, err := store.Invalidate(ctx, revoked.ID, session.ReasonLogout, Epoch.Add(-time.Minute))
		require.NoError(t, err)
		_, err = store.Invalidate(ctx, recent.ID, session.ReasonLogout, Epoch.Add(time.Minute))
		require.NoError(t, err)

		purged, err := store.Purge(ctx, Epoch)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, purged, 2)

		for _, gone := range []*session.Session{expired, revoked} {
			_, err = store.Get(ctx, gone.ID)
			assert.ErrorIs(t, err, session.ErrNotFound)
			_, err = store.GetByRefreshHash(ctx, gone.RefreshHash)
			assert.ErrorIs(t, err, session.ErrNotFound)
		}
		for _, kept := range []*session.Session{live, recent} {
			_, err = store.Get(ctx, kept.ID)
			assert.NoError(t, err)
		}

		list, err := store.ListByPrincipal(ctx, principal)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})
}
