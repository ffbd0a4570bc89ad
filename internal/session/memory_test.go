// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStoredSession(principalID ulid.ULID, hash string) *Session {
	return &Session{
		ID:             ulid.Make(),
		PrincipalID:    principalID,
		RefreshHash:    hash,
		Device:         DeviceInfo{Metadata: map[string]string{"os": "linux"}},
		CreatedAt:      epoch,
		ExpiresAt:      epoch.Add(time.Hour),
		LastActivityAt: epoch,
		Valid:          true,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newStoredSession(ulid.Make(), "h1")

	require.NoError(t, store.Create(ctx, s))
	assert.ErrorIs(t, store.Create(ctx, s), ErrConflict)

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.PrincipalID, got.PrincipalID)

	byHash, err := store.GetByRefreshHash(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, byHash.ID)

	_, err = store.Get(ctx, ulid.Make())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByRefreshHash(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newStoredSession(ulid.Make(), "h1")
	require.NoError(t, store.Create(ctx, s))

	s.Device.Metadata["os"] = "mutated"
	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	got.Valid = false
	got.Device.Metadata["os"] = "mutated again"

	again, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, again.Valid)
	assert.Equal(t, "linux", again.Device.Metadata["os"])
}

func TestMemoryStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newStoredSession(ulid.Make(), "h1")
	require.NoError(t, store.Create(ctx, s))

	changed, err := store.Invalidate(ctx, s.ID, ReasonLogout, epoch)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.Invalidate(ctx, s.ID, ReasonRevoked, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.Valid)
	assert.Equal(t, ReasonLogout, got.InvalidReason)
	require.NotNil(t, got.InvalidatedAt)
	assert.True(t, got.InvalidatedAt.Equal(epoch))

	_, err = store.Invalidate(ctx, ulid.Make(), ReasonLogout, epoch)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Rotate(t *testing.T) {
	ctx := context.Background()

	t.Run("swaps hash and keeps old one resolvable", func(t *testing.T) {
		store := NewMemoryStore()
		s := newStoredSession(ulid.Make(), "h1")
		require.NoError(t, store.Create(ctx, s))

		rotated, err := store.Rotate(ctx, s.ID, "h1", "h2", epoch.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, s.ID, rotated.ID)
		assert.Equal(t, "h2", rotated.RefreshHash)
		assert.True(t, rotated.LastActivityAt.Equal(epoch.Add(time.Minute)))

		old, err := store.GetByRefreshHash(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, "h2", old.RefreshHash)
	})

	t.Run("stale hash conflicts", func(t *testing.T) {
		store := NewMemoryStore()
		s := newStoredSession(ulid.Make(), "h1")
		require.NoError(t, store.Create(ctx, s))
		_, err := store.Rotate(ctx, s.ID, "h1", "h2", epoch)
		require.NoError(t, err)

		_, err = store.Rotate(ctx, s.ID, "h1", "h3", epoch)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("invalid session conflicts", func(t *testing.T) {
		store := NewMemoryStore()
		s := newStoredSession(ulid.Make(), "h1")
		require.NoError(t, store.Create(ctx, s))
		_, err := store.Invalidate(ctx, s.ID, ReasonLogout, epoch)
		require.NoError(t, err)

		_, err = store.Rotate(ctx, s.ID, "h1", "h2", epoch)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("expired session conflicts", func(t *testing.T) {
		store := NewMemoryStore()
		s := newStoredSession(ulid.Make(), "h1")
		require.NoError(t, store.Create(ctx, s))

		_, err := store.Rotate(ctx, s.ID, "h1", "h2", s.ExpiresAt.Add(time.Nanosecond))
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("unknown session", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Rotate(ctx, ulid.Make(), "h1", "h2", epoch)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore_ConcurrentRotateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStoreWithShards(4)
	s := newStoredSession(ulid.Make(), "h0")
	require.NoError(t, store.Create(ctx, s))

	const workers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := store.Rotate(ctx, s.ID, "h0", ulid.Make().String(), epoch); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrConflict, "worker %d", i)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryStore_Extend(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newStoredSession(ulid.Make(), "h1")
	require.NoError(t, store.Create(ctx, s))

	extended, err := store.Extend(ctx, s.ID, epoch.Add(48*time.Hour))
	require.NoError(t, err)
	assert.True(t, extended.ExpiresAt.Equal(epoch.Add(48*time.Hour)))

	_, err = store.Invalidate(ctx, s.ID, ReasonLogout, epoch)
	require.NoError(t, err)
	_, err = store.Extend(ctx, s.ID, epoch.Add(72*time.Hour))
	assert.ErrorIs(t, err, ErrConflict)

	_, err = store.Extend(ctx, ulid.Make(), epoch.Add(72*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListByPrincipal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	alice, bob := ulid.Make(), ulid.Make()

	for i := range 3 {
		require.NoError(t, store.Create(ctx, newStoredSession(alice, "a"+string(rune('0'+i)))))
	}
	require.NoError(t, store.Create(ctx, newStoredSession(bob, "b0")))

	sessions, err := store.ListByPrincipal(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)
	for _, s := range sessions {
		assert.Equal(t, alice, s.PrincipalID)
	}

	none, err := store.ListByPrincipal(ctx, ulid.Make())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_Purge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pid := ulid.Make()

	live := newStoredSession(pid, "live")
	expired := newStoredSession(pid, "expired")
	expired.ExpiresAt = epoch.Add(-time.Minute)
	revoked := newStoredSession(pid, "revoked")
	recent := newStoredSession(pid, "recent")
	for _, s := range []*Session{live, expired, revoked, recent} {
		require.NoError(t, store.Create(ctx, s))
	}
	_, err := store.Rotate(ctx, revoked.ID, "revoked", "revoked-2", epoch)
	require.NoError(t, err)
	_, err = store.Invalidate(ctx, revoked.ID, ReasonLogout, epoch.Add(-time.Hour))
	require.NoError(t, err)
	_, err = store.Invalidate(ctx, recent.ID, ReasonLogout, epoch.Add(time.Minute))
	require.NoError(t, err)

	n, err := store.Purge(ctx, epoch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, store.Len())

	for _, h := range []string{"expired", "revoked", "revoked-2"} {
		_, err := store.GetByRefreshHash(ctx, h)
		assert.ErrorIs(t, err, ErrNotFound, h)
	}
	sessions, err := store.ListByPrincipal(ctx, pid)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore()

	assert.ErrorIs(t, store.Create(ctx, newStoredSession(ulid.Make(), "h")), context.Canceled)
	_, err := store.Get(ctx, ulid.Make())
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Purge(ctx, epoch)
	assert.ErrorIs(t, err, context.Canceled)
}
