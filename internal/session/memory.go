// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const defaultShardCount = 32

// record is the stored form of a session plus every refresh hash it has held.
type record struct {
	session *Session
	hashes  []string
}

type sessionShard struct {
	mu      sync.Mutex
	records map[ulid.ULID]*record
}

type refShard struct {
	mu   sync.RWMutex
	refs map[string]ulid.ULID
}

type principalShard struct {
	mu       sync.RWMutex
	sessions map[ulid.ULID]map[ulid.ULID]struct{}
}

// MemoryStore is an in-process Store sharded by key.
//
// Each session lives in exactly one shard and every single-session
// operation runs under that shard's lock. The refresh and principal
// indexes are sharded separately. Lock order is always session shard
// first, index shard second, so index readers never hold an index lock
// while waiting on a session lock.
type MemoryStore struct {
	sessions   []*sessionShard
	refs       []*refShard
	principals []*principalShard
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithShards(defaultShardCount)
}

// NewMemoryStoreWithShards creates a MemoryStore with n shards per map.
func NewMemoryStoreWithShards(n int) *MemoryStore {
	if n < 1 {
		n = 1
	}
	m := &MemoryStore{
		sessions:   make([]*sessionShard, n),
		refs:       make([]*refShard, n),
		principals: make([]*principalShard, n),
	}
	for i := range n {
		m.sessions[i] = &sessionShard{records: make(map[ulid.ULID]*record)}
		m.refs[i] = &refShard{refs: make(map[string]ulid.ULID)}
		m.principals[i] = &principalShard{sessions: make(map[ulid.ULID]map[ulid.ULID]struct{})}
	}
	return m
}

func shardIndex(key []byte, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(key) //nolint:errcheck // hash.Hash never returns an error
	return int(h.Sum32() % uint32(n)) //nolint:gosec // n is a small positive shard count
}

func (m *MemoryStore) sessionShard(id ulid.ULID) *sessionShard {
	return m.sessions[shardIndex(id[:], len(m.sessions))]
}

func (m *MemoryStore) refShard(hash string) *refShard {
	return m.refs[shardIndex([]byte(hash), len(m.refs))]
}

func (m *MemoryStore) principalShard(id ulid.ULID) *principalShard {
	return m.principals[shardIndex(id[:], len(m.principals))]
}

// Create implements Store.
func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sh := m.sessionShard(s.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.records[s.ID]; exists {
		return ErrConflict
	}
	sh.records[s.ID] = &record{session: s.Clone(), hashes: []string{s.RefreshHash}}
	m.indexRef(s.RefreshHash, s.ID)

	ps := m.principalShard(s.PrincipalID)
	ps.mu.Lock()
	set, ok := ps.sessions[s.PrincipalID]
	if !ok {
		set = make(map[ulid.ULID]struct{})
		ps.sessions[s.PrincipalID] = set
	}
	set[s.ID] = struct{}{}
	ps.mu.Unlock()

	return nil
}

// indexRef must be called with the owning session shard locked.
func (m *MemoryStore) indexRef(hash string, id ulid.ULID) {
	rs := m.refShard(hash)
	rs.mu.Lock()
	rs.refs[hash] = id
	rs.mu.Unlock()
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, id ulid.ULID) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sh := m.sessionShard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.session.Clone(), nil
}

// GetByRefreshHash implements Store.
func (m *MemoryStore) GetByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rs := m.refShard(hash)
	rs.mu.RLock()
	id, ok := rs.refs[hash]
	rs.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.Get(ctx, id)
}

// ListByPrincipal implements Store.
func (m *MemoryStore) ListByPrincipal(ctx context.Context, principalID ulid.ULID) ([]*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ps := m.principalShard(principalID)
	ps.mu.RLock()
	ids := make([]ulid.ULID, 0, len(ps.sessions[principalID]))
	for id := range ps.sessions[principalID] {
		ids = append(ids, id)
	}
	ps.mu.RUnlock()

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		s, err := m.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue // purged since the index read
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Invalidate implements Store.
func (m *MemoryStore) Invalidate(ctx context.Context, id ulid.ULID, reason string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	sh := m.sessionShard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return false, ErrNotFound
	}
	if !rec.session.Valid {
		return false, nil
	}
	rec.session.Valid = false
	rec.session.InvalidatedAt = &at
	rec.session.InvalidReason = reason
	return true, nil
}

// Rotate implements Store.
func (m *MemoryStore) Rotate(ctx context.Context, id ulid.ULID, oldHash, newHash string, at time.Time) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sh := m.sessionShard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	s := rec.session
	if !s.ActiveAt(at) || s.RefreshHash != oldHash {
		return nil, ErrConflict
	}

	s.RefreshHash = newHash
	s.LastActivityAt = at
	rec.hashes = append(rec.hashes, newHash)
	m.indexRef(newHash, id)

	return s.Clone(), nil
}

// Extend implements Store.
func (m *MemoryStore) Extend(ctx context.Context, id ulid.ULID, expiresAt time.Time) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sh := m.sessionShard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !rec.session.Valid {
		return nil, ErrConflict
	}
	rec.session.ExpiresAt = expiresAt
	return rec.session.Clone(), nil
}

// Purge implements Store.
func (m *MemoryStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	purged := 0
	for _, sh := range m.sessions {
		if err := ctx.Err(); err != nil {
			return purged, err
		}

		sh.mu.Lock()
		for id, rec := range sh.records {
			if !isDead(rec.session, cutoff) {
				continue
			}
			delete(sh.records, id)
			for _, h := range rec.hashes {
				rs := m.refShard(h)
				rs.mu.Lock()
				delete(rs.refs, h)
				rs.mu.Unlock()
			}
			ps := m.principalShard(rec.session.PrincipalID)
			ps.mu.Lock()
			if set := ps.sessions[rec.session.PrincipalID]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(ps.sessions, rec.session.PrincipalID)
				}
			}
			ps.mu.Unlock()
			purged++
		}
		sh.mu.Unlock()
	}
	return purged, nil
}

// isDead reports whether s was invalidated or expired before cutoff.
func isDead(s *Session, cutoff time.Time) bool {
	if s.ExpiresAt.Before(cutoff) {
		return true
	}
	return !s.Valid && s.InvalidatedAt != nil && s.InvalidatedAt.Before(cutoff)
}

// Len returns the number of stored sessions, valid or not.
func (m *MemoryStore) Len() int {
	n := 0
	for _, sh := range m.sessions {
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}
