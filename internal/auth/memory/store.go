// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides in-process principal and password-reset
// repositories for tests and single-node development.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/warden/internal/auth"
)

// Store implements auth.PrincipalRepository. Its Resets view implements
// auth.ResetRepository over the same lock, so a reset redemption and the
// password write it authorizes happen together.
type Store struct {
	mu         sync.RWMutex
	principals map[ulid.ULID]*auth.Principal
	byUsername map[string]ulid.ULID
	byEmail    map[string]ulid.ULID
	resets     map[string]*auth.PasswordReset
	now        func() time.Time
}

var (
	_ auth.PrincipalRepository = (*Store)(nil)
	_ auth.ResetRepository     = (*Resets)(nil)
)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		principals: make(map[ulid.ULID]*auth.Principal),
		byUsername: make(map[string]ulid.ULID),
		byEmail:    make(map[string]ulid.ULID),
		resets:     make(map[string]*auth.PasswordReset),
		now:        time.Now,
	}
}

func key(s string) string {
	return strings.ToLower(s)
}

// Create implements auth.PrincipalRepository.
func (s *Store) Create(ctx context.Context, p *auth.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.principals[p.ID]; ok {
		return auth.ErrExists
	}
	if _, ok := s.byUsername[key(p.Username)]; ok {
		return auth.ErrExists
	}
	if _, ok := s.byEmail[key(p.Email)]; ok {
		return auth.ErrExists
	}
	s.principals[p.ID] = p.Clone()
	s.byUsername[key(p.Username)] = p.ID
	s.byEmail[key(p.Email)] = p.ID
	return nil
}

// GetByID implements auth.PrincipalRepository.
func (s *Store) GetByID(ctx context.Context, id ulid.ULID) (*auth.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return p.Clone(), nil
}

// GetByUsername implements auth.PrincipalRepository.
func (s *Store) GetByUsername(ctx context.Context, username string) (*auth.Principal, error) {
	s.mu.RLock()
	id, ok := s.byUsername[key(username)]
	s.mu.RUnlock()
	if !ok {
		return nil, auth.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// GetByEmail implements auth.PrincipalRepository.
func (s *Store) GetByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	s.mu.RLock()
	id, ok := s.byEmail[key(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, auth.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *Store) update(ctx context.Context, id ulid.ULID, fn func(*auth.Principal)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.principals[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(p)
	p.UpdatedAt = s.now()
	return nil
}

// UpdatePassword implements auth.PrincipalRepository.
func (s *Store) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return s.update(ctx, id, func(p *auth.Principal) { p.PasswordHash = passwordHash })
}

// UpdateRoles implements auth.PrincipalRepository.
func (s *Store) UpdateRoles(ctx context.Context, id ulid.ULID, roles []string) error {
	return s.update(ctx, id, func(p *auth.Principal) { p.Roles = slices.Clone(roles) })
}

// UpdatePermissions implements auth.PrincipalRepository.
func (s *Store) UpdatePermissions(ctx context.Context, id ulid.ULID, permissions []string) error {
	return s.update(ctx, id, func(p *auth.Principal) { p.Permissions = slices.Clone(permissions) })
}

// UpdateStatus implements auth.PrincipalRepository.
func (s *Store) UpdateStatus(ctx context.Context, id ulid.ULID, active, emailVerified bool) error {
	return s.update(ctx, id, func(p *auth.Principal) {
		p.Active = active
		p.EmailVerified = emailVerified
	})
}

// Resets is the password-reset view of a Store.
type Resets struct {
	s *Store
}

// Resets returns the reset repository sharing this store's data.
func (s *Store) Resets() *Resets {
	return &Resets{s: s}
}

// Create implements auth.ResetRepository. Outstanding resets of the same
// principal are dropped.
func (v *Resets) Create(ctx context.Context, r *auth.PasswordReset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, existing := range s.resets {
		if existing.PrincipalID == r.PrincipalID {
			delete(s.resets, hash)
		}
	}
	c := *r
	s.resets[r.TokenHash] = &c
	return nil
}

// GetByTokenHash implements auth.ResetRepository.
func (v *Resets) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := v.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resets[tokenHash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	c := *r
	return &c, nil
}

// Redeem implements auth.ResetRepository.
func (v *Resets) Redeem(ctx context.Context, tokenHash, passwordHash string, now time.Time) (ulid.ULID, error) {
	if err := ctx.Err(); err != nil {
		return ulid.ULID{}, err
	}
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resets[tokenHash]
	if !ok || r.IsExpiredAt(now) {
		return ulid.ULID{}, auth.ErrNotFound
	}
	p, ok := s.principals[r.PrincipalID]
	if !ok {
		delete(s.resets, tokenHash)
		return ulid.ULID{}, auth.ErrNotFound
	}
	delete(s.resets, tokenHash)
	p.PasswordHash = passwordHash
	p.UpdatedAt = now
	return p.ID, nil
}

// DeleteExpired implements auth.ResetRepository.
func (v *Resets) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, r := range s.resets {
		if r.IsExpiredAt(now) {
			delete(s.resets, hash)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored resets.
func (v *Resets) Len() int {
	s := v.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.resets)
}
