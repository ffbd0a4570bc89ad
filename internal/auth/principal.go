// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// usernameRegex matches usernames that start with a letter and contain only
// letters, digits, underscores, dots, and hyphens.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// Principal is an authenticated identity and the single owner of its
// credentials, role set, and direct permission grants.
type Principal struct {
	ID            ulid.ULID
	Username      string
	Email         string
	PasswordHash  string
	Roles         []string
	Permissions   []string
	Active        bool
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// GrantedRoles returns the principal's role identifiers.
func (p *Principal) GrantedRoles() []string { return p.Roles }

// GrantedPermissions returns the principal's direct permission grants.
func (p *Principal) GrantedPermissions() []string { return p.Permissions }

// Clone returns a deep copy so callers can mutate without aliasing slices.
func (p *Principal) Clone() *Principal {
	c := *p
	c.Roles = slices.Clone(p.Roles)
	c.Permissions = slices.Clone(p.Permissions)
	return &c
}

// NewPrincipal creates a validated, active, unverified principal.
func NewPrincipal(username, email, passwordHash string, roles []string) (*Principal, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("PRINCIPAL_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &Principal{
		ID:           ulid.Make(),
		Username:     username,
		Email:        normalized,
		PasswordHash: passwordHash,
		Roles:        dedupe(roles),
		Permissions:  []string{},
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidateUsername validates a username against rules.
// Username requirements:
//   - Length: MinUsernameLength to MaxUsernameLength characters
//   - Must start with a letter
//   - May contain letters, digits, underscores, dots, and hyphens
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, digits, '_', '.', or '-'")
	}
	return nil
}

// NormalizeEmail validates an address and lower-cases it for lookup.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", oops.Code("AUTH_INVALID_EMAIL").With("email", email).Errorf("invalid email address")
	}
	return strings.ToLower(addr.Address), nil
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// PrincipalRepository manages principal persistence.
type PrincipalRepository interface {
	// Create stores a new principal. Returns ErrExists when the username or
	// email is taken.
	Create(ctx context.Context, p *Principal) error

	// GetByID retrieves a principal by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Principal, error)

	// GetByUsername retrieves a principal by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*Principal, error)

	// GetByEmail retrieves a principal by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*Principal, error)

	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// UpdateRoles replaces the role set as a single write.
	UpdateRoles(ctx context.Context, id ulid.ULID, roles []string) error

	// UpdatePermissions replaces the direct permission grants as a single write.
	UpdatePermissions(ctx context.Context, id ulid.ULID, permissions []string) error

	// UpdateStatus sets the active and email-verified flags.
	UpdateStatus(ctx context.Context, id ulid.ULID, active, emailVerified bool) error
}
