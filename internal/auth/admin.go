// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/warden/internal/session"
	"github.com/holomush/warden/pkg/errutil"
)

// ListSessions returns the principal's active sessions, oldest first.
func (s *Service) ListSessions(ctx context.Context, principalID ulid.ULID) ([]*session.Session, error) {
	sessions, err := s.sessions.ListActiveSessions(ctx, principalID)
	if err != nil {
		return nil, s.internal(ctx, "list sessions", err)
	}
	return sessions, nil
}

// EndSession ends one of the principal's sessions. A session that belongs
// to someone else is reported as SESSION_NOT_FOUND. Ending an already
// ended session succeeds.
func (s *Service) EndSession(ctx context.Context, principalID, sessionID ulid.ULID) error {
	sess, err := s.sessions.FindSession(ctx, sessionID)
	if err != nil {
		if errutil.Code(err) == session.CodeNotFound {
			return sessionNotFound(sessionID)
		}
		return s.internal(ctx, "find session", err)
	}
	if sess.PrincipalID != principalID {
		return sessionNotFound(sessionID)
	}

	if err := s.sessions.InvalidateSessionWithReason(ctx, sessionID, session.ReasonRevoked); err != nil {
		if errutil.Code(err) == session.CodeNotFound {
			return sessionNotFound(sessionID)
		}
		return s.internal(ctx, "invalidate session", err)
	}
	s.logger.InfoContext(ctx, "session ended",
		"principal_id", principalID.String(),
		"session_id", sessionID.String(),
	)
	return nil
}

func sessionNotFound(id ulid.ULID) error {
	return oops.Code(session.CodeNotFound).With("session_id", id.String()).Errorf("session not found")
}

// EndAllSessions ends every session of the principal and returns how many
// were active.
func (s *Service) EndAllSessions(ctx context.Context, principalID ulid.ULID) (int, error) {
	n, err := s.sessions.InvalidateAllSessionsForPrincipal(ctx, principalID, session.ReasonLogoutAll)
	if err != nil {
		return n, s.internal(ctx, "end all sessions", err)
	}
	return n, nil
}

// EndAllSessionsExcept ends every session of the principal but keep.
func (s *Service) EndAllSessionsExcept(ctx context.Context, principalID, keep ulid.ULID) (int, error) {
	n, err := s.sessions.InvalidateAllSessionsExcept(ctx, principalID, keep, session.ReasonLogoutOthers)
	if err != nil {
		return n, s.internal(ctx, "end other sessions", err)
	}
	return n, nil
}

// UpdateRoles replaces the principal's role set. Every role is validated
// against the catalog first; if any is unknown nothing is written and the
// error lists all of them. Active access tokens keep their old claims until
// the next refresh.
func (s *Service) UpdateRoles(ctx context.Context, principalID ulid.ULID, roles []string) error {
	if err := s.access.ValidateRoleAssignment(roles); err != nil {
		return err //nolint:wrapcheck // carries ACCESS_INVALID_ROLES and the offending list
	}
	if err := s.principals.UpdateRoles(ctx, principalID, dedupe(roles)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return principalNotFound(principalID)
		}
		return s.internal(ctx, "update roles", err)
	}
	s.logger.InfoContext(ctx, "roles updated", "principal_id", principalID.String(), "roles", roles)
	return nil
}

// UpdatePermissions replaces the principal's direct permission grants with
// the same all-or-nothing validation as UpdateRoles.
func (s *Service) UpdatePermissions(ctx context.Context, principalID ulid.ULID, permissions []string) error {
	if err := s.access.ValidatePermissionAssignment(permissions); err != nil {
		return err //nolint:wrapcheck // carries ACCESS_INVALID_PERMISSIONS and the offending list
	}
	if err := s.principals.UpdatePermissions(ctx, principalID, dedupe(permissions)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return principalNotFound(principalID)
		}
		return s.internal(ctx, "update permissions", err)
	}
	s.logger.InfoContext(ctx, "permissions updated", "principal_id", principalID.String(), "permissions", permissions)
	return nil
}

// Registration is the input to Register.
type Registration struct {
	Username string
	Email    string
	Password string
	Roles    []string
}

// Register creates an active principal whose email is not yet verified.
func (s *Service) Register(ctx context.Context, reg Registration) (*Principal, error) {
	if err := s.access.ValidateRoleAssignment(reg.Roles); err != nil {
		return nil, err //nolint:wrapcheck // carries ACCESS_INVALID_ROLES and the offending list
	}
	if err := ValidateUsername(reg.Username); err != nil {
		return nil, err
	}
	if _, err := NormalizeEmail(reg.Email); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		if errors.Is(err, ErrEmptyPassword) {
			return nil, err
		}
		return nil, s.internal(ctx, "hash password", err)
	}
	p, err := NewPrincipal(reg.Username, reg.Email, hash, reg.Roles)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt

	if err := s.principals.Create(ctx, p); err != nil {
		if errors.Is(err, ErrExists) {
			return nil, oops.Code(CodePrincipalExists).
				With("username", reg.Username).
				Errorf("username or email already registered")
		}
		return nil, s.internal(ctx, "create principal", err)
	}
	s.logger.InfoContext(ctx, "principal registered", "principal_id", p.ID.String(), "username", p.Username)
	return p, nil
}

// GetPrincipal returns the principal with id.
func (s *Service) GetPrincipal(ctx context.Context, id ulid.ULID) (*Principal, error) {
	p, err := s.principals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, principalNotFound(id)
		}
		return nil, s.internal(ctx, "get principal", err)
	}
	return p, nil
}

// GetPrincipalByUsername returns the principal named username.
func (s *Service) GetPrincipalByUsername(ctx context.Context, username string) (*Principal, error) {
	p, err := s.principals.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodePrincipalNotFound).With("username", username).Errorf("principal not found")
		}
		return nil, s.internal(ctx, "get principal by username", err)
	}
	return p, nil
}

// VerifyEmail marks the principal's email address as verified.
func (s *Service) VerifyEmail(ctx context.Context, principalID ulid.ULID) error {
	p, err := s.GetPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	if err := s.principals.UpdateStatus(ctx, principalID, p.Active, true); err != nil {
		return s.internal(ctx, "verify email", err)
	}
	return nil
}

// SetActive enables or disables a principal. Disabling invalidates every
// session; outstanding access tokens expire on their own.
func (s *Service) SetActive(ctx context.Context, principalID ulid.ULID, active bool) error {
	p, err := s.GetPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	if err := s.principals.UpdateStatus(ctx, principalID, active, p.EmailVerified); err != nil {
		return s.internal(ctx, "update status", err)
	}
	if active {
		return nil
	}

	n, err := s.sessions.InvalidateAllSessionsForPrincipal(ctx, principalID, session.ReasonDeactivated)
	if err != nil {
		return s.internal(ctx, "invalidate sessions after deactivation", err)
	}
	s.logger.InfoContext(ctx, "principal deactivated", "principal_id", principalID.String(), "sessions_invalidated", n)
	return nil
}
