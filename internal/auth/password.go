// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/warden/internal/session"
	"github.com/holomush/warden/pkg/errutil"
)

// RequestPasswordReset issues a reset token for the active principal that
// owns email and hands it to the notifier. The result is nil whether or not
// such a principal exists, so the call cannot be used to enumerate
// accounts. A new request replaces any outstanding token.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.request_password_reset")
	defer func() { endSpan(span, err) }()

	normalized, err := NormalizeEmail(email)
	if err != nil {
		s.logger.DebugContext(ctx, "password reset requested for malformed email")
		return nil
	}

	p, err := s.principals.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			PasswordResets.WithLabelValues("unknown").Inc()
			s.logger.InfoContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return s.internal(ctx, "get principal by email", err)
	}
	if !p.Active {
		PasswordResets.WithLabelValues("inactive").Inc()
		s.logger.InfoContext(ctx, "password reset requested for inactive principal", "principal_id", p.ID.String())
		return nil
	}

	plain, hash, err := GenerateResetToken()
	if err != nil {
		return s.internal(ctx, "generate reset token", err)
	}
	reset, err := NewPasswordReset(p.ID, hash, s.now().Add(s.resetTTL))
	if err != nil {
		return s.internal(ctx, "build reset", err)
	}
	if err := s.resets.Create(ctx, reset); err != nil {
		return s.internal(ctx, "store reset", err)
	}
	PasswordResets.WithLabelValues("issued").Inc()

	if err := s.notifier.SendPasswordReset(ctx, p.Email, plain); err != nil {
		// The token is stored and usable; delivery is not our failure to report.
		errutil.LogErrorContext(ctx, s.logger, "password reset notification failed", err, "principal_id", p.ID.String())
	}
	s.logger.InfoContext(ctx, "password reset issued",
		"principal_id", p.ID.String(),
		"expires_at", reset.ExpiresAt,
	)
	return nil
}

// ResetPassword sets a new password using a reset token. The token is
// consumed and the password rewritten in one step, then every session of
// the principal is invalidated.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword, confirmation string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.reset_password")
	defer func() { endSpan(span, err) }()

	if newPassword != confirmation {
		return oops.Code(CodeConfirmationMismatch).Errorf("password confirmation does not match")
	}
	if resetToken == "" {
		return invalidToken()
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, ErrEmptyPassword) {
			return err
		}
		return s.internal(ctx, "hash password", err)
	}

	principalID, err := s.resets.Redeem(ctx, HashResetToken(resetToken), newHash, s.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			PasswordResets.WithLabelValues("rejected").Inc()
			return invalidToken()
		}
		return s.internal(ctx, "redeem reset token", err)
	}
	span.SetAttributes(attribute.String("auth.principal_id", principalID.String()))
	PasswordResets.WithLabelValues("completed").Inc()

	n, err := s.sessions.InvalidateAllSessionsForPrincipal(ctx, principalID, session.ReasonPasswordReset)
	if err != nil {
		return s.internal(ctx, "invalidate sessions after reset", err)
	}
	s.logger.InfoContext(ctx, "password reset completed",
		"principal_id", principalID.String(),
		"sessions_invalidated", n,
	)
	return nil
}

// ChangePassword replaces the password of principalID after verifying the
// current one, then invalidates every session of the principal including
// the caller's own.
func (s *Service) ChangePassword(ctx context.Context, principalID ulid.ULID, current, newPassword, confirmation string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.change_password",
		trace.WithAttributes(attribute.String("auth.principal_id", principalID.String())))
	defer func() { endSpan(span, err) }()

	p, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return principalNotFound(principalID)
		}
		return s.internal(ctx, "get principal", err)
	}

	if newPassword != confirmation {
		return oops.Code(CodeConfirmationMismatch).Errorf("password confirmation does not match")
	}

	match, err := s.hasher.Verify(current, p.PasswordHash)
	if err != nil {
		return s.internal(ctx, "verify password", err)
	}
	if !match {
		s.logger.InfoContext(ctx, "password change rejected", "reason", "password_mismatch", "principal_id", p.ID.String())
		return invalidCredentials()
	}
	if newPassword == current {
		return oops.Code(CodeNoOpChange).Errorf("new password must differ from the current one")
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, ErrEmptyPassword) {
			return err
		}
		return s.internal(ctx, "hash password", err)
	}
	if err := s.principals.UpdatePassword(ctx, p.ID, newHash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return principalNotFound(principalID)
		}
		return s.internal(ctx, "update password", err)
	}

	n, err := s.sessions.InvalidateAllSessionsForPrincipal(ctx, p.ID, session.ReasonPasswordChange)
	if err != nil {
		return s.internal(ctx, "invalidate sessions after password change", err)
	}
	s.logger.InfoContext(ctx, "password changed",
		"principal_id", p.ID.String(),
		"sessions_invalidated", n,
	)
	return nil
}

// PurgeExpiredResets deletes reset tokens that can no longer be redeemed.
func (s *Service) PurgeExpiredResets(ctx context.Context) (int64, error) {
	n, err := s.resets.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, s.internal(ctx, "delete expired resets", err)
	}
	if n > 0 {
		PasswordResets.WithLabelValues("expired").Add(float64(n))
		s.logger.InfoContext(ctx, "purged expired password resets", "count", n)
	}
	return n, nil
}
