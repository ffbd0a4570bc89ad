// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/warden/internal/access"
	"github.com/holomush/warden/internal/session"
	"github.com/holomush/warden/internal/token"
	"github.com/holomush/warden/pkg/errutil"
)

var tracer = otel.Tracer("warden/auth")

// TokenIssuer mints and checks tokens. *token.Issuer implements it.
type TokenIssuer interface {
	IssueAccessToken(sub token.Subject, ttl time.Duration) (string, error)
	VerifyAccessToken(tokenString string) (*token.Claims, error)
	IssueRefreshToken(principalID ulid.ULID) (string, error)
	VerifyRefreshTokenFormat(token string) bool
}

// SessionRegistry records sessions. *session.Registry implements it.
type SessionRegistry interface {
	CreateSession(ctx context.Context, principalID ulid.ULID, refreshToken string, device session.DeviceInfo) (*session.Session, error)
	GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*session.Session, error)
	FindSession(ctx context.Context, id ulid.ULID) (*session.Session, error)
	RotateRefreshToken(ctx context.Context, sessionID ulid.ULID, oldToken, newToken string) (*session.Session, error)
	InvalidateSessionWithReason(ctx context.Context, id ulid.ULID, reason string) error
	InvalidateSessionByRefreshTokenWithReason(ctx context.Context, refreshToken, reason string) error
	InvalidateAllSessionsForPrincipal(ctx context.Context, principalID ulid.ULID, reason string) (int, error)
	InvalidateAllSessionsExcept(ctx context.Context, principalID, keep ulid.ULID, reason string) (int, error)
	ListActiveSessions(ctx context.Context, principalID ulid.ULID) ([]*session.Session, error)
}

// AccessResolver resolves and validates grants. *access.Resolver implements it.
type AccessResolver interface {
	EffectivePermissions(g access.Grantee) []string
	ValidateRoleAssignment(roles []string) error
	ValidatePermissionAssignment(permissions []string) error
}

// Notifier delivers password-reset instructions. Implementations should
// not block; see notify.Async.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	SessionID       ulid.ULID
	PrincipalID     ulid.ULID
}

// Deps are the collaborators of a Service. All are required.
type Deps struct {
	Principals PrincipalRepository
	Resets     ResetRepository
	Hasher     PasswordHasher
	Tokens     TokenIssuer
	Sessions   SessionRegistry
	Access     AccessResolver
	Notifier   Notifier
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.accessTTL = d
		}
	}
}

// WithResetTTL sets the password reset token lifetime.
func WithResetTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.resetTTL = d
		}
	}
}

// Service is the credential store.
type Service struct {
	principals PrincipalRepository
	resets     ResetRepository
	hasher     PasswordHasher
	tokens     TokenIssuer
	sessions   SessionRegistry
	access     AccessResolver
	notifier   Notifier

	// dummyHash is verified for unknown usernames so that their rejection
	// costs the same as a wrong password.
	dummyHash string

	accessTTL time.Duration
	resetTTL  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(deps Deps, opts ...ServiceOption) (*Service, error) {
	switch {
	case deps.Principals == nil:
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("principal repository is required")
	case deps.Resets == nil:
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("reset repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("password hasher is required")
	case deps.Tokens == nil:
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("token issuer is required")
	case deps.Sessions == nil:
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("session registry is required")
	case deps.Access == nil:
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("access resolver is required")
	case deps.Notifier == nil:
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("notifier is required")
	}

	dummy, err := deps.Hasher.Hash(ulid.Make().String())
	if err != nil {
		return nil, oops.Code("AUTH_CONFIG_INVALID").With("operation", "hash dummy password").Wrap(err)
	}

	s := &Service{
		principals: deps.Principals,
		resets:     deps.Resets,
		hasher:     deps.Hasher,
		tokens:     deps.Tokens,
		sessions:   deps.Sessions,
		access:     deps.Access,
		notifier:   deps.Notifier,
		dummyHash:  dummy,
		accessTTL:  token.DefaultAccessTTL,
		resetTTL:   ResetTokenExpiry,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// internalError is returned for unexpected faults. The cause stays
// reachable through errors.Is, but its own code is hidden so that callers
// always see AUTH_INTERNAL.
type internalError struct {
	err error
}

func (e internalError) Error() string        { return e.err.Error() }
func (e internalError) Is(target error) bool { return errors.Is(e.err, target) }

func (s *Service) internal(ctx context.Context, op string, err error) error {
	errutil.LogErrorContext(ctx, s.logger, "auth operation failed", err, "operation", op)
	return oops.Code(CodeInternal).With("operation", op).Wrap(internalError{err: err})
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid username or password")
}

func invalidToken() error {
	return oops.Code(CodeInvalidOrExpiredToken).Errorf("invalid or expired token")
}

func principalNotFound(id ulid.ULID) error {
	return oops.Code(CodePrincipalNotFound).With("principal_id", id.String()).Errorf("principal not found")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Login verifies credentials and opens a session on device.
//
// Checks run in a fixed order and the first failure wins: unknown
// username, inactive account, unverified email, wrong password. Unknown
// usernames and wrong passwords both yield AUTH_INVALID_CREDENTIALS. No
// session is created on any failure.
func (s *Service) Login(ctx context.Context, username, password string, device session.DeviceInfo) (pair *TokenPair, err error) {
	ctx, span := tracer.Start(ctx, "auth.login", trace.WithAttributes(attribute.String("auth.username", username)))
	defer func() { endSpan(span, err) }()

	p, lookupErr := s.principals.GetByUsername(ctx, username)
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			LoginAttempts.WithLabelValues(loginError).Inc()
			return nil, s.internal(ctx, "get principal by username", lookupErr)
		}
		// Spend the same hashing time as a real check.
		_, _ = s.hasher.Verify(password, s.dummyHash) //nolint:errcheck // result is discarded by design of the timing guard
		LoginAttempts.WithLabelValues(loginInvalid).Inc()
		s.logger.InfoContext(ctx, "login rejected", "reason", "principal_not_found", "username", username)
		return nil, invalidCredentials()
	}

	match, verifyErr := s.hasher.Verify(password, p.PasswordHash)
	if verifyErr != nil {
		LoginAttempts.WithLabelValues(loginError).Inc()
		return nil, s.internal(ctx, "verify password", verifyErr)
	}

	switch {
	case !p.Active:
		LoginAttempts.WithLabelValues(loginInactive).Inc()
		s.logger.InfoContext(ctx, "login rejected", "reason", "inactive", "principal_id", p.ID.String())
		return nil, oops.Code(CodeAccountInactive).Errorf("account is inactive")
	case !p.EmailVerified:
		LoginAttempts.WithLabelValues(loginEmailNotVerified).Inc()
		s.logger.InfoContext(ctx, "login rejected", "reason", "email_not_verified", "principal_id", p.ID.String())
		return nil, oops.Code(CodeEmailNotVerified).Errorf("email address has not been verified")
	case !match:
		LoginAttempts.WithLabelValues(loginInvalid).Inc()
		s.logger.InfoContext(ctx, "login rejected", "reason", "password_mismatch", "principal_id", p.ID.String())
		return nil, invalidCredentials()
	}

	if s.hasher.NeedsUpgrade(p.PasswordHash) {
		s.upgradeHash(ctx, p, password)
	}

	pair, err = s.openSession(ctx, p, device)
	if err != nil {
		LoginAttempts.WithLabelValues(loginError).Inc()
		return nil, err
	}
	LoginAttempts.WithLabelValues(loginSuccess).Inc()
	span.SetAttributes(attribute.String("auth.session_id", pair.SessionID.String()))
	s.logger.InfoContext(ctx, "login succeeded",
		"principal_id", p.ID.String(),
		"session_id", pair.SessionID.String(),
		"address", device.Address,
	)
	return pair, nil
}

// upgradeHash rewrites a legacy or outdated hash. Failure never blocks login.
func (s *Service) upgradeHash(ctx context.Context, p *Principal, password string) {
	newHash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.principals.UpdatePassword(ctx, p.ID, newHash)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "password hash upgrade failed",
			append(errutil.Attrs(err), "principal_id", p.ID.String())...)
		return
	}
	s.logger.InfoContext(ctx, "password hash upgraded", "principal_id", p.ID.String())
}

func (s *Service) openSession(ctx context.Context, p *Principal, device session.DeviceInfo) (*TokenPair, error) {
	refresh, err := s.tokens.IssueRefreshToken(p.ID)
	if err != nil {
		return nil, s.internal(ctx, "issue refresh token", err)
	}
	sess, err := s.sessions.CreateSession(ctx, p.ID, refresh, device)
	if err != nil {
		return nil, s.internal(ctx, "create session", err)
	}
	accessToken, expiresAt, err := s.mintAccess(p)
	if err != nil {
		// Don't leave a session nobody holds an access token for.
		if invErr := s.sessions.InvalidateSessionWithReason(ctx, sess.ID, session.ReasonRevoked); invErr != nil {
			errutil.LogErrorContext(ctx, s.logger, "orphaned session cleanup failed", invErr, "session_id", sess.ID.String())
		}
		return nil, s.internal(ctx, "issue access token", err)
	}
	return &TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    refresh,
		AccessExpiresAt: expiresAt,
		SessionID:       sess.ID,
		PrincipalID:     p.ID,
	}, nil
}

// mintAccess issues an access token with freshly resolved permissions.
func (s *Service) mintAccess(p *Principal) (string, time.Time, error) {
	expiresAt := s.now().Add(s.accessTTL)
	signed, err := s.tokens.IssueAccessToken(token.Subject{
		PrincipalID: p.ID,
		Username:    p.Username,
		Roles:       p.Roles,
		Permissions: s.access.EffectivePermissions(p),
	}, s.accessTTL)
	if err != nil {
		return "", time.Time{}, err //nolint:wrapcheck // callers wrap as internal
	}
	return signed, expiresAt, nil
}

// Refresh exchanges a refresh token for a new pair. The session keeps its
// id; the old refresh token is retired and any later use of it revokes the
// session. Every rejection of the token itself is
// AUTH_INVALID_OR_EXPIRED_TOKEN.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	ctx, span := tracer.Start(ctx, "auth.refresh")
	defer func() { endSpan(span, err) }()

	if !s.tokens.VerifyRefreshTokenFormat(refreshToken) {
		RefreshAttempts.WithLabelValues("invalid").Inc()
		return nil, invalidToken()
	}

	sess, err := s.sessions.GetSessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, s.refreshFailure(ctx, "get session", err)
	}
	span.SetAttributes(attribute.String("auth.session_id", sess.ID.String()))

	p, err := s.principals.GetByID(ctx, sess.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			RefreshAttempts.WithLabelValues("invalid").Inc()
			return nil, invalidToken()
		}
		RefreshAttempts.WithLabelValues("error").Inc()
		return nil, s.internal(ctx, "get principal", err)
	}
	if !p.Active {
		if invErr := s.sessions.InvalidateSessionWithReason(ctx, sess.ID, session.ReasonDeactivated); invErr != nil {
			errutil.LogErrorContext(ctx, s.logger, "session invalidation failed", invErr, "session_id", sess.ID.String())
		}
		RefreshAttempts.WithLabelValues("inactive").Inc()
		return nil, oops.Code(CodeAccountInactive).Errorf("account is inactive")
	}

	next, err := s.tokens.IssueRefreshToken(p.ID)
	if err != nil {
		RefreshAttempts.WithLabelValues("error").Inc()
		return nil, s.internal(ctx, "issue refresh token", err)
	}
	if _, err := s.sessions.RotateRefreshToken(ctx, sess.ID, refreshToken, next); err != nil {
		return nil, s.refreshFailure(ctx, "rotate refresh token", err)
	}

	accessToken, expiresAt, err := s.mintAccess(p)
	if err != nil {
		RefreshAttempts.WithLabelValues("error").Inc()
		return nil, s.internal(ctx, "issue access token", err)
	}

	RefreshAttempts.WithLabelValues("success").Inc()
	return &TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    next,
		AccessExpiresAt: expiresAt,
		SessionID:       sess.ID,
		PrincipalID:     p.ID,
	}, nil
}

// refreshFailure maps a registry error. Store faults stay internal;
// everything else about the token is collapsed to one code.
func (s *Service) refreshFailure(ctx context.Context, op string, err error) error {
	code := errutil.Code(err)
	if code == session.CodeStoreFailed {
		RefreshAttempts.WithLabelValues("error").Inc()
		return s.internal(ctx, op, err)
	}
	result := "invalid"
	if code == session.CodeTokenReused {
		result = "reused"
	}
	RefreshAttempts.WithLabelValues(result).Inc()
	s.logger.InfoContext(ctx, "refresh rejected", "reason", code)
	return invalidToken()
}

// Logout ends the session bound to refreshToken. When accessToken is valid
// it must belong to the same principal as the session. Logging out an
// already-ended or unknown session succeeds.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.logout")
	defer func() { endSpan(span, err) }()

	if refreshToken == "" {
		return invalidToken()
	}

	if accessToken != "" {
		if claims, verr := s.tokens.VerifyAccessToken(accessToken); verr == nil {
			if err := s.checkOwner(ctx, claims, refreshToken); err != nil {
				return err
			}
		}
	}

	err = s.sessions.InvalidateSessionByRefreshTokenWithReason(ctx, refreshToken, session.ReasonLogout)
	switch code := errutil.Code(err); {
	case err == nil:
		s.logger.InfoContext(ctx, "logout")
		return nil
	case code == session.CodeNotFound:
		return nil
	default:
		return s.internal(ctx, "invalidate session", err)
	}
}

func (s *Service) checkOwner(ctx context.Context, claims *token.Claims, refreshToken string) error {
	sub, err := claims.Identity()
	if err != nil {
		return invalidToken()
	}
	sess, err := s.sessions.GetSessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errutil.Code(err) == session.CodeStoreFailed {
			return s.internal(ctx, "check session owner", err)
		}
		// Dead or unknown sessions are handled by the idempotent invalidate.
		return nil
	}
	if sess.PrincipalID != sub.PrincipalID {
		s.logger.WarnContext(ctx, "logout with refresh token of another principal",
			"principal_id", sub.PrincipalID.String(),
			"session_id", sess.ID.String(),
		)
		return invalidToken()
	}
	return nil
}

// ValidateAccessToken verifies an access token locally. It never consults
// the session registry, so a token stays valid for its full lifetime even
// after logout or a password change.
func (s *Service) ValidateAccessToken(_ context.Context, accessToken string) (*token.Claims, error) {
	return s.tokens.VerifyAccessToken(accessToken) //nolint:wrapcheck // token codes are part of the contract
}
