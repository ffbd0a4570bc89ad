// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package token mints and verifies the two credential classes used by
// warden: signed short-lived access tokens and opaque refresh tokens.
//
// Access token verification is stateless. Nothing in this package consults
// a session store; a token stays valid until its own expiry.
package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Error codes returned by VerifyAccessToken.
const (
	CodeInvalid = "TOKEN_INVALID"
	CodeExpired = "TOKEN_EXPIRED"
)

// Signing method names accepted in Config.
const (
	MethodHS256 = "HS256"
	MethodRS256 = "RS256"
	MethodES256 = "ES256"
)

// DefaultAccessTTL bounds how long an access token outlives a logout.
const DefaultAccessTTL = 15 * time.Minute

// MinSecretBytes is the shortest HMAC secret accepted.
const MinSecretBytes = 32

// Subject is the identity snapshot embedded in an access token.
type Subject struct {
	PrincipalID ulid.ULID
	Username    string
	Roles       []string
	Permissions []string
}

// Claims is the decoded payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Identity returns the identity snapshot carried by the claims.
func (c *Claims) Identity() (Subject, error) {
	id, err := ulid.Parse(c.RegisteredClaims.Subject)
	if err != nil {
		return Subject{}, oops.Code(CodeInvalid).With("sub", c.RegisteredClaims.Subject).Wrap(err)
	}
	return Subject{
		PrincipalID: id,
		Username:    c.Username,
		Roles:       c.Roles,
		Permissions: c.Permissions,
	}, nil
}

// Config selects the signing key material.
type Config struct {
	// Issuer is written to and required in the iss claim.
	Issuer string
	// Method is one of MethodHS256, MethodRS256, MethodES256. Empty means HS256.
	Method string
	// Secret is the HMAC key for HS256.
	Secret []byte
	// PrivateKey signs RS256/ES256 tokens. PublicKey defaults to its public half.
	PrivateKey crypto.Signer
	PublicKey  crypto.PublicKey
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// Issuer signs and verifies access tokens and generates refresh tokens.
// The key is loaded once and never rotated while the process runs.
type Issuer struct {
	issuer    string
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	now       func() time.Time
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg Config, opts ...Option) (*Issuer, error) {
	if cfg.Issuer == "" {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("issuer is required")
	}

	i := &Issuer{issuer: cfg.Issuer, now: time.Now}

	switch cfg.Method {
	case "", MethodHS256:
		if len(cfg.Secret) < MinSecretBytes {
			return nil, oops.Code("TOKEN_CONFIG_INVALID").
				With("min_bytes", MinSecretBytes).
				Errorf("HS256 secret must be at least %d bytes", MinSecretBytes)
		}
		i.method = jwt.SigningMethodHS256
		i.signKey = cfg.Secret
		i.verifyKey = cfg.Secret
	case MethodRS256, MethodES256:
		if cfg.PrivateKey == nil {
			return nil, oops.Code("TOKEN_CONFIG_INVALID").With("method", cfg.Method).Errorf("private key is required")
		}
		pub := cfg.PublicKey
		if pub == nil {
			pub = cfg.PrivateKey.Public()
		}
		switch pub.(type) {
		case *rsa.PublicKey:
			if cfg.Method != MethodRS256 {
				return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("RSA key requires %s", MethodRS256)
			}
			i.method = jwt.SigningMethodRS256
		case *ecdsa.PublicKey:
			if cfg.Method != MethodES256 {
				return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("ECDSA key requires %s", MethodES256)
			}
			i.method = jwt.SigningMethodES256
		default:
			return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("unsupported public key type %T", pub)
		}
		i.signKey = cfg.PrivateKey
		i.verifyKey = pub
	default:
		return nil, oops.Code("TOKEN_CONFIG_INVALID").With("method", cfg.Method).Errorf("unsupported signing method")
	}

	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// IssueAccessToken signs a token for sub that expires after ttl.
func (i *Issuer) IssueAccessToken(sub Subject, ttl time.Duration) (string, error) {
	if sub.PrincipalID.Compare(ulid.ULID{}) == 0 {
		return "", oops.Code("TOKEN_ISSUE_FAILED").Errorf("principal ID cannot be zero")
	}
	if ttl <= 0 {
		return "", oops.Code("TOKEN_ISSUE_FAILED").With("ttl", ttl).Errorf("ttl must be positive")
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub.PrincipalID.String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username:    sub.Username,
		Roles:       nonNil(sub.Roles),
		Permissions: nonNil(sub.Permissions),
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.signKey)
	if err != nil {
		return "", oops.Code("TOKEN_ISSUE_FAILED").With("method", i.method.Alg()).Wrap(err)
	}
	return signed, nil
}

// VerifyAccessToken checks signature, algorithm, issuer, and expiry.
// It performs no session lookup.
func (i *Issuer) VerifyAccessToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return i.verifyKey, nil
	},
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeExpired).Errorf("access token expired")
		}
		return nil, oops.Code(CodeInvalid).With("reason", err.Error()).Errorf("invalid access token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, oops.Code(CodeInvalid).Errorf("invalid access token")
	}
	if _, err := ulid.Parse(claims.RegisteredClaims.Subject); err != nil {
		return nil, oops.Code(CodeInvalid).Errorf("access token subject is not a principal ID")
	}
	return claims, nil
}

// Method returns the JWT algorithm name in use.
func (i *Issuer) Method() string {
	return i.method.Alg()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
