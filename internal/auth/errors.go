// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// Error codes returned by Service. Callers match on these with
// oops.AsOops(err).Code() rather than on message text.
const (
	CodeInvalidCredentials    = "AUTH_INVALID_CREDENTIALS"
	CodeAccountInactive       = "AUTH_ACCOUNT_INACTIVE"
	CodeEmailNotVerified      = "AUTH_EMAIL_NOT_VERIFIED"
	CodeInvalidOrExpiredToken = "AUTH_INVALID_OR_EXPIRED_TOKEN"
	CodeNoOpChange            = "AUTH_NO_OP_CHANGE"
	CodeConfirmationMismatch  = "AUTH_CONFIRMATION_MISMATCH"
	CodePrincipalNotFound     = "PRINCIPAL_NOT_FOUND"
	CodePrincipalExists       = "PRINCIPAL_EXISTS"
	CodeInternal              = "AUTH_INTERNAL"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrExists is returned when creating an entity that collides with an existing one.
var ErrExists = errors.New("already exists")
