// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth owns principals and their credentials.
//
// # Domain Types
//
// Principal and PasswordReset should be created through their constructors:
//   - NewPrincipal - validates username and email and assigns an ID
//   - NewPasswordReset - validates the owning principal and expiry
//
// Repository implementations receive pre-validated values.
//
// # Service
//
// Service is the credential store. It verifies logins, mints token pairs
// through a token issuer, records sessions in a session registry, and runs
// the password change and reset flows. Every password mutation invalidates
// all sessions of the affected principal.
//
// Login failures for unknown principals and wrong passwords share one error
// code so that callers cannot discover account existence. Logs keep the two
// apart.
package auth
