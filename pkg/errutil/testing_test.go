// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/warden/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	errutil.AssertErrorCode(t, oops.Code("SESSION_NOT_FOUND").Errorf("no session"), "SESSION_NOT_FOUND")
}

func TestAssertErrorCode_DeepestCodeWins(t *testing.T) {
	err := oops.With("operation", "rotate").Wrap(oops.Code("SESSION_CONFLICT").Errorf("stale hash"))
	errutil.AssertErrorCode(t, err, "SESSION_CONFLICT")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("principal_id", "01HZ").Errorf("inactive")
	errutil.AssertErrorContext(t, err, "principal_id", "01HZ")
}

func TestAssertNoErrorContext(t *testing.T) {
	err := oops.With("username", "ada").Errorf("bad credentials")
	errutil.AssertNoErrorContext(t, err, "password", "refresh_token")
}
