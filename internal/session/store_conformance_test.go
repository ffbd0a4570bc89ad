// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session_test

import (
	"testing"

	"github.com/holomush/warden/internal/session"
	"github.com/holomush/warden/internal/session/sessiontest"
)

func TestMemoryStore_Conformance(t *testing.T) {
	sessiontest.RunStoreTests(t, func(*testing.T) session.Store {
		return session.NewMemoryStoreWithShards(4)
	})
}
