// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/warden/internal/token"
	"github.com/holomush/warden/pkg/errutil"
)

func TestKeygen_WritesUsableKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rs.pem")

	out, err := execute(t, "keygen", "--method", "RS256", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote RS256 key to "+path)

	_, err = token.ParsePrivateKey(path)
	require.NoError(t, err)

	_, err = execute(t, "keygen", "--method", "RS256", "--out", path)
	errutil.AssertErrorCode(t, err, "TOKEN_KEY_SAVE_FAILED")
}

func TestKeygen_DefaultsToConfigDir(t *testing.T) {
	home := t.TempDir()

	out, err := executeIn(t, home, "keygen")
	require.NoError(t, err)

	want := filepath.Join(home, "warden", "signing.pem")
	assert.Contains(t, out, want)
	_, err = token.ParsePrivateKey(want)
	require.NoError(t, err)
}

func TestKeygen_RejectsSymmetricMethod(t *testing.T) {
	_, err := execute(t, "keygen", "--method", "HS256", "--out", filepath.Join(t.TempDir(), "k.pem"))
	errutil.AssertErrorCode(t, err, "TOKEN_KEYGEN_FAILED")
}
