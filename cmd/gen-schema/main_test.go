// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/warden/internal/access"
	"github.com/holomush/warden/pkg/errutil"
)

func TestRun_WritesSchema(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "catalog.schema.json")
	var stdout bytes.Buffer

	require.NoError(t, run([]string{"--out", out}, &stdout))
	assert.Contains(t, stdout.String(), "Generated "+out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, access.SchemaID, doc["$id"])
}

func TestRun_Check(t *testing.T) {
	out := filepath.Join(t.TempDir(), "catalog.schema.json")

	err := run([]string{"--out", out, "--check"}, &bytes.Buffer{})
	errutil.AssertErrorCode(t, err, "SCHEMA_STALE")

	require.NoError(t, run([]string{"--out", out}, &bytes.Buffer{}))
	var stdout bytes.Buffer
	require.NoError(t, run([]string{"--out", out, "--check"}, &stdout))
	assert.Contains(t, stdout.String(), "up to date")

	require.NoError(t, os.WriteFile(out, []byte("{}"), 0o600))
	err = run([]string{"--out", out, "--check"}, &bytes.Buffer{})
	errutil.AssertErrorCode(t, err, "SCHEMA_STALE")
}

func TestRun_BadFlag(t *testing.T) {
	err := run([]string{"--nope"}, &bytes.Buffer{})
	errutil.AssertErrorCode(t, err, "INVALID_ARGUMENT")
}
