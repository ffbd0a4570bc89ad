// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// execute runs the root command with args and returns its combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeIn(t, t.TempDir(), args...)
}

// executeIn is execute with XDG_CONFIG_HOME pointed at configHome.
func executeIn(t *testing.T, configHome string, args ...string) (string, error) {
	t.Helper()
	configFile = ""
	t.Setenv("XDG_CONFIG_HOME", configHome)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCmd_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"serve", "migrate", "principal", "status", "keygen"} {
		assert.Contains(t, out, sub)
	}
	assert.Contains(t, out, "--config")
	assert.Contains(t, out, "--session-store")
}

func TestRootCmd_SubcommandTree(t *testing.T) {
	root := NewRootCmd()

	for _, path := range [][]string{
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "version"},
		{"migrate", "steps"},
		{"migrate", "force"},
		{"principal", "create"},
		{"principal", "roles"},
		{"principal", "activate"},
		{"principal", "verify-email"},
		{"principal", "sessions"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, "path %v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestRootCmd_DefaultConfigFile(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "warden"), 0o700))
	require.NoError(t, os.WriteFile(
		filepath.Join(home, "warden", "config.yaml"),
		[]byte("database_url: postgres://from-xdg/warden\n"),
		0o600,
	))

	f := &fakeMigrator{}
	url := useFakeMigrator(t, f)

	_, err := executeIn(t, home, "migrate", "up")
	require.NoError(t, err)
	assert.Equal(t, "postgres://from-xdg/warden", *url)
}

func TestRootCmd_ExplicitConfigWinsOverDefault(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "warden"), 0o700))
	require.NoError(t, os.WriteFile(
		filepath.Join(home, "warden", "config.yaml"),
		[]byte("database_url: postgres://from-xdg/warden\n"),
		0o600,
	))
	explicit := filepath.Join(t.TempDir(), "explicit.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("database_url: postgres://explicit/warden\n"), 0o600))

	f := &fakeMigrator{}
	url := useFakeMigrator(t, f)

	_, err := executeIn(t, home, "--config", explicit, "migrate", "up")
	require.NoError(t, err)
	assert.Equal(t, "postgres://explicit/warden", *url)
}
