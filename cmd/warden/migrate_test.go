// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/warden/pkg/errutil"
)

type fakeMigrator struct {
	version uint
	dirty   bool
	calls   []string
	upErr   error
	closed  bool
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	if f.upErr != nil {
		return f.upErr
	}
	f.version = 3
	return nil
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	f.version = 0
	return nil
}

func (f *fakeMigrator) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	f.version = uint(int(f.version) + n) //nolint:gosec // test values stay small
	return nil
}

func (f *fakeMigrator) Version() (uint, bool, error) { return f.version, f.dirty, nil }

func (f *fakeMigrator) Force(v int) error {
	f.calls = append(f.calls, "force")
	f.version = uint(v) //nolint:gosec // test values stay small
	f.dirty = false
	return nil
}

func (f *fakeMigrator) PendingMigrations() ([]uint, error) {
	var out []uint
	for v := f.version + 1; v <= 3; v++ {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeMigrator) AppliedMigrations() ([]uint, error) {
	var out []uint
	for v := uint(1); v <= f.version; v++ {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeMigrator) Close() error {
	f.closed = true
	return nil
}

func useFakeMigrator(t *testing.T, f *fakeMigrator) *string {
	t.Helper()
	var gotURL string
	original := newMigrator
	newMigrator = func(url string) (migrator, error) {
		gotURL = url
		return f, nil
	}
	t.Cleanup(func() { newMigrator = original })
	return &gotURL
}

func TestMigrate_Up(t *testing.T) {
	f := &fakeMigrator{}
	url := useFakeMigrator(t, f)

	out, err := execute(t, "migrate", "up", "--database-url", "postgres://localhost/warden")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/warden", *url)
	assert.Equal(t, []string{"up"}, f.calls)
	assert.Contains(t, out, "schema version 3 (clean, 3 applied)")
	assert.True(t, f.closed)
}

func TestMigrate_VersionListsPending(t *testing.T) {
	f := &fakeMigrator{version: 1}
	useFakeMigrator(t, f)

	out, err := execute(t, "migrate", "version", "--database-url", "postgres://localhost/warden")
	require.NoError(t, err)

	assert.Contains(t, out, "schema version 1 (clean, 1 applied)")
	assert.Contains(t, out, "pending: 000002_password_resets")
	assert.Contains(t, out, "pending: 000003_sessions")
}

func TestMigrate_StepsAndForce(t *testing.T) {
	f := &fakeMigrator{version: 3, dirty: true}
	useFakeMigrator(t, f)

	out, err := execute(t, "migrate", "force", "2", "--database-url", "postgres://x")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 2 (clean")

	out, err = execute(t, "migrate", "steps", "--database-url", "postgres://x", "--", "-1")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 1 (clean")

	_, err = execute(t, "migrate", "steps", "many", "--database-url", "postgres://x")
	errutil.AssertErrorCode(t, err, "INVALID_ARGUMENT")
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	useFakeMigrator(t, &fakeMigrator{})

	_, err := execute(t, "migrate", "up")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestMigrate_PropagatesFailureAndCloses(t *testing.T) {
	f := &fakeMigrator{upErr: errors.New("dirty database")}
	useFakeMigrator(t, f)

	_, err := execute(t, "migrate", "up", "--database-url", "postgres://x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dirty database")
	assert.True(t, f.closed)
}
