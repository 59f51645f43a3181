package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteArgs(t *testing.T, extra ...string) []string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cashbook.db")
	return append([]string{"-backend", "sqlite", "-db", dbPath}, extra...)
}

func TestRun_Success(t *testing.T) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	err := run(sqliteArgs(t, "-user", "alice", "-password", "secret1"), new(bytes.Buffer), stdout, stderr)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "User alice created successfully")
}

func TestRun_DuplicateUser(t *testing.T) {
	args := sqliteArgs(t, "-user", "alice", "-password", "secret1")

	require.NoError(t, run(args, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)))

	err := run(args, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Username already exists")
}

func TestRun_ValidationRulesApply(t *testing.T) {
	err := run(sqliteArgs(t, "-user", "al", "-password", "secret1"), new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestRun_MissingUserFlag(t *testing.T) {
	stdout := new(bytes.Buffer)

	err := run([]string{"-password", "secret1"}, new(bytes.Buffer), stdout, new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required flags: user")
	assert.Contains(t, stdout.String(), "Usage:")
}

func TestRun_MemoryBackendRejected(t *testing.T) {
	err := run([]string{"-backend", "memory", "-user", "alice", "-password", "secret1"},
		new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not persist")
}

func TestRun_InteractivePassword(t *testing.T) {
	stdout := new(bytes.Buffer)
	stdin := bytes.NewBufferString("interactive_secret\n")

	err := run(sqliteArgs(t, "-user", "interactive_user"), stdin, stdout, new(bytes.Buffer))
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "Password: ")
	assert.Contains(t, stdout.String(), "User interactive_user created successfully")
}

func TestRun_EmptyStdin(t *testing.T) {
	err := run(sqliteArgs(t, "-user", "alice"), new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read password")
}
