package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvdb/pkg/dberrors"
)

func kvctl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestKvctl_LocalFile(t *testing.T) {
	file := "-file=" + filepath.Join(t.TempDir(), "kv.db")

	_, err := kvctl(t, file, "add", `"user:1"`, `{"name":"ann"}`)
	require.NoError(t, err)
	_, err = kvctl(t, file, "add", `[2,"b"]`, `true`)
	require.NoError(t, err)

	_, err = kvctl(t, file, "add", `"user:1"`, `1`)
	assert.True(t, errors.Is(err, dberrors.ErrAlreadyExists), "got %v", err)

	out, err := kvctl(t, file, "update", `"user:1"`, `{"name":"bob"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"user:1","value":{"name":"bob"}}`, out)

	out, err = kvctl(t, file, "get", `"user:1"`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"user:1","value":{"name":"bob"}}`, out)

	out, err = kvctl(t, file, "scan")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	out, err = kvctl(t, file, "delete", `[2,"b"]`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":[2,"b"],"value":true}`, out)

	_, err = kvctl(t, file, "get", `[2,"b"]`)
	assert.True(t, errors.Is(err, dberrors.ErrNotFound), "got %v", err)

	// the hash engine rebuilds the same view of the file
	out, err = kvctl(t, "-index=hashmap", file, "get", `"user:1"`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"user:1","value":{"name":"bob"}}`, out)
}

func TestKvctl_BadUsage(t *testing.T) {
	file := "-file=" + filepath.Join(t.TempDir(), "kv.db")

	for _, args := range [][]string{
		{file},
		{file, "frobnicate"},
		{file, "add", `"k"`},
		{file, "get"},
		{file, "get", `{not json`},
		{"-index=btree", file, "scan"},
	} {
		_, err := kvctl(t, args...)
		assert.Error(t, err, "%v", args)
	}
}
