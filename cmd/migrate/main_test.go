package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLintEmbedded(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"lint"}, &out))
	assert.Equal(t, "migrations ok\n", out.String())
}

func TestRunNewThenLintDir(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"new", "-dir", dir, "add rating index"}, &out))

	path := strings.TrimSpace(out.String())
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, "_add_rating_index.sql"))
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, run(context.Background(), []string{"lint", "-dir", dir}, &bytes.Buffer{}))
}

func TestRunRejectsBadUsage(t *testing.T) {
	for _, args := range [][]string{nil, {"sideways"}, {"new"}, {"to"}} {
		err := run(context.Background(), args, &bytes.Buffer{})
		assert.ErrorIs(t, err, errUsage, "args %v", args)
	}
	assert.Error(t, run(context.Background(), []string{"to", "yesterday"}, &bytes.Buffer{}))
}
