package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/nodeflow/internal/app"
	"github.com/vk/nodeflow/internal/cli"
)

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), &bytes.Buffer{}, []string{"--this-is-not-a-valid-flag"})

	require.Error(t, err)
	assert.Equal(t, app.ExitPreStart, exitCode(err))
	require.Contains(t, err.Error(), "unknown flag: --this-is-not-a-valid-flag")
}

func TestRun_LoadError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflow.hcl"), []byte("nodes {\n"), 0o600))

	err := run(context.Background(), &bytes.Buffer{}, []string{"--nosave", dir})

	require.Error(t, err)
	assert.Equal(t, app.ExitLoad, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, app.ExitSuccess, exitCode(nil))
	assert.Equal(t, 2, exitCode(&cli.ExitError{Code: 2, Message: "bad"}))
	assert.Equal(t, app.ExitWarning, exitCode(&app.RunError{Code: app.ExitWarning, Err: errors.New("warn")}))
	assert.Equal(t, app.ExitExecution, exitCode(errors.New("other")))
}
