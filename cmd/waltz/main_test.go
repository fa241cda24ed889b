package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	werrors "waltz/internal/errors"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_Workflow(t *testing.T) {
	root := t.TempDir()
	write := func(rel, data string) {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(data), 0644))
	}

	out, err := run(t, "init", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized empty Waltz repository in "+filepath.Join(root, ".waltz"))

	out, err = run(t, "init", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Reinitialized existing Waltz repository")

	write("a.txt", "hello\n")
	out, err = run(t, "commit", root, "first")
	require.NoError(t, err)
	assert.Equal(t, "[0] Commit successful: first\n", out)

	write("a.txt", "hello world\n")
	write("b.txt", "world\n")
	out, err = run(t, "status", root)
	require.NoError(t, err)
	assert.Contains(t, out, "A b.txt")
	assert.Contains(t, out, "M a.txt")

	_, err = run(t, "commit", root, "second")
	require.NoError(t, err)

	out, err = run(t, "log", root)
	require.NoError(t, err)
	assert.Contains(t, out, "commit 0\nTimestamp: ")
	assert.Contains(t, out, "Message: first\n")
	assert.Contains(t, out, "Message: second\n")

	out, err = run(t, "diff", root, "0", "1")
	require.NoError(t, err)
	assert.Equal(t, "Files added: [b.txt]\nFiles removed: []\nFiles modified: [a.txt]\n", out)

	out, err = run(t, "diff", "--patch", root, "0", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "diff --waltz a/a.txt b/a.txt (modified)")
	assert.Contains(t, out, "- hello\n")
	assert.Contains(t, out, "+ hello world\n")

	out, err = run(t, "checkout", root, "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Checked out to commit 0 - first")
	assert.Contains(t, out, "1 written, 1 deleted, 0 unchanged")

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
	assert.NoFileExists(t, filepath.Join(root, "b.txt"))

	out, err = run(t, "verify", root)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 2 commits, 3 blobs")
}

func TestCLI_Errors(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name string
		args []string
		want error
		code int
	}{
		{"not a repository", []string{"log", root}, werrors.ErrRepositoryNotFound, 66},
		{"missing args", []string{"commit", root}, werrors.ErrValidation, 64},
		{"non-integer index", []string{"checkout", root, "abc"}, werrors.ErrValidation, 64},
		{"bad log level", []string{"--log-level", "loud", "log", root}, werrors.ErrValidation, 64},
		{"negative index read as flag", []string{"checkout", root, "-1"}, werrors.ErrValidation, 64},
		{"unknown flag", []string{"diff", "--nope", root, "0", "1"}, werrors.ErrValidation, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.code, werrors.ExitCode(err))
		})
	}

	t.Run("index out of range", func(t *testing.T) {
		_, err := run(t, "init", root)
		require.NoError(t, err)

		_, err = run(t, "checkout", root, "0")
		assert.ErrorIs(t, err, werrors.ErrIndex)

		_, err = run(t, "diff", root, "0", "5")
		assert.ErrorIs(t, err, werrors.ErrIndex)

		_, err = run(t, "checkout", "--", root, "-1")
		assert.ErrorIs(t, err, werrors.ErrIndex)
		assert.Equal(t, 64, werrors.ExitCode(err))
	})
}

func TestCLI_VerifyReportsMissingContent(t *testing.T) {
	root := t.TempDir()
	_, err := run(t, "init", root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("data"), 0644))
	_, err = run(t, "commit", root, "c")
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(root, ".waltz", "objects")))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".waltz", "objects"), 0755))

	out, err := run(t, "verify", root)
	assert.ErrorIs(t, err, werrors.ErrContentMissing)
	assert.Equal(t, 65, werrors.ExitCode(err))
	assert.Contains(t, out, "commit 0: a.txt")
}
