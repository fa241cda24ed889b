package checkout

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"waltz/internal/content"
	werrors "waltz/internal/errors"
	"waltz/internal/snapshot"
	"waltz/shared/types"
	"waltz/shared/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	engine  *Engine
	builder *snapshot.Builder
	root    string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store, err := content.NewFileStore(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)

	builder := snapshot.NewBuilder(store, ".waltz", 2, zap.NewNop())
	return &fixture{
		engine:  NewEngine(store, builder, zap.NewNop()),
		builder: builder,
		root:    t.TempDir(),
	}
}

func (f *fixture) write(t *testing.T, files map[string]string) {
	t.Helper()
	for rel, data := range files {
		p := snapshot.Abs(f.root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(data), 0644))
	}
}

func (f *fixture) build(t *testing.T) shared.Snapshot {
	t.Helper()
	snap, err := f.builder.Build(context.Background(), f.root)
	require.NoError(t, err)
	return snap
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(snapshot.Abs(f.root, rel))
	require.NoError(t, err)
	return string(data)
}

func TestCheckout_RestoresSnapshot(t *testing.T) {
	f := setup(t)
	f.write(t, map[string]string{"a.txt": "hello", "keep.txt": "same"})
	first := f.build(t)

	f.write(t, map[string]string{"a.txt": "changed", "b.txt": "world", "dir/deep/c.txt": "new"})

	res, err := f.engine.Checkout(context.Background(), f.root, first)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt"}, res.Written)
	assert.ElementsMatch(t, []string{"b.txt", "dir/deep/c.txt"}, res.Deleted)
	assert.Equal(t, []string{"keep.txt"}, res.Unchanged)

	assert.Equal(t, "hello", f.read(t, "a.txt"))
	assert.NoFileExists(t, snapshot.Abs(f.root, "b.txt"))
	assert.NoDirExists(t, snapshot.Abs(f.root, "dir"), "emptied directories are pruned")

	assert.Equal(t, first, f.build(t))
}

func TestCheckout_RecreatesDeletedFiles(t *testing.T) {
	f := setup(t)
	f.write(t, map[string]string{"x/y/z.txt": "nested"})
	snap := f.build(t)

	require.NoError(t, os.RemoveAll(snapshot.Abs(f.root, "x")))

	res, err := f.engine.Checkout(context.Background(), f.root, snap)
	require.NoError(t, err)
	assert.Equal(t, []string{"x/y/z.txt"}, res.Written)
	assert.Equal(t, "nested", f.read(t, "x/y/z.txt"))

	info, err := os.Stat(snapshot.Abs(f.root, "x/y/z.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestCheckout_EmptySnapshotClearsTree(t *testing.T) {
	f := setup(t)
	f.write(t, map[string]string{"a": "1", "d/b": "2", ".waltz/history.json": "[]"})

	_, err := f.engine.Checkout(context.Background(), f.root, shared.Snapshot{})
	require.NoError(t, err)

	assert.Empty(t, f.build(t))
	assert.FileExists(t, snapshot.Abs(f.root, ".waltz/history.json"), "metadata is never touched")
}

func TestCheckout_FileDirectoryConflicts(t *testing.T) {
	f := setup(t)

	// "p" is a file in the target but a directory in the tree.
	f.write(t, map[string]string{"p": "file"})
	fileSnap := f.build(t)
	require.NoError(t, os.Remove(snapshot.Abs(f.root, "p")))
	f.write(t, map[string]string{"p/inner.txt": "dir"})

	_, err := f.engine.Checkout(context.Background(), f.root, fileSnap)
	require.NoError(t, err)
	assert.Equal(t, "file", f.read(t, "p"))

	// And the other way around.
	require.NoError(t, os.Remove(snapshot.Abs(f.root, "p")))
	f.write(t, map[string]string{"p/inner.txt": "dir"})
	dirSnap := f.build(t)
	require.NoError(t, os.RemoveAll(snapshot.Abs(f.root, "p")))
	f.write(t, map[string]string{"p": "file"})

	_, err = f.engine.Checkout(context.Background(), f.root, dirSnap)
	require.NoError(t, err)
	assert.Equal(t, "dir", f.read(t, "p/inner.txt"))
	assert.Equal(t, dirSnap, f.build(t))
}

func TestCheckout_MissingContentLeavesTreeUntouched(t *testing.T) {
	f := setup(t)
	f.write(t, map[string]string{"a.txt": "current", "extra.txt": "stays"})

	target := shared.Snapshot{
		"a.txt": utils.HashContent([]byte("never stored")),
	}

	_, err := f.engine.Checkout(context.Background(), f.root, target)
	assert.ErrorIs(t, err, werrors.ErrContentMissing)

	assert.Equal(t, "current", f.read(t, "a.txt"))
	assert.Equal(t, "stays", f.read(t, "extra.txt"))
}

func TestCheckout_InvalidHash(t *testing.T) {
	f := setup(t)
	_, err := f.engine.Checkout(context.Background(), f.root, shared.Snapshot{"a": "bogus"})
	assert.ErrorIs(t, err, werrors.ErrContentMissing)
}

func TestCheckout_NoopWhenClean(t *testing.T) {
	f := setup(t)
	f.write(t, map[string]string{"a": "1", "b/c": "2"})
	snap := f.build(t)

	res, err := f.engine.Checkout(context.Background(), f.root, snap)
	require.NoError(t, err)
	assert.Empty(t, res.Written)
	assert.Empty(t, res.Deleted)
	assert.Equal(t, []string{"a", "b/c"}, res.Unchanged)
}

func TestCheckout_DoesNotFollowSymlinkedParents(t *testing.T) {
	f := setup(t)
	f.write(t, map[string]string{"p/x.txt": "inside"})
	snap := f.build(t)

	outside := t.TempDir()
	require.NoError(t, os.RemoveAll(snapshot.Abs(f.root, "p")))
	require.NoError(t, os.Symlink(outside, snapshot.Abs(f.root, "p")))

	_, err := f.engine.Checkout(context.Background(), f.root, snap)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(outside, "x.txt"))
	info, err := os.Lstat(snapshot.Abs(f.root, "p"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "inside", f.read(t, "p/x.txt"))
}

func TestCheckout_KeepsUntrackedContentInConflictingDirectory(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, dir string)
	}{
		{"nested repository", func(t *testing.T, dir string) {
			require.NoError(t, os.MkdirAll(filepath.Join(dir, ".waltz", "precious"), 0755))
			require.NoError(t, os.WriteFile(filepath.Join(dir, ".waltz", "history.json"), []byte("[]"), 0644))
		}},
		{"untracked symlink", func(t *testing.T, dir string) {
			require.NoError(t, os.MkdirAll(dir, 0755))
			require.NoError(t, os.Symlink(t.TempDir(), filepath.Join(dir, "link")))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.write(t, map[string]string{"sub": "file", "a.txt": "current"})
			snap := f.build(t)

			require.NoError(t, os.Remove(snapshot.Abs(f.root, "sub")))
			f.write(t, map[string]string{"sub/tracked.txt": "tracked", "a.txt": "changed"})
			tt.prepare(t, snapshot.Abs(f.root, "sub"))
			before := f.build(t)

			_, err := f.engine.Checkout(context.Background(), f.root, snap)
			assert.ErrorIs(t, err, werrors.ErrIO)
			assert.ErrorContains(t, err, snapshot.Abs(f.root, "sub"))

			assert.Equal(t, before, f.build(t), "tree must be untouched")
			assert.Equal(t, "changed", f.read(t, "a.txt"))
			assert.DirExists(t, snapshot.Abs(f.root, "sub"))
		})
	}
}

func TestCheckout_ReplacesDirectoryOfEmptyDirectories(t *testing.T) {
	f := setup(t)
	f.write(t, map[string]string{"sub": "file"})
	snap := f.build(t)

	require.NoError(t, os.Remove(snapshot.Abs(f.root, "sub")))
	require.NoError(t, os.MkdirAll(snapshot.Abs(f.root, "sub/empty/deeper"), 0755))

	_, err := f.engine.Checkout(context.Background(), f.root, snap)
	require.NoError(t, err)
	assert.Equal(t, "file", f.read(t, "sub"))
}

func TestCheckout_RejectsMetadataPaths(t *testing.T) {
	f := setup(t)
	f.write(t, map[string]string{".waltz/history.json": "[]"})

	for _, rel := range []string{".waltz", ".waltz/history.json", "sub/.waltz/x"} {
		_, err := f.engine.Checkout(context.Background(), f.root, shared.Snapshot{rel: utils.HashContent([]byte("x"))})
		assert.ErrorIs(t, err, werrors.ErrValidation, rel)
	}
	assert.Equal(t, "[]", f.read(t, ".waltz/history.json"))
}
