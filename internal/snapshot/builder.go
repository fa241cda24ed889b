// Package snapshot walks a working tree and records the content hash of
// every tracked file.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"waltz/internal/content"
	werrors "waltz/internal/errors"
	"waltz/shared/types"
	"waltz/shared/utils"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Builder produces snapshots of a working tree. Any directory named
// MetaDir, at any depth, is never tracked.
type Builder struct {
	Store   content.Store
	MetaDir string
	Workers int
	Logger  *zap.Logger
}

func NewBuilder(store content.Store, metaDir string, workers int, logger *zap.Logger) *Builder {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		Store:   store,
		MetaDir: metaDir,
		Workers: workers,
		Logger:  logger,
	}
}

// Scan returns the tracked paths under root, '/'-separated and sorted.
func (b *Builder) Scan(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return werrors.IO("walking", p, err)
		}

		if d.IsDir() {
			if p != root && d.Name() == b.MetaDir {
				return fs.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			b.Logger.Debug("skipping non-regular file", zap.String("path", p))
			return nil
		}

		relPath, err := filepath.Rel(root, p)
		if err != nil {
			return werrors.IO("resolving", p, err)
		}
		paths = append(paths, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

// Build hashes every tracked file under root, stores content the store
// does not hold yet and returns the snapshot. Any read failure aborts the
// whole build.
func (b *Builder) Build(ctx context.Context, root string) (shared.Snapshot, error) {
	return b.hashTree(ctx, root, func(absPath string) (string, error) {
		data, err := os.ReadFile(absPath)
		if err != nil {
			return "", werrors.IO("reading", absPath, err)
		}
		hash, err := b.Store.Store(data)
		if err != nil {
			if errors.Is(err, werrors.ErrIO) {
				return "", err
			}
			return "", werrors.IO("storing", absPath, err)
		}
		return hash, nil
	})
}

// Hashes computes the snapshot of root without writing to the store.
func (b *Builder) Hashes(ctx context.Context, root string) (shared.Snapshot, error) {
	return b.hashTree(ctx, root, func(absPath string) (string, error) {
		hash, err := utils.HashFile(absPath)
		if err != nil {
			return "", werrors.IO("reading", absPath, err)
		}
		return hash, nil
	})
}

func (b *Builder) hashTree(ctx context.Context, root string, hashFile func(string) (string, error)) (shared.Snapshot, error) {
	paths, err := b.Scan(root)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	snap := make(shared.Snapshot, len(paths))

	p := pool.New().WithMaxGoroutines(b.Workers).WithContext(ctx).WithCancelOnError()
	for _, rel := range paths {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			hash, err := hashFile(Abs(root, rel))
			if err != nil {
				return err
			}

			mu.Lock()
			snap[rel] = hash
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, fmt.Errorf("building snapshot of %s: %w", root, err)
	}

	b.Logger.Debug("snapshot built",
		zap.String("root", root),
		zap.Int("files", len(snap)))
	return snap, nil
}

// Abs joins a '/'-separated snapshot path onto root.
func Abs(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

// ValidPath reports whether rel is a clean, relative, '/'-separated path
// that stays inside the working tree and never enters a directory named
// metaDir.
func ValidPath(rel, metaDir string) bool {
	if rel == "" || rel == "." || path.IsAbs(rel) || filepath.IsAbs(filepath.FromSlash(rel)) {
		return false
	}
	if path.Clean(rel) != rel {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if part == metaDir {
			return false
		}
	}
	return true
}
