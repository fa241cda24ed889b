// Package checkout makes a working tree match a snapshot.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"waltz/internal/content"
	werrors "waltz/internal/errors"
	"waltz/internal/snapshot"
	"waltz/shared/types"
	"waltz/shared/utils"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Result lists the tracked paths a checkout touched.
type Result struct {
	Written   []string
	Deleted   []string
	Unchanged []string
}

type Engine struct {
	Store   content.Store
	Builder *snapshot.Builder
	Logger  *zap.Logger
}

func NewEngine(store content.Store, builder *snapshot.Builder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Store:   store,
		Builder: builder,
		Logger:  logger,
	}
}

type plan struct {
	write     []string
	remove    []string
	unchanged []string
}

var errUntracked = errors.New("directory holds untracked content")

// Checkout rewrites root so that its snapshot equals target. Every blob
// that has to be written is loaded and verified before the tree is
// modified; a missing blob leaves the tree untouched. Only tracked files
// are ever deleted.
func (e *Engine) Checkout(ctx context.Context, root string, target shared.Snapshot) (*Result, error) {
	for rel := range target {
		if !snapshot.ValidPath(rel, e.Builder.MetaDir) {
			return nil, werrors.ValidationError(fmt.Sprintf("unsafe snapshot path %q", rel), rel)
		}
	}

	current, err := e.Builder.Hashes(ctx, root)
	if err != nil {
		return nil, err
	}

	p := diffTree(current, target)

	if err := e.checkDirConflicts(root, p); err != nil {
		return nil, err
	}

	blobs, err := e.fetch(ctx, p.write, target)
	if err != nil {
		return nil, err
	}

	for _, rel := range p.remove {
		if err := e.remove(root, rel); err != nil {
			return nil, err
		}
	}

	for _, rel := range p.write {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.write(root, rel, blobs[rel]); err != nil {
			return nil, err
		}
	}

	e.Logger.Debug("checkout complete",
		zap.String("root", root),
		zap.Int("written", len(p.write)),
		zap.Int("deleted", len(p.remove)),
		zap.Int("unchanged", len(p.unchanged)))

	return &Result{
		Written:   p.write,
		Deleted:   p.remove,
		Unchanged: p.unchanged,
	}, nil
}

func diffTree(current, target shared.Snapshot) plan {
	p := plan{
		write:     []string{},
		remove:    []string{},
		unchanged: []string{},
	}

	for rel, hash := range target {
		if current[rel] == hash {
			p.unchanged = append(p.unchanged, rel)
		} else {
			p.write = append(p.write, rel)
		}
	}
	for rel := range current {
		if _, ok := target[rel]; !ok {
			p.remove = append(p.remove, rel)
		}
	}

	sort.Strings(p.write)
	sort.Strings(p.unchanged)
	// Deepest paths first so that pruning walks up cleanly.
	sort.Sort(sort.Reverse(sort.StringSlice(p.remove)))
	return p
}

// checkDirConflicts fails when a file has to be written where a directory
// holds anything besides tracked files this checkout removes.
func (e *Engine) checkDirConflicts(root string, p plan) error {
	removed := make(map[string]bool, len(p.remove))
	for _, rel := range p.remove {
		removed[rel] = true
	}

	for _, rel := range p.write {
		abs := snapshot.Abs(root, rel)
		info, err := os.Lstat(abs)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return werrors.IO("checking", abs, err)
		}
		if !info.IsDir() {
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == e.Builder.MetaDir {
					return errUntracked
				}
				return nil
			}
			relPath, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if !removed[filepath.ToSlash(relPath)] {
				return errUntracked
			}
			return nil
		})
		if err != nil {
			return werrors.IO("replacing directory", abs, err)
		}
	}
	return nil
}

func (e *Engine) fetch(ctx context.Context, paths []string, target shared.Snapshot) (map[string][]byte, error) {
	var mu sync.Mutex
	blobs := make(map[string][]byte, len(paths))

	workers := 1
	if e.Builder != nil {
		workers = e.Builder.Workers
	}

	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx).WithCancelOnError()
	for _, rel := range paths {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			hash := target[rel]
			if !utils.IsValidHash(hash) {
				return werrors.ContentMissing(hash, "is not a valid content hash")
			}
			data, err := e.Store.Get(hash)
			if err != nil {
				if errors.Is(err, content.ErrContentNotFound) {
					return werrors.ContentMissing(hash, "is not in the content store")
				}
				return err
			}

			mu.Lock()
			blobs[rel] = data
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, fmt.Errorf("loading content for checkout: %w", err)
	}
	return blobs, nil
}

func (e *Engine) remove(root, rel string) error {
	abs := snapshot.Abs(root, rel)
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return werrors.IO("removing", abs, err)
	}
	e.Logger.Debug("removed", zap.String("path", rel))

	// Prune directories the removal left empty, stopping at root.
	root = filepath.Clean(root)
	for dir := filepath.Dir(abs); dir != root && len(dir) > len(root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

func (e *Engine) write(root, rel string, data []byte) error {
	abs := snapshot.Abs(root, rel)

	if info, err := os.Lstat(abs); err == nil && info.IsDir() {
		if err := removeEmptyTree(abs); err != nil {
			return werrors.IO("replacing directory", abs, err)
		}
	}

	if err := clearParents(root, rel); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return werrors.IO("creating directory for", abs, err)
	}
	if err := utils.WriteFileAtomic(abs, data, 0644); err != nil {
		return werrors.IO("writing", abs, err)
	}
	e.Logger.Debug("wrote", zap.String("path", rel), zap.Int("bytes", len(data)))
	return nil
}

// removeEmptyTree removes dir and the empty directories below it. It fails
// instead of deleting a file.
func removeEmptyTree(dir string) error {
	var dirs []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err != nil {
			return err
		}
	}
	return nil
}

// clearParents removes any non-directory, such as an untracked symlink,
// sitting where a parent directory of rel belongs. MkdirAll would
// otherwise follow it out of the tree.
func clearParents(root, rel string) error {
	dir := root
	parts := strings.Split(rel, "/")
	for _, part := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, part)
		info, err := os.Lstat(dir)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil
		case err != nil:
			return werrors.IO("checking", dir, err)
		case !info.IsDir():
			if err := os.Remove(dir); err != nil {
				return werrors.IO("replacing", dir, err)
			}
			return nil
		}
	}
	return nil
}
