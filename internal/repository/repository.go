// internal/repository/repository.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"waltz/internal/checkout"
	"waltz/internal/config"
	"waltz/internal/diff"
	werrors "waltz/internal/errors"
	"waltz/internal/history"
	"waltz/internal/safe"
	"waltz/internal/snapshot"
	"waltz/shared/types"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	MetaDir     = ".waltz"
	HistoryFile = "history.json"
	ObjectsDir  = "objects"
	DBDir       = "db"
	ConfigFile  = "config.json"
)

// patchContext is the number of unchanged lines shown around each hunk.
const patchContext = 3

// Repository ties a working tree to its metadata directory. Only one
// Repository may be open per root at a time: the content index holds a
// directory lock until Close.
type Repository struct {
	Root   string
	Config *config.Config
	Logger *zap.Logger

	DB       *badger.DB
	Safe     *safe.Safe
	History  *history.Log
	Builder  *snapshot.Builder
	Checkout *checkout.Engine
}

// MetaPath returns the metadata directory of the repository rooted at root.
func MetaPath(root string) string {
	return filepath.Join(root, MetaDir)
}

// ConfigPath returns the optional config file of the repository at root.
func ConfigPath(root string) string {
	return filepath.Join(MetaPath(root), ConfigFile)
}

// Initialize creates the metadata layout under root. It is idempotent and
// never resets an existing history; created reports whether a new history
// was written.
func Initialize(root string) (bool, error) {
	meta := MetaPath(root)

	dirs := []string{
		meta,
		filepath.Join(meta, ObjectsDir),
		filepath.Join(meta, DBDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, werrors.IO("creating directory", dir, err)
		}
	}

	return history.Create(filepath.Join(meta, HistoryFile))
}

// Open opens the repository rooted at root. A nil logger discards output.
func Open(root string, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, werrors.IO("resolving", root, err)
	}
	meta := MetaPath(absRoot)

	info, err := os.Stat(meta)
	if err != nil || !info.IsDir() {
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil, werrors.RepositoryNotFound(absRoot)
		}
		return nil, werrors.IO("opening", meta, err)
	}

	log, err := history.Open(filepath.Join(meta, HistoryFile), absRoot, MetaDir)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(ConfigPath(absRoot))
	if err != nil {
		return nil, werrors.ValidationError(err.Error(), ConfigPath(absRoot))
	}

	// Repositories created by older tools carry only the history file.
	dbDir := filepath.Join(meta, DBDir)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, werrors.IO("creating directory", dbDir, err)
	}

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = nil // Disable logging noise

	db, err := badger.Open(opts)
	if err != nil {
		return nil, werrors.IO("opening content index", dbDir, err)
	}

	contentSafe, err := safe.New(db, safe.Options{
		Root:      filepath.Join(meta, ObjectsDir),
		CacheSize: cfg.Store.CacheSize,
	})
	if err != nil {
		db.Close()
		return nil, werrors.IO("opening content store", filepath.Join(meta, ObjectsDir), err)
	}

	builder := snapshot.NewBuilder(contentSafe, MetaDir, cfg.Snapshot.Workers, logger)

	logger.Debug("repository opened",
		zap.String("root", absRoot),
		zap.Int("workers", cfg.Snapshot.Workers))

	return &Repository{
		Root:     absRoot,
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Safe:     contentSafe,
		History:  log,
		Builder:  builder,
		Checkout: checkout.NewEngine(contentSafe, builder, logger),
	}, nil
}

// Close releases the content index and its lock.
func (r *Repository) Close() error {
	if r.DB == nil {
		return nil
	}
	err := r.DB.Close()
	r.DB = nil
	if err != nil {
		return werrors.IO("closing content index", filepath.Join(MetaPath(r.Root), DBDir), err)
	}
	return nil
}

// Commit snapshots the working tree and appends it to the log. A failed
// snapshot leaves the log untouched.
func (r *Repository) Commit(ctx context.Context, message string) (int, error) {
	snap, err := r.Builder.Build(ctx, r.Root)
	if err != nil {
		return 0, err
	}

	index, err := r.History.Append(message, snap)
	if err != nil {
		return 0, err
	}

	r.Logger.Info("commit recorded",
		zap.Int("index", index),
		zap.Int("files", len(snap)),
		zap.String("message", message))
	return index, nil
}

func (r *Repository) Log() ([]shared.Commit, error) {
	return r.History.List()
}

func (r *Repository) Get(index int) (shared.Commit, error) {
	return r.History.Get(index)
}

// CheckoutCommit restores the working tree to the snapshot of commit
// index. The log is not modified.
func (r *Repository) CheckoutCommit(ctx context.Context, index int) (shared.Commit, *checkout.Result, error) {
	commit, err := r.History.Get(index)
	if err != nil {
		return shared.Commit{}, nil, err
	}

	result, err := r.Checkout.Checkout(ctx, r.Root, commit.Snapshot)
	if err != nil {
		return shared.Commit{}, nil, err
	}

	r.Logger.Info("checked out",
		zap.Int("index", index),
		zap.Int("written", len(result.Written)),
		zap.Int("deleted", len(result.Deleted)))
	return commit, result, nil
}

// Diff reports how the snapshot of commit j differs from commit i.
func (r *Repository) Diff(i, j int) (shared.Changes, error) {
	from, to, err := r.pair(i, j)
	if err != nil {
		return shared.Changes{}, err
	}
	return diff.Snapshots(from.Snapshot, to.Snapshot), nil
}

// Status reports how the working tree differs from the latest commit.
// Without commits every tracked path is added.
func (r *Repository) Status(ctx context.Context) (shared.Changes, error) {
	current, err := r.Builder.Hashes(ctx, r.Root)
	if err != nil {
		return shared.Changes{}, err
	}

	commits, err := r.History.List()
	if err != nil {
		return shared.Changes{}, err
	}

	base := shared.Snapshot{}
	if len(commits) > 0 {
		base = commits[len(commits)-1].Snapshot
	}
	return diff.Snapshots(base, current), nil
}

// FilePatch is the content diff of one changed path.
type FilePatch struct {
	Path   string
	Change string // added, removed or modified
	Patch  *diff.Patch
}

// Patch computes line diffs for every path that differs between commits
// i and j, in the order added, removed, modified.
func (r *Repository) Patch(i, j int) ([]FilePatch, error) {
	from, to, err := r.pair(i, j)
	if err != nil {
		return nil, err
	}

	changes := diff.Snapshots(from.Snapshot, to.Snapshot)
	engine := diff.NewEngine(patchContext)
	patches := make([]FilePatch, 0, changes.Count())

	add := func(path, change, oldHash, newHash string) error {
		oldData, err := r.blob(oldHash)
		if err != nil {
			return err
		}
		newData, err := r.blob(newHash)
		if err != nil {
			return err
		}

		patch, err := engine.Diff(oldData, newData)
		if err != nil {
			return fmt.Errorf("diffing %s: %w", path, err)
		}
		patches = append(patches, FilePatch{Path: path, Change: change, Patch: patch})
		return nil
	}

	for _, p := range changes.Added {
		if err := add(p, "added", "", to.Snapshot[p]); err != nil {
			return nil, err
		}
	}
	for _, p := range changes.Removed {
		if err := add(p, "removed", from.Snapshot[p], ""); err != nil {
			return nil, err
		}
	}
	for _, p := range changes.Modified {
		if err := add(p, "modified", from.Snapshot[p], to.Snapshot[p]); err != nil {
			return nil, err
		}
	}
	return patches, nil
}

// Problem is a snapshot entry whose content cannot be restored.
type Problem struct {
	Commit int
	Path   string
	Hash   string
	Err    error
}

// Verify checks that every hash referenced by the log has an intact blob.
// Each distinct hash is read once.
func (r *Repository) Verify() ([]Problem, error) {
	commits, err := r.History.List()
	if err != nil {
		return nil, err
	}

	checked := make(map[string]error)
	var problems []Problem
	for i, c := range commits {
		for _, path := range c.Snapshot.Paths() {
			hash := c.Snapshot[path]
			verr, seen := checked[hash]
			if !seen {
				verr = r.Safe.Verify(hash)
				if verr != nil && !errors.Is(verr, werrors.ErrContentMissing) {
					return nil, verr
				}
				checked[hash] = verr
			}
			if verr != nil {
				problems = append(problems, Problem{Commit: i, Path: path, Hash: hash, Err: verr})
			}
		}
	}

	r.Logger.Debug("verify finished",
		zap.Int("commits", len(commits)),
		zap.Int("blobs", len(checked)),
		zap.Int("problems", len(problems)))
	return problems, nil
}

// Stats summarizes the content store.
func (r *Repository) Stats() (safe.Stats, error) {
	return r.Safe.Stats()
}

func (r *Repository) pair(i, j int) (shared.Commit, shared.Commit, error) {
	commits, err := r.History.List()
	if err != nil {
		return shared.Commit{}, shared.Commit{}, err
	}
	for _, idx := range []int{i, j} {
		if idx < 0 || idx >= len(commits) {
			return shared.Commit{}, shared.Commit{}, werrors.Index(idx, len(commits))
		}
	}
	return commits[i], commits[j], nil
}

func (r *Repository) blob(hash string) ([]byte, error) {
	if hash == "" {
		return nil, nil
	}
	return r.Safe.Get(hash)
}
