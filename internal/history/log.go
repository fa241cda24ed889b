// Package history persists the append-only commit log as a JSON array.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	werrors "waltz/internal/errors"
	"waltz/internal/snapshot"
	"waltz/shared/types"
	"waltz/shared/utils"
)

// Log is the commit log stored in a single file. Every append rewrites the
// whole file atomically, so readers see either the old or the new log.
type Log struct {
	path    string
	metaDir string
	now     func() time.Time
}

// Create writes an empty log at path unless one already exists. It
// reports whether a new log was written.
func Create(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, werrors.IO("checking", path, err)
	}

	if err := utils.WriteFileAtomic(path, []byte("[]\n"), 0644); err != nil {
		return false, werrors.IO("creating", path, err)
	}
	return true, nil
}

// Open returns the log at path. root names the repository in the error
// returned when the log does not exist. Snapshot paths entering a
// directory named metaDir make the log corrupt.
func Open(path, root, metaDir string) (*Log, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, werrors.RepositoryNotFound(root)
		}
		return nil, werrors.IO("opening", path, err)
	}
	if info.IsDir() {
		return nil, werrors.CorruptLog(path, fmt.Errorf("is a directory"))
	}

	return &Log{path: path, metaDir: metaDir, now: time.Now}, nil
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}

// Append records a commit and returns its index. On failure the persisted
// log is unchanged.
func (l *Log) Append(message string, snap shared.Snapshot) (int, error) {
	commits, err := l.load()
	if err != nil {
		return 0, err
	}

	if snap == nil {
		snap = shared.Snapshot{}
	}
	commits = append(commits, shared.Commit{
		Timestamp: float64(l.now().UnixNano()) / 1e9,
		Message:   message,
		Snapshot:  snap,
	})

	if err := l.store(commits); err != nil {
		return 0, err
	}
	return len(commits) - 1, nil
}

// List returns every commit in insertion order.
func (l *Log) List() ([]shared.Commit, error) {
	return l.load()
}

// Get returns the commit at index.
func (l *Log) Get(index int) (shared.Commit, error) {
	commits, err := l.load()
	if err != nil {
		return shared.Commit{}, err
	}
	if index < 0 || index >= len(commits) {
		return shared.Commit{}, werrors.Index(index, len(commits))
	}
	return commits[index], nil
}

func (l *Log) Len() (int, error) {
	commits, err := l.load()
	if err != nil {
		return 0, err
	}
	return len(commits), nil
}

// record mirrors shared.Commit with pointer fields so missing keys can be
// told apart from zero values.
type record struct {
	Timestamp *float64          `json:"timestamp"`
	Message   *string           `json:"message"`
	Snapshot  map[string]string `json:"snapshot"`
}

func (l *Log) load() ([]shared.Commit, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, werrors.RepositoryNotFound(l.path)
		}
		return nil, werrors.IO("reading", l.path, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, werrors.CorruptLog(l.path, fmt.Errorf("expected a JSON array"))
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, werrors.CorruptLog(l.path, err)
	}

	commits := make([]shared.Commit, 0, len(records))
	for i, r := range records {
		c, err := r.commit(l.metaDir)
		if err != nil {
			return nil, werrors.CorruptLog(l.path, fmt.Errorf("commit %d: %w", i, err))
		}
		commits = append(commits, c)
	}
	return commits, nil
}

func (r record) commit(metaDir string) (shared.Commit, error) {
	if r.Timestamp == nil {
		return shared.Commit{}, fmt.Errorf("missing timestamp")
	}
	if r.Message == nil {
		return shared.Commit{}, fmt.Errorf("missing message")
	}

	snap := make(shared.Snapshot, len(r.Snapshot))
	for path, hash := range r.Snapshot {
		if !snapshot.ValidPath(path, metaDir) {
			return shared.Commit{}, fmt.Errorf("unsafe path %q", path)
		}
		if !utils.IsValidHash(hash) {
			return shared.Commit{}, fmt.Errorf("invalid hash %q for %s", hash, path)
		}
		snap[path] = hash
	}

	return shared.Commit{
		Timestamp: *r.Timestamp,
		Message:   *r.Message,
		Snapshot:  snap,
	}, nil
}

func (l *Log) store(commits []shared.Commit) error {
	data, err := json.MarshalIndent(commits, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding commit log: %w", err)
	}
	data = append(data, '\n')

	if err := utils.WriteFileAtomic(l.path, data, 0644); err != nil {
		return werrors.IO("writing", l.path, err)
	}
	return nil
}
