// Package watch reports when a working tree settles after a burst of
// filesystem changes.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher observes a working tree recursively. Directories named MetaDir
// are neither watched nor reported.
type Watcher struct {
	root     string
	metaDir  string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]bool
}

// Options configures a Watcher
type Options struct {
	MetaDir  string
	Debounce time.Duration
	Logger   *zap.Logger
}

// New creates a Watcher and registers every directory under root.
func New(root string, opts Options) (*Watcher, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		root:     filepath.Clean(root),
		metaDir:  opts.MetaDir,
		debounce: opts.Debounce,
		watcher:  fw,
		logger:   opts.Logger,
		pending:  make(map[string]bool),
	}

	if err := w.addTree(w.root); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}
	return w, nil
}

// Run delivers the set of changed paths to onSettle each time no event
// has arrived for the debounce interval. It returns when ctx is done or
// the watcher is closed. An error from onSettle stops the loop.
func (w *Watcher) Run(ctx context.Context, onSettle func(ctx context.Context, changed []string) error) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))

		case <-timer.C:
			changed := w.drain()
			if len(changed) == 0 {
				continue
			}
			if err := onSettle(ctx, changed); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// handleEvent records a relevant event and reports whether it counts.
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	relPath, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		w.logger.Error("getting relative path", zap.Error(err))
		return false
	}
	if w.ShouldIgnore(relPath) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			// Files created before the directory was registered are
			// picked up by the status run after the settle.
			if err := w.addTree(event.Name); err != nil {
				w.logger.Error("adding new directory to watcher", zap.Error(err))
			}
		}
	}

	w.logger.Debug("change observed",
		zap.String("path", relPath),
		zap.String("op", event.Op.String()))

	w.mu.Lock()
	w.pending[filepath.ToSlash(relPath)] = true
	w.mu.Unlock()
	return true
}

func (w *Watcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	clear(w.pending)
	return changed
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && d.Name() == w.metaDir {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("adding directory to watcher: %w", err)
		}
		return nil
	})
}

// ShouldIgnore reports whether a path relative to root lies inside a
// metadata directory.
func (w *Watcher) ShouldIgnore(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	if relPath == "" || relPath == "." || relPath == ".." || strings.HasPrefix(relPath, "../") {
		return true
	}

	for _, part := range strings.Split(relPath, "/") {
		if part == w.metaDir {
			return true
		}
	}
	return false
}
