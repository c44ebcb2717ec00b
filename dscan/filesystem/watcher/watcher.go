// Package watcher triggers rescans of a working tree when the directories
// of its tracked files change.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/dirtyscan/dscan/trees"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	defaultDebounceDelay    = 200 * time.Millisecond
	defaultMaxDebounceDelay = 2 * time.Second
)

// ChangeFunc is called with the sorted, root-relative paths that changed
// since the previous call. Returning an error stops the watch.
type ChangeFunc func(ctx context.Context, changed []string) error

// Watcher watches every directory of a DirectoryTree with fsnotify.
// Untracked directories are not watched: they are reported by their own
// path and their contents do not change the result.
type Watcher struct {
	fsw    *fsnotify.Watcher
	tree   *trees.DirectoryTree
	root   string
	ignore []string

	delay    time.Duration
	maxDelay time.Duration
	logger   zerolog.Logger
}

// Option allows for customization of Watcher
type Option func(*Watcher)

// WithDebounce sets the quiet period before a batch is delivered and the
// longest a batch may be held back.
func WithDebounce(delay, maxDelay time.Duration) Option {
	return func(w *Watcher) {
		if delay > 0 {
			w.delay = delay
		}
		if maxDelay > 0 {
			w.maxDelay = maxDelay
		}
	}
}

// WithIgnore drops events below the given root-relative directories.
func WithIgnore(prefixes ...string) Option {
	return func(w *Watcher) {
		for _, p := range prefixes {
			w.ignore = append(w.ignore, strings.TrimSuffix(filepath.ToSlash(p), "/")+"/")
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// New creates a watcher for every directory of tree. Directories that
// cannot be watched are skipped and logged.
func New(tree *trees.DirectoryTree, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fsw:      fsw,
		tree:     tree,
		root:     tree.RootDir(),
		ignore:   []string{".git/"},
		delay:    defaultDebounceDelay,
		maxDelay: defaultMaxDebounceDelay,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	watched := 0
	for _, d := range tree.Dirs() {
		if w.watch(d.Path) {
			watched++
		}
	}
	w.logger.Debug().Int("dirs", watched).Str("root", w.root).Msg("watcher started")
	return w, nil
}

func (w *Watcher) watch(dir string) bool {
	abs := filepath.Join(w.root, filepath.FromSlash(dir))
	if err := w.fsw.Add(abs); err != nil {
		w.logger.Debug().Err(err).Str("dir", dir).Msg("cannot watch directory")
		return false
	}
	return true
}

// WatchList returns the absolute paths currently watched.
func (w *Watcher) WatchList() []string { return w.fsw.WatchList() }

// Run delivers debounced batches of changed paths to fn until ctx is done,
// fn fails or the watcher is closed. A cancelled ctx returns nil.
func (w *Watcher) Run(ctx context.Context, fn ChangeFunc) error {
	deb := newDebouncer(w.delay, w.maxDelay)
	defer deb.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			rel, keep := w.relevant(event)
			if !keep {
				continue
			}
			deb.add(rel, time.Now())

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watch error")

		case <-deb.C():
			batch := deb.flush()
			w.rewatch(batch)
			w.logger.Debug().Int("paths", len(batch)).Msg("change batch")
			if err := fn(ctx, batch); err != nil {
				return err
			}
		}
	}
}

// relevant maps an event to its root-relative path. Pure attribute changes
// of directories and events below ignored prefixes are dropped.
func (w *Watcher) relevant(event fsnotify.Event) (string, bool) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range w.ignore {
		if rel+"/" == p || strings.HasPrefix(rel, p) {
			return "", false
		}
	}
	if event.Op == fsnotify.Chmod {
		if _, isDir := w.tree.Lookup(rel + "/"); isDir {
			return "", false
		}
	}
	return rel, true
}

// rewatch re-adds tracked directories that were removed and recreated.
func (w *Watcher) rewatch(batch []string) {
	for _, p := range batch {
		if _, ok := w.tree.Lookup(p + "/"); ok {
			w.watch(p + "/")
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
