// Package watcher observes a project tree for source changes and
// notifies the indexer so cached results never outlive the files they
// were derived from.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	lserr "github.com/lodeworks/lodestone/internal/errors"
	"github.com/lodeworks/lodestone/internal/scanner"
)

// debounceWindow coalesces editor write bursts into one notification.
const debounceWindow = 500 * time.Millisecond

// Event is a settled file change.
type Event struct {
	Path    string
	Removed bool
}

// Watcher watches a tree recursively and emits debounced change events
// for indexable files.
type Watcher struct {
	fsw     *fsnotify.Watcher
	root    string
	onEvent func(Event)
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer

	started  chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New creates a watcher rooted at root. onEvent is called from the
// watcher goroutine after the debounce window settles.
func New(root string, onEvent func(Event), logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodeInternal, "cannot create file watcher")
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		fsw:     fsw,
		root:    root,
		onEvent: onEvent,
		logger:  logger,
		pending: make(map[string]*time.Timer),
		started: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if err := w.addRecursive(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// addRecursive registers root and every non-ignored subdirectory.
// fsnotify has no recursive mode, so each directory is added separately
// and new directories are added as their create events arrive.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (scanner.IsIgnoredDir(name) || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Debug("watch_add_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return nil
	})
}

// Run dispatches events until the context ends.
func (w *Watcher) Run(ctx context.Context) {
	close(w.started)
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") || scanner.IsIgnoredDir(base) {
		return
	}

	// A created directory must be watched before files appear inside it.
	if ev.Op.Has(fsnotify.Create) {
		if err := w.fsw.Add(ev.Name); err == nil {
			_ = w.addRecursive(ev.Name)
		}
	}

	if scanner.LanguageForPath(ev.Name) == "" {
		return
	}

	removed := ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename)
	w.debounce(ev.Name, removed)
}

// debounce schedules delivery after the window, replacing any pending
// timer for the same path.
func (w *Watcher) debounce(path string, removed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if w.onEvent != nil {
			w.onEvent(Event{Path: path, Removed: removed})
		}
	})
}

// Close stops watching and flushes pending timers without firing them.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		for path, t := range w.pending {
			t.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
		err = w.fsw.Close()
		select {
		case <-w.started:
			<-w.doneCh
		default:
		}
	})
	return err
}
