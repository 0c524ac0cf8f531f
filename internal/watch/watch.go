// Package watch re-extracts modules as source files change on disk.
// Events are filtered with the repository traversal rules and debounced
// per path; each change invalidates the cached index of the repository.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/phobologic/pyclosure/internal/discover"
	"github.com/phobologic/pyclosure/internal/index"
)

// DefaultDebounce is the quiet period before a change is reported.
const DefaultDebounce = 200 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	discover.Options
	Debounce time.Duration
	// Cache, if set, has the repository's index invalidated on every change.
	Cache  *index.Cache
	Logger *slog.Logger
}

// Handler is called once per debounced change with the absolute path of
// the changed source file. Removed or renamed-away files are not reported.
type Handler func(ctx context.Context, path string) error

// Watcher watches a repository tree recursively.
type Watcher struct {
	root     string
	filter   *discover.Filter
	notify   *fsnotify.Watcher
	debounce time.Duration
	cache    *index.Cache
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	fired   chan string
	done    chan struct{}
}

// New returns a watcher for the repository at root.
func New(root string, opts Options) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s: not a directory", root)
	}
	filter, err := discover.NewFilter(root, opts.Options)
	if err != nil {
		return nil, err
	}
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		filter:   filter,
		notify:   notify,
		debounce: opts.Debounce,
		cache:    opts.Cache,
		log:      opts.Logger,
		pending:  make(map[string]*time.Timer),
		fired:    make(chan string, 64),
		done:     make(chan struct{}),
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.log == nil {
		w.log = slog.New(slog.DiscardHandler)
	}
	if err := w.addTree(root); err != nil {
		notify.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers changes to handle until ctx is done. Handler errors are
// logged and do not stop the watcher. Run closes the watcher on return.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	defer w.close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.notify.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.notify.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "err", err)
		case path := <-w.fired:
			if w.cache != nil {
				w.cache.Invalidate(w.root)
			}
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				w.log.Info("source removed", "path", path)
				continue
			}
			w.log.Debug("source changed", "path", path)
			if err := handle(ctx, path); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.log.Warn("handling change", "path", path, "err", err)
			}
		}
	}
}

func (w *Watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		return
	default:
	}
	close(w.done)
	for _, t := range w.pending {
		t.Stop()
	}
	w.notify.Close()
}

// addTree watches dir and every directory below it that traversal keeps.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != w.root && w.skip(path, d.Name(), true) {
			return filepath.SkipDir
		}
		if err := w.notify.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) skip(path, name string, dir bool) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	if w.filter.SkipName(name) || w.filter.Excluded(rel) {
		return true
	}
	if dir {
		return w.filter.Ignored(rel + "/")
	}
	return !w.filter.HasExtension(name) || w.filter.Ignored(rel)
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.skip(event.Name, name, true) {
				if err := w.addTree(event.Name); err != nil {
					w.log.Warn("watching new directory", "path", event.Name, "err", err)
				}
			}
			return
		}
	}
	if event.Op == fsnotify.Chmod || w.skip(event.Name, name, false) {
		return
	}
	w.schedule(event.Name)
}

// schedule reports path once no further event for it arrives within the debounce interval.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.fired <- path:
		case <-w.done:
		}
	})
}
