package plugin

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the Watcher waits for a burst of file
// events to settle before acting.
const DefaultDebounce = 250 * time.Millisecond

// ErrWatcherClosed is returned when starting a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// Watcher reloads modules when their files change and loads modules that
// appear in the watched directories.
type Watcher struct {
	manager  *Manager
	fsw      *fsnotify.Watcher
	roots    []string
	debounce time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	closed  bool

	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce interval.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *log.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a Watcher over the given module directories.
func NewWatcher(manager *Manager, roots []string, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		manager:  manager,
		fsw:      fsw,
		debounce: DefaultDebounce,
		logger:   log.New(io.Discard),
		pending:  make(map[string]struct{}),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "watcher")

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			_ = fsw.Close()
			return nil, err
		}
		w.roots = append(w.roots, abs)
	}
	return w, nil
}

// Start watches every root and its module directories and processes
// events until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.mu.Unlock()

	for _, root := range w.roots {
		if err := w.watchRoot(root); err != nil {
			return err
		}
	}

	w.closedWg.Add(1)
	go w.processLoop(ctx)
	return nil
}

// watchRoot adds root and its direct sub-directories.
func (w *Watcher) watchRoot(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("module path does not exist", "path", root)
			return nil
		}
		return err
	}

	if err := w.fsw.Add(root); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := w.fsw.Add(filepath.Join(root, entry.Name())); err != nil {
				w.logger.Warn("cannot watch module directory", "path", entry.Name(), "err", err)
			}
		}
	}
	return nil
}

// processLoop handles fsnotify events.
func (w *Watcher) processLoop(ctx context.Context) {
	defer w.closedWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.closeCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}

	path := filepath.Clean(event.Name)

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() && w.isModuleEntry(path) {
			if err := w.fsw.Add(path); err != nil {
				w.logger.Warn("cannot watch module directory", "path", path, "err", err)
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.flush(ctx) })
}

// flush acts on every path collected since the last flush. Close waits for
// a flush that has started.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closedWg.Add(1)
	defer w.closedWg.Done()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	var reload []*LoadedModule
	seen := make(map[string]bool)
	candidates := make(map[string]bool)

	for _, p := range paths {
		if m, ok := w.ModuleForPath(p); ok {
			if seen[m.ID()] {
				continue
			}
			seen[m.ID()] = true

			if src, _ := m.Source().(string); src != "" {
				if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
					w.logger.Info("module removed", "id", m.ID())
					w.manager.Unload(ctx, m)
					continue
				}
			}
			reload = append(reload, m)
			continue
		}

		if entry, ok := w.moduleEntryFor(p); ok {
			candidates[entry] = true
		}
	}

	if len(reload) > 0 {
		w.logger.Info("reloading changed modules", "count", len(reload))
		if _, err := w.manager.Reload(ctx, reload...); err != nil {
			w.logger.Error("reload failed", "err", err)
		}
	}

	for entry := range candidates {
		if _, err := os.Stat(entry); err != nil {
			continue
		}
		m, err := w.manager.Load(ctx, entry)
		switch {
		case err == nil && m != nil:
			w.logger.Info("loaded new module", "id", m.ID(), "path", entry)
		case errors.Is(err, ErrModuleNotFound), errors.Is(err, ErrAlreadyLoaded):
			w.logger.Debug("ignoring path", "path", entry, "err", err)
		case err != nil:
			w.logger.Error("load failed", "path", entry, "err", err)
		}
	}
}

// ModuleForPath returns the loaded module whose source contains path.
func (w *Watcher) ModuleForPath(path string) (*LoadedModule, bool) {
	path = filepath.Clean(path)
	for _, m := range w.manager.Modules() {
		src, ok := m.Source().(string)
		if !ok || src == "" {
			continue
		}
		abs, err := filepath.Abs(src)
		if err != nil {
			continue
		}
		if path == abs || strings.HasPrefix(path, abs+string(filepath.Separator)) {
			return m, true
		}
	}
	return nil, false
}

// moduleEntryFor returns the direct child of a root that contains path.
func (w *Watcher) moduleEntryFor(path string) (string, bool) {
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		first := strings.Split(rel, string(filepath.Separator))[0]
		return filepath.Join(root, first), true
	}
	return "", false
}

// isModuleEntry reports whether path is a direct child of a root.
func (w *Watcher) isModuleEntry(path string) bool {
	for _, root := range w.roots {
		if filepath.Dir(path) == root {
			return true
		}
	}
	return false
}

// Close stops the watcher and waits for pending work to finish. It is safe
// to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.closeCh)
	err := w.fsw.Close()
	w.closedWg.Wait()
	return err
}
