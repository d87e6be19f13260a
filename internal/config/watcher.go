package config

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smazurov/gethkeeper/internal/logging"
)

const defaultDebounce = 1500 * time.Millisecond

// relevantOps are the events on the watched name that can change its content.
const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

// Watcher hands a freshly loaded value to its handlers whenever a file's
// content changes. It watches the parent directory so a file replaced by
// rename keeps being tracked. Events that leave the bytes unchanged are
// dropped.
type Watcher[T any] struct {
	path     string
	debounce time.Duration
	loader   func(path string) (T, error)
	onError  func(error)
	logger   logging.Logger

	mu       sync.Mutex
	handlers map[int]func(T)
	nextID   int
	lastSum  [sha256.Size]byte
	haveSum  bool

	fsw    *fsnotify.Watcher
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets how long the file must be quiet before it is reloaded.
// Default is 1500ms.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) { w.debounce = d }
}

// WithErrorHandler sets a callback for load errors. Without one, errors are
// only logged.
func WithErrorHandler[T any](handler func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) { w.onError = handler }
}

// NewWatcher creates a typed file watcher. loader runs on every change.
func NewWatcher[T any](
	path string,
	loader func(path string) (T, error),
	logger logging.Logger,
	opts ...WatcherOption[T],
) *Watcher[T] {
	if logger == nil {
		logger = logging.GetLogger("config")
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher[T]{
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		loader:   loader,
		logger:   logger,
		handlers: make(map[int]func(T)),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers handler and returns a function that removes it.
// Handlers run in registration order.
func (w *Watcher[T]) OnReload(handler func(T)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = handler
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

// Start begins watching. The current content becomes the baseline.
func (w *Watcher[T]) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw

	if sum, ok := w.checksum(); ok {
		w.mu.Lock()
		w.lastSum, w.haveSum = sum, true
		w.mu.Unlock()
	}

	w.logger.Info("File watcher started", "path", w.path, "debounce", w.debounce.String())
	go w.run()
	return nil
}

// Stop stops watching and waits for the loop to end.
func (w *Watcher[T]) Stop() error {
	w.cancel()
	if w.fsw == nil {
		return nil
	}
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher[T]) run() {
	defer close(w.done)

	// Stopped timer; armed on each relevant event.
	quiet := time.NewTimer(time.Hour)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("File watcher stopped", "path", w.path)
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&relevantOps == 0 {
				continue
			}
			w.logger.Debug("File change detected", "path", w.path, "op", ev.Op.String())
			quiet.Reset(w.debounce)

		case <-quiet.C:
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher[T]) checksum() ([sha256.Size]byte, bool) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return [sha256.Size]byte{}, false
	}
	return sha256.Sum256(data), true
}

// reload loads the file once and hands the value to every handler.
func (w *Watcher[T]) reload() {
	sum, ok := w.checksum()
	w.mu.Lock()
	unchanged := ok && w.haveSum && sum == w.lastSum
	w.mu.Unlock()
	if unchanged {
		w.logger.Debug("File content unchanged, skipping reload", "path", w.path)
		return
	}

	value, err := w.loader(w.path)
	if err != nil {
		w.logger.Warn("Failed to load changed file", "path", w.path, "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.Lock()
	if ok {
		w.lastSum, w.haveSum = sum, true
	}
	ids := make([]int, 0, len(w.handlers))
	for id := range w.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, w.handlers[id])
	}
	w.mu.Unlock()

	w.logger.Info("File changed, notifying handlers", "path", w.path, "handlers", len(handlers))
	for _, h := range handlers {
		h(value)
	}
}
