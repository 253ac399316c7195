package volt

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher errors.
var (
	// ErrWatcherClosed indicates an operation on a closed watcher.
	ErrWatcherClosed = errors.New("volt watcher closed")
)

// WatchOp classifies what happened to a volt directory.
type WatchOp int

// Watch operations.
const (
	VoltAdded WatchOp = iota + 1
	VoltChanged
	VoltRemoved
)

// String returns the operation name.
func (op WatchOp) String() string {
	switch op {
	case VoltAdded:
		return "added"
	case VoltChanged:
		return "changed"
	case VoltRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// WatchEvent reports a volt directory that appeared, changed, or vanished
// under one of the watched search paths.
type WatchEvent struct {
	Dir       string
	Op        WatchOp
	Timestamp time.Time
}

// Watcher observes the volt search paths and reports volt directories being
// installed, modified, or removed while the proxy runs. Bursts of file
// events for the same volt (an unpack writes many files) are coalesced into
// a single event per debounce window; the final operation is decided by
// whether the directory still exists when the window closes.
type Watcher struct {
	fsw    *fsnotify.Watcher
	bases  map[string]bool
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingVolt
	events  chan WatchEvent
	closed  bool

	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// pendingVolt tracks a debounced volt directory event.
type pendingVolt struct {
	timer   *time.Timer
	created bool // a create was seen in this window
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the coalescing window for volt events.
func WithDebounce(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		if delay > 0 {
			w.delay = delay
		}
	}
}

// WithWatchLogger sets the logger for dropped events and watch errors.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher watches the given volt search paths. Paths that do not exist
// yet are skipped; call Watch later when they appear.
func NewWatcher(paths []string, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		bases:   make(map[string]bool),
		delay:   250 * time.Millisecond,
		logger:  slog.Default(),
		pending: make(map[string]*pendingVolt),
		events:  make(chan WatchEvent, 64),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, path := range paths {
		if err := w.Watch(path); err != nil {
			w.logger.Debug("volt path not watched", "path", path, "err", err)
		}
	}

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// Watch adds one search path to the watch set.
func (w *Watcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if w.bases[abs] {
		return nil
	}
	if err := w.fsw.Add(abs); err != nil {
		return err
	}
	w.bases[abs] = true
	return nil
}

// Events returns the channel of debounced volt events.
func (w *Watcher) Events() <-chan WatchEvent {
	return w.events
}

// Close stops the watcher. Pending debounce timers are cancelled.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for dir, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, dir)
	}
	w.mu.Unlock()

	w.closedWg.Wait()
	close(w.events)
	return w.fsw.Close()
}

// processLoop consumes raw fsnotify events.
func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("volt watcher error", "err", err)
		}
	}
}

// handleFSEvent maps a raw event to its volt directory and debounces it.
func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	dir, ok := w.voltDir(ev.Name)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	created := ev.Op.Has(fsnotify.Create)
	if p, exists := w.pending[dir]; exists {
		p.created = p.created || created
		p.timer.Reset(w.delay)
		return
	}

	p := &pendingVolt{created: created}
	p.timer = time.AfterFunc(w.delay, func() {
		w.fire(dir)
	})
	w.pending[dir] = p
}

// voltDir resolves an event path to the top-level volt directory under one
// of the watched bases. Hidden directories are ignored.
func (w *Watcher) voltDir(name string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for base := range w.bases {
		rel, err := filepath.Rel(base, name)
		if err != nil || rel == "." || !filepath.IsLocal(rel) {
			continue
		}
		first := rel
		if idx := firstSeparator(rel); idx >= 0 {
			first = rel[:idx]
		}
		if first == "" || first[0] == '.' {
			return "", false
		}
		return filepath.Join(base, first), true
	}
	return "", false
}

// firstSeparator returns the index of the first path separator, or -1.
func firstSeparator(path string) int {
	for i := 0; i < len(path); i++ {
		if os.IsPathSeparator(path[i]) {
			return i
		}
	}
	return -1
}

// fire emits the event for a volt directory once its window closes.
func (w *Watcher) fire(dir string) {
	w.mu.Lock()
	p, exists := w.pending[dir]
	if !exists {
		w.mu.Unlock()
		return
	}
	delete(w.pending, dir)
	created := p.created
	w.mu.Unlock()

	op := VoltChanged
	if stat, err := os.Stat(dir); err != nil {
		op = VoltRemoved
	} else if created && stat.IsDir() {
		op = VoltAdded
	}

	event := WatchEvent{Dir: dir, Op: op, Timestamp: time.Now()}
	select {
	case w.events <- event:
	case <-w.closeCh:
	default:
		w.logger.Warn("volt event channel full, dropping event", "dir", dir, "op", op.String())
	}
}

// Flush fires all pending events immediately.
func (w *Watcher) Flush() {
	w.mu.Lock()
	dirs := make([]string, 0, len(w.pending))
	for dir, p := range w.pending {
		p.timer.Stop()
		dirs = append(dirs, dir)
	}
	w.mu.Unlock()

	for _, dir := range dirs {
		w.fire(dir)
	}
}

// PendingCount returns the number of volt directories waiting out their
// debounce window.
func (w *Watcher) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
