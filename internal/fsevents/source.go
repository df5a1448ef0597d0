package fsevents

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	maxRestartAttempts = 3
	restartBaseDelay   = 200 * time.Millisecond
)

var ErrClosed = errors.New("event source closed")

// Event represents a single filesystem change.
type Event struct {
	Path      string
	Op        fsnotify.Op
	IsDir     bool
	Timestamp time.Time
}

// Options controls source behavior.
type Options struct {
	// Root is the directory watched recursively.
	Root string
	// WatchDir reports whether a directory should be watched. Nil watches everything.
	WatchDir func(path string) bool
	Logger   *slog.Logger
	// ErrorHandler is called once restarts are exhausted.
	ErrorHandler func(error)
}

// Metrics reports source counters.
type Metrics struct {
	ActiveWatches   int    `json:"active_watches"`
	EventsDelivered uint64 `json:"events_delivered"`
	EventsIgnored   uint64 `json:"events_ignored"`
	Errors          uint64 `json:"errors"`
	RestartAttempts int    `json:"restart_attempts"`
}

// Source is an fsnotify-backed recursive event source.
type Source struct {
	root         string
	watchDir     func(string) bool
	logger       *slog.Logger
	errorHandler func(error)

	mutex   sync.Mutex
	watcher *fsnotify.Watcher
	watched map[string]struct{}
	handler func(Event)
	done    chan struct{}
	started bool
	closed  bool

	restartMutex    sync.Mutex
	restartTimer    *time.Timer
	restartAttempts int

	eventsDelivered uint64
	eventsIgnored   uint64
	errorCount      uint64
}

// New creates a Source for opts.Root. Watching begins with Start.
func New(opts Options) (*Source, error) {
	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("event source root is not a directory: " + opts.Root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	watchDir := opts.WatchDir
	if watchDir == nil {
		watchDir = func(string) bool { return true }
	}

	return &Source{
		root:         opts.Root,
		watchDir:     watchDir,
		logger:       logger.With("component", "fsevents"),
		errorHandler: opts.ErrorHandler,
		watcher:      watcher,
		watched:      make(map[string]struct{}),
		done:         make(chan struct{}),
	}, nil
}

// Start adds recursive watches under the root and begins delivering events to handler.
// handler runs on the source's goroutine and must not block.
func (source *Source) Start(handler func(Event)) error {
	source.mutex.Lock()
	if source.closed {
		source.mutex.Unlock()
		return ErrClosed
	}
	if source.started {
		source.mutex.Unlock()
		return errors.New("event source already started")
	}
	source.started = true
	source.handler = handler
	watcher := source.watcher
	source.mutex.Unlock()

	if _, err := source.addTree(watcher, source.root, false); err != nil {
		return err
	}
	source.logger.Info("watching directory tree", "root", source.root, "active_watches", source.activeWatches())

	source.startForwarder(watcher)
	return nil
}

// Close stops event delivery and releases the fsnotify watcher. Safe to call repeatedly.
func (source *Source) Close() error {
	if source == nil {
		return nil
	}

	source.mutex.Lock()
	if source.closed {
		source.mutex.Unlock()
		return nil
	}
	source.closed = true
	watcher := source.watcher
	source.mutex.Unlock()

	source.restartMutex.Lock()
	if source.restartTimer != nil {
		source.restartTimer.Stop()
		source.restartTimer = nil
	}
	source.restartMutex.Unlock()

	close(source.done)
	if watcher == nil {
		return nil
	}
	return watcher.Close()
}

func (source *Source) startForwarder(watcher *fsnotify.Watcher) {
	if watcher == nil {
		return
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				source.handleEvent(watcher, event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				source.handleError(err)
			case <-source.done:
				return
			}
		}
	}()
}

func (source *Source) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod || event.Op == 0 {
		atomic.AddUint64(&source.eventsIgnored, 1)
		return
	}

	isDir := false
	var discovered []string
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			isDir = true
			if source.watchDir(event.Name) {
				files, err := source.addTree(watcher, event.Name, true)
				if err != nil {
					source.logger.Warn("watch new directory failed", "path", event.Name, "error", err)
				}
				discovered = files
			}
		}
	}
	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		isDir = source.forget(event.Name)
	}

	now := time.Now()
	source.deliver(Event{Path: event.Name, Op: event.Op, IsDir: isDir, Timestamp: now})
	// Files created before the new directory's watch was registered never produce their own events.
	for _, path := range discovered {
		source.deliver(Event{Path: path, Op: fsnotify.Create, Timestamp: now})
	}
}

func (source *Source) deliver(event Event) {
	source.mutex.Lock()
	if source.closed {
		source.mutex.Unlock()
		return
	}
	handler := source.handler
	source.mutex.Unlock()

	if handler == nil {
		atomic.AddUint64(&source.eventsIgnored, 1)
		return
	}
	handler(event)
	atomic.AddUint64(&source.eventsDelivered, 1)
}

// Metrics reports current source stats.
func (source *Source) Metrics() Metrics {
	if source == nil {
		return Metrics{}
	}
	source.restartMutex.Lock()
	restartAttempts := source.restartAttempts
	source.restartMutex.Unlock()
	return Metrics{
		ActiveWatches:   source.activeWatches(),
		EventsDelivered: atomic.LoadUint64(&source.eventsDelivered),
		EventsIgnored:   atomic.LoadUint64(&source.eventsIgnored),
		Errors:          atomic.LoadUint64(&source.errorCount),
		RestartAttempts: restartAttempts,
	}
}

func (source *Source) activeWatches() int {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	return len(source.watched)
}
