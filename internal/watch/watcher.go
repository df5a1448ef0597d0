package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/docwatch/internal/config"
	"github.com/hpungsan/docwatch/internal/errors"
	"github.com/hpungsan/docwatch/internal/fsevents"
	"github.com/hpungsan/docwatch/internal/pipeline"
)

// EventSource delivers filesystem events to a handler until closed.
type EventSource interface {
	Start(handler func(fsevents.Event)) error
	Close() error
}

type metricsSource interface {
	Metrics() fsevents.Metrics
}

// Options configures a Watcher. Only Config is required.
type Options struct {
	Config *config.Config
	Logger *slog.Logger
	// DryRun logs the pipeline commands instead of running them. Ignored when Runner is set.
	DryRun bool
	// InitialIndex runs the pipeline once at Start, before any change is seen.
	InitialIndex bool
	Runner       pipeline.Runner
	// Source defaults to a recursive fsnotify source rooted at the repository.
	Source   EventSource
	Recorder RunRecorder
	Clock    Clock
	NewRunID func() string
}

// Status is a point-in-time view of the watcher.
type Status struct {
	State          State             `json:"state"`
	Pending        int               `json:"pending"`
	LastChange     *time.Time        `json:"last_change,omitempty"`
	LastRun        *RunSummary       `json:"last_run,omitempty"`
	InitialPending bool              `json:"initial_pending"`
	Repository     string            `json:"repository"`
	Collection     string            `json:"collection"`
	Debounce       float64           `json:"debounce_seconds"`
	DryRun         bool              `json:"dry_run"`
	Source         *fsevents.Metrics `json:"source,omitempty"`
}

// Watcher wires an event source, a ChangeSet and the pipeline together.
type Watcher struct {
	cfg       *config.Config
	logger    *slog.Logger
	filter    *Filter
	changes   *ChangeSet
	executor  *Executor
	scheduler *Scheduler
	source    EventSource
	hub       *Hub
	clock     Clock
	dryRun    bool
	initial   bool
	exclude   []string

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// New validates the configuration and builds a Watcher. Configuration problems are
// returned as CONFIGURATION errors and nothing is started.
func New(opts Options) (*Watcher, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.NewConfiguration("config is required")
	}
	if err := cfg.Validate(opts.DryRun); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}

	runner := opts.Runner
	if runner == nil {
		if opts.DryRun {
			runner = &pipeline.DryRunner{Logger: logger}
		} else {
			runner = &pipeline.ExecRunner{Logger: logger}
		}
	}

	w := &Watcher{
		cfg:     cfg,
		logger:  logger,
		filter:  NewFilter(cfg.RepositoryPath, cfg.IncludeExtensions, cfg.IgnorePatterns),
		changes: NewChangeSet(cfg.Debounce()),
		hub:     NewHub(),
		clock:   clock,
		dryRun:  opts.DryRun,
		initial: opts.InitialIndex,
	}
	w.exclude = w.ownPaths()
	w.executor = NewExecutor(ExecutorOptions{
		Changes:      w.changes,
		Commands:     pipeline.Build(cfg),
		Runner:       runner,
		Recorder:     opts.Recorder,
		Hub:          w.hub,
		Clock:        clock,
		Logger:       logger,
		NewRunID:     opts.NewRunID,
		InitialIndex: opts.InitialIndex,
	})
	w.scheduler = NewScheduler(w.executor, clock, cfg.PollInterval(), logger)

	w.source = opts.Source
	if w.source == nil {
		source, err := fsevents.New(fsevents.Options{
			Root:     w.filter.Root(),
			WatchDir: w.filter.ShouldWatchDir,
			Logger:   logger,
			ErrorHandler: func(err error) {
				logger.Error("event source failed", "error", errors.NewUnexpected(err))
			},
		})
		if err != nil {
			return nil, errors.NewConfigurationf("watch %s: %v", cfg.RepositoryPath, err)
		}
		w.source = source
	}
	return w, nil
}

// ownPaths lists files docwatch writes itself, so that a repository containing its
// own output does not trigger itself.
func (w *Watcher) ownPaths() []string {
	var paths []string
	for _, p := range []string{w.cfg.ExtractedJSONPath, w.cfg.StateDir} {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			paths = append(paths, filepath.Clean(abs))
		}
	}
	return paths
}

// Start begins watching and launches the scheduler. With InitialIndex set the first
// run happens immediately on the scheduler goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return errors.NewInvalidRequest("watcher already started")
	}
	if w.changes.State() == StateStopped {
		return errors.NewInvalidRequest("watcher stopped")
	}

	if err := w.source.Start(w.HandleEvent); err != nil {
		return errors.NewUnexpected(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.started = true

	w.logger.Info("watching repository",
		"repository", w.filter.Root(),
		"collection", w.cfg.CollectionName,
		"debounce", w.cfg.Debounce(),
		"dry_run", w.dryRun,
	)

	done := w.done
	go func() {
		defer close(done)
		w.scheduler.Run(runCtx, w.initial)
	}()
	return nil
}

// HandleEvent queues a filesystem event. It never blocks on the pipeline.
func (w *Watcher) HandleEvent(event fsevents.Event) {
	if event.IsDir || event.Path == "" {
		return
	}
	path := event.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.filter.Root(), path)
	}
	path = filepath.Clean(path)

	if w.isOwnPath(path) || !w.filter.ShouldTrack(path) {
		w.logger.Debug("ignoring change", "path", path, "op", event.Op.String())
		return
	}
	w.Enqueue(path)
}

// Enqueue records a change to an already-filtered path.
func (w *Watcher) Enqueue(path string) {
	now := w.clock.Now()
	rearmed := w.changes.Enqueue(path, now)
	w.logger.Debug("change queued", "path", path)
	if rearmed {
		w.logger.Info("change after failed run; pipeline re-armed", "path", path)
		w.hub.Publish(Event{Type: EventRearmed, State: StateIdle, Pending: w.changes.Len(), Time: now})
	}
}

func (w *Watcher) isOwnPath(path string) bool {
	for _, own := range w.exclude {
		if path == own || strings.HasPrefix(path, own+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Stop closes the event source, stops scheduling and waits for an in-flight run to
// finish on its own, bounded by the configured stop timeout. The running tool is
// never killed; on timeout a STOP_TIMEOUT error is returned and the tool keeps
// running. Safe to call repeatedly and from a signal handler.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		w.stopErr = w.stop()
	})
	return w.stopErr
}

func (w *Watcher) stop() error {
	if err := w.source.Close(); err != nil {
		w.logger.Warn("close event source", "error", err)
	}
	wasRunning := w.changes.State() == StateRunning
	w.changes.Stop()

	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	var err error
	if done != nil {
		if wasRunning {
			w.logger.Info("waiting for in-flight pipeline run")
		}
		err = w.wait(done)
	}

	w.hub.Publish(Event{Type: EventStopped, State: StateStopped, Pending: w.changes.Len(), Time: w.clock.Now()})
	w.hub.Close()
	if err != nil {
		w.logger.Error("stop timed out; pipeline tool left running", "error", err)
		return err
	}
	w.logger.Info("watcher stopped")
	return nil
}

func (w *Watcher) wait(done <-chan struct{}) error {
	timeout := w.cfg.StopTimeout()
	if timeout <= 0 {
		<-done
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return errors.NewStopTimeout(timeout)
	}
}

// Done is closed when the scheduler goroutine exits. Nil before Start.
func (w *Watcher) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Status returns the current watcher status.
func (w *Watcher) Status() Status {
	cs := w.changes.Status()
	status := Status{
		State:          cs.State,
		Pending:        cs.Pending,
		LastRun:        w.executor.LastRun(),
		InitialPending: w.executor.InitialPending(),
		Repository:     w.filter.Root(),
		Collection:     w.cfg.CollectionName,
		Debounce:       w.cfg.DebounceSeconds,
		DryRun:         w.dryRun,
	}
	if !cs.LastChange.IsZero() {
		lastChange := cs.LastChange
		status.LastChange = &lastChange
	}
	if source, ok := w.source.(metricsSource); ok {
		metrics := source.Metrics()
		status.Source = &metrics
	}
	return status
}

// Subscribe returns a channel of state transitions and a cancel function.
func (w *Watcher) Subscribe() (<-chan Event, func()) {
	return w.hub.Subscribe()
}

// Config returns the watcher's configuration.
func (w *Watcher) Config() *config.Config {
	return w.cfg
}
