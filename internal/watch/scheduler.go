package watch

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 500 * time.Millisecond

// Scheduler polls the executor and starts a run once its change set is ready.
type Scheduler struct {
	executor *Executor
	clock    Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(executor *Executor, clock Clock, interval time.Duration, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = systemClock{}
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		executor: executor,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// Tick runs the pipeline if the change set is ready. Reports whether a run happened.
func (s *Scheduler) Tick(ctx context.Context) bool {
	err := s.executor.RunIfReady(ctx, s.clock.Now())
	return !stderrors.Is(err, ErrBusy)
}

// Run optionally performs the initial run and then polls until ctx is done.
// A failed initial run is logged by the executor and does not stop the loop.
func (s *Scheduler) Run(ctx context.Context, initial bool) {
	if initial {
		if err := s.executor.Run(ctx, TriggerInitial); err != nil && !stderrors.Is(err, ErrBusy) {
			s.logger.Warn("initial index failed", "error", err)
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}
