package watch

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/docwatch/internal/errors"
	"github.com/hpungsan/docwatch/internal/pipeline"
)

// Trigger says why a run happened.
type Trigger string

const (
	TriggerInitial  Trigger = "initial"
	TriggerDebounce Trigger = "debounce"
)

// ErrBusy is returned by Executor.Run when the pipeline is not idle.
var ErrBusy = stderrors.New("pipeline is not idle")

// RunSummary describes the most recent finished run.
type RunSummary struct {
	ID         string        `json:"id"`
	Trigger    Trigger       `json:"trigger"`
	Files      int           `json:"files"`
	Succeeded  bool          `json:"succeeded"`
	FailedStep string        `json:"failed_step,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	Changes  *ChangeSet
	Commands []pipeline.Command
	Runner   pipeline.Runner
	Recorder RunRecorder
	Hub      *Hub
	Clock    Clock
	Logger   *slog.Logger
	NewRunID func() string
	// InitialIndex lets the first run proceed with an empty snapshot.
	InitialIndex bool
}

// Executor runs the pipeline steps in order against a snapshot of pending changes.
type Executor struct {
	changes  *ChangeSet
	commands []pipeline.Command
	runner   pipeline.Runner
	recorder RunRecorder
	hub      *Hub
	clock    Clock
	logger   *slog.Logger
	newRunID func() string

	mu             sync.Mutex
	initialPending bool
	lastRun        *RunSummary
}

// NewExecutor creates an Executor. Changes and Runner are required.
func NewExecutor(opts ExecutorOptions) *Executor {
	e := &Executor{
		changes:        opts.Changes,
		commands:       opts.Commands,
		runner:         opts.Runner,
		recorder:       opts.Recorder,
		hub:            opts.Hub,
		clock:          opts.Clock,
		logger:         opts.Logger,
		newRunID:       opts.NewRunID,
		initialPending: opts.InitialIndex,
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.clock == nil {
		e.clock = systemClock{}
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.newRunID == nil {
		e.newRunID = func() string { return ulid.Make().String() }
	}
	return e
}

// Run executes one pipeline run. It returns ErrBusy without side effects unless the
// pipeline is idle. Step failures come back as EXTRACTION_FAILED or INDEXING_FAILED
// errors; the pipeline is then gated until the next change.
//
// Steps run with a context detached from ctx's cancellation so shutdown never kills
// a tool halfway through.
func (e *Executor) Run(ctx context.Context, trigger Trigger) error {
	if !e.changes.BeginRun() {
		return ErrBusy
	}
	return e.run(ctx, trigger)
}

// RunIfReady starts a debounce run only if the change set is ready at now. The
// readiness check and the move to Running are one step. Returns ErrBusy otherwise.
func (e *Executor) RunIfReady(ctx context.Context, now time.Time) error {
	if !e.changes.BeginRunIfReady(now) {
		return ErrBusy
	}
	return e.run(ctx, TriggerDebounce)
}

// run executes a run whose transition to Running has already happened.
func (e *Executor) run(ctx context.Context, trigger Trigger) (err error) {
	files := e.changes.TakeSnapshotAndClear()
	if len(files) == 0 && !(trigger == TriggerInitial && e.InitialPending()) {
		e.changes.FinishRun(true, e.clock.Now())
		return nil
	}

	run := RunStart{
		ID:        e.newRunID(),
		Trigger:   trigger,
		Files:     files,
		StartedAt: e.clock.Now(),
	}

	var failedStep, output string
	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.NewUnexpected(fmt.Errorf("pipeline panic: %v", recovered))
		}
		e.finish(ctx, run, failedStep, output, err)
	}()

	e.begin(ctx, run)

	stepCtx := context.WithoutCancel(ctx)
	for _, cmd := range e.commands {
		cmd = cmd.WithEnv(pipeline.EnvRunID + "=" + run.ID)
		e.logger.Info("running pipeline step", "run_id", run.ID, "step", cmd.Step, "command", cmd.String())

		result, stepErr := e.runner.Run(stepCtx, cmd)
		if stepErr != nil {
			failedStep, output = cmd.Step, result.Output
			return stepError(cmd.Step, result.Output, stepErr)
		}
		e.logger.Debug("pipeline step finished", "run_id", run.ID, "step", cmd.Step, "duration", result.Duration)
	}
	return nil
}

func stepError(step, output string, cause error) error {
	if step == pipeline.StepIndex {
		return errors.NewIndexingFailed(output, cause)
	}
	return errors.NewExtractionFailed(output, cause)
}

func (e *Executor) begin(ctx context.Context, run RunStart) {
	e.logger.Info("pipeline run started", "run_id", run.ID, "trigger", run.Trigger, "files", len(run.Files))
	for _, file := range run.Files {
		e.logger.Info("changed file", "run_id", run.ID, "path", file)
	}
	e.record(run.ID, "start", func() error {
		return e.recorder.RunStarted(context.WithoutCancel(ctx), run)
	})
	e.hub.Publish(Event{
		Type:    EventRunStarted,
		State:   StateRunning,
		RunID:   run.ID,
		Trigger: run.Trigger,
		Files:   run.Files,
		Time:    run.StartedAt,
	})
}

func (e *Executor) finish(ctx context.Context, run RunStart, failedStep, output string, runErr error) {
	now := e.clock.Now()
	succeeded := runErr == nil
	state, pending := e.changes.FinishRun(succeeded, now)

	summary := &RunSummary{
		ID:         run.ID,
		Trigger:    run.Trigger,
		Files:      len(run.Files),
		Succeeded:  succeeded,
		FailedStep: failedStep,
		StartedAt:  run.StartedAt,
		FinishedAt: now,
		Duration:   now.Sub(run.StartedAt),
	}
	if succeeded {
		e.logger.Info("pipeline run succeeded",
			"run_id", run.ID,
			"files", len(run.Files),
			"duration", summary.Duration,
			"pending", pending,
		)
	} else {
		summary.Error = runErr.Error()
		e.logger.Error("pipeline run failed; waiting for the next change",
			"run_id", run.ID,
			"step", failedStep,
			"error", runErr,
			"output", output,
		)
	}

	e.mu.Lock()
	e.lastRun = summary
	if succeeded {
		e.initialPending = false
	}
	e.mu.Unlock()

	end := RunEnd{
		ID:         run.ID,
		Succeeded:  succeeded,
		FailedStep: failedStep,
		Error:      summary.Error,
		Output:     output,
		FinishedAt: now,
		Duration:   summary.Duration,
	}
	e.record(run.ID, "finish", func() error {
		return e.recorder.RunFinished(context.WithoutCancel(ctx), end)
	})

	e.hub.Publish(Event{
		Type:      EventRunFinished,
		State:     state,
		RunID:     run.ID,
		Trigger:   run.Trigger,
		Succeeded: &succeeded,
		Error:     summary.Error,
		Pending:   pending,
		Time:      now,
	})
}

// record calls a recorder hook. Hook errors and panics are logged and never reach
// the pipeline.
func (e *Executor) record(runID, phase string, hook func() error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.Warn("record run "+phase+" panicked", "run_id", runID, "panic", recovered)
		}
	}()
	if err := hook(); err != nil {
		e.logger.Warn("record run "+phase+" failed", "run_id", runID, "error", err)
	}
}

// InitialPending reports whether the initial index has yet to succeed.
func (e *Executor) InitialPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialPending
}

// LastRun returns a copy of the most recent run summary, or nil.
func (e *Executor) LastRun() *RunSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastRun == nil {
		return nil
	}
	summary := *e.lastRun
	return &summary
}
