package db

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/hpungsan/docwatch/internal/watch"
)

// Recorder writes pipeline runs of one collection to the ledger.
type Recorder struct {
	db         *sql.DB
	collection string
	keep       int
	logger     *slog.Logger
}

var _ watch.RunRecorder = (*Recorder)(nil)

// NewRecorder creates a Recorder that keeps at most keep runs of collection.
// keep <= 0 disables pruning.
func NewRecorder(db *sql.DB, collection string, keep int, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{db: db, collection: collection, keep: keep, logger: logger}
}

// RunStarted inserts a running row.
func (r *Recorder) RunStarted(ctx context.Context, run watch.RunStart) error {
	return InsertRun(ctx, r.db, &Run{
		ID:         run.ID,
		Collection: r.collection,
		Trigger:    string(run.Trigger),
		Files:      run.Files,
		StartedAt:  run.StartedAt,
	})
}

// RunFinished records the outcome and prunes old runs.
func (r *Recorder) RunFinished(ctx context.Context, run watch.RunEnd) error {
	err := FinishRun(ctx, r.db, run.ID, Outcome{
		Succeeded:  run.Succeeded,
		FailedStep: run.FailedStep,
		Error:      run.Error,
		Output:     run.Output,
		FinishedAt: run.FinishedAt,
		Duration:   run.Duration,
	})
	if err != nil {
		return err
	}

	pruned, err := PruneRuns(ctx, r.db, r.collection, r.keep)
	if err != nil {
		return err
	}
	if pruned > 0 {
		r.logger.Debug("pruned run history", "collection", r.collection, "removed", pruned)
	}
	return nil
}
