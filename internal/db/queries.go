package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/docwatch/internal/errors"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// InterruptedError is stored on runs found still running at startup.
const InterruptedError = "interrupted: docwatch exited before the run finished"

// Run is one row of the run ledger.
type Run struct {
	ID         string     `json:"id"`
	Collection string     `json:"collection"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	Files      []string   `json:"files"`
	FileCount  int        `json:"file_count"`
	FailedStep string     `json:"failed_step,omitempty"`
	Error      string     `json:"error,omitempty"`
	Output     string     `json:"output,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// RunSummary is a Run without its file list and captured output.
type RunSummary struct {
	ID         string     `json:"id"`
	Collection string     `json:"collection"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	FileCount  int        `json:"file_count"`
	FailedStep string     `json:"failed_step,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// Filter narrows run queries. Empty fields match everything.
type Filter struct {
	Collection string
	Status     string
}

func (f Filter) where() (string, []any) {
	clause := " WHERE 1=1"
	var args []any
	if f.Collection != "" {
		clause += " AND collection = ?"
		args = append(args, f.Collection)
	}
	if f.Status != "" {
		clause += " AND status = ?"
		args = append(args, f.Status)
	}
	return clause, args
}

// InsertRun stores a new run in the running state.
func InsertRun(ctx context.Context, db *sql.DB, run *Run) error {
	files := run.Files
	if files == nil {
		files = []string{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return errors.NewUnexpected(err)
	}

	query := `
		INSERT INTO runs (
			id, collection, reason, status, files_json, file_count, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		run.ID, run.Collection, run.Trigger, StatusRunning,
		string(filesJSON), len(files), run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return errors.NewUnexpected(err)
	}
	return nil
}

// Outcome is how a run finished.
type Outcome struct {
	Succeeded  bool
	FailedStep string
	Error      string
	Output     string
	FinishedAt time.Time
	Duration   time.Duration
}

// FinishRun records the outcome of a run.
func FinishRun(ctx context.Context, db *sql.DB, id string, outcome Outcome) error {
	status := StatusSucceeded
	if !outcome.Succeeded {
		status = StatusFailed
	}
	query := `
		UPDATE runs SET
			status = ?, failed_step = ?, error = ?, output = ?,
			finished_at = ?, duration_ms = ?
		WHERE id = ?
	`
	result, err := db.ExecContext(ctx, query,
		status, toNullString(outcome.FailedStep), toNullString(outcome.Error), toNullString(outcome.Output),
		outcome.FinishedAt.UnixMilli(), outcome.Duration.Milliseconds(), id,
	)
	if err != nil {
		return errors.NewUnexpected(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewUnexpected(err)
	}
	if rows == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// GetRun retrieves a run by its ULID.
func GetRun(ctx context.Context, db *sql.DB, id string) (*Run, error) {
	query := selectRun + " WHERE id = ?"
	run, err := scanRun(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewUnexpected(err)
	}
	return run, nil
}

// LatestRun returns the most recently started run matching filter.
func LatestRun(ctx context.Context, db *sql.DB, filter Filter) (*Run, error) {
	where, args := filter.where()
	query := selectRun + where + " ORDER BY started_at DESC, id DESC LIMIT 1"
	run, err := scanRun(db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("latest")
	}
	if err != nil {
		return nil, errors.NewUnexpected(err)
	}
	return run, nil
}

// ListRuns returns run summaries, newest first, and the total matching count.
func ListRuns(ctx context.Context, db *sql.DB, filter Filter, limit, offset int) ([]RunSummary, int, error) {
	total, err := CountRuns(ctx, db, filter)
	if err != nil {
		return nil, 0, err
	}

	where, args := filter.where()
	query := `
		SELECT id, collection, reason, status, file_count, failed_step, error,
			started_at, finished_at, duration_ms
		FROM runs` + where + `
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewUnexpected(err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var s RunSummary
		var failedStep, errMsg sql.NullString
		var startedAt int64
		var finishedAt, duration sql.NullInt64
		if err := rows.Scan(&s.ID, &s.Collection, &s.Trigger, &s.Status, &s.FileCount,
			&failedStep, &errMsg, &startedAt, &finishedAt, &duration); err != nil {
			return nil, 0, errors.NewUnexpected(err)
		}
		s.FailedStep = failedStep.String
		s.Error = errMsg.String
		s.StartedAt = time.UnixMilli(startedAt).UTC()
		s.FinishedAt = fromNullMillis(finishedAt)
		s.DurationMS = duration.Int64
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewUnexpected(err)
	}
	return summaries, total, nil
}

// CountRuns counts runs matching filter.
func CountRuns(ctx context.Context, db *sql.DB, filter Filter) (int, error) {
	where, args := filter.where()
	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs"+where, args...).Scan(&total); err != nil {
		return 0, errors.NewUnexpected(err)
	}
	return total, nil
}

// PruneRuns deletes all but the newest keep runs of a collection. Running rows are kept.
func PruneRuns(ctx context.Context, db *sql.DB, collection string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	query := `
		DELETE FROM runs
		WHERE collection = ? AND status != ? AND id NOT IN (
			SELECT id FROM runs WHERE collection = ?
			ORDER BY started_at DESC, id DESC
			LIMIT ?
		)
	`
	result, err := db.ExecContext(ctx, query, collection, StatusRunning, collection, keep)
	if err != nil {
		return 0, errors.NewUnexpected(err)
	}
	return result.RowsAffected()
}

// MarkInterrupted fails every run of collection that is still marked running.
// Called at startup, when no run of this process can be in flight yet.
func MarkInterrupted(ctx context.Context, db *sql.DB, collection string, now time.Time) (int64, error) {
	query := `
		UPDATE runs SET status = ?, error = ?, finished_at = ?,
			duration_ms = ? - started_at
		WHERE collection = ? AND status = ?
	`
	millis := now.UnixMilli()
	result, err := db.ExecContext(ctx, query, StatusFailed, InterruptedError, millis, millis, collection, StatusRunning)
	if err != nil {
		return 0, errors.NewUnexpected(err)
	}
	return result.RowsAffected()
}

const selectRun = `
	SELECT id, collection, reason, status, files_json, file_count, failed_step,
		error, output, started_at, finished_at, duration_ms
	FROM runs`

func scanRun(row *sql.Row) (*Run, error) {
	var run Run
	var filesJSON string
	var failedStep, errMsg, output sql.NullString
	var startedAt int64
	var finishedAt, duration sql.NullInt64

	err := row.Scan(&run.ID, &run.Collection, &run.Trigger, &run.Status, &filesJSON, &run.FileCount,
		&failedStep, &errMsg, &output, &startedAt, &finishedAt, &duration)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(filesJSON), &run.Files); err != nil {
		return nil, err
	}
	run.FailedStep = failedStep.String
	run.Error = errMsg.String
	run.Output = output.String
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	run.FinishedAt = fromNullMillis(finishedAt)
	run.DurationMS = duration.Int64
	return &run, nil
}

// Summary drops the file list and output.
func (r *Run) Summary() RunSummary {
	return RunSummary{
		ID:         r.ID,
		Collection: r.Collection,
		Trigger:    r.Trigger,
		Status:     r.Status,
		FileCount:  r.FileCount,
		FailedStep: r.FailedStep,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMS: r.DurationMS,
	}
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
