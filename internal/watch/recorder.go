package watch

import (
	"context"
	"time"
)

// RunStart describes a pipeline run that has just begun.
type RunStart struct {
	ID        string
	Trigger   Trigger
	Files     []string
	StartedAt time.Time
}

// RunEnd describes how a pipeline run finished.
type RunEnd struct {
	ID         string
	Succeeded  bool
	FailedStep string
	Error      string
	Output     string
	FinishedAt time.Time
	Duration   time.Duration
}

// RunRecorder persists run outcomes. Recording failures are logged and never affect
// pipeline state.
type RunRecorder interface {
	RunStarted(ctx context.Context, run RunStart) error
	RunFinished(ctx context.Context, run RunEnd) error
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(context.Context, RunStart) error { return nil }
func (nopRecorder) RunFinished(context.Context, RunEnd) error  { return nil }
