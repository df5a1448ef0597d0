package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/docwatch/internal/db"
	"github.com/hpungsan/docwatch/internal/errors"
)

// LatestInput contains parameters for the Latest operation.
type LatestInput struct {
	Collection    string
	Status        string
	IncludeOutput bool // default: false (summary only)
}

// LatestOutput contains the result of the Latest operation.
type LatestOutput struct {
	Item *LatestItem `json:"item"` // nil if the ledger has no matching run
}

// LatestItem is the latest run with its file list and, optionally, its output.
type LatestItem struct {
	db.RunSummary
	Files  []string `json:"files"`
	Output string   `json:"output,omitempty"`
}

// Latest retrieves the most recently started run.
func Latest(ctx context.Context, database *sql.DB, input LatestInput) (*LatestOutput, error) {
	status, err := validateStatus(input.Status)
	if err != nil {
		return nil, err
	}

	run, err := db.LatestRun(ctx, database, db.Filter{Collection: strings.TrimSpace(input.Collection), Status: status})
	if errors.Is(err, errors.ErrNotFound) {
		return &LatestOutput{Item: nil}, nil
	}
	if err != nil {
		return nil, err
	}

	item := &LatestItem{RunSummary: run.Summary(), Files: run.Files}
	if input.IncludeOutput {
		item.Output = run.Output
	}
	return &LatestOutput{Item: item}, nil
}
