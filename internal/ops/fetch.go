package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/docwatch/internal/db"
	"github.com/hpungsan/docwatch/internal/errors"
	"github.com/hpungsan/docwatch/internal/report"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	ID            string
	IncludeOutput *bool // default: true (nil means default)
	IncludeReport bool  // adds a Markdown report
}

// FetchOutput contains the result of the Fetch operation.
type FetchOutput struct {
	db.Run        // embedded (copy, not pointer)
	Report string `json:"report,omitempty"`
}

// Fetch retrieves a run by ID.
func Fetch(ctx context.Context, database *sql.DB, input FetchInput) (*FetchOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	run, err := db.GetRun(ctx, database, id)
	if err != nil {
		return nil, err
	}

	output := &FetchOutput{Run: *run}
	if input.IncludeReport {
		output.Report = report.Markdown(run)
	}

	includeOutput := true
	if input.IncludeOutput != nil {
		includeOutput = *input.IncludeOutput
	}
	if !includeOutput {
		output.Output = ""
	}
	return output, nil
}
