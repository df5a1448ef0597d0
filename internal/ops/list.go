package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/docwatch/internal/db"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Collection string // optional; empty lists every collection
	Status     string // optional: running, succeeded, failed
	Limit      int    // default: 20, max: 100
	Offset     int    // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []db.RunSummary `json:"items"`
	Pagination Pagination      `json:"pagination"`
	Sort       string          `json:"sort"`
}

// List retrieves run summaries, newest first, with pagination.
func List(ctx context.Context, database *sql.DB, input ListInput) (*ListOutput, error) {
	status, err := validateStatus(input.Status)
	if err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := max(input.Offset, 0)

	filter := db.Filter{Collection: strings.TrimSpace(input.Collection), Status: status}
	summaries, total, err := db.ListRuns(ctx, database, filter, limit, offset)
	if err != nil {
		return nil, err
	}

	// Ensure we return an empty array rather than nil
	if summaries == nil {
		summaries = []db.RunSummary{}
	}

	return &ListOutput{
		Items: summaries,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(summaries) < total,
			Total:   total,
		},
		Sort: "started_at_desc",
	}, nil
}
