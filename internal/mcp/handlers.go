package mcp

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/docwatch/internal/errors"
	"github.com/hpungsan/docwatch/internal/ops"
)

// Handlers holds the database connection for MCP tool handlers.
type Handlers struct {
	db *sql.DB
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB) *Handlers {
	return &Handlers{db: db}
}

// ListRequest represents the arguments of run_list.
type ListRequest struct {
	Collection string `json:"collection,omitempty"`
	Status     string `json:"status,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// LatestRequest represents the arguments of run_latest.
type LatestRequest struct {
	Collection    string `json:"collection,omitempty"`
	Status        string `json:"status,omitempty"`
	IncludeOutput bool   `json:"include_output,omitempty"`
}

// FetchRequest represents the arguments of run_fetch.
type FetchRequest struct {
	ID            string `json:"id"`
	IncludeOutput *bool  `json:"include_output,omitempty"`
	IncludeReport bool   `json:"include_report,omitempty"`
}

// HandleList handles the run_list tool.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	output, err := ops.List(ctx, h.db, ops.ListInput{
		Collection: args.Collection,
		Status:     args.Status,
		Limit:      args.Limit,
		Offset:     args.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(output)
}

// HandleLatest handles the run_latest tool.
func (h *Handlers) HandleLatest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[LatestRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	output, err := ops.Latest(ctx, h.db, ops.LatestInput{
		Collection:    args.Collection,
		Status:        args.Status,
		IncludeOutput: args.IncludeOutput,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(output)
}

// HandleFetch handles the run_fetch tool.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	output, err := ops.Fetch(ctx, h.db, ops.FetchInput{
		ID:            args.ID,
		IncludeOutput: args.IncludeOutput,
		IncludeReport: args.IncludeReport,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(output)
}

// errorResult converts an error into an MCP error result.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if wErr, ok := errors.As(err); ok && wErr.Code != errors.ErrUnexpected {
		errorObj := map[string]any{
			"code":    wErr.Code,
			"message": wErr.Message,
			"status":  wErr.Status,
		}
		if wErr.Details != nil {
			errorObj["details"] = wErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		// Unexpected errors can carry file paths and SQL text.
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrUnexpected,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
