package mcp

import "github.com/mark3labs/mcp-go/mcp"

var listToolDef = mcp.NewTool("run_list",
	mcp.WithDescription("List docwatch pipeline runs, newest first. Each item summarizes one extract/index run: status, trigger, number of changed files, failed step and error."),
	mcp.WithString("collection", mcp.Description("Only runs of this collection. Omit for every collection.")),
	mcp.WithString("status", mcp.Description("Only runs with this status."), mcp.Enum("running", "succeeded", "failed")),
	mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return (default 20, max 100).")),
	mcp.WithNumber("offset", mcp.Description("Number of runs to skip.")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var latestToolDef = mcp.NewTool("run_latest",
	mcp.WithDescription("Return the most recent docwatch pipeline run with its changed files. Returns a null item when no run matches."),
	mcp.WithString("collection", mcp.Description("Only runs of this collection.")),
	mcp.WithString("status", mcp.Description("Only runs with this status."), mcp.Enum("running", "succeeded", "failed")),
	mcp.WithBoolean("include_output", mcp.Description("Include the captured tool output (default false).")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var fetchToolDef = mcp.NewTool("run_fetch",
	mcp.WithDescription("Fetch one docwatch pipeline run by id, including changed files and captured tool output."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Run id (ULID).")),
	mcp.WithBoolean("include_output", mcp.Description("Include the captured tool output (default true).")),
	mcp.WithBoolean("include_report", mcp.Description("Add a Markdown report of the run (default false).")),
	mcp.WithReadOnlyHintAnnotation(true),
)
