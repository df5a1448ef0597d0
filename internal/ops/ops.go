// Package ops implements the read operations over the run ledger shared by the CLI,
// the status server and the MCP server.
package ops

import (
	"strings"

	"github.com/hpungsan/docwatch/internal/db"
	"github.com/hpungsan/docwatch/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// validateStatus accepts "", "running", "succeeded" and "failed".
func validateStatus(status string) (string, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", db.StatusRunning, db.StatusSucceeded, db.StatusFailed:
		return status, nil
	default:
		return "", errors.NewInvalidRequest("status must be one of running, succeeded, failed")
	}
}
