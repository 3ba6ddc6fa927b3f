// Package executor runs the site update scripts triggered by webhooks.
package executor

import (
	"context"
	"time"
)

// ExecutionRequest names the script to run. Script is a path on the host;
// the script is executed directly, so it needs a shebang and the exec bit.
type ExecutionRequest struct {
	Script string   `json:"script"`
	Args   []string `json:"args,omitempty"`
}

// ExecutionResult is the outcome of a script that was started. A script that
// ran and failed is reported here through a non-zero ExitCode.
type ExecutionResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the script exited with status 0.
func (r *ExecutionResult) Succeeded() bool {
	return r.ExitCode == 0
}

// Executor runs one script to completion. An error means the script could
// not be started or was cut off by ctx.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}
