// Package shell implements executor.Executor with local processes.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sakif/dipy-services/internal/executor"
)

// DefaultTimeout bounds one script run when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Minute

const waitDelay = 2 * time.Second

type Config struct {
	Timeout time.Duration
	// Dir is the working directory; empty means the script's own directory.
	Dir string
}

// Executor runs scripts synchronously with os/exec, one process per call.
type Executor struct {
	config Config
	logger *slog.Logger
}

var _ executor.Executor = (*Executor)(nil)

func New(cfg Config, logger *slog.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Executor{config: cfg, logger: logger}
}

// Execute starts the script and waits for it. Stdout and stderr are captured
// separately; a non-zero exit is returned in the result, not as an error.
func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	if req.Script == "" {
		return nil, errors.New("shell: script path is empty")
	}
	script, err := filepath.Abs(req.Script)
	if err != nil {
		return nil, fmt.Errorf("shell: resolving %s: %w", req.Script, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, script, req.Args...)
	cmd.Dir = e.config.Dir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(script)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children of a killed script may keep the pipes open.
	cmd.WaitDelay = waitDelay

	e.logger.Info("running update script", slog.String("script", script))
	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	result := &executor.ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, fmt.Errorf("shell: %s: %w", filepath.Base(script), ctx.Err())
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("shell: starting %s: %w", filepath.Base(script), err)
	}

	e.logger.Info("update script finished",
		slog.String("script", filepath.Base(script)),
		slog.Int("exitCode", result.ExitCode),
		slog.Duration("duration", duration),
	)
	return result, nil
}
