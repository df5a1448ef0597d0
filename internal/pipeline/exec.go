package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// DefaultMaxOutput bounds the captured output per step; older bytes are dropped.
const DefaultMaxOutput = 64 * 1024

// ExecRunner runs commands as OS processes and captures combined stdout/stderr.
type ExecRunner struct {
	MaxOutput int
	Logger    *slog.Logger
}

// Run starts cmd and waits for it. The process is bound to ctx.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	maxOutput := r.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}

	proc := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	proc.Dir = cmd.Dir
	proc.Env = append(os.Environ(), cmd.Env...)

	output := newTailBuffer(maxOutput)
	proc.Stdout = output
	proc.Stderr = output

	if r.Logger != nil {
		r.Logger.Debug("starting pipeline step", "step", cmd.Step, "command", cmd.String())
	}

	started := time.Now()
	err := proc.Run()
	result := Result{
		Output:   output.String(),
		ExitCode: exitCode(proc, err),
		Duration: time.Since(started),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			return result, fmt.Errorf("%s exited with status %d", filepath.Base(cmd.Path), result.ExitCode)
		}
		return result, fmt.Errorf("launch %s: %w", cmd.Path, err)
	}
	return result, nil
}

func exitCode(proc *exec.Cmd, err error) int {
	if proc.ProcessState != nil {
		return proc.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// DryRunner logs the commands it is given and reports success without executing them.
type DryRunner struct {
	Logger *slog.Logger
}

// Run logs cmd and returns an empty successful result.
func (r *DryRunner) Run(_ context.Context, cmd Command) (Result, error) {
	if r.Logger != nil {
		r.Logger.Info("dry run: would execute",
			"step", cmd.Step,
			"command", cmd.String(),
			"dir", cmd.Dir,
			"env", cmd.Env,
		)
	}
	return Result{}, nil
}

// tailBuffer is an io.Writer that keeps the last max bytes written to it.
// Safe for concurrent writes from stdout and stderr copiers.
type tailBuffer struct {
	mu        sync.Mutex
	max       int
	buf       []byte
	truncated bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if len(p) >= b.max {
		b.buf = append(b.buf[:0], p[len(p)-b.max:]...)
		b.truncated = true
		return n, nil
	}
	if overflow := len(b.buf) + len(p) - b.max; overflow > 0 {
		b.buf = append(b.buf[:0], b.buf[overflow:]...)
		b.truncated = true
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return "[output truncated]\n" + string(b.buf)
	}
	return string(b.buf)
}
