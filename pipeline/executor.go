package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultToolTimeout is the wall-clock budget per tool invocation.
	// Native 3D tools can hang indefinitely on malformed geometry.
	DefaultToolTimeout = 5 * time.Minute

	// DefaultMaxOutputBytes caps captured stdout/stderr per invocation.
	DefaultMaxOutputBytes = 50 << 20
)

// ExecOptions bound one subprocess invocation.
type ExecOptions struct {
	Timeout        time.Duration
	MaxOutputBytes int64
}

func (o ExecOptions) withDefaults() ExecOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultToolTimeout
	}
	if o.MaxOutputBytes <= 0 {
		o.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return o
}

// ExecResult carries the captured output of a finished subprocess.
type ExecResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	Elapsed   time.Duration
}

// Runner is the subprocess contract the converters and optimizers build on.
type Runner interface {
	Run(ctx context.Context, tool string, args []string, opts ExecOptions) (*ExecResult, error)
}

// Executor runs external native tools with a hard timeout and capped
// output capture. It knows nothing about 3D semantics.
type Executor struct {
	logger *zap.Logger
}

func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{logger: logger}
}

func (e *Executor) Run(ctx context.Context, tool string, args []string, opts ExecOptions) (*ExecResult, error) {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	stdout := newCapWriter(opts.MaxOutputBytes)
	stderr := newCapWriter(opts.MaxOutputBytes)

	cmd := exec.CommandContext(runCtx, tool, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	res := &ExecResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
		Elapsed:   elapsed,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	e.logger.Debug("tool finished",
		zap.String("tool", tool),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("elapsed", elapsed),
		zap.Bool("truncated", res.Truncated),
	)

	if runCtx.Err() == context.DeadlineExceeded {
		return res, timeoutErr("exec", fmt.Errorf("%s killed after %s", tool, opts.Timeout))
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, toolErr("exec", fmt.Errorf("%s exited %d: %s", tool, res.ExitCode, tail(res.Stderr, 512)))
		}
		// Start failures (missing binary, permission) are tool errors too:
		// the deployment may be mid-rollout, so let the queue retry.
		return res, toolErr("exec", fmt.Errorf("start %s: %w", tool, err))
	}

	return res, nil
}

// capWriter buffers writes up to a byte limit and drops the rest,
// remembering that it did.
type capWriter struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func newCapWriter(limit int64) *capWriter {
	return &capWriter{limit: limit}
}

func (w *capWriter) Write(p []byte) (int, error) {
	room := w.limit - int64(w.buf.Len())
	if room <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > room {
		w.truncated = true
		w.buf.Write(p[:room])
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}

func (w *capWriter) String() string { return w.buf.String() }

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
