// Package runner executes the external toolchain as a subprocess with a hard
// wall-clock limit and bounded output capture.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"contractlab/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultMaxOutputBytes int64 = 4 << 20
	defaultTimeout              = 60 * time.Second
	waitDelay                   = 2 * time.Second
)

// Spec describes one subprocess invocation.
type Spec struct {
	Dir            string
	Command        []string
	Env            []string
	Timeout        time.Duration
	MaxOutputBytes int64
}

// Result is the outcome of a process that did start.
// ExitCode is nil when the process was killed by the wall timer.
type Result struct {
	ExitCode  *int
	Stdout    string
	Stderr    string
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
}

// SpawnError means the toolchain never ran: missing binary, bad permissions, bad dir.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Runner runs one subprocess per call.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Config holds process defaults.
type Config struct {
	DefaultTimeout time.Duration
	MaxOutputBytes int64
}

// ProcessRunner is the os/exec implementation of Runner.
type ProcessRunner struct {
	cfg Config
}

// NewProcessRunner creates a runner with defaults applied.
func NewProcessRunner(cfg Config) *ProcessRunner {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &ProcessRunner{cfg: cfg}
}

// Run starts spec.Command and waits for it to exit or for the wall timer to fire.
// A timer expiry or ctx cancellation kills the whole process group and yields
// TimedOut with no exit code; output captured so far is kept only as raw text.
func (r *ProcessRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	if len(spec.Command) == 0 || strings.TrimSpace(spec.Command[0]) == "" {
		return Result{}, &SpawnError{Command: "", Err: errors.New("command is empty")}
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	maxBytes := spec.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = r.cfg.MaxOutputBytes
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = waitDelay

	stdout := newCappedBuffer(maxBytes)
	stderr := newCappedBuffer(maxBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, &SpawnError{Command: spec.Command[0], Err: err}
	}

	var wall wallClock
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			wall.expire(func() { killProcessGroup(cmd) })
		case <-timer.C:
			wall.expire(func() { killProcessGroup(cmd) })
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	timedOut := wall.finish(cmd.ProcessState)
	close(done)

	res := Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		TimedOut:  timedOut,
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Duration:  time.Since(start),
	}
	if !res.TimedOut {
		code := exitCodeFromErr(waitErr, cmd.ProcessState)
		res.ExitCode = &code
	}
	if res.TimedOut {
		logger.Warn(ctx, "toolchain process killed",
			zap.Strings("command", spec.Command),
			zap.Duration("timeout", timeout),
			zap.Bool("ctx_done", ctx.Err() != nil),
		)
	}
	return res, nil
}

// wallClock settles the race between the wall timer and process exit.
type wallClock struct {
	mu       sync.Mutex
	finished bool
	expired  bool
}

// expire runs kill unless the process was already reaped.
func (w *wallClock) expire(kill func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return
	}
	w.expired = true
	kill()
}

// finish records the exit and reports whether the run timed out. A child that
// exited on its own beat the timer even if the kill was sent.
func (w *wallClock) finish(state *os.ProcessState) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finished = true
	if w.expired && state != nil && state.Exited() {
		w.expired = false
	}
	return w.expired
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// cappedBuffer keeps at most max bytes and silently drops the rest so a chatty
// child never blocks on a full pipe.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func newCappedBuffer(max int64) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.max - int64(b.buf.Len())
	if remaining <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
