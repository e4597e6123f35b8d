// Package tool runs optional external programs (smbclient, feroxbuster,
// sublist3r) with a wall clock bound and captured output. The absence of
// a tool is a normal outcome surfaced as model.ErrToolUnavailable, never
// a crash.
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/recontk/recontk/internal/model"
)

// Result carries the outcome of one finished invocation. Callers treat
// exit code 0 as success; some tools signal success via non-empty
// stdout despite a non-zero exit code (sublist3r does), which is their
// adapter's call to make.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

// Runner resolves and executes external tools. The zero value is not
// usable, call NewRunner.
type Runner struct {
	lookPath func(string) (string, error)
}

func NewRunner() *Runner {
	return &Runner{lookPath: exec.LookPath}
}

// NewRunnerWithLookPath allows tests to fake tool resolution.
func NewRunnerWithLookPath(lookPath func(string) (string, error)) *Runner {
	return &Runner{lookPath: lookPath}
}

// Available reports whether name resolves to an executable.
func (r *Runner) Available(name string) bool {
	_, err := r.lookPath(name)
	return err == nil
}

// Run executes name with args, bounded by timeout. The process is
// forcibly terminated on timeout expiry and the expiry is reported as a
// context.DeadlineExceeded wrapped error, not a crash. A non-zero exit
// of a started process is not an error here, it is part of the Result.
func (r *Runner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	path, err := r.lookPath(name)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", name, model.ErrToolUnavailable)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	} else {
		slog.WarnContext(ctx, "tool has no timeout", "tool", name)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// give the process a moment to die on cancel before SIGKILL
	cmd.WaitDelay = 2 * time.Second

	started := time.Now()
	slog.DebugContext(ctx, "running tool", "tool", name, "args", args)
	err = cmd.Run()
	elapsed := time.Since(started)

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	res := Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Elapsed:  elapsed,
	}

	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return res, fmt.Errorf("%s timed out after %s: %w", name, timeout, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// started and exited non-zero, caller decides what that means
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("running %s: %w", name, err)
	}
	return res, nil
}
