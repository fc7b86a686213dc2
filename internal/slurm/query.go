package slurm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultBinary is the scheduler's status-listing command
	DefaultBinary = "squeue"
	// DefaultTimeout bounds a single squeue invocation
	DefaultTimeout = 30 * time.Second
)

// Querier runs one scheduler query and returns its raw output
type Querier interface {
	Query(ctx context.Context, args []string) (string, error)
}

// QuerierFunc adapts a function to the Querier interface
type QuerierFunc func(ctx context.Context, args []string) (string, error)

// Query calls f(ctx, args)
func (f QuerierFunc) Query(ctx context.Context, args []string) (string, error) {
	return f(ctx, args)
}

// QueryError is returned when squeue could not be run or exited non-zero
type QueryError struct {
	Binary   string
	ExitCode int // -1 when the process did not exit normally
	Stderr   string
	Err      error
}

func (e *QueryError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.ExitCode > 0 {
		return fmt.Sprintf("%s exited with status %d: %s", e.Binary, e.ExitCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Binary, msg)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// CommandQuerier runs squeue as a subprocess
type CommandQuerier struct {
	Binary  string
	Layout  Layout
	Timeout time.Duration
}

// NewCommandQuerier returns a querier for the given squeue binary using
// DefaultLayout
func NewCommandQuerier(binary string, timeout time.Duration) *CommandQuerier {
	if binary == "" {
		binary = DefaultBinary
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CommandQuerier{
		Binary:  binary,
		Layout:  DefaultLayout(),
		Timeout: timeout,
	}
}

// Check verifies that the squeue binary can be found
func (q *CommandQuerier) Check() error {
	if _, err := exec.LookPath(q.Binary); err != nil {
		return fmt.Errorf("find %s: %w", q.Binary, err)
	}
	return nil
}

// Args returns the full argument list for one invocation: the user's filter
// and sort flags unmodified, followed by the output format this program
// needs.
func (q *CommandQuerier) Args(userArgs []string) []string {
	args := make([]string, 0, len(userArgs)+3)
	args = append(args, userArgs...)
	args = append(args, "--noheader", "--array", q.Layout.FormatArg())
	return args
}

// Query runs squeue and returns its stdout. The process is killed when ctx
// is cancelled or the timeout expires.
func (q *CommandQuerier) Query(ctx context.Context, userArgs []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, q.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, q.Binary, q.Args(userArgs)...)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		qerr := &QueryError{Binary: q.Binary, ExitCode: -1, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			qerr.ExitCode = exitErr.ExitCode()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			qerr.Err = fmt.Errorf("timed out after %v: %w", q.Timeout, ctx.Err())
			qerr.Stderr = ""
		} else if ctx.Err() != nil {
			qerr.Err = ctx.Err()
			qerr.Stderr = ""
		}
		return "", qerr
	}
	return stdout.String(), nil
}
