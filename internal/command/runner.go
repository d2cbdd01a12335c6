// Package command implements CommandRunner (spec.md §4.1): bounded
// wall-clock execution of an external command, distinguishing a
// timeout from a launch failure from a non-zero exit.
//
// Grounded on the teacher's exec.Cmd launch discipline in openvpn.go
// (careful goroutine cleanup around cmd.Wait()), generalized into a
// standalone reusable helper.
package command

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/defgrid/tunnelrotor/internal/errtax"
)

// Result carries the outcome of a single bounded command execution.
type Result struct {
	Success bool
	Stdout  string
	Stderr  string
}

// Runner executes external commands with a bounded wall-clock timeout.
// The zero value is ready to use; Runner holds no state and every
// operation is independently safe for concurrent use.
type Runner struct{}

// NewRunner constructs a Runner. No retries are performed; callers
// decide whether and how to retry a failed invocation.
func NewRunner() *Runner {
	return &Runner{}
}

// Run launches argv[0] with the remaining elements as arguments,
// waiting at most timeout for it to complete.
func (r *Runner) Run(ctx context.Context, argv []string, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errtax.New(errtax.KindSpawnError, "", "", errTunnelEmptyCommand)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, errtax.New(errtax.KindSpawnError, "", argv[0], err)
	}

	err := cmd.Wait()

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{}, errtax.New(errtax.KindTimeout, "", argv[0], runCtx.Err())
	}

	return Result{
		Success: err == nil,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}, nil
}

var errTunnelEmptyCommand = emptyCommandError{}

type emptyCommandError struct{}

func (emptyCommandError) Error() string { return "command: empty argv" }
