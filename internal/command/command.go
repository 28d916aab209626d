// Package command runs external tools such as helm and kubectl.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Request describes one external process invocation.
type Request struct {
	Binary string
	Args   []string
	// Env is appended to the current process environment.
	Env   []string
	Stdin []byte
}

// Result captures the output of a finished process.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Runner executes external processes.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// ExitError is returned when a process exits unsuccessfully.
type ExitError struct {
	Binary string
	Args   []string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Binary, strings.Join(e.Args, " "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// StderrContains reports whether err is an ExitError whose stderr contains substr.
func StderrContains(err error, substr string) bool {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return strings.Contains(strings.ToLower(exitErr.Stderr), strings.ToLower(substr))
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner constructs an ExecRunner.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run starts the process and waits for it. Cancelling ctx kills the process.
func (r *ExecRunner) Run(ctx context.Context, req Request) (Result, error) {
	if req.Binary == "" {
		return Result{}, errors.New("command binary is required")
	}
	cmd := exec.CommandContext(ctx, req.Binary, req.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if req.Stdin != nil {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}

	r.logger.Debug().
		Str("binary", req.Binary).
		Strs("args", req.Args).
		Msg("running command")

	err := cmd.Run()
	result := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return result, &ExitError{Binary: req.Binary, Args: req.Args, Stderr: stderr.String(), Err: err}
	}
	return result, nil
}
