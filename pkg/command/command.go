// Package command runs external system tools and captures their output.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Result is the outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports whether the command exited with status 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes a command with arguments. A non-zero exit status is
// reported through Result.ExitCode, not as an error; the error is reserved
// for failures to start or wait for the process.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Env, when non-empty, replaces the process environment.
	Env []string
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	if name == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if len(r.Env) > 0 {
		cmd.Env = r.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", name, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	log.Trace().
		Str("command", name).
		Str("args", strings.Join(args, " ")).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("command finished")

	return result, nil
}
