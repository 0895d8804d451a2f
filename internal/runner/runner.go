package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command describes a single external tool invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string // appended to the inherited environment
	Stdin io.Reader

	// Echo mirrors the tool's output to the process stderr while it is
	// being captured, so long-running tools stay visible.
	Echo bool
}

// String renders the invocation for log records.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result captures the outcome of a completed invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Succeeded reports whether the tool exited with status zero.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Output returns the captured text most useful for error reporting:
// stderr when present, stdout otherwise, trimmed of surrounding whitespace.
func (r Result) Output() string {
	if text := strings.TrimSpace(r.Stderr); text != "" {
		return text
	}
	return strings.TrimSpace(r.Stdout)
}

// Runner executes external tools to completion. Implementations return an
// error only when the tool could not run at all (missing binary, canceled
// context); a non-zero exit status is reported through Result so each call
// site decides what failure means.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Local runs commands on the host through os/exec.
type Local struct {
	Logger *slog.Logger
}

func (l *Local) logger() *slog.Logger {
	if l != nil && l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Run executes the command, blocking until it exits.
func (l *Local) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Name == "" {
		return Result{}, errors.New("runner: command name must not be empty")
	}

	execCmd := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	execCmd.Dir = cmd.Dir
	execCmd.Stdin = cmd.Stdin
	if len(cmd.Env) > 0 {
		execCmd.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	if cmd.Echo {
		execCmd.Stdout = io.MultiWriter(&stdout, os.Stderr)
		execCmd.Stderr = io.MultiWriter(&stderr, os.Stderr)
	} else {
		execCmd.Stdout = &stdout
		execCmd.Stderr = &stderr
	}

	l.logger().Debug("running command", "command", cmd.String())

	started := time.Now()
	runErr := execCmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("%s interrupted: %w", cmd.Name, ctx.Err())
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return result, fmt.Errorf("run %s: %w", cmd.Name, runErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	l.logger().Debug("command finished",
		"command", cmd.Name,
		"exit_code", result.ExitCode,
		"duration", result.Duration,
	)

	return result, nil
}
