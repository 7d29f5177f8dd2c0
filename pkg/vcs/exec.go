package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// CommandResult holds the output of one command invocation.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// CommandExecutor runs external commands. Git sends every subcommand through
// it as "git -C <vault root> <args>" and turns a non-zero ExitCode into an
// error carrying stderr, which is where an index.lock conflict is detected.
// Tests substitute a recorder.
type CommandExecutor interface {
	Execute(ctx context.Context, command string, args []string, env []string) (*CommandResult, error)
}

// RealExecutor runs commands via os/exec. It is the executor Git uses when
// none is configured.
type RealExecutor struct{}

// Execute runs a command with the given arguments and environment, capturing
// stdout and stderr. A non-zero exit is reported through ExitCode, not the
// error; the error is reserved for commands that could not start or were
// cancelled through ctx.
func (r *RealExecutor) Execute(ctx context.Context, command string, args []string, env []string) (*CommandResult, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	if len(env) > 0 {
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("execute command %q: %w", command, err)
		}
	}

	return &CommandResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}
