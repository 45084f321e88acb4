// Package process runs external commands behind a swappable Runner.
package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"time"
)

// Command describes one invocation
type Command struct {
	Name string
	Args []string
	Dir  string
	// Stdout, when set, also receives stdout as it is produced
	Stdout io.Writer
}

// Result holds the captured output of a finished command
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes commands. A non-zero exit is reported as an error with the Result filled in.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// CommandRunner runs commands with os/exec
type CommandRunner struct {
	// WaitDelay bounds how long pipes may outlive a killed process
	WaitDelay time.Duration
}

// NewCommandRunner creates a CommandRunner
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{WaitDelay: 5 * time.Second}
}

// Run executes cmd and waits for it; ctx cancellation kills the process
func (r *CommandRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = r.WaitDelay

	var stdout, stderr bytes.Buffer
	if cmd.Stdout != nil {
		c.Stdout = io.MultiWriter(&stdout, cmd.Stdout)
	} else {
		c.Stdout = &stdout
	}
	c.Stderr = &stderr

	err := c.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else if err != nil {
		res.ExitCode = -1
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, err
}

// LookPath reports whether name resolves to an executable
func LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
