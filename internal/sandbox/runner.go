package sandbox

import (
	"bytes"
	"context"
	"os/exec"
)

// CommandRunner abstracts command execution so the subprocess-backed
// sandboxes can be tested without spawning real processes.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// OSRunner is the real CommandRunner using os/exec.
type OSRunner struct{}

// Run executes the command and separates candidate failure (nonzero exit,
// returned as an exit code with a nil error) from machinery failure
// (command could not run at all).
func (OSRunner) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	switch e := runErr.(type) {
	case nil:
		return stdout, stderr, 0, nil
	case *exec.ExitError:
		return stdout, stderr, e.ExitCode(), nil
	default:
		return stdout, stderr, -1, runErr
	}
}
