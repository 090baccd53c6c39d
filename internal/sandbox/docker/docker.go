// Package docker runs candidate code inside throwaway containers via the
// docker CLI, with the per-worker workspace bind-mounted in and networking
// disabled.
package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/seantiz/crucible/internal/model"
	"github.com/seantiz/crucible/internal/sandbox"
)

const (
	defaultImage       = "python:3.12-slim"
	defaultSourceFile  = "solution.py"
	defaultTimeout     = 300 * time.Second
	defaultOutputLimit = 64 * 1024
	containerWorkdir   = "/workspace"
)

// Docker CLI exit codes that indicate the daemon or CLI failed rather than
// the containerized process.
const (
	exitDockerError     = 125
	exitContainerStart  = 126
	exitCommandNotFound = 127
)

// Options configures the docker sandbox factory.
type Options struct {
	Image       string
	Workdir     string
	Interpreter []string
	SourceFile  string
	Timeout     time.Duration
	OutputLimit int
	MemLimitMB  int
	CPULimit    float64
}

// Factory builds docker-backed sessions.
type Factory struct {
	opts   Options
	runner sandbox.CommandRunner
	logger *slog.Logger
}

// NewFactory creates a docker sandbox factory with defaults applied.
func NewFactory(opts Options, logger *slog.Logger) *Factory {
	if opts.Image == "" {
		opts.Image = defaultImage
	}
	if len(opts.Interpreter) == 0 {
		opts.Interpreter = []string{"python3"}
	}
	if opts.SourceFile == "" {
		opts.SourceFile = defaultSourceFile
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = defaultOutputLimit
	}
	return &Factory{
		opts:   opts,
		runner: sandbox.OSRunner{},
		logger: logger.With("component", "sandbox-docker"),
	}
}

// NewFactoryWithRunner is used by tests to inject a fake CommandRunner.
func NewFactoryWithRunner(opts Options, logger *slog.Logger, runner sandbox.CommandRunner) *Factory {
	f := NewFactory(opts, logger)
	f.runner = runner
	return f
}

// Capabilities reports this factory's execution profile.
func (f *Factory) Capabilities() sandbox.Capabilities {
	return sandbox.Capabilities{
		Name:     "docker",
		Runtime:  f.opts.Interpreter[0],
		Isolated: true,
	}
}

// NewSession creates a bind-mount workspace for the given pool member.
func (f *Factory) NewSession(workerID int) (sandbox.Session, error) {
	dir := filepath.Join(f.opts.Workdir, fmt.Sprintf("worker-%d", workerID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create workspace %s: %v", sandbox.ErrSandbox, dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve workspace: %v", sandbox.ErrSandbox, err)
	}
	return &session{factory: f, dir: abs}, nil
}

type session struct {
	factory   *Factory
	dir       string
	closeOnce sync.Once
	closeErr  error
}

// Run writes the code into the bind-mounted workspace and executes it in a
// fresh container with networking disabled.
func (s *session) Run(ctx context.Context, code string) (model.ExecResult, error) {
	opts := s.factory.opts

	src := filepath.Join(s.dir, opts.SourceFile)
	if err := os.WriteFile(src, []byte(code), 0o644); err != nil {
		return model.ExecResult{}, fmt.Errorf("%w: write source: %v", sandbox.ErrSandbox, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	args := []string{
		"run", "--rm",
		"--network", "none",
		"-v", s.dir + ":" + containerWorkdir,
		"-w", containerWorkdir,
	}
	if opts.MemLimitMB > 0 {
		args = append(args, "-m", fmt.Sprintf("%dm", opts.MemLimitMB))
	}
	if opts.CPULimit > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(opts.CPULimit, 'f', -1, 64))
	}
	args = append(args, opts.Image)
	args = append(args, opts.Interpreter...)
	args = append(args, containerWorkdir+"/"+opts.SourceFile)

	start := time.Now()
	stdout, stderr, exitCode, err := s.factory.runner.Run(runCtx, "docker", args...)
	durationMS := int(time.Since(start).Milliseconds())

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	if err != nil && !timedOut {
		return model.ExecResult{}, fmt.Errorf("%w: docker run: %v", sandbox.ErrSandbox, err)
	}
	if !timedOut && isDockerFailure(exitCode) {
		return model.ExecResult{}, fmt.Errorf("%w: docker run exited %d: %s",
			sandbox.ErrSandbox, exitCode, truncate(stderr, 512))
	}

	return model.ExecResult{
		ExitCode:   exitCode,
		Output:     truncate(stdout, opts.OutputLimit),
		Stderr:     truncate(stderr, opts.OutputLimit),
		DurationMS: durationMS,
		Timeout:    timedOut,
	}, nil
}

// Close removes the session workspace. Safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if err := os.RemoveAll(s.dir); err != nil {
			s.closeErr = fmt.Errorf("remove workspace: %w", err)
		}
	})
	return s.closeErr
}

// isDockerFailure reports whether the exit code came from the docker CLI
// rather than the containerized candidate. Candidate code exiting with the
// same codes is misattributed; the CLI reserves them, so candidates should
// not use them.
func isDockerFailure(code int) bool {
	return code == exitDockerError || code == exitContainerStart || code == exitCommandNotFound
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[truncated]"
}
