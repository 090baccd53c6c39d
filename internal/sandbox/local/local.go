// Package local runs candidate code by writing it into a per-worker
// workspace directory and invoking a configured interpreter subprocess.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/seantiz/crucible/internal/model"
	"github.com/seantiz/crucible/internal/sandbox"
)

const (
	defaultSourceFile  = "solution.py"
	defaultTimeout     = 300 * time.Second
	defaultOutputLimit = 64 * 1024
)

// Options configures the local sandbox factory.
type Options struct {
	// Workdir is the directory under which per-worker workspaces are created.
	Workdir string
	// Interpreter is the argv prefix the source file path is appended to,
	// e.g. ["python3"] or ["/bin/sh"].
	Interpreter []string
	// SourceFile is the filename the candidate code is written to.
	SourceFile string
	// Timeout bounds a single execution.
	Timeout time.Duration
	// OutputLimit caps captured stdout and stderr, each, in bytes.
	OutputLimit int
}

// Factory builds local interpreter sessions.
type Factory struct {
	opts   Options
	runner sandbox.CommandRunner
	logger *slog.Logger
}

// NewFactory creates a local sandbox factory with defaults applied.
func NewFactory(opts Options, logger *slog.Logger) *Factory {
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
		logger: logger.With("component", "sandbox-local"),
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
		Name:     "local",
		Runtime:  f.opts.Interpreter[0],
		Isolated: false,
	}
}

// NewSession creates a workspace directory for the given pool member.
func (f *Factory) NewSession(workerID int) (sandbox.Session, error) {
	dir := filepath.Join(f.opts.Workdir, fmt.Sprintf("worker-%d", workerID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create workspace %s: %v", sandbox.ErrSandbox, dir, err)
	}
	return &session{factory: f, dir: dir}, nil
}

type session struct {
	factory   *Factory
	dir       string
	closeOnce sync.Once
	closeErr  error
}

// Run writes the code to the session workspace and executes the interpreter
// against it, bounded by the configured timeout.
func (s *session) Run(ctx context.Context, code string) (model.ExecResult, error) {
	opts := s.factory.opts

	src := filepath.Join(s.dir, opts.SourceFile)
	if err := os.WriteFile(src, []byte(code), 0o644); err != nil {
		return model.ExecResult{}, fmt.Errorf("%w: write source: %v", sandbox.ErrSandbox, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	argv := append(append([]string{}, opts.Interpreter...), src)
	start := time.Now()
	stdout, stderr, exitCode, err := s.factory.runner.Run(runCtx, argv[0], argv[1:]...)
	durationMS := int(time.Since(start).Milliseconds())

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	if err != nil && !timedOut {
		return model.ExecResult{}, fmt.Errorf("%w: exec %s: %v", sandbox.ErrSandbox, argv[0], err)
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

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[truncated]"
}
