// Package jsvm runs JavaScript candidates in an in-process goja runtime.
// There is no process isolation; it exists for pure-computation tasks and
// for exercising the pipeline without external interpreters.
package jsvm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"

	"github.com/seantiz/crucible/internal/model"
	"github.com/seantiz/crucible/internal/sandbox"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultOutputLimit = 64 * 1024
)

// Options configures the goja sandbox factory.
type Options struct {
	Timeout     time.Duration
	OutputLimit int
}

// Factory builds in-process JS sessions.
type Factory struct {
	opts   Options
	logger *slog.Logger
}

// NewFactory creates a goja sandbox factory with defaults applied.
func NewFactory(opts Options, logger *slog.Logger) *Factory {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = defaultOutputLimit
	}
	return &Factory{
		opts:   opts,
		logger: logger.With("component", "sandbox-jsvm"),
	}
}

// Capabilities reports this factory's execution profile.
func (f *Factory) Capabilities() sandbox.Capabilities {
	return sandbox.Capabilities{
		Name:     "jsvm",
		Runtime:  "js",
		Isolated: false,
	}
}

// NewSession creates a JS session. Sessions hold no state between runs;
// every Run gets a fresh runtime.
func (f *Factory) NewSession(workerID int) (sandbox.Session, error) {
	return &session{factory: f}, nil
}

type session struct {
	factory *Factory
}

// Run evaluates the code in a fresh runtime with console.log captured into
// the artifact. Candidate exceptions and syntax errors are candidate bugs,
// not sandbox failures.
func (s *session) Run(ctx context.Context, code string) (model.ExecResult, error) {
	opts := s.factory.opts

	vm := goja.New()
	var out bytes.Buffer
	if err := bindConsole(vm, &out); err != nil {
		return model.ExecResult{}, fmt.Errorf("%w: bind console: %v", sandbox.ErrSandbox, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(runCtx, func() {
		vm.Interrupt("execution timed out")
	})
	defer stop()

	start := time.Now()
	_, err := vm.RunString(code)
	durationMS := int(time.Since(start).Milliseconds())

	res := model.ExecResult{
		Output:     truncate(out.String(), opts.OutputLimit),
		DurationMS: durationMS,
	}

	switch {
	case err == nil:
	case isInterrupt(err) && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		res.Timeout = true
	default:
		// Exceptions and parse errors are the candidate's fault.
		res.ExitCode = 1
		res.Stderr = truncate(err.Error(), opts.OutputLimit)
	}
	return res, nil
}

// Close is a no-op; goja sessions hold no resources.
func (s *session) Close() error { return nil }

func bindConsole(vm *goja.Runtime, out *bytes.Buffer) error {
	console := vm.NewObject()
	log := func(call goja.FunctionCall) goja.Value {
		for i, arg := range call.Arguments {
			if i > 0 {
				out.WriteByte(' ')
			}
			out.WriteString(arg.String())
		}
		out.WriteByte('\n')
		return goja.Undefined()
	}
	for _, name := range []string{"log", "error", "warn"} {
		if err := console.Set(name, log); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

func isInterrupt(err error) bool {
	var interrupted *goja.InterruptedError
	return errors.As(err, &interrupted)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[truncated]"
}
