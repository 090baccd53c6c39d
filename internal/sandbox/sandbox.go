// Package sandbox defines the common interface that all execution sandboxes
// (interpreter subprocess, docker container, in-process JS) must implement,
// along with the registry that resolves which one a pool uses.
//
// A session failing is distinct from the candidate code failing: a nonzero
// exit or a runtime exception inside the candidate is captured in the
// ExecResult artifact, while ErrSandbox means the execution machinery itself
// broke.
package sandbox

import (
	"context"
	"errors"

	"github.com/seantiz/crucible/internal/model"
)

// ErrSandbox marks failures of the execution machinery itself.
var ErrSandbox = errors.New("sandbox failure")

// Session is one long-lived execution context. Each worker owns exactly one
// session, reused across Run calls, and the scheduler closes it exactly once
// at pool shutdown.
type Session interface {
	// Run executes candidate code and returns the raw artifact. It returns
	// an error wrapping ErrSandbox only when execution infrastructure fails;
	// candidate failures come back inside the artifact.
	Run(ctx context.Context, code string) (model.ExecResult, error)

	// Close tears the session down. Implementations must tolerate a second
	// call.
	Close() error
}

// Capabilities describes a registered sandbox factory.
type Capabilities struct {
	Name     string `json:"name"`
	Runtime  string `json:"runtime"`
	Isolated bool   `json:"isolated"`
}

// Factory builds per-worker sessions.
type Factory interface {
	// NewSession creates an isolated session for the given pool member.
	NewSession(workerID int) (Session, error)

	Capabilities() Capabilities
}
