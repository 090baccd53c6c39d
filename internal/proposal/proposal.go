// Package proposal defines the engine that synthesizes candidate code:
// fresh drafts, debug patches for buggy parents, and refinements of working
// parents.
package proposal

import (
	"context"
	"errors"

	"github.com/seantiz/crucible/internal/model"
)

// ErrProposal marks failures of the proposal engine to produce a candidate.
var ErrProposal = errors.New("proposal engine failure")

// Proposal is one synthesized candidate: the engine's stated intent and the
// code itself.
type Proposal struct {
	Plan string
	Code string
}

// Engine synthesizes candidates. Implementations must be safe for use by a
// single worker goroutine; distinct workers may share one Engine value if
// the implementation is itself concurrency-safe.
type Engine interface {
	// Draft proposes a fresh solution with no parent.
	Draft(ctx context.Context, task model.Task, preview string) (Proposal, error)

	// Debug proposes a fix for a buggy parent, given its code and execution
	// artifact.
	Debug(ctx context.Context, task model.Task, parent *model.Node, preview string) (Proposal, error)

	// Improve proposes a refinement of a working parent.
	Improve(ctx context.Context, task model.Task, parent *model.Node, preview string) (Proposal, error)
}
