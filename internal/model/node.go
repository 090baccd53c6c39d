package model

import (
	"errors"
	"time"
)

// Derivation stage constants. The stage is fixed at creation time from the
// parent's state: no parent means a fresh draft, a buggy parent is debugged,
// a working parent is improved.
const (
	StageDraft   = "draft"
	StageDebug   = "debug"
	StageImprove = "improve"
)

// ErrAlreadyEvaluated is returned when a node's evaluation outcome would be
// written a second time.
var ErrAlreadyEvaluated = errors.New("node already evaluated")

// ExecResult is the raw artifact produced by running a node's code in a
// sandbox session. The scheduler treats it as opaque; only the metric
// classifier interprets it.
type ExecResult struct {
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output"`
	Stderr     string `json:"stderr"`
	DurationMS int    `json:"duration_ms"`
	Timeout    bool   `json:"timeout"`
}

// Node is one candidate solution attempt in the search tree.
//
// A node is created unevaluated during the propose phase, mutated exactly
// once during the evaluate phase (AbsorbExecResult + SetEvaluation), and is
// immutable afterwards. The parent reference is set at creation and never
// changes.
type Node struct {
	ID        string
	Code      string
	Plan      string
	Stage     string
	Step      int
	ParentID  string
	CreatedAt time.Time

	parent   *Node
	absorbed bool
	exec     ExecResult

	evaluated bool
	isBuggy   bool
	metric    *float64
}

// NewNode creates an unevaluated node derived from parent, which may be nil
// for a draft. The derivation stage is decided here from the parent's state.
func NewNode(code, plan string, parent *Node, step int) *Node {
	n := &Node{
		ID:        NewID(),
		Code:      code,
		Plan:      plan,
		Stage:     StageDraft,
		Step:      step,
		parent:    parent,
		CreatedAt: time.Now().UTC(),
	}
	if parent != nil {
		n.ParentID = parent.ID
		if parent.IsBuggy() {
			n.Stage = StageDebug
		} else {
			n.Stage = StageImprove
		}
	}
	return n
}

// Parent returns the originating node, or nil for a draft.
func (n *Node) Parent() *Node { return n.parent }

// IsDraft reports whether the node has no parent.
func (n *Node) IsDraft() bool { return n.ParentID == "" }

// AbsorbExecResult stores the raw execution artifact. It may be called at
// most once per node.
func (n *Node) AbsorbExecResult(res ExecResult) error {
	if n.absorbed {
		return ErrAlreadyEvaluated
	}
	n.absorbed = true
	n.exec = res
	return nil
}

// ExecResult returns the absorbed execution artifact. The zero value is
// returned for nodes that have not been executed.
func (n *Node) ExecResult() ExecResult { return n.exec }

// SetEvaluation writes the node's final outcome. The transition from
// unevaluated to evaluated happens exactly once; further calls return
// ErrAlreadyEvaluated and leave the node untouched.
func (n *Node) SetEvaluation(buggy bool, metric *float64) error {
	if n.evaluated {
		return ErrAlreadyEvaluated
	}
	n.evaluated = true
	n.isBuggy = buggy
	if metric != nil {
		v := *metric
		n.metric = &v
	}
	return nil
}

// Evaluated reports whether the node's outcome has been written.
func (n *Node) Evaluated() bool { return n.evaluated }

// IsBuggy reports whether evaluation classified this node as buggy.
// It is false for unevaluated nodes.
func (n *Node) IsBuggy() bool { return n.isBuggy }

// Metric returns a copy of the node's scalar score, or nil if the node has
// no score (unevaluated, or evaluated without a parseable metric).
func (n *Node) Metric() *float64 {
	if n.metric == nil {
		return nil
	}
	v := *n.metric
	return &v
}

// RestoreSpec carries a persisted node's full state for reconstruction.
type RestoreSpec struct {
	ID        string
	Code      string
	Plan      string
	Stage     string
	Step      int
	Parent    *Node
	CreatedAt time.Time
	Evaluated bool
	IsBuggy   bool
	Metric    *float64
	Exec      ExecResult
}

// Restore rebuilds a node from persisted state, bypassing the write-once
// transition. Used only when loading a checkpoint.
func Restore(spec RestoreSpec) *Node {
	n := &Node{
		ID:        spec.ID,
		Code:      spec.Code,
		Plan:      spec.Plan,
		Stage:     spec.Stage,
		Step:      spec.Step,
		parent:    spec.Parent,
		CreatedAt: spec.CreatedAt,
	}
	if spec.Parent != nil {
		n.ParentID = spec.Parent.ID
	}
	if spec.Evaluated {
		n.absorbed = true
		n.exec = spec.Exec
		n.evaluated = true
		n.isBuggy = spec.IsBuggy
		if spec.Metric != nil {
			v := *spec.Metric
			n.metric = &v
		}
	}
	return n
}
