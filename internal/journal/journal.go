// Package journal holds the authoritative collection of all candidate nodes
// ever produced by a search, in arrival order, plus its derived indices
// (draft list, best node). The scheduler is the only writer; it appends
// evaluated nodes during the aggregation phase of each step.
package journal

import (
	"sync"

	"github.com/seantiz/crucible/internal/model"
)

// StepStats summarizes one completed search step.
type StepStats struct {
	Buggy      int      `json:"buggy"`
	Good       int      `json:"good"`
	BestMetric *float64 `json:"best_metric,omitempty"`
}

// Journal is safe for concurrent use: the scheduler mutates it from one
// logical control flow while observers (progress watchers, the stats
// endpoint) may read snapshots.
type Journal struct {
	maximize bool

	mu     sync.Mutex
	nodes  []*model.Node
	drafts []*model.Node
	byID   map[string]*model.Node

	subs   map[int]chan Progress
	nextID int
}

// New creates an empty journal. Metrics are stored raw; maximize fixes the
// direction every "best" comparison in and around the journal uses.
func New(maximize bool) *Journal {
	return &Journal{
		maximize: maximize,
		byID:     make(map[string]*model.Node),
		subs:     make(map[int]chan Progress),
	}
}

// Maximize reports the metric direction this journal orders by.
func (j *Journal) Maximize() bool { return j.maximize }

// better reports whether a beats b under the journal's direction. Strict, so
// ties keep the earlier node.
func (j *Journal) better(a, b float64) bool {
	if j.maximize {
		return a > b
	}
	return a < b
}

// Len returns the number of nodes ever appended.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.nodes)
}

// Append adds a node to the main collection, and to the draft list when it
// has no parent. Nodes are never removed.
func (j *Journal) Append(n *model.Node) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n.IsDraft() {
		j.drafts = append(j.drafts, n)
	}
	j.nodes = append(j.nodes, n)
	j.byID[n.ID] = n
}

// Nodes returns a snapshot of the main collection in arrival order.
func (j *Journal) Nodes() []*model.Node {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*model.Node, len(j.nodes))
	copy(out, j.nodes)
	return out
}

// DraftNodes returns a snapshot of the draft list in arrival order.
func (j *Journal) DraftNodes() []*model.Node {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*model.Node, len(j.drafts))
	copy(out, j.drafts)
	return out
}

// Get returns the node with the given id, or nil.
func (j *Journal) Get(id string) *model.Node {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.byID[id]
}

// BestNode returns the best-metric node under the journal's direction, ties
// broken by earliest insertion, or nil if no node qualifies. With onlyGood
// set, buggy nodes are excluded. Nodes without a metric never qualify.
func (j *Journal) BestNode(onlyGood bool) *model.Node {
	j.mu.Lock()
	defer j.mu.Unlock()

	var best *model.Node
	for _, n := range j.nodes {
		if onlyGood && n.IsBuggy() {
			continue
		}
		m := n.Metric()
		if m == nil {
			continue
		}
		if best == nil || j.better(*m, *best.Metric()) {
			best = n
		}
	}
	return best
}

// BuggyLeaves returns buggy nodes that have no children, in arrival order.
// These are the debug candidates for the search policy.
func (j *Journal) BuggyLeaves() []*model.Node {
	j.mu.Lock()
	defer j.mu.Unlock()

	hasChild := make(map[string]bool, len(j.nodes))
	for _, n := range j.nodes {
		if n.ParentID != "" {
			hasChild[n.ParentID] = true
		}
	}

	var leaves []*model.Node
	for _, n := range j.nodes {
		if n.IsBuggy() && !hasChild[n.ID] {
			leaves = append(leaves, n)
		}
	}
	return leaves
}

// ComputeStepStats aggregates the outcome of one step's evaluated nodes:
// buggy count, non-buggy count, and the best metric among scored non-buggy
// nodes under the journal's direction (nil if none qualify).
func (j *Journal) ComputeStepStats(nodes []*model.Node) StepStats {
	var st StepStats
	for _, n := range nodes {
		if n.IsBuggy() {
			st.Buggy++
			continue
		}
		st.Good++
		if m := n.Metric(); m != nil && (st.BestMetric == nil || j.better(*m, *st.BestMetric)) {
			st.BestMetric = m
		}
	}
	return st
}
