package scheduler

import "github.com/seantiz/crucible/internal/model"

// Partition splits nodes into exactly p contiguous slices whose sizes differ
// by at most one, with the larger slices at the end. Slice i is evaluated by
// worker i, deliberately decoupling who generated a node from who evaluates
// it: proposing waits on a generation oracle while evaluating runs untrusted
// code, and repartitioning keeps utilization balanced across heterogeneous
// per-worker speeds.
func Partition(nodes []*model.Node, p int) [][]*model.Node {
	slices := make([][]*model.Node, p)
	if p == 0 {
		return slices
	}

	size := len(nodes) / p
	rem := len(nodes) % p

	start := 0
	for i := 0; i < p; i++ {
		end := start + size
		// The last rem slices absorb one extra node each.
		if i >= p-rem {
			end++
		}
		slices[i] = nodes[start:end]
		start = end
	}
	return slices
}
