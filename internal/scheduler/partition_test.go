package scheduler

import (
	"testing"

	"github.com/seantiz/crucible/internal/model"
)

func makeNodes(t *testing.T, n int) []*model.Node {
	t.Helper()
	nodes := make([]*model.Node, n)
	for i := range nodes {
		nodes[i] = model.NewNode("code", "plan", nil, 0)
	}
	return nodes
}

func TestPartitionSizes(t *testing.T) {
	tests := []struct {
		n, p int
		want []int
	}{
		{10, 3, []int{3, 3, 4}},
		{6, 3, []int{2, 2, 2}},
		{7, 3, []int{2, 2, 3}},
		{5, 1, []int{5}},
		{0, 3, []int{0, 0, 0}},
		{2, 4, []int{0, 0, 1, 1}},
	}

	for _, tt := range tests {
		slices := Partition(makeNodes(t, tt.n), tt.p)
		if len(slices) != tt.p {
			t.Errorf("Partition(%d, %d): got %d slices, want %d", tt.n, tt.p, len(slices), tt.p)
			continue
		}
		for i, s := range slices {
			if len(s) != tt.want[i] {
				t.Errorf("Partition(%d, %d): slice %d has %d nodes, want %d",
					tt.n, tt.p, i, len(s), tt.want[i])
			}
		}
	}
}

func TestPartitionPreservesOrder(t *testing.T) {
	nodes := makeNodes(t, 11)
	slices := Partition(nodes, 4)

	var flat []*model.Node
	for _, s := range slices {
		flat = append(flat, s...)
	}

	if len(flat) != len(nodes) {
		t.Fatalf("flattened %d nodes, want %d", len(flat), len(nodes))
	}
	for i := range nodes {
		if flat[i] != nodes[i] {
			t.Fatalf("node %d out of order after partition", i)
		}
	}
}

func TestPartitionBalanced(t *testing.T) {
	for n := 0; n <= 20; n++ {
		for p := 1; p <= 6; p++ {
			slices := Partition(makeNodes(t, n), p)
			min, max := len(slices[0]), len(slices[0])
			for _, s := range slices[1:] {
				if len(s) < min {
					min = len(s)
				}
				if len(s) > max {
					max = len(s)
				}
			}
			if max-min > 1 {
				t.Errorf("Partition(%d, %d): slice sizes differ by %d", n, p, max-min)
			}
		}
	}
}

func TestPartitionZeroWorkers(t *testing.T) {
	slices := Partition(makeNodes(t, 3), 0)
	if len(slices) != 0 {
		t.Errorf("got %d slices, want 0", len(slices))
	}
}
