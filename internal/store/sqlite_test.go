package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/seantiz/crucible/internal/journal"
	"github.com/seantiz/crucible/internal/model"
	"github.com/seantiz/crucible/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func f(v float64) *float64 { return &v }

func seedJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j := journal.New(true)

	draft := model.NewNode("print('a')", "first try", nil, 0)
	if err := draft.AbsorbExecResult(model.ExecResult{ExitCode: 1, Stderr: "boom", DurationMS: 12}); err != nil {
		t.Fatal(err)
	}
	if err := draft.SetEvaluation(true, nil); err != nil {
		t.Fatal(err)
	}

	fix := model.NewNode("print('b')", "fix it", draft, 1)
	if err := fix.AbsorbExecResult(model.ExecResult{Output: "crucible_metric: 0.8", DurationMS: 30}); err != nil {
		t.Fatal(err)
	}
	if err := fix.SetEvaluation(false, f(0.8)); err != nil {
		t.Fatal(err)
	}

	j.Append(draft)
	j.Append(fix)
	return j
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := seedJournal(t)
	run := store.Run{ID: "run-1", TaskName: "digits", ConfigJSON: []byte(`{"pool":3}`), MetricMaximize: true}

	if err := s.SaveCheckpoint(ctx, run, j); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	loaded, err := s.LoadJournal(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadJournal: %v", err)
	}

	orig := j.Nodes()
	got := loaded.Nodes()
	if len(got) != len(orig) {
		t.Fatalf("loaded %d nodes, want %d", len(got), len(orig))
	}
	for i := range got {
		if got[i].ID != orig[i].ID {
			t.Errorf("node %d: id = %q, want %q (arrival order lost)", i, got[i].ID, orig[i].ID)
		}
	}

	fix := got[1]
	if fix.ParentID != orig[0].ID || fix.Parent() != got[0] {
		t.Error("parent linkage not restored")
	}
	if fix.IsBuggy() || !fix.Evaluated() {
		t.Error("evaluation state not restored")
	}
	if m := fix.Metric(); m == nil || *m != 0.8 {
		t.Errorf("metric = %v, want 0.8", m)
	}
	if got[0].ExecResult().Stderr != "boom" {
		t.Error("exec artifact not restored")
	}
	if drafts := loaded.DraftNodes(); len(drafts) != 1 {
		t.Errorf("draft list has %d entries, want 1", len(drafts))
	}
	if !loaded.Maximize() {
		t.Error("metric direction not restored")
	}
}

func TestMinimizingRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := journal.New(false)
	for _, v := range []float64{0.9, 0.3} {
		n := model.NewNode("code", "", nil, 0)
		if err := n.SetEvaluation(false, f(v)); err != nil {
			t.Fatal(err)
		}
		j.Append(n)
	}
	run := store.Run{ID: "run-min", TaskName: "rmse-task"}

	if err := s.SaveCheckpoint(ctx, run, j); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	loaded, err := s.LoadJournal(ctx, "run-min")
	if err != nil {
		t.Fatalf("LoadJournal: %v", err)
	}
	if loaded.Maximize() {
		t.Error("minimizing run loaded as maximizing")
	}
	if best := loaded.BestNode(true); best == nil || *best.Metric() != 0.3 {
		t.Errorf("best after reload = %v, want the 0.3 node", best)
	}

	stats, err := s.GetRunStats(ctx, "run-min")
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.BestMetric == nil || *stats.BestMetric != 0.3 {
		t.Errorf("best metric = %v, want lowest raw score 0.3", stats.BestMetric)
	}
}

func TestSaveCheckpointIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := seedJournal(t)
	run := store.Run{ID: "run-1", TaskName: "digits", MetricMaximize: true}

	if err := s.SaveCheckpoint(ctx, run, j); err != nil {
		t.Fatalf("first SaveCheckpoint: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, run, j); err != nil {
		t.Fatalf("second SaveCheckpoint: %v", err)
	}

	loaded, err := s.LoadJournal(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadJournal: %v", err)
	}
	if loaded.Len() != j.Len() {
		t.Errorf("re-checkpoint duplicated nodes: %d, want %d", loaded.Len(), j.Len())
	}
}

func TestLoadJournalNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadJournal(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRunStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := seedJournal(t)
	run := store.Run{ID: "run-1", TaskName: "digits", MetricMaximize: true}

	if err := s.SaveCheckpoint(ctx, run, j); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	stats, err := s.GetRunStats(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.Total != 2 || stats.Buggy != 1 || stats.Good != 1 {
		t.Errorf("stats = %+v, want total 2, buggy 1, good 1", stats)
	}
	if stats.BestMetric == nil || *stats.BestMetric != 0.8 {
		t.Errorf("best metric = %v, want 0.8", stats.BestMetric)
	}
	if stats.AvgDurationMS != 21 {
		t.Errorf("avg duration = %v, want 21", stats.AvgDurationMS)
	}
}

func TestGetRunStatsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRunStats(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
