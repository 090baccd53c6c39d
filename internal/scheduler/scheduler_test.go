package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/seantiz/crucible/internal/journal"
	"github.com/seantiz/crucible/internal/metric"
	"github.com/seantiz/crucible/internal/model"
	"github.com/seantiz/crucible/internal/proposal"
	"github.com/seantiz/crucible/internal/sandbox"
	"github.com/seantiz/crucible/internal/store"
	"github.com/seantiz/crucible/internal/worker"
)

// stubEngine returns a canned proposal and records each call's stage and
// the preview it was given.
type stubEngine struct {
	mu       sync.Mutex
	stages   []string
	previews []string
	err      error
}

func (e *stubEngine) record(stage, preview string) (proposal.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stages = append(e.stages, stage)
	e.previews = append(e.previews, preview)
	if e.err != nil {
		return proposal.Proposal{}, e.err
	}
	return proposal.Proposal{Plan: "plan", Code: "print('x')"}, nil
}

func (e *stubEngine) Draft(_ context.Context, _ model.Task, preview string) (proposal.Proposal, error) {
	return e.record(model.StageDraft, preview)
}

func (e *stubEngine) Debug(_ context.Context, _ model.Task, _ *model.Node, preview string) (proposal.Proposal, error) {
	return e.record(model.StageDebug, preview)
}

func (e *stubEngine) Improve(_ context.Context, _ model.Task, _ *model.Node, preview string) (proposal.Proposal, error) {
	return e.record(model.StageImprove, preview)
}

func (e *stubEngine) calledStages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.stages...)
}

// stubSession emits a fixed marker line, or fails outright.
type stubSession struct {
	output string
	runErr error
	closed atomic.Int32
}

func (s *stubSession) Run(ctx context.Context, code string) (model.ExecResult, error) {
	if s.runErr != nil {
		return model.ExecResult{}, s.runErr
	}
	return model.ExecResult{Output: s.output, DurationMS: 5}, nil
}

func (s *stubSession) Close() error {
	s.closed.Add(1)
	return nil
}

// errStore always fails to persist.
type errStore struct{}

func (errStore) SaveCheckpoint(context.Context, store.Run, *journal.Journal) error {
	return errors.New("disk full")
}

func (errStore) LoadJournal(context.Context, string) (*journal.Journal, error) {
	return nil, store.ErrNotFound
}

func (errStore) GetRunStats(context.Context, string) (*store.RunStats, error) {
	return nil, store.ErrNotFound
}

func (errStore) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testPool struct {
	engine   *stubEngine
	sessions []*stubSession
}

func newTestScheduler(t *testing.T, cfg Config, session func(id int) *stubSession) (*Scheduler, *journal.Journal, *testPool) {
	t.Helper()

	eng := &stubEngine{}
	pool := &testPool{engine: eng}
	j := journal.New(true)

	factory := func(id int) (*worker.Worker, error) {
		sess := session(id)
		pool.sessions = append(pool.sessions, sess)
		return worker.New(id, eng, sess, metric.MarkerClassifier{},
			model.Task{Name: "t", Description: "d"}, nil, discardLogger()), nil
	}

	s, err := New(cfg, j, factory, nil, store.Run{ID: "run"}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Cleanup() })
	return s, j, pool
}

func goodSession(int) *stubSession {
	return &stubSession{output: metric.Marker + " 0.5\n"}
}

func TestNewValidatesConfig(t *testing.T) {
	j := journal.New(true)
	factory := func(id int) (*worker.Worker, error) {
		t.Fatal("factory should not be called")
		return nil, nil
	}

	if _, err := New(Config{PoolSize: 0, NodesPerWorker: 1}, j, factory, nil, store.Run{}, discardLogger()); err == nil {
		t.Error("expected error for zero pool size")
	}
	if _, err := New(Config{PoolSize: 2, NodesPerWorker: 0}, j, factory, nil, store.Run{}, discardLogger()); err == nil {
		t.Error("expected error for zero nodes per worker")
	}
}

func TestNewTearsDownOnFactoryFailure(t *testing.T) {
	j := journal.New(true)
	eng := &stubEngine{}
	var sessions []*stubSession

	factory := func(id int) (*worker.Worker, error) {
		if id == 2 {
			return nil, errors.New("no more slots")
		}
		sess := goodSession(id)
		sessions = append(sessions, sess)
		return worker.New(id, eng, sess, metric.MarkerClassifier{},
			model.Task{}, nil, discardLogger()), nil
	}

	if _, err := New(Config{PoolSize: 3, NodesPerWorker: 1}, j, factory, nil, store.Run{}, discardLogger()); err == nil {
		t.Fatal("expected error when a worker fails to build")
	}
	for i, sess := range sessions {
		if sess.closed.Load() != 1 {
			t.Errorf("session %d closed %d times, want 1", i, sess.closed.Load())
		}
	}
}

func TestStepAppendsEvaluatedNodes(t *testing.T) {
	s, j, _ := newTestScheduler(t, Config{
		PoolSize: 2, NodesPerWorker: 2, MinDrafts: 100, Seed: 1,
	}, goodSession)

	if err := s.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if j.Len() != 4 {
		t.Fatalf("journal has %d nodes, want 4", j.Len())
	}
	for _, n := range j.Nodes() {
		if !n.Evaluated() {
			t.Errorf("node %s not evaluated after step", n.ID)
		}
		if n.Stage != model.StageDraft {
			t.Errorf("stage = %q, want draft while under MinDrafts", n.Stage)
		}
		if m := n.Metric(); m == nil || *m != 0.5 {
			t.Errorf("metric = %v, want 0.5", m)
		}
	}
	if len(j.DraftNodes()) != 4 {
		t.Errorf("draft index has %d nodes, want 4", len(j.DraftNodes()))
	}
	if best := j.BestNode(true); best == nil {
		t.Error("expected a best node after a good step")
	}
}

func TestStepDerivesAfterMinDrafts(t *testing.T) {
	s, j, pool := newTestScheduler(t, Config{
		PoolSize: 2, NodesPerWorker: 1, MinDrafts: 2, DebugProb: 0, Seed: 1,
	}, goodSession)

	ctx := context.Background()
	if err := s.Step(ctx); err != nil {
		t.Fatalf("step 0: %v", err)
	}
	if err := s.Step(ctx); err != nil {
		t.Fatalf("step 1: %v", err)
	}

	if j.Len() != 4 {
		t.Fatalf("journal has %d nodes, want 4", j.Len())
	}

	improves := 0
	for _, stage := range pool.engine.calledStages() {
		if stage == model.StageImprove {
			improves++
		}
	}
	if improves != 2 {
		t.Errorf("got %d improve calls, want 2 in the second step", improves)
	}
	for _, n := range j.Nodes() {
		if n.Step == 1 && n.Stage != model.StageImprove {
			t.Errorf("step 1 node stage = %q, want improve", n.Stage)
		}
	}
}

func TestStepEvaluateFailureLeavesJournalEmpty(t *testing.T) {
	s, j, _ := newTestScheduler(t, Config{
		PoolSize: 2, NodesPerWorker: 1, MinDrafts: 100, Seed: 1,
	}, func(id int) *stubSession {
		sess := goodSession(id)
		if id == 1 {
			sess.runErr = fmt.Errorf("%w: workdir vanished", sandbox.ErrSandbox)
		}
		return sess
	})

	err := s.Step(context.Background())
	if err == nil {
		t.Fatal("expected step to fail when a sandbox dies")
	}
	if !errors.Is(err, sandbox.ErrSandbox) {
		t.Errorf("err = %v, want sandbox failure", err)
	}
	if j.Len() != 0 {
		t.Errorf("journal has %d nodes after failed step, want 0", j.Len())
	}
}

func TestStepProposeFailure(t *testing.T) {
	s, j, pool := newTestScheduler(t, Config{
		PoolSize: 2, NodesPerWorker: 1, MinDrafts: 100, Seed: 1,
	}, goodSession)
	pool.engine.err = fmt.Errorf("%w: backend 503", proposal.ErrProposal)

	err := s.Step(context.Background())
	if !errors.Is(err, proposal.ErrProposal) {
		t.Errorf("err = %v, want proposal failure", err)
	}
	if j.Len() != 0 {
		t.Errorf("journal has %d nodes, want 0", j.Len())
	}
}

func TestStepCheckpointFailureIsNonFatal(t *testing.T) {
	eng := &stubEngine{}
	j := journal.New(true)
	factory := func(id int) (*worker.Worker, error) {
		return worker.New(id, eng, goodSession(id), metric.MarkerClassifier{},
			model.Task{}, nil, discardLogger()), nil
	}

	s, err := New(Config{PoolSize: 1, NodesPerWorker: 1, MinDrafts: 100, Seed: 1},
		j, factory, errStore{}, store.Run{ID: "run"}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Cleanup()

	if err := s.Step(context.Background()); err != nil {
		t.Fatalf("Step should succeed despite checkpoint failure, got %v", err)
	}
	if j.Len() != 1 {
		t.Errorf("journal has %d nodes, want 1", j.Len())
	}
}

func TestCleanupIdempotent(t *testing.T) {
	s, _, pool := newTestScheduler(t, Config{
		PoolSize: 3, NodesPerWorker: 1, Seed: 1,
	}, goodSession)

	if err := s.Cleanup(); err != nil {
		t.Fatalf("first Cleanup: %v", err)
	}
	if err := s.Cleanup(); err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}

	for i, sess := range pool.sessions {
		if sess.closed.Load() != 1 {
			t.Errorf("session %d closed %d times, want 1", i, sess.closed.Load())
		}
	}
}

func TestStepAfterCleanup(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{
		PoolSize: 1, NodesPerWorker: 1, Seed: 1,
	}, goodSession)

	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	err := s.Step(context.Background())
	if !errors.Is(err, ErrPool) {
		t.Errorf("err = %v, want pool failure", err)
	}
}

func TestStepFetchesPreviewOnce(t *testing.T) {
	eng := &stubEngine{}
	j := journal.New(true)
	var previewCalls atomic.Int32

	factory := func(id int) (*worker.Worker, error) {
		previewFn := func() (string, error) {
			previewCalls.Add(1)
			return "files: train.csv", nil
		}
		return worker.New(id, eng, goodSession(id), metric.MarkerClassifier{},
			model.Task{}, previewFn, discardLogger()), nil
	}

	s, err := New(Config{PoolSize: 2, NodesPerWorker: 1, MinDrafts: 100, DataPreview: true, Seed: 1},
		j, factory, nil, store.Run{}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Cleanup()

	ctx := context.Background()
	if err := s.Step(ctx); err != nil {
		t.Fatalf("step 0: %v", err)
	}
	if err := s.Step(ctx); err != nil {
		t.Fatalf("step 1: %v", err)
	}

	if previewCalls.Load() != 1 {
		t.Errorf("preview computed %d times, want 1", previewCalls.Load())
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	for i, p := range eng.previews {
		if p != "files: train.csv" {
			t.Errorf("call %d saw preview %q, want the cached one", i, p)
		}
	}
}
