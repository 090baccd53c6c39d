// Package scheduler drives the parallel tree search. It owns a fixed pool
// of workers and, per step, runs two barrier-separated phases: every worker
// proposes candidates concurrently, then all proposed nodes are repartitioned
// into near-equal slices and evaluated concurrently. Results fold into the
// shared journal together with aggregate statistics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/seantiz/crucible/internal/journal"
	"github.com/seantiz/crucible/internal/model"
	"github.com/seantiz/crucible/internal/store"
	"github.com/seantiz/crucible/internal/worker"
)

// ErrPool marks a worker pool that is unusable: a member became unreachable
// or the pool was already shut down. Fatal to the step; full shutdown is the
// only recovery.
var ErrPool = errors.New("worker pool failure")

// Config fixes the pool's shape for the scheduler's lifetime.
type Config struct {
	// PoolSize is the number of workers. No dynamic resizing.
	PoolSize int
	// NodesPerWorker is how many nodes each worker proposes per step.
	NodesPerWorker int
	// MinDrafts is how many drafts the search policy collects before it
	// starts deriving children.
	MinDrafts int
	// DebugProb is the probability of debugging a buggy leaf instead of
	// improving the best node.
	DebugProb float64
	// DataPreview enables fetching a shared data preview before the first
	// step.
	DataPreview bool
	// Seed seeds the search policy's RNG; zero means time-seeded.
	Seed int64
}

// WorkerFactory builds pool member i. The scheduler owns the returned
// worker and tears it down at shutdown.
type WorkerFactory func(id int) (*worker.Worker, error)

// Scheduler owns the pool and the journal's mutation. Step and Cleanup are
// meant to be called from one goroutine.
type Scheduler struct {
	cfg     cfgInternal
	journal *journal.Journal
	workers []*worker.Worker
	store   store.Store
	run     store.Run
	logger  *slog.Logger
	rng     *rand.Rand

	preview        string
	previewFetched bool
	steps          int
	closed         bool
}

type cfgInternal struct {
	NodesPerWorker int
	MinDrafts      int
	DebugProb      float64
	DataPreview    bool
}

// New validates the configuration and builds the fixed-size pool. Workers
// already constructed are torn down if a later one fails. st may be nil to
// disable checkpointing.
func New(cfg Config, j *journal.Journal, newWorker WorkerFactory,
	st store.Store, run store.Run, logger *slog.Logger) (*Scheduler, error) {

	if cfg.PoolSize < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", cfg.PoolSize)
	}
	if cfg.NodesPerWorker < 1 {
		return nil, fmt.Errorf("nodes per worker must be at least 1, got %d", cfg.NodesPerWorker)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Scheduler{
		cfg: cfgInternal{
			NodesPerWorker: cfg.NodesPerWorker,
			MinDrafts:      cfg.MinDrafts,
			DebugProb:      cfg.DebugProb,
			DataPreview:    cfg.DataPreview,
		},
		journal: j,
		store:   st,
		run:     run,
		logger:  logger.With("component", "scheduler"),
		rng:     rand.New(rand.NewSource(seed)),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		w, err := newWorker(i)
		if err != nil {
			for _, built := range s.workers {
				built.Teardown()
			}
			return nil, fmt.Errorf("build worker %d: %w", i, err)
		}
		s.workers = append(s.workers, w)
	}

	s.logger.Info("pool ready", "pool_size", cfg.PoolSize, "nodes_per_worker", cfg.NodesPerWorker)
	return s, nil
}

// Step runs one search step: propose on every worker, repartition, evaluate,
// aggregate into the journal, recompute statistics, checkpoint. Phase
// barriers are strict join points; all requests for a phase are issued
// before any response is awaited, and a phase failure aborts the step only
// after every response for it has arrived, so nothing from a failed step
// reaches the journal. There is no per-call timeout here: a stuck worker
// stalls the step, bounded only by the sandbox's own execution timeout.
func (s *Scheduler) Step(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("%w: pool is shut down", ErrPool)
	}

	stepNum := s.steps
	start := time.Now()
	s.logger.Info("step starting", "step", stepNum)

	if err := s.ensurePreview(ctx); err != nil {
		return err
	}

	// PROPOSING: every worker picks its parent and generates K nodes.
	proposeStart := time.Now()
	genReplies := make([]<-chan worker.GenerateResult, len(s.workers))
	for i, w := range s.workers {
		genReplies[i] = w.GenerateAsync(ctx, s.pickParent(), s.cfg.NodesPerWorker, stepNum, s.preview)
	}

	var pending []*model.Node
	var phaseErrs []error
	for i := range genReplies {
		r := <-genReplies[i]
		if r.Err != nil {
			phaseErrs = append(phaseErrs, r.Err)
			continue
		}
		pending = append(pending, r.Nodes...)
	}
	if err := joinPhaseErrs(phaseErrs); err != nil {
		return fmt.Errorf("propose phase: %w", err)
	}
	nodesProposedTotal.Add(float64(len(pending)))
	phaseDuration.WithLabelValues("propose").Observe(time.Since(proposeStart).Seconds())

	// PARTITIONING + EVALUATING: slice i goes to worker i.
	slices := Partition(pending, len(s.workers))

	evalStart := time.Now()
	evalReplies := make([]<-chan worker.EvaluateResult, len(s.workers))
	for i, w := range s.workers {
		evalReplies[i] = w.EvaluateAsync(ctx, slices[i])
	}

	evaluated := make([]*model.Node, 0, len(pending))
	phaseErrs = nil
	for i := range evalReplies {
		r := <-evalReplies[i]
		if r.Err != nil {
			phaseErrs = append(phaseErrs, r.Err)
			continue
		}
		evaluated = append(evaluated, r.Nodes...)
	}
	if err := joinPhaseErrs(phaseErrs); err != nil {
		return fmt.Errorf("evaluate phase: %w", err)
	}
	phaseDuration.WithLabelValues("evaluate").Observe(time.Since(evalStart).Seconds())

	// AGGREGATING: merge in result order, recompute stats, checkpoint.
	for _, n := range evaluated {
		s.journal.Append(n)
	}
	st := s.journal.ComputeStepStats(evaluated)
	nodesEvaluatedTotal.WithLabelValues("buggy").Add(float64(st.Buggy))
	nodesEvaluatedTotal.WithLabelValues("good").Add(float64(st.Good))
	if best := s.journal.BestNode(true); best != nil {
		bestMetricGauge.Set(*best.Metric())
	}
	s.journal.NotifyStep(stepNum, st)

	if s.store != nil {
		if err := s.store.SaveCheckpoint(ctx, s.run, s.journal); err != nil {
			// Persistence is best-effort; in-memory state stands.
			s.logger.Error("checkpoint failed", "step", stepNum, "error", err)
		}
	}

	s.steps++
	stepsTotal.Inc()

	args := []any{
		"step", stepNum,
		"good", st.Good,
		"buggy", st.Buggy,
		"journal_size", s.journal.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if st.BestMetric != nil {
		args = append(args, "step_best_metric", *st.BestMetric)
	}
	s.logger.Info("step completed", args...)
	return nil
}

// Cleanup tears down every worker's sandbox session exactly once and marks
// the pool unusable. Safe to invoke after a failed step; the second call is
// a no-op returning nil.
func (s *Scheduler) Cleanup() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, w := range s.workers {
		if err := w.Teardown(); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("pool shut down", "workers", len(s.workers))

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %v", ErrPool, err)
	}
	return nil
}

// ensurePreview fetches the shared data preview from any worker the first
// time the journal is empty, then caches it for the scheduler's lifetime.
func (s *Scheduler) ensurePreview(ctx context.Context) error {
	if !s.cfg.DataPreview || s.previewFetched || s.journal.Len() > 0 {
		return nil
	}
	res := <-s.workers[0].PreviewAsync(ctx)
	if res.Err != nil {
		return fmt.Errorf("fetch data preview: %w", res.Err)
	}
	s.preview = res.Preview
	s.previewFetched = true
	s.logger.Info("data preview cached", "bytes", len(s.preview))
	return nil
}

// joinPhaseErrs folds a phase's worker errors, surfacing unreachable
// workers as pool failures.
func joinPhaseErrs(errs []error) error {
	err := errors.Join(errs...)
	if err == nil {
		return nil
	}
	if errors.Is(err, worker.ErrStopped) {
		return fmt.Errorf("%w: %v", ErrPool, err)
	}
	return err
}
