// Package worker implements the isolated pool member of the search. A
// worker is a long-lived goroutine owning one proposal-engine handle and one
// sandbox session, communicating with the scheduler only through typed
// request/response messages. It holds no authoritative search state: nodes
// pass through for the duration of one step and nothing is retained.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/seantiz/crucible/internal/metric"
	"github.com/seantiz/crucible/internal/model"
	"github.com/seantiz/crucible/internal/proposal"
	"github.com/seantiz/crucible/internal/sandbox"
)

// ErrStopped is returned for requests dispatched after teardown.
var ErrStopped = errors.New("worker stopped")

// GenerateResult is the reply to a generate request.
type GenerateResult struct {
	Nodes []*model.Node
	Err   error
}

// EvaluateResult is the reply to an evaluate request.
type EvaluateResult struct {
	Nodes []*model.Node
	Err   error
}

// PreviewResult is the reply to a data-preview request.
type PreviewResult struct {
	Preview string
	Err     error
}

type generateReq struct {
	ctx     context.Context
	parent  *model.Node
	count   int
	step    int
	preview string
	reply   chan GenerateResult
}

type evaluateReq struct {
	ctx   context.Context
	nodes []*model.Node
	reply chan EvaluateResult
}

type previewReq struct {
	reply chan PreviewResult
}

// Worker is one pool member. All methods are safe to call from the
// scheduler goroutine; replies arrive on the returned channels.
type Worker struct {
	id         int
	engine     proposal.Engine
	session    sandbox.Session
	classifier metric.Classifier
	task       model.Task
	previewFn  func() (string, error)
	logger     *slog.Logger

	reqs chan any
	done chan struct{}

	teardownOnce sync.Once
	teardownErr  error

	previewCached bool
	preview       string
	previewErr    error
}

// New creates a worker and starts its request loop. previewFn computes the
// task's data preview on first request; it may be nil when previews are
// disabled.
func New(id int, engine proposal.Engine, session sandbox.Session, classifier metric.Classifier,
	task model.Task, previewFn func() (string, error), logger *slog.Logger) *Worker {

	w := &Worker{
		id:         id,
		engine:     engine,
		session:    session,
		classifier: classifier,
		task:       task,
		previewFn:  previewFn,
		logger:     logger.With("worker", id),
		reqs:       make(chan any),
		done:       make(chan struct{}),
	}
	go w.loop()
	return w
}

// ID returns the worker's pool index.
func (w *Worker) ID() int { return w.id }

// GenerateAsync dispatches "generate count nodes derived from parent".
// The reply channel always receives exactly one result.
func (w *Worker) GenerateAsync(ctx context.Context, parent *model.Node, count, step int, preview string) <-chan GenerateResult {
	reply := make(chan GenerateResult, 1)
	select {
	case w.reqs <- generateReq{ctx: ctx, parent: parent, count: count, step: step, preview: preview, reply: reply}:
	case <-w.done:
		reply <- GenerateResult{Err: fmt.Errorf("worker %d: %w", w.id, ErrStopped)}
	}
	return reply
}

// EvaluateAsync dispatches "execute and score these nodes".
func (w *Worker) EvaluateAsync(ctx context.Context, nodes []*model.Node) <-chan EvaluateResult {
	reply := make(chan EvaluateResult, 1)
	select {
	case w.reqs <- evaluateReq{ctx: ctx, nodes: nodes, reply: reply}:
	case <-w.done:
		reply <- EvaluateResult{Err: fmt.Errorf("worker %d: %w", w.id, ErrStopped)}
	}
	return reply
}

// PreviewAsync dispatches a data-preview request. The preview is computed on
// first use and cached for the worker's lifetime.
func (w *Worker) PreviewAsync(ctx context.Context) <-chan PreviewResult {
	reply := make(chan PreviewResult, 1)
	select {
	case w.reqs <- previewReq{reply: reply}:
	case <-w.done:
		reply <- PreviewResult{Err: fmt.Errorf("worker %d: %w", w.id, ErrStopped)}
	}
	return reply
}

// Teardown stops the request loop and closes the sandbox session. It is
// idempotent and safe to call after a failed step; the scheduler invokes it
// exactly once per worker at pool shutdown.
func (w *Worker) Teardown() error {
	w.teardownOnce.Do(func() {
		close(w.done)
		if err := w.session.Close(); err != nil {
			w.logger.Error("session close failed", "error", err)
			w.teardownErr = fmt.Errorf("worker %d: close session: %w", w.id, err)
		}
	})
	return w.teardownErr
}

func (w *Worker) loop() {
	for {
		select {
		case <-w.done:
			return
		case r := <-w.reqs:
			switch req := r.(type) {
			case generateReq:
				req.reply <- w.handleGenerate(req)
			case evaluateReq:
				req.reply <- w.handleEvaluate(req)
			case previewReq:
				req.reply <- w.handlePreview()
			}
		}
	}
}

// handleGenerate derives count new unevaluated nodes. The strategy follows
// the parent's state: no parent drafts from scratch, a buggy parent gets a
// debug patch, a working parent gets a refinement.
func (w *Worker) handleGenerate(req generateReq) GenerateResult {
	nodes := make([]*model.Node, 0, req.count)
	for i := 0; i < req.count; i++ {
		var (
			p     proposal.Proposal
			stage string
			err   error
		)
		switch {
		case req.parent == nil:
			stage = model.StageDraft
			p, err = w.engine.Draft(req.ctx, w.task, req.preview)
		case req.parent.IsBuggy():
			stage = model.StageDebug
			p, err = w.engine.Debug(req.ctx, w.task, req.parent, req.preview)
		default:
			stage = model.StageImprove
			p, err = w.engine.Improve(req.ctx, w.task, req.parent, req.preview)
		}
		if err != nil {
			w.logger.Error("generate failed", "stage", stage, "error", err)
			return GenerateResult{Err: fmt.Errorf("worker %d: %s: %w", w.id, stage, err)}
		}
		nodes = append(nodes, model.NewNode(p.Code, p.Plan, req.parent, req.step))
	}
	w.logger.Debug("generated nodes", "count", len(nodes))
	return GenerateResult{Nodes: nodes}
}

// handleEvaluate runs each node's code in the worker's session, absorbs the
// artifact, and derives the outcome. Sandbox and classifier failures are
// logged with the node's identity and surfaced to the scheduler; they are
// never silently downgraded to a buggy result.
func (w *Worker) handleEvaluate(req evaluateReq) EvaluateResult {
	for _, n := range req.nodes {
		res, err := w.session.Run(req.ctx, n.Code)
		if err != nil {
			w.logger.Error("execution failed", "node", n.ID, "error", err)
			return EvaluateResult{Err: fmt.Errorf("worker %d: execute node %s: %w", w.id, n.ID, err)}
		}
		if err := n.AbsorbExecResult(res); err != nil {
			return EvaluateResult{Err: fmt.Errorf("worker %d: node %s: %w", w.id, n.ID, err)}
		}

		buggy, m, err := w.classifier.Classify(n, res)
		if err != nil {
			w.logger.Error("metric derivation failed", "node", n.ID, "error", err)
			return EvaluateResult{Err: fmt.Errorf("worker %d: classify node %s: %w", w.id, n.ID, err)}
		}
		if err := n.SetEvaluation(buggy, m); err != nil {
			return EvaluateResult{Err: fmt.Errorf("worker %d: node %s: %w", w.id, n.ID, err)}
		}

		if m != nil {
			w.logger.Debug("evaluated node", "node", n.ID, "buggy", buggy, "metric", *m)
		} else {
			w.logger.Debug("evaluated node", "node", n.ID, "buggy", buggy)
		}
	}
	return EvaluateResult{Nodes: req.nodes}
}

func (w *Worker) handlePreview() PreviewResult {
	if !w.previewCached {
		w.previewCached = true
		if w.previewFn != nil {
			w.preview, w.previewErr = w.previewFn()
		}
	}
	return PreviewResult{Preview: w.preview, Err: w.previewErr}
}
