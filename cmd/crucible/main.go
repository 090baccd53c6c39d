package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/crucible/internal/api"
	"github.com/seantiz/crucible/internal/config"
	"github.com/seantiz/crucible/internal/journal"
	"github.com/seantiz/crucible/internal/metric"
	"github.com/seantiz/crucible/internal/preview"
	"github.com/seantiz/crucible/internal/proposal"
	"github.com/seantiz/crucible/internal/sandbox"
	"github.com/seantiz/crucible/internal/sandbox/docker"
	"github.com/seantiz/crucible/internal/sandbox/jsvm"
	"github.com/seantiz/crucible/internal/sandbox/local"
	"github.com/seantiz/crucible/internal/scheduler"
	"github.com/seantiz/crucible/internal/store"
	"github.com/seantiz/crucible/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("crucible: starting",
		"run_id", cfg.RunID,
		"task", cfg.TaskPath,
		"sandbox", cfg.SandboxMode,
		"pool_size", cfg.PoolSize,
		"steps", cfg.Steps,
	)

	task, err := config.LoadTask(cfg.TaskPath)
	if err != nil {
		log.Fatalf("failed to load task: %v", err)
	}

	if cfg.EngineURL == "" {
		log.Fatalf("%s must be set", "CRUCIBLE_ENGINE_URL")
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	registry := sandbox.NewRegistry()
	registry.Register("local", local.NewFactory(local.Options{
		Workdir:     cfg.WorkspaceDir,
		Interpreter: cfg.Interpreter,
		Timeout:     cfg.ExecTimeout,
		OutputLimit: cfg.OutputLimit,
	}, logger))
	registry.Register("docker", docker.NewFactory(docker.Options{
		Image:       cfg.DockerImage,
		Workdir:     cfg.WorkspaceDir,
		Interpreter: cfg.Interpreter,
		Timeout:     cfg.ExecTimeout,
		OutputLimit: cfg.OutputLimit,
	}, logger))
	registry.Register("jsvm", jsvm.NewFactory(jsvm.Options{
		Timeout:     cfg.ExecTimeout,
		OutputLimit: cfg.OutputLimit,
	}, logger))

	factory, err := registry.Resolve(cfg.SandboxMode)
	if err != nil {
		log.Fatalf("failed to resolve sandbox: %v", err)
	}

	engine := proposal.NewHTTPEngine(cfg.EngineURL, cfg.EngineModel, cfg.EngineAPIKey, cfg.EngineTimeout)
	classifier := metric.MarkerClassifier{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j, err := db.LoadJournal(ctx, cfg.RunID)
	switch {
	case err == nil:
		logger.Info("resuming from checkpoint", "run_id", cfg.RunID, "nodes", j.Len())
	case errors.Is(err, store.ErrNotFound):
		j = journal.New(task.Metric.Maximize)
	default:
		log.Fatalf("failed to load checkpoint: %v", err)
	}

	configJSON, err := json.Marshal(map[string]any{
		"pool_size":        cfg.PoolSize,
		"nodes_per_worker": cfg.NodesPerWorker,
		"steps":            cfg.Steps,
		"sandbox":          cfg.SandboxMode,
		"engine_model":     cfg.EngineModel,
	})
	if err != nil {
		log.Fatalf("failed to encode run config: %v", err)
	}
	run := store.Run{
		ID:             cfg.RunID,
		TaskName:       task.Name,
		ConfigJSON:     configJSON,
		MetricMaximize: task.Metric.Maximize,
	}

	dataDir := filepath.Join(cfg.WorkspaceDir, "data")
	workerFactory := func(id int) (*worker.Worker, error) {
		session, err := factory.NewSession(id)
		if err != nil {
			return nil, err
		}
		previewFn := func() (string, error) { return preview.Generate(dataDir) }
		return worker.New(id, engine, session, classifier, task, previewFn, logger), nil
	}

	sched, err := scheduler.New(scheduler.Config{
		PoolSize:       cfg.PoolSize,
		NodesPerWorker: cfg.NodesPerWorker,
		MinDrafts:      cfg.MinDrafts,
		DebugProb:      cfg.DebugProb,
		DataPreview:    cfg.DataPreview,
	}, j, workerFactory, db, run, logger)
	if err != nil {
		log.Fatalf("failed to build worker pool: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		srv := api.NewServer(cfg.MetricsAddr, cfg.RunID, db, j, registry, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error {
		ch, unsub := j.Watch()
		defer unsub()
		for {
			select {
			case p := <-ch:
				args := []any{"step", p.Step, "total", p.Total, "good", p.Good, "buggy", p.Buggy}
				if p.BestMetric != nil {
					args = append(args, "best_metric", *p.BestMetric)
				}
				logger.Info("progress", args...)
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		// Stopping the parent context winds down the API server and the
		// progress watcher once the search finishes.
		defer stop()
		for i := 0; i < cfg.Steps; i++ {
			if gctx.Err() != nil {
				logger.Info("search interrupted", "completed_steps", i)
				return nil
			}
			if err := sched.Step(gctx); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		logger.Info("search finished", "steps", cfg.Steps)
		return nil
	})

	runErr := g.Wait()

	if best := j.BestNode(true); best != nil {
		bestPath := filepath.Join(cfg.WorkspaceDir, "best_solution.py")
		if err := os.WriteFile(bestPath, []byte(best.Code), 0o644); err != nil {
			logger.Error("write best solution", "error", err)
		} else {
			logger.Info("best solution written",
				"path", bestPath,
				"node", best.ID,
				"metric", *best.Metric(),
			)
		}
	} else {
		logger.Warn("no working solution found")
	}

	if err := sched.Cleanup(); err != nil {
		logger.Error("pool cleanup", "error", err)
	}

	if runErr != nil {
		logger.Error("crucible: exiting", "error", runErr)
		db.Close()
		os.Exit(1)
	}
}
