package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/crucible/internal/journal"
	"github.com/seantiz/crucible/internal/model"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    task_name   TEXT NOT NULL,
    config_json TEXT,
    maximize    INTEGER NOT NULL,
    updated_at  DATETIME NOT NULL
)`

const createNodesTable = `
CREATE TABLE IF NOT EXISTS nodes (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    parent_id   TEXT,
    step        INTEGER NOT NULL,
    stage       TEXT NOT NULL,
    code        TEXT NOT NULL,
    plan        TEXT,
    evaluated   INTEGER NOT NULL,
    is_buggy    INTEGER NOT NULL,
    metric      REAL,
    exit_code   INTEGER,
    output      TEXT,
    stderr      TEXT,
    duration_ms INTEGER,
    timeout     INTEGER NOT NULL,
    created_at  DATETIME NOT NULL
)`

const createNodesIndex = `
CREATE INDEX IF NOT EXISTS idx_nodes_run_seq ON nodes (run_id, seq)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createRunsTable, createNodesTable, createNodesIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveCheckpoint upserts the run record and every journal node in one
// transaction. Nodes keep their journal arrival order via the seq column.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, run Run, j *journal.Journal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, task_name, config_json, maximize, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.TaskName, string(run.ConfigJSON), boolToInt(run.MetricMaximize), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO nodes (
			id, run_id, seq, parent_id, step, stage, code, plan,
			evaluated, is_buggy, metric, exit_code, output, stderr,
			duration_ms, timeout, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare node upsert: %w", err)
	}
	defer stmt.Close()

	for seq, n := range j.Nodes() {
		res := n.ExecResult()
		_, err := stmt.ExecContext(ctx,
			n.ID, run.ID, seq, n.ParentID, n.Step, n.Stage, n.Code, n.Plan,
			boolToInt(n.Evaluated()), boolToInt(n.IsBuggy()), n.Metric(),
			res.ExitCode, res.Output, res.Stderr, res.DurationMS,
			boolToInt(res.Timeout), n.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert node %s: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// LoadJournal rebuilds a run's journal from its checkpoint, restoring
// arrival order and parent linkage. Returns ErrNotFound for unknown runs.
func (s *SQLiteStore) LoadJournal(ctx context.Context, runID string) (*journal.Journal, error) {
	maximize, err := s.runDirection(ctx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_id, step, stage, code, plan, evaluated, is_buggy,
			metric, exit_code, output, stderr, duration_ms, timeout, created_at
		FROM nodes WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	defer rows.Close()

	j := journal.New(maximize)
	byID := make(map[string]*model.Node)
	for rows.Next() {
		var (
			spec       model.RestoreSpec
			parentID   string
			evaluated  int
			isBuggy    int
			metricVal  sql.NullFloat64
			timeoutInt int
		)
		if err := rows.Scan(
			&spec.ID, &parentID, &spec.Step, &spec.Stage, &spec.Code, &spec.Plan,
			&evaluated, &isBuggy, &metricVal, &spec.Exec.ExitCode,
			&spec.Exec.Output, &spec.Exec.Stderr, &spec.Exec.DurationMS,
			&timeoutInt, &spec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}

		spec.Evaluated = evaluated != 0
		spec.IsBuggy = isBuggy != 0
		spec.Exec.Timeout = timeoutInt != 0
		if metricVal.Valid {
			v := metricVal.Float64
			spec.Metric = &v
		}
		if parentID != "" {
			parent, ok := byID[parentID]
			if !ok {
				return nil, fmt.Errorf("node %s references unknown parent %s", spec.ID, parentID)
			}
			spec.Parent = parent
		}

		n := model.Restore(spec)
		byID[n.ID] = n
		j.Append(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}

	return j, nil
}

// GetRunStats aggregates a run's checkpointed nodes. Returns ErrNotFound
// for unknown runs.
func (s *SQLiteStore) GetRunStats(ctx context.Context, runID string) (*RunStats, error) {
	maximize, err := s.runDirection(ctx, runID)
	if err != nil {
		return nil, err
	}

	bestAgg := "MIN"
	if maximize {
		bestAgg = "MAX"
	}

	stats := &RunStats{}
	var best sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(is_buggy), 0),
			COALESCE(SUM(CASE WHEN evaluated = 1 AND is_buggy = 0 THEN 1 ELSE 0 END), 0),
			`+bestAgg+`(CASE WHEN is_buggy = 0 THEN metric END),
			COALESCE(AVG(duration_ms), 0)
		FROM nodes WHERE run_id = ?`, runID,
	).Scan(&stats.Total, &stats.Buggy, &stats.Good, &best, &stats.AvgDurationMS)
	if err != nil {
		return nil, fmt.Errorf("aggregate run stats: %w", err)
	}
	if best.Valid {
		v := best.Float64
		stats.BestMetric = &v
	}
	return stats, nil
}

// runDirection returns the run's persisted metric direction, or ErrNotFound
// for unknown runs.
func (s *SQLiteStore) runDirection(ctx context.Context, runID string) (bool, error) {
	var maximize int
	err := s.db.QueryRowContext(ctx, "SELECT maximize FROM runs WHERE id = ?", runID).Scan(&maximize)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("look up run: %w", err)
	}
	return maximize != 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
