package store

import (
	"context"
	"errors"

	"github.com/seantiz/crucible/internal/journal"
)

// ErrNotFound is returned when a run has no checkpoint.
var ErrNotFound = errors.New("run not found")

// Run identifies one search run in the checkpoint store. MetricMaximize is
// persisted so a resumed journal compares metrics in the same direction.
type Run struct {
	ID             string
	TaskName       string
	ConfigJSON     []byte
	MetricMaximize bool
}

// RunStats holds aggregate statistics over a run's checkpointed nodes.
type RunStats struct {
	Total         int      `json:"total"`
	Buggy         int      `json:"buggy"`
	Good          int      `json:"good"`
	BestMetric    *float64 `json:"best_metric,omitempty"`
	AvgDurationMS float64  `json:"avg_duration_ms"`
}

// Store defines checkpoint persistence. Saving is best-effort from the
// scheduler's point of view: a failure is logged and never rolls back
// in-memory state.
type Store interface {
	SaveCheckpoint(ctx context.Context, run Run, j *journal.Journal) error
	LoadJournal(ctx context.Context, runID string) (*journal.Journal, error)
	GetRunStats(ctx context.Context, runID string) (*RunStats, error)
	Close() error
}
