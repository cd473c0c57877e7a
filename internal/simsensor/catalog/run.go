package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/sensorsim/internal/simsensor/filter"
)

// Run groups the captures of one simulation run. It implements
// filter.CaptureRecorder, tagging every capture with the run.
type Run struct {
	ID    uuid.UUID
	store *Store
}

// RunInfo describes a catalogued run.
type RunInfo struct {
	ID       uuid.UUID
	Scene    string
	Step     float64
	Started  time.Time
	Finished time.Time // zero while the run is open
}

// BeginRun starts a run over the named scene stepped at step seconds.
func (s *Store) BeginRun(ctx context.Context, scene string, step float64) (*Run, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (run_id, scene, step, started_ns) VALUES (?, ?, ?, ?)",
		id.String(), scene, step, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return &Run{ID: id, store: s}, nil
}

// RecordCapture implements filter.CaptureRecorder.
func (r *Run) RecordCapture(ctx context.Context, c filter.Capture) error {
	return r.store.insert(ctx, r.ID, c)
}

// Finish marks the run complete.
func (r *Run) Finish(ctx context.Context) error {
	res, err := r.store.db.ExecContext(ctx,
		"UPDATE runs SET finished_ns = ? WHERE run_id = ? AND finished_ns IS NULL",
		time.Now().UnixNano(), r.ID.String())
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s is not open", r.ID)
	}
	return nil
}

// Runs lists catalogued runs, most recent first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, scene, step, started_ns, finished_ns FROM runs ORDER BY started_ns DESC")
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			info     RunInfo
			id       string
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&id, &info.Scene, &info.Step, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if info.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("run id %q: %w", id, err)
		}
		info.Started = time.Unix(0, started)
		if finished.Valid {
			info.Finished = time.Unix(0, finished.Int64)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
