package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// RunRecord is one row in the run index: the durable summary of a
// training run, queryable without touching the per-run directories.
type RunRecord struct {
	RunID       string    `json:"runId"`
	Env         string    `json:"env"`
	Strategy    string    `json:"strategy"`
	Generations int       `json:"generations"`
	BestReward  float64   `json:"bestReward"`
	FinalReward float64   `json:"finalReward"`
	Seed        int64     `json:"seed"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// RunIndex is a SQLite-backed catalog of finished and in-progress runs.
type RunIndex struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewRunIndex creates an uninitialized index for the given database path.
func NewRunIndex(path string) *RunIndex {
	return &RunIndex{path: path}
}

// Init opens the database and creates the schema if needed.
func (ri *RunIndex) Init(ctx context.Context) error {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	if ri.path == "" {
		return errors.New("run index path is required")
	}
	if ri.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", ri.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			env TEXT NOT NULL,
			strategy TEXT NOT NULL,
			generations INTEGER NOT NULL,
			best_reward REAL NOT NULL,
			final_reward REAL NOT NULL,
			seed INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);
	`); err != nil {
		_ = db.Close()
		return err
	}

	ri.db = db
	return nil
}

// RecordRun inserts or updates a run's summary row.
func (ri *RunIndex) RecordRun(ctx context.Context, record RunRecord) error {
	db, err := ri.getDB()
	if err != nil {
		return err
	}
	if record.RunID == "" {
		return errors.New("run record needs a run ID")
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (run_id, env, strategy, generations, best_reward, final_reward, seed, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			env = excluded.env,
			strategy = excluded.strategy,
			generations = excluded.generations,
			best_reward = excluded.best_reward,
			final_reward = excluded.final_reward,
			seed = excluded.seed,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, record.RunID, record.Env, record.Strategy, record.Generations,
		record.BestReward, record.FinalReward, record.Seed,
		record.StartedAt.UnixNano(), record.FinishedAt.UnixNano())
	return err
}

// GetRun returns the summary for one run, or found=false if absent.
func (ri *RunIndex) GetRun(ctx context.Context, runID string) (RunRecord, bool, error) {
	db, err := ri.getDB()
	if err != nil {
		return RunRecord{}, false, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT run_id, env, strategy, generations, best_reward, final_reward, seed, started_at, finished_at
		FROM runs WHERE run_id = ?
	`, runID)

	record, err := scanRunRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, err
	}
	return record, true, nil
}

// ListRuns returns all recorded runs, most recently finished first.
func (ri *RunIndex) ListRuns(ctx context.Context) ([]RunRecord, error) {
	db, err := ri.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT run_id, env, strategy, generations, best_reward, final_reward, seed, started_at, finished_at
		FROM runs ORDER BY finished_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		record, err := scanRunRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// DeleteRun removes a run's summary row. Missing rows are not an error.
func (ri *RunIndex) DeleteRun(ctx context.Context, runID string) error {
	db, err := ri.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	return err
}

// Close releases the underlying database handle.
func (ri *RunIndex) Close() error {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	if ri.db == nil {
		return nil
	}
	err := ri.db.Close()
	ri.db = nil
	return err
}

func (ri *RunIndex) getDB() (*sql.DB, error) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	if ri.db == nil {
		return nil, errors.New("run index is not initialized")
	}
	return ri.db, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunRecord(row rowScanner) (RunRecord, error) {
	var record RunRecord
	var startedAt, finishedAt int64
	err := row.Scan(
		&record.RunID, &record.Env, &record.Strategy, &record.Generations,
		&record.BestReward, &record.FinalReward, &record.Seed,
		&startedAt, &finishedAt,
	)
	if err != nil {
		return RunRecord{}, err
	}
	record.StartedAt = time.Unix(0, startedAt)
	record.FinishedAt = time.Unix(0, finishedAt)
	return record, nil
}
