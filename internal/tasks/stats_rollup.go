package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/corvohq/janitor/internal/catalog"
	"github.com/corvohq/janitor/internal/maint"
	"github.com/corvohq/janitor/internal/store"
)

// rollupState is the checkpoint document: the id of the last run_history
// row folded into task_stats.
type rollupState struct {
	LastID int64 `json:"last_id"`
}

// statsRollup is the incremental exemplar: it sweeps run_history in
// primary-key order from a persisted high-water mark, folding each row into
// the task_stats aggregates. The aggregate write and the new mark commit in
// one transaction, so the mark never runs ahead of persisted work and never
// regresses.
type statsRollup struct {
	st        *store.Store
	log       *slog.Logger
	bounds    maint.Bounds
	lastID    int64
	processed int64
}

func newStatsRollup(ctx context.Context, deps catalog.Deps) (maint.TunableLoop, error) {
	raw, err := deps.Store.LoadCheckpoint(NameRollupTaskStats)
	if err != nil {
		return nil, err
	}
	var cp rollupState
	if raw != nil {
		if err := json.Unmarshal(raw, &cp); err != nil {
			return nil, fmt.Errorf("decode rollup checkpoint: %w", err)
		}
	}
	return &statsRollup{st: deps.Store, log: deps.Log, bounds: deps.Bounds, lastID: cp.LastID}, nil
}

func (r *statsRollup) IsDone(ctx context.Context) (bool, error) {
	n, err := r.st.CountRunsAfter(r.lastID)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (r *statsRollup) Run(ctx context.Context, chunkHint float64) error {
	limit := r.bounds.Clamp(chunkHint)

	type historyRow struct {
		id     int64
		task   string
		rows   int64
		runAt  string
		failed bool
	}

	// Read the chunk up front; the upserts below share the write
	// connection and cannot run while a result set is open on it.
	rows, err := r.st.ReadDB().QueryContext(ctx,
		`SELECT id, task, rows_affected, finished_at, error IS NOT NULL
		 FROM run_history WHERE id > ? ORDER BY id LIMIT ?`, r.lastID, limit)
	if err != nil {
		return fmt.Errorf("fetch history chunk: %w", err)
	}
	var chunk []historyRow
	for rows.Next() {
		var h historyRow
		if err := rows.Scan(&h.id, &h.task, &h.rows, &h.runAt, &h.failed); err != nil {
			rows.Close()
			return err
		}
		chunk = append(chunk, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if len(chunk) == 0 {
		return nil
	}

	err = r.st.WithTx(func(tx *sql.Tx) error {
		for _, h := range chunk {
			failures := 0
			if h.failed {
				failures = 1
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO task_stats (task, runs, failures, rows_total, last_run_at)
				 VALUES (?, 1, ?, ?, ?)
				 ON CONFLICT(task) DO UPDATE SET
					runs       = runs + 1,
					failures   = failures + excluded.failures,
					rows_total = rows_total + excluded.rows_total,
					last_run_at = CASE
						WHEN last_run_at IS NULL OR excluded.last_run_at > last_run_at
						THEN excluded.last_run_at ELSE last_run_at END`,
				h.task, failures, h.rows, h.runAt); err != nil {
				return fmt.Errorf("upsert task stats for %s: %w", h.task, err)
			}
		}

		mark := chunk[len(chunk)-1].id
		state, err := json.Marshal(rollupState{LastID: mark})
		if err != nil {
			return err
		}
		return store.SaveCheckpointTx(tx, NameRollupTaskStats, state)
	})
	if err != nil {
		return err
	}

	r.lastID = chunk[len(chunk)-1].id
	r.processed += int64(len(chunk))
	return nil
}

func (r *statsRollup) CleanUp() error {
	return nil
}

func (r *statsRollup) RowsAffected() int64 {
	return r.processed
}
