package store

import (
	"database/sql"
	"fmt"
	"time"
)

// RunRecord is one row of run_history: a single attempt at a task.
type RunRecord struct {
	ID           int64     `json:"id"`
	Task         string    `json:"task"`
	Tier         string    `json:"tier"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Chunks       int       `json:"chunks"`
	RowsAffected int64     `json:"rows_affected"`
	Error        string    `json:"error,omitempty"`
}

// RecordRun appends one run_history row. Called by the coordinator after
// each task run regardless of outcome.
func (s *Store) RecordRun(rec RunRecord) error {
	var errVal any
	if rec.Error != "" {
		errVal = rec.Error
	}
	_, err := s.db.Write.Exec(
		`INSERT INTO run_history (task, tier, started_at, finished_at, chunks, rows_affected, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Task, rec.Tier,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		rec.Chunks, rec.RowsAffected, errVal,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.Task, err)
	}
	return nil
}

// RecentRuns returns the newest run_history rows, most recent first.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Read.Query(
		`SELECT id, task, tier, started_at, finished_at, chunks, rows_affected, COALESCE(error, '')
		 FROM run_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started, finished string
		if err := rows.Scan(&rec.ID, &rec.Task, &rec.Tier, &started, &finished, &rec.Chunks, &rec.RowsAffected, &rec.Error); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TaskStat is one row of the task_stats aggregate table.
type TaskStat struct {
	Task      string `json:"task"`
	Runs      int64  `json:"runs"`
	Failures  int64  `json:"failures"`
	RowsTotal int64  `json:"rows_total"`
	LastRunAt string `json:"last_run_at,omitempty"`
}

// TaskStats returns the rolled-up per-task aggregates ordered by task name.
func (s *Store) TaskStats() ([]TaskStat, error) {
	rows, err := s.db.Read.Query(
		"SELECT task, runs, failures, rows_total, COALESCE(last_run_at, '') FROM task_stats ORDER BY task")
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	var out []TaskStat
	for rows.Next() {
		var st TaskStat
		if err := rows.Scan(&st.Task, &st.Runs, &st.Failures, &st.RowsTotal, &st.LastRunAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountRunsAfter reports how many run_history rows exist beyond the given id.
func (s *Store) CountRunsAfter(id int64) (int64, error) {
	var n int64
	err := s.db.Read.QueryRow("SELECT COUNT(*) FROM run_history WHERE id > ?", id).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("count runs after %d: %w", id, err)
	}
	return n, nil
}
