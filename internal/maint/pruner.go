package maint

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// PruneSpec describes the rows a BulkPruner removes: every row of Table
// whose Where predicate matched at construction time. Key must be an
// integer primary key column.
type PruneSpec struct {
	Table string
	Key   string
	Where string
	Args  []any
}

// BulkPruner deletes every row matching a predicate without a single
// long-running transaction. The predicate is evaluated exactly once, at
// construction, by materializing the matching primary keys into the
// prune_candidates snapshot table; chunks then delete by key in their own
// committed transactions. Rows that start matching the predicate after
// construction are not part of this run's candidate set.
type BulkPruner struct {
	db     *sql.DB
	log    *slog.Logger
	name   string
	spec   PruneSpec
	bounds Bounds

	total     int64
	processed int64
	removed   int64
	lastKey   int64
	done      bool
}

const candidatesSchema = `CREATE TABLE IF NOT EXISTS prune_candidates (
	task TEXT NOT NULL,
	key  INTEGER NOT NULL,
	PRIMARY KEY (task, key)
) WITHOUT ROWID`

// NewBulkPruner evaluates the predicate and materializes the candidate set.
// The snapshot lives in the same database as the target table so each chunk
// can consume candidates and delete target rows in one transaction.
func NewBulkPruner(ctx context.Context, db *sql.DB, log *slog.Logger, name string, spec PruneSpec, bounds Bounds) (*BulkPruner, error) {
	if log == nil {
		log = slog.Default()
	}
	if spec.Table == "" || spec.Key == "" || spec.Where == "" {
		return nil, fmt.Errorf("prune spec for %s: table, key and where are required", name)
	}

	if _, err := db.ExecContext(ctx, candidatesSchema); err != nil {
		return nil, fmt.Errorf("create prune_candidates: %w", err)
	}

	// Clear leftovers from a crashed run of the same task, then snapshot.
	// The advisory lock guarantees no live run shares this task name.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM prune_candidates WHERE task = ?", name); err != nil {
		return nil, fmt.Errorf("clear stale candidates for %s: %w", name, err)
	}

	insert := fmt.Sprintf(
		"INSERT INTO prune_candidates (task, key) SELECT ?, %s FROM %s WHERE %s",
		spec.Key, spec.Table, spec.Where,
	)
	args := append([]any{name}, spec.Args...)
	res, err := tx.ExecContext(ctx, insert, args...)
	if err != nil {
		return nil, fmt.Errorf("materialize candidates for %s: %w", name, err)
	}
	total, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("count candidates for %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot for %s: %w", name, err)
	}

	log.Debug("candidate set materialized", "task", name, "table", spec.Table, "candidates", total)
	return &BulkPruner{db: db, log: log, name: name, spec: spec, bounds: bounds, total: total, done: total == 0}, nil
}

// IsDone reports whether the candidate set has been fully consumed.
func (p *BulkPruner) IsDone(ctx context.Context) (bool, error) {
	return p.done, nil
}

// Run deletes one chunk of candidate rows and commits. The chunk size is
// the hint clamped to the task's bounds. A referential-constraint failure
// rolls the chunk back and abandons the run; the rows are left for the
// next scheduled invocation.
func (p *BulkPruner) Run(ctx context.Context, chunkHint float64) error {
	if p.done {
		return nil
	}
	limit := p.bounds.Clamp(chunkHint)

	keys, err := p.fetchKeys(ctx, limit)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		p.done = true
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", p.spec.Table, p.spec.Key, placeholders),
		args...)
	if err != nil {
		if isConstraintErr(err) {
			// Concurrent linkage can legitimately appear between snapshot
			// and delete. Abandon the run; the next one re-evaluates.
			p.log.Warn("chunk aborted on constraint violation; leaving rows for next run",
				"task", p.name, "table", p.spec.Table, "chunk", len(keys), "error", err)
			p.done = true
			return nil
		}
		return fmt.Errorf("delete chunk from %s: %w", p.spec.Table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("chunk rows affected: %w", err)
	}

	lastKey := keys[len(keys)-1]
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM prune_candidates WHERE task = ? AND key <= ?", p.name, lastKey); err != nil {
		return fmt.Errorf("consume candidates: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk: %w", err)
	}

	p.lastKey = lastKey
	p.processed += int64(len(keys))
	p.removed += affected
	if p.processed >= p.total || len(keys) < limit {
		p.done = true
	}
	return nil
}

// CleanUp discards any unconsumed candidates for this run.
func (p *BulkPruner) CleanUp() error {
	_, err := p.db.Exec("DELETE FROM prune_candidates WHERE task = ?", p.name)
	if err != nil {
		return fmt.Errorf("drop candidates for %s: %w", p.name, err)
	}
	return nil
}

// RowsAffected reports how many target rows this run has removed so far.
func (p *BulkPruner) RowsAffected() int64 {
	return p.removed
}

func (p *BulkPruner) fetchKeys(ctx context.Context, limit int) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT key FROM prune_candidates WHERE task = ? AND key > ? ORDER BY key LIMIT ?",
		p.name, p.lastKey, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch candidate keys: %w", err)
	}
	defer rows.Close()

	var keys []int64
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func isConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint")
}
