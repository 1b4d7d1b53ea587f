package tasks

import (
	"context"
	"time"

	"github.com/corvohq/janitor/internal/catalog"
	"github.com/corvohq/janitor/internal/maint"
)

// historyRetention is how long run_history rows are kept before the daily
// prune removes them.
const historyRetention = 30 * 24 * time.Hour

// newHistoryPrune deletes run_history rows older than the retention period.
// The cutoff is fixed at construction, so rows aging past it mid-run wait
// for the next day's invocation.
func newHistoryPrune(ctx context.Context, deps catalog.Deps) (maint.TunableLoop, error) {
	cutoff := time.Now().Add(-historyRetention).UTC().Format(time.RFC3339Nano)
	return maint.NewBulkPruner(ctx, deps.Store.WriteDB(), deps.Log, NamePruneRunHistory,
		maint.PruneSpec{
			Table: "run_history",
			Key:   "id",
			Where: "finished_at < ?",
			Args:  []any{cutoff},
		},
		deps.Bounds)
}
