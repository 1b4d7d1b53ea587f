package tasks

import (
	"context"
	"log/slog"

	"github.com/corvohq/janitor/internal/catalog"
	"github.com/corvohq/janitor/internal/maint"
	"github.com/corvohq/janitor/internal/store"
)

// checkpointVacuum deletes checkpoint records whose task no longer exists
// in the catalog. Experimental: a task renamed without migrating its
// checkpoint would silently restart from scratch after this runs, so the
// tier is opt-in until renames get a migration story.
type checkpointVacuum struct {
	st      *store.Store
	log     *slog.Logger
	bounds  maint.Bounds
	orphans []string
	idx     int
	removed int64
}

func newCheckpointVacuum(ctx context.Context, deps catalog.Deps) (maint.TunableLoop, error) {
	cps, err := deps.Store.ListCheckpoints()
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(deps.TaskNames))
	for _, name := range deps.TaskNames {
		known[name] = true
	}
	var orphans []string
	for _, cp := range cps {
		if !known[cp.TaskName] {
			orphans = append(orphans, cp.TaskName)
		}
	}
	return &checkpointVacuum{st: deps.Store, log: deps.Log, bounds: deps.Bounds, orphans: orphans}, nil
}

func (t *checkpointVacuum) IsDone(ctx context.Context) (bool, error) {
	return t.idx >= len(t.orphans), nil
}

func (t *checkpointVacuum) Run(ctx context.Context, chunkHint float64) error {
	limit := t.bounds.Clamp(chunkHint)
	for n := 0; n < limit && t.idx < len(t.orphans); n++ {
		name := t.orphans[t.idx]
		t.idx++
		if err := t.st.DeleteCheckpoint(name); err != nil {
			return err
		}
		t.removed++
		t.log.Info("vacuumed orphaned checkpoint", "checkpoint_task", name)
	}
	return nil
}

func (t *checkpointVacuum) CleanUp() error {
	return nil
}

func (t *checkpointVacuum) RowsAffected() int64 {
	return t.removed
}
