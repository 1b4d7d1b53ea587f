package tasks

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/corvohq/janitor/internal/catalog"
	"github.com/corvohq/janitor/internal/lock"
	"github.com/corvohq/janitor/internal/maint"
)

// staleLockTTL is the age past which any lock file is presumed abandoned.
// It exceeds the daily tier budget so a legitimate day-long run is never
// swept out from under its holder.
const staleLockTTL = 25 * time.Hour

// lockSweep removes lock files left behind by crashed janitor processes:
// locks held by a dead pid on this host, or locks older than the TTL from
// any host. The directory listing is snapshotted at construction; locks
// created afterwards belong to live runs and are never candidates.
type lockSweep struct {
	dir        string
	log        *slog.Logger
	bounds     maint.Bounds
	host       string
	candidates []lock.Info
	idx        int
	removed    int64
}

func newLockSweep(ctx context.Context, deps catalog.Deps) (maint.TunableLoop, error) {
	infos, err := lock.List(deps.LockDir)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	return &lockSweep{dir: deps.LockDir, log: deps.Log, bounds: deps.Bounds, host: host, candidates: infos}, nil
}

func (t *lockSweep) IsDone(ctx context.Context) (bool, error) {
	return t.idx >= len(t.candidates), nil
}

func (t *lockSweep) Run(ctx context.Context, chunkHint float64) error {
	limit := t.bounds.Clamp(chunkHint)
	for n := 0; n < limit && t.idx < len(t.candidates); n++ {
		info := t.candidates[t.idx]
		t.idx++

		if !t.stale(info) {
			continue
		}
		if err := lock.Remove(t.dir, info.Name); err != nil {
			return err
		}
		t.removed++
		t.log.Warn("removed stale lock", "lock", info.Name, "holder_host", info.Host,
			"holder_pid", info.PID, "age", time.Since(info.ModTime).Round(time.Second))
	}
	return nil
}

func (t *lockSweep) CleanUp() error {
	return nil
}

func (t *lockSweep) RowsAffected() int64 {
	return t.removed
}

func (t *lockSweep) stale(info lock.Info) bool {
	if info.Host == t.host && info.PID > 0 && !pidAlive(info.PID) {
		return true
	}
	return !info.ModTime.IsZero() && time.Since(info.ModTime) > staleLockTTL
}

// pidAlive probes a pid with signal 0. EPERM means the process exists but
// belongs to another user.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
