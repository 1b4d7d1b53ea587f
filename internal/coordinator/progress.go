package coordinator

import (
	"sort"
	"sync"
	"time"

	"github.com/corvohq/janitor/internal/catalog"
)

// Progress is the live view of coordinator activity consumed by the status
// endpoint. Counters are process-lifetime so serve mode accumulates across
// tier runs.
type Progress struct {
	mu        sync.Mutex
	tier      catalog.Tier
	runStart  time.Time
	running   map[string]time.Time
	completed uint64
	failed    uint64
	skipped   uint64
	chunks    uint64
	rows      uint64
}

// RunningTask is one in-flight task in a progress snapshot.
type RunningTask struct {
	Name    string  `json:"name"`
	Elapsed float64 `json:"elapsed_seconds"`
}

// Snapshot is a point-in-time copy of Progress for serialization.
type Snapshot struct {
	Tier           string        `json:"tier,omitempty"`
	RunStartedAt   *time.Time    `json:"run_started_at,omitempty"`
	Running        []RunningTask `json:"running"`
	TasksCompleted uint64        `json:"tasks_completed"`
	TasksFailed    uint64        `json:"tasks_failed"`
	TasksSkipped   uint64        `json:"tasks_skipped"`
	Chunks         uint64        `json:"chunks"`
	RowsAffected   uint64        `json:"rows_affected"`
}

func newProgress() *Progress {
	return &Progress{running: make(map[string]time.Time)}
}

func (p *Progress) runStarted(tier catalog.Tier) {
	p.mu.Lock()
	p.tier = tier
	p.runStart = time.Now()
	p.mu.Unlock()
}

func (p *Progress) taskStarted(name string) {
	p.mu.Lock()
	p.running[name] = time.Now()
	p.mu.Unlock()
}

func (p *Progress) taskSkipped(name string) {
	p.mu.Lock()
	p.skipped++
	p.mu.Unlock()
}

func (p *Progress) taskFinished(name string, failed bool, rows int64, chunks int) {
	p.mu.Lock()
	delete(p.running, name)
	if failed {
		p.failed++
	} else {
		p.completed++
	}
	p.chunks += uint64(chunks)
	if rows > 0 {
		p.rows += uint64(rows)
	}
	p.mu.Unlock()
}

// Snapshot returns a copy safe for serialization.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{
		Tier:           string(p.tier),
		TasksCompleted: p.completed,
		TasksFailed:    p.failed,
		TasksSkipped:   p.skipped,
		Chunks:         p.chunks,
		RowsAffected:   p.rows,
		Running:        []RunningTask{},
	}
	if !p.runStart.IsZero() {
		t := p.runStart
		snap.RunStartedAt = &t
	}
	now := time.Now()
	for name, started := range p.running {
		snap.Running = append(snap.Running, RunningTask{Name: name, Elapsed: now.Sub(started).Seconds()})
	}
	sort.Slice(snap.Running, func(i, j int) bool { return snap.Running[i].Name < snap.Running[j].Name })
	return snap
}
