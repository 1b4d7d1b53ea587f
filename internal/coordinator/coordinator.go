// Package coordinator drives one invocation of a cadence tier: it pulls
// tasks from the catalog, runs them on a worker pool under per-task
// advisory locks and a shared wall-clock budget, and aggregates failures.
package coordinator

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/corvohq/janitor/internal/catalog"
	"github.com/corvohq/janitor/internal/store"
)

const (
	// lockRetryWindow is how much script budget must remain for a
	// lock-contended task to be requeued instead of dropped.
	lockRetryWindow = 60 * time.Second

	// lockRetryDelay is the back-off before a contended task re-enters
	// the queue.
	lockRetryDelay = 2 * time.Second

	// drainGrace is how long past the overall deadline in-flight chunks
	// may take to land before the coordinator stops waiting.
	drainGrace = 60 * time.Second
)

// Config holds one invocation's knobs.
type Config struct {
	Threads       int           // worker count; default is the CPU count
	ScriptTimeout time.Duration // overall wall-clock budget
	TaskTimeout   time.Duration // fixed per-task ceiling; 0 means fair share
	LockDir       string        // shared advisory lock directory
	Experimental  bool          // include experimental catalog entries
	RowsPerSec    float64       // pacing budget for chunk work; 0 = unpaced
	ChunkTarget   time.Duration // tuner target per-chunk duration; 0 = default
}

// Result summarizes one tier invocation. A task that never got a turn
// before the deadline is counted in NotRun and is not a failure.
type Result struct {
	Tier         catalog.Tier
	Elapsed      time.Duration
	Completed    int
	Failed       int
	Skipped      int
	NotRun       int
	RowsAffected int64
}

// Coordinator runs catalog tiers. One Coordinator may run many tiers over
// its lifetime (serve mode); each Run is independent.
type Coordinator struct {
	store    *store.Store
	reg      *catalog.Registry
	cfg      Config
	log      *slog.Logger
	limiter  *rate.Limiter
	tracer   trace.Tracer
	progress *Progress
}

// New creates a Coordinator. A zero Threads defaults to the CPU count.
func New(st *store.Store, reg *catalog.Registry, cfg Config, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}

	var limiter *rate.Limiter
	if cfg.RowsPerSec > 0 {
		// Burst must cover the largest possible chunk or WaitN can never
		// be satisfied.
		burst := int(cfg.RowsPerSec)
		for _, d := range reg.All() {
			if d.MaxChunk > burst {
				burst = d.MaxChunk
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RowsPerSec), burst)
	}

	return &Coordinator{
		store:    st,
		reg:      reg,
		cfg:      cfg,
		log:      log,
		limiter:  limiter,
		tracer:   otel.Tracer("janitor/coordinator"),
		progress: newProgress(),
	}
}

// Progress returns the live progress view consumed by the status endpoint.
func (c *Coordinator) Progress() *Progress {
	return c.progress
}

// Run executes one cadence tier to completion or to the configured
// deadline.
func (c *Coordinator) Run(ctx context.Context, tier catalog.Tier) *Result {
	budget := c.cfg.ScriptTimeout
	if budget <= 0 {
		budget = tier.Budget()
	}
	return c.RunWithBudget(ctx, tier, budget)
}

// RunWithBudget executes one cadence tier under an explicit wall-clock
// budget. Serve mode uses it to run all tiers through one coordinator.
func (c *Coordinator) RunWithBudget(ctx context.Context, tier catalog.Tier, budget time.Duration) *Result {
	start := time.Now()
	descriptors := c.reg.Tier(tier, c.cfg.Experimental)
	st := newRunState(tier, descriptors, start.Add(budget), c.cfg.Threads)
	c.progress.runStarted(tier)

	c.log.Info("maintenance run starting",
		"tier", tier, "tasks", len(descriptors), "threads", c.cfg.Threads,
		"budget", budget, "experimental", c.cfg.Experimental)

	var wg sync.WaitGroup
	wg.Add(c.cfg.Threads)
	for i := 0; i < c.cfg.Threads; i++ {
		go func(idx int) {
			defer wg.Done()
			c.worker(ctx, st, idx)
		}(i)
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
	case <-time.After(time.Until(st.deadline) + drainGrace):
		c.log.Error("workers still draining past deadline grace; abandoning wait",
			"tier", tier, "grace", drainGrace)
	}

	res := &Result{
		Tier:         tier,
		Elapsed:      time.Since(start),
		Completed:    int(st.completed.Load()),
		Failed:       int(st.failures.Load()),
		Skipped:      int(st.skipped.Load()),
		NotRun:       st.queued(),
		RowsAffected: st.rows.Load(),
	}

	c.log.Info("maintenance run finished",
		"tier", tier, "elapsed", res.Elapsed,
		"completed", res.Completed, "failed", res.Failed,
		"skipped", res.Skipped, "not_run", res.NotRun,
		"rows_affected", res.RowsAffected)
	if res.NotRun > 0 {
		c.log.Warn("deadline reached before every task ran; remainder retried next invocation",
			"tier", tier, "not_run", res.NotRun)
	}

	return res
}

// fairShare computes a task's time allowance by dividing the remaining
// script time among the remaining tasks across all workers.
func fairShare(threads int, remaining time.Duration, remainingTasks int) time.Duration {
	if remainingTasks < 1 {
		remainingTasks = 1
	}
	return time.Duration(float64(threads) * float64(remaining) / float64(remainingTasks))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
