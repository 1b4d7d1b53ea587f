package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/corvohq/janitor/internal/catalog"
	"github.com/corvohq/janitor/internal/lock"
	"github.com/corvohq/janitor/internal/maint"
	"github.com/corvohq/janitor/internal/store"
)

// runState is the only mutable state shared between workers in one run:
// the task queue and the outcome counters.
type runState struct {
	tier     catalog.Tier
	deadline time.Time
	threads  int

	mu       sync.Mutex
	queue    []catalog.Descriptor
	inFlight int

	completed atomic.Int64
	failures  atomic.Int64
	skipped   atomic.Int64
	rows      atomic.Int64
}

func newRunState(tier catalog.Tier, descriptors []catalog.Descriptor, deadline time.Time, threads int) *runState {
	q := make([]catalog.Descriptor, len(descriptors))
	copy(q, descriptors)
	return &runState{tier: tier, deadline: deadline, threads: threads, queue: q}
}

// pop removes the next task and marks it in flight under the same lock, so
// fair-share sees a consistent remaining-task count.
func (s *runState) pop() (catalog.Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return catalog.Descriptor{}, false
	}
	d := s.queue[0]
	s.queue = s.queue[1:]
	s.inFlight++
	return d, true
}

func (s *runState) requeue(d catalog.Descriptor) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()
}

func (s *runState) finish() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

// remainingTasks counts queued plus in-flight tasks, including the caller's.
func (s *runState) remainingTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) + s.inFlight
}

func (s *runState) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (c *Coordinator) worker(ctx context.Context, st *runState, idx int) {
	for {
		if ctx.Err() != nil || !time.Now().Before(st.deadline) {
			return
		}
		d, ok := st.pop()
		if !ok {
			return
		}
		c.dispatch(ctx, st, d)
	}
}

// dispatch applies the lock policy, then runs the task. Nothing here ever
// propagates an error to the worker loop; failures become log records and
// counter increments.
func (c *Coordinator) dispatch(ctx context.Context, st *runState, d catalog.Descriptor) {
	defer st.finish()

	h, err := lock.Acquire(c.cfg.LockDir, d.Name)
	if errors.Is(err, lock.ErrAlreadyHeld) {
		if time.Until(st.deadline) > lockRetryWindow {
			c.log.Debug("task lock contended; retrying later this run", "task", d.Name)
			sleepCtx(ctx, lockRetryDelay)
			st.requeue(d)
			return
		}
		// Near the deadline it is better to skip a cycle than to block.
		c.log.Warn("task lock contended near deadline; skipping this run", "task", d.Name)
		st.skipped.Add(1)
		c.progress.taskSkipped(d.Name)
		return
	}
	if err != nil {
		c.log.Error("acquire task lock", "task", d.Name, "error", err)
		st.failures.Add(1)
		c.progress.taskFinished(d.Name, true, 0, 0)
		return
	}
	defer func() {
		if rerr := h.Release(); rerr != nil {
			c.log.Error("release task lock", "task", d.Name, "error", rerr)
		}
	}()

	c.runTask(ctx, st, d)
}

func (c *Coordinator) runTask(ctx context.Context, st *runState, d catalog.Descriptor) {
	started := time.Now()
	remaining := time.Until(st.deadline)

	allowance := remaining
	if c.cfg.TaskTimeout > 0 {
		if c.cfg.TaskTimeout < allowance {
			allowance = c.cfg.TaskTimeout
		}
	} else if fs := fairShare(st.threads, remaining, st.remainingTasks()); fs < allowance {
		allowance = fs
	}
	taskDeadline := started.Add(allowance)

	ctx, span := c.tracer.Start(ctx, "maintenance.task")
	span.SetAttributes(
		attribute.String("task.name", d.Name),
		attribute.String("task.tier", string(st.tier)),
	)
	defer span.End()

	c.progress.taskStarted(d.Name)
	c.log.Info("task starting", "task", d.Name, "allowance", allowance.Round(time.Millisecond))

	rec := store.RunRecord{Task: d.Name, Tier: string(st.tier), StartedAt: started}
	err := c.execute(ctx, st, d, taskDeadline, &rec)
	rec.FinishedAt = time.Now()

	if err != nil {
		rec.Error = err.Error()
		st.failures.Add(1)
		span.RecordError(err)
		c.log.Error("task failed", "task", d.Name, "error", err,
			"chunks", rec.Chunks, "continue_on_failure", d.ContinueOnFailure)
	} else {
		st.completed.Add(1)
		c.log.Info("task finished", "task", d.Name,
			"elapsed", rec.FinishedAt.Sub(started).Round(time.Millisecond),
			"chunks", rec.Chunks, "rows_affected", rec.RowsAffected)
	}
	st.rows.Add(rec.RowsAffected)
	c.progress.taskFinished(d.Name, err != nil, rec.RowsAffected, rec.Chunks)

	if herr := c.store.RecordRun(rec); herr != nil {
		c.log.Error("record run history", "task", d.Name, "error", herr)
	}
}

// execute builds the task instance and drives the chunk loop. The deadline
// is cooperative: it is checked between chunks only, never mid-chunk.
func (c *Coordinator) execute(ctx context.Context, st *runState, d catalog.Descriptor, taskDeadline time.Time, rec *store.RunRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	deps := catalog.Deps{
		Store:     c.store,
		LockDir:   c.cfg.LockDir,
		Log:       c.log.With("task", d.Name),
		Bounds:    d.Bounds(),
		TaskNames: c.reg.Names(),
	}
	instance, err := d.New(ctx, deps)
	if err != nil {
		return fmt.Errorf("construct task: %w", err)
	}
	defer func() {
		if cerr := instance.CleanUp(); cerr != nil {
			c.log.Error("task cleanup", "task", d.Name, "error", cerr)
			if err == nil {
				err = fmt.Errorf("cleanup: %w", cerr)
			}
		}
	}()

	tuner := maint.NewTuner(d.Bounds(), c.cfg.ChunkTarget)
	for {
		done, derr := instance.IsDone(ctx)
		if derr != nil {
			return fmt.Errorf("isDone: %w", derr)
		}
		if done {
			return nil
		}
		if !time.Now().Before(taskDeadline) {
			c.log.Info("task ran out of time; remainder resumes next run",
				"task", d.Name, "chunks", rec.Chunks)
			return nil
		}

		hint := tuner.Hint()
		if c.limiter != nil {
			if lerr := c.limiter.WaitN(ctx, d.Bounds().Clamp(hint)); lerr != nil {
				return fmt.Errorf("pacing wait: %w", lerr)
			}
		}

		chunkStart := time.Now()
		if rerr := instance.Run(ctx, hint); rerr != nil {
			return fmt.Errorf("run chunk: %w", rerr)
		}
		tuner.Observe(time.Since(chunkStart))
		rec.Chunks++
		if rc, ok := instance.(maint.RowCounter); ok {
			rec.RowsAffected = rc.RowsAffected()
		}
	}
}
