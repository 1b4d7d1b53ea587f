package maint

import "time"

// defaultChunkTarget is how long one chunk should take. Chunks are the
// cancellation granularity, so the target stays well under a second.
const defaultChunkTarget = 500 * time.Millisecond

// Tuner produces the chunk-size hint passed to a loop's Run and adjusts it
// from observed chunk durations. The hint starts at the task minimum and is
// scaled toward the target duration, never growing more than 4x per step.
type Tuner struct {
	bounds Bounds
	target time.Duration
	hint   float64
}

// NewTuner creates a tuner for a task's bounds. A non-positive target uses
// the default.
func NewTuner(bounds Bounds, target time.Duration) *Tuner {
	if target <= 0 {
		target = defaultChunkTarget
	}
	start := float64(bounds.Min)
	if start < 1 {
		start = 1
	}
	return &Tuner{bounds: bounds, target: target, hint: start}
}

// Hint returns the current chunk-size hint.
func (t *Tuner) Hint() float64 {
	return t.hint
}

// Observe feeds back the duration of the chunk just executed.
func (t *Tuner) Observe(elapsed time.Duration) {
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	factor := float64(t.target) / float64(elapsed)
	if factor > 4 {
		factor = 4
	}
	if factor < 0.25 {
		factor = 0.25
	}
	t.hint *= factor
	if min := float64(t.bounds.Min); t.bounds.Min > 0 && t.hint < min {
		t.hint = min
	}
	if max := float64(t.bounds.Max); t.bounds.Max > 0 && t.hint > max {
		t.hint = max
	}
	if t.hint < 1 {
		t.hint = 1
	}
}
