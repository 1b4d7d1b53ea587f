// Package maint defines the bounded-task contract the coordinator drives,
// plus the generic implementations shared by concrete maintenance tasks:
// the cursor-based bulk pruner and the chunk-size tuner.
package maint

import (
	"context"
	"math"
)

// TunableLoop is the unit of maintenance work: an object that reports
// whether it is finished and, when invoked with a chunk-size hint, performs
// one bounded unit of work and commits it.
//
// Run must be safe to call repeatedly and safe to stop calling at any
// point; partial progress already committed is valid and final. CleanUp
// releases run-scoped resources and is called exactly once per run,
// including on failure and timeout paths.
type TunableLoop interface {
	IsDone(ctx context.Context) (bool, error)
	Run(ctx context.Context, chunkHint float64) error
	CleanUp() error
}

// RowCounter is optionally implemented by loops that can report how many
// rows they have affected so far. The coordinator uses it for run history
// and metrics.
type RowCounter interface {
	RowsAffected() int64
}

// Bounds holds a task's chunk-size limits from its catalog descriptor.
type Bounds struct {
	Min int
	Max int
}

// Clamp rounds a chunk-size hint and clamps it into [Min, Max].
// The result is always at least 1.
func (b Bounds) Clamp(hint float64) int {
	n := int(math.Round(hint))
	if b.Min > 0 && n < b.Min {
		n = b.Min
	}
	if b.Max > 0 && n > b.Max {
		n = b.Max
	}
	if n < 1 {
		n = 1
	}
	return n
}
