// Package catalog holds the static list of maintenance tasks, partitioned
// by cadence tier. The registry is built once at startup and passed into
// the coordinator; descriptors are never mutated at runtime.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corvohq/janitor/internal/maint"
	"github.com/corvohq/janitor/internal/store"
)

// Tier is a cadence grouping of tasks sharing a wall-clock budget.
type Tier string

const (
	TierFrequent Tier = "frequent"
	TierHourly   Tier = "hourly"
	TierDaily    Tier = "daily"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFrequent, TierHourly, TierDaily:
		return true
	}
	return false
}

// Budget returns the tier's default overall wall-clock budget, chosen to
// finish strictly before the next scheduled invocation of the same tier.
func (t Tier) Budget() time.Duration {
	switch t {
	case TierFrequent:
		return 5 * time.Minute
	case TierHourly:
		return 55 * time.Minute
	case TierDaily:
		return 23*time.Hour + 30*time.Minute
	}
	return 5 * time.Minute
}

// Deps is what a task factory gets to build a run's task instance.
type Deps struct {
	Store   *store.Store
	LockDir string
	Log     *slog.Logger

	// Bounds carries the descriptor's chunk limits so instances can clamp
	// the coordinator's hint themselves.
	Bounds maint.Bounds

	// TaskNames lists every catalog task name, for tasks that maintain
	// janitor's own bookkeeping (e.g. vacuuming orphaned checkpoints).
	TaskNames []string
}

// Factory builds a fresh task instance for one run. Instances own their
// run-scoped resources and are discarded when the run ends.
type Factory func(ctx context.Context, deps Deps) (maint.TunableLoop, error)

// Descriptor is the immutable identity and policy of one maintenance task.
type Descriptor struct {
	Name              string
	Tier              Tier
	MinChunk          int
	MaxChunk          int
	ContinueOnFailure bool
	Experimental      bool
	New               Factory
}

// Bounds returns the descriptor's chunk-size limits.
func (d Descriptor) Bounds() maint.Bounds {
	return maint.Bounds{Min: d.MinChunk, Max: d.MaxChunk}
}

// Registry is the constructed-once task catalog.
type Registry struct {
	all    []Descriptor
	byName map[string]int
}

// NewRegistry validates the descriptors and builds a registry. Names must
// be unique; every descriptor needs a valid tier, sane chunk bounds and a
// factory.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(descriptors))}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("catalog: descriptor with empty name")
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate task name %q", d.Name)
		}
		if !d.Tier.Valid() {
			return nil, fmt.Errorf("catalog: task %q has unknown tier %q", d.Name, d.Tier)
		}
		if d.MinChunk < 1 || d.MaxChunk < d.MinChunk {
			return nil, fmt.Errorf("catalog: task %q has invalid chunk bounds [%d, %d]", d.Name, d.MinChunk, d.MaxChunk)
		}
		if d.New == nil {
			return nil, fmt.Errorf("catalog: task %q has no factory", d.Name)
		}
		r.byName[d.Name] = len(r.all)
		r.all = append(r.all, d)
	}
	return r, nil
}

// All returns every descriptor in registration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, len(r.all))
	copy(out, r.all)
	return out
}

// Names returns every task name in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.all))
	for i, d := range r.all {
		names[i] = d.Name
	}
	return names
}

// Get looks up one descriptor by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.all[i], true
}

// Tier returns the runnable descriptors for one cadence tier. Experimental
// tasks are included only when asked for.
func (r *Registry) Tier(t Tier, experimental bool) []Descriptor {
	var out []Descriptor
	for _, d := range r.all {
		if d.Tier != t {
			continue
		}
		if d.Experimental && !experimental {
			continue
		}
		out = append(out, d)
	}
	return out
}
