// Package tasks is the built-in housekeeping catalog: the maintenance
// tasks the janitor runs over its own bookkeeping tables and lock
// directory. Applications embedding the coordinator append their own
// descriptors to this list.
package tasks

import "github.com/corvohq/janitor/internal/catalog"

const (
	NameSweepStaleLocks   = "sweep-stale-locks"
	NameRollupTaskStats   = "rollup-task-stats"
	NamePruneRunHistory   = "prune-run-history"
	NameVacuumCheckpoints = "vacuum-checkpoints"
)

// Catalog returns the built-in task descriptors.
func Catalog() []catalog.Descriptor {
	return []catalog.Descriptor{
		{
			Name:     NameSweepStaleLocks,
			Tier:     catalog.TierFrequent,
			MinChunk: 5,
			MaxChunk: 50,
			// Its failure never blocks other tiers' locks for long; flagged
			// so alerting treats it as advisory.
			ContinueOnFailure: true,
			New:               newLockSweep,
		},
		{
			Name:     NameRollupTaskStats,
			Tier:     catalog.TierHourly,
			MinChunk: 50,
			MaxChunk: 500,
			New:      newStatsRollup,
		},
		{
			Name:     NamePruneRunHistory,
			Tier:     catalog.TierDaily,
			MinChunk: 100,
			MaxChunk: 1000,
			New:      newHistoryPrune,
		},
		{
			Name:         NameVacuumCheckpoints,
			Tier:         catalog.TierDaily,
			MinChunk:     10,
			MaxChunk:     100,
			Experimental: true,
			New:          newCheckpointVacuum,
		},
	}
}
