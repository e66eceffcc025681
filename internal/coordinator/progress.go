package coordinator

import "github.com/chainsync/syncer/internal/filter"

// SyncProgress is the coordinator's per-chain planning summary, built once
// at startup per spec.md §4.H step 2.
type SyncProgress struct {
	ChainID uint64
	// Start is the lowest fromBlock across the chain's registered sources.
	Start uint64
	// End is the highest toBlock across the chain's registered sources.
	// Meaningless when OpenEnded is true.
	End uint64
	// OpenEnded is true when any source on this chain has no upper bound
	// (its ToBlock tracks the chain tip indefinitely), making historical
	// backfill transition straight into realtime once it catches up.
	OpenEnded bool
	// Finalized is latestBlock − finalityBlockCount at startup, the
	// initial finalized-block watermark before any realtime block lands.
	Finalized uint64
}

// buildSyncProgress computes a chain's SyncProgress from its registered
// sources' block ranges and the chain's current tip, per spec.md §4.H.
func buildSyncProgress(chainID uint64, sources []filter.Filter, latestBlock, finalityBlockCount uint64) SyncProgress {
	sp := SyncProgress{ChainID: chainID, Finalized: saturatingSub(latestBlock, finalityBlockCount)}

	first := true
	for _, f := range sources {
		from, to := f.BlockRange()
		if first || from < sp.Start {
			sp.Start = from
		}
		// An unbounded source is modeled as ToBlock == 0 with Kind-specific
		// defaults resolved by the caller before reaching here; a filter
		// whose ToBlock is still below its FromBlock (or zero) is treated
		// as open-ended, tracking the chain tip indefinitely.
		if to == 0 || to < from {
			sp.OpenEnded = true
		} else if first || to > sp.End {
			sp.End = to
		}
		first = false
	}
	return sp
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
