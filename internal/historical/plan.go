package historical

import (
	"context"
	"fmt"
	"time"

	"github.com/chainsync/syncer/internal/filter"
	"github.com/chainsync/syncer/internal/interval"
)

// Plan reads each source's cached coverage from the store, builds its
// ProgressTracker, and enqueues tasks for whatever of its target range is
// still required. Call once before Run.
func (s *Syncer) Plan(ctx context.Context) error {
	for _, src := range s.sources {
		tracker, err := s.buildTracker(ctx, src)
		if err != nil {
			return fmt.Errorf("historical: planning source %d: %w", src.Index, err)
		}

		s.mu.Lock()
		s.trackers[src.Index] = tracker
		s.cachedCnt[src.Index] = interval.Sum(tracker.Completed())
		if src.Filter.Kind == filter.KindLogFactory {
			s.factoryTrackers[factoryID(src)] = tracker
		}
		s.mu.Unlock()

		required := tracker.Required()
		for _, r := range interval.Chunks(required, s.cfg.MaxBlockRange) {
			s.enqueueRange(src, r.Lo, r.Hi)
		}
	}
	s.startedAt = time.Now()
	return nil
}

// buildTracker fetches cached interval coverage for src's filter and
// combines it across the filter's fragments by intersection: a range only
// counts as cached for the filter as a whole once every one of its
// fragments (e.g. one per constrained address) independently covers it.
func (s *Syncer) buildTracker(ctx context.Context, src Source) (*interval.ProgressTracker, error) {
	from, to := src.Filter.BlockRange()
	target := interval.Range{Lo: from, Hi: to}

	cov, err := s.store.GetIntervals(ctx, []filter.Filter{src.Filter})
	if err != nil {
		return nil, err
	}

	perFragment := cov[0]
	var completed interval.MultiRange
	first := true
	for _, fc := range perFragment {
		if first {
			completed = fc.Intervals
			first = false
			continue
		}
		completed = interval.Intersection(completed, fc.Intervals)
	}

	return interval.NewProgressTracker(target, completed), nil
}

// enqueueRange schedules the right task kind for src over [from, to],
// dispatched by the filter variant it was built from. A Log filter whose
// address position is AddressFactory is routed to a ChildContractTask
// instead of a LogFilterTask: it has no literal address to scope an
// eth_getLogs call to, so it must resolve against the referenced factory's
// discovered children the same way processChildContractTask's self-paired
// use does, and waits on that factory's own coverage before sealing (see
// factoryReady).
func (s *Syncer) enqueueRange(src Source, from, to uint64) {
	switch src.Filter.Kind {
	case filter.KindLog:
		if src.Filter.Log.Address.Kind == filter.AddressFactory {
			s.queue.Enqueue(&Task{
				Kind:        KindChildContractTask,
				SourceIndex: src.Index,
				Filter:      src.Filter,
				FactoryID:   src.Filter.Log.Address.FactoryID,
				FromBlock:   from,
				ToBlock:     to,
			})
			return
		}
		s.queue.Enqueue(&Task{Kind: KindLogFilterTask, SourceIndex: src.Index, Filter: src.Filter, FromBlock: from, ToBlock: to})
	case filter.KindLogFactory:
		// The self-paired ChildContractTask (capturing the factory's
		// children's own log activity) is enqueued by
		// processFactoryContractTask once it finishes discovering children
		// for this exact range, not here — enqueueing it eagerly alongside
		// FactoryContractTask let the two race (spec.md §4.E).
		s.queue.Enqueue(&Task{Kind: KindFactoryContractTask, SourceIndex: src.Index, Filter: src.Filter, FromBlock: from, ToBlock: to})
	case filter.KindTrace, filter.KindTransfer, filter.KindTransaction, filter.KindBlock:
		for n := from; n <= to; n++ {
			s.enqueueBlock(n, src.blockCallback(s, n))
		}
	}
}

// factoryID derives the stable id a LogFactory source's discovered
// children are tracked under: its own fragment id, since a factory filter
// decomposes to exactly one fragment.
func factoryID(src Source) string {
	frags := filter.GetFragments(src.Filter)
	if len(frags) == 0 {
		return ""
	}
	return frags[0].ID()
}
