// Package assembler implements the event stream assembler of spec.md §4.G:
// it merges the per-chain event streams the historical and realtime
// syncers produce into one output stream, under either an omnichain
// (globally checkpoint-ordered) or multichain (per-chain ordered only)
// scheduling policy.
package assembler

import (
	"fmt"
	"sync"

	"github.com/chainsync/syncer/internal/checkpoint"
	"github.com/chainsync/syncer/internal/event"
)

// Policy selects how events from different chains interleave.
type Policy int

const (
	// PolicyOmnichain holds a chain's events back until every other active
	// chain has reported a checkpoint at least that high, yielding one
	// globally checkpoint-ordered stream across all chains.
	PolicyOmnichain Policy = iota
	// PolicyMultichain emits each chain's events as soon as they arrive,
	// preserving only within-chain order.
	PolicyMultichain
)

// OnEvent is called once per emitted event, in the order the active
// Policy determines.
type OnEvent func(event.Event) error

// chainBuffer holds one chain's buffered-but-not-yet-emitted events (the
// spec's "pending" placeholder) and its watermark: the checkpoint up to
// which this chain guarantees no earlier event will ever arrive.
type chainBuffer struct {
	pending   []event.Event // ascending by Checkpoint
	watermark string
	done      bool
}

// ChainStats reports one chain's assembler-side buffering state, useful
// for the "pending" introspection the spec describes.
type ChainStats struct {
	Buffered  int
	Watermark string
	Done      bool
}

// Assembler merges per-chain event feeds under Policy. The historical
// generator and the realtime syncer both feed the same chain's buffer
// through Feed, so the handoff between them carries no special case: a
// chain's pending events and watermark are the same object across the
// historical→realtime transition.
type Assembler struct {
	policy  Policy
	onEvent OnEvent

	mu     sync.Mutex
	chains map[uint64]*chainBuffer
}

// New builds an Assembler under the given Policy, delivering merged events
// to onEvent.
func New(policy Policy, onEvent OnEvent) *Assembler {
	return &Assembler{policy: policy, onEvent: onEvent, chains: make(map[uint64]*chainBuffer)}
}

// RegisterChain initializes bookkeeping for chainID. Until its first Feed
// call, its watermark is the lowest possible checkpoint, which (under
// PolicyOmnichain) holds back every other chain's events until this one
// reports progress — the scheduler can't promise ordering against a chain
// it has never heard from.
func (a *Assembler) RegisterChain(chainID uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.chains[chainID]; !ok {
		a.chains[chainID] = &chainBuffer{watermark: checkpoint.Zero.String()}
	}
}

// Feed appends events (already ascending by Checkpoint, as both
// internal/historical's generator and internal/realtime's materializer
// guarantee) to chainID's buffer, advances its watermark, and drains
// whatever is now safe to emit under Policy.
func (a *Assembler) Feed(chainID uint64, events []event.Event, watermark string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cb, ok := a.chains[chainID]
	if !ok {
		cb = &chainBuffer{watermark: checkpoint.Zero.String()}
		a.chains[chainID] = cb
	}
	cb.pending = append(cb.pending, events...)
	if watermark > cb.watermark {
		cb.watermark = watermark
	}
	return a.drainLocked()
}

// MarkChainDone records that chainID will produce no further events
// (used by bounded test/backfill-only scenarios; a live realtime syncer
// never calls this). A done chain no longer blocks others' emission under
// PolicyOmnichain.
func (a *Assembler) MarkChainDone(chainID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cb, ok := a.chains[chainID]
	if !ok {
		return fmt.Errorf("assembler: chain %d was never registered", chainID)
	}
	cb.done = true
	return a.drainLocked()
}

// Stats returns a snapshot of each chain's buffering state.
func (a *Assembler) Stats() map[uint64]ChainStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64]ChainStats, len(a.chains))
	for id, cb := range a.chains {
		out[id] = ChainStats{Buffered: len(cb.pending), Watermark: cb.watermark, Done: cb.done}
	}
	return out
}

func (a *Assembler) drainLocked() error {
	switch a.policy {
	case PolicyMultichain:
		return a.drainMultichainLocked()
	default:
		return a.drainOmnichainLocked()
	}
}

// drainMultichainLocked emits every chain's pending events immediately:
// multichain has no cross-chain ordering requirement, only within-chain
// order, which the feeder already guarantees.
func (a *Assembler) drainMultichainLocked() error {
	for _, cb := range a.chains {
		for len(cb.pending) > 0 {
			ev := cb.pending[0]
			cb.pending = cb.pending[1:]
			if err := a.onEvent(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// drainOmnichainLocked repeatedly finds the globally lowest-checkpoint
// pending event among events no active chain could still beat (bounded by
// the minimum watermark of every not-done chain) and emits it, until
// nothing more can be proven safe. Once every chain is done, whatever
// remains is drained in one final globally-sorted pass.
func (a *Assembler) drainOmnichainLocked() error {
	for {
		bound, anyActive := a.activeBoundLocked()
		if !anyActive {
			return a.drainAllRemainingLocked()
		}
		ev, chainID, ok := a.popMinUnderLocked(bound)
		if !ok {
			return nil
		}
		if err := a.onEvent(ev); err != nil {
			return err
		}
		_ = chainID
	}
}

// activeBoundLocked returns the minimum watermark across every chain not
// yet marked done, and whether any such chain exists.
func (a *Assembler) activeBoundLocked() (string, bool) {
	bound := checkpoint.Max.String()
	any := false
	for _, cb := range a.chains {
		if cb.done {
			continue
		}
		any = true
		if cb.watermark < bound {
			bound = cb.watermark
		}
	}
	return bound, any
}

// popMinUnderLocked finds, across all chains, the smallest-checkpoint
// pending event at or below bound and pops it. Equal checkpoints go to the
// lower chain id.
func (a *Assembler) popMinUnderLocked(bound string) (event.Event, uint64, bool) {
	var (
		best      event.Event
		bestChain uint64
		found     bool
	)
	for id, cb := range a.chains {
		if len(cb.pending) == 0 {
			continue
		}
		candidate := cb.pending[0]
		if candidate.Checkpoint > bound {
			continue
		}
		if !found || candidate.Checkpoint < best.Checkpoint ||
			(candidate.Checkpoint == best.Checkpoint && id < bestChain) {
			best, bestChain, found = candidate, id, true
		}
	}
	if !found {
		return event.Event{}, 0, false
	}
	cb := a.chains[bestChain]
	cb.pending = cb.pending[1:]
	return best, bestChain, true
}

// drainAllRemainingLocked emits every chain's remaining pending events in
// one globally checkpoint-sorted merge, used once every registered chain
// has been marked done.
func (a *Assembler) drainAllRemainingLocked() error {
	for {
		var (
			best      event.Event
			bestChain uint64
			found     bool
		)
		for id, cb := range a.chains {
			if len(cb.pending) == 0 {
				continue
			}
			if !found || cb.pending[0].Checkpoint < best.Checkpoint {
				best, bestChain, found = cb.pending[0], id, true
			}
		}
		if !found {
			return nil
		}
		cb := a.chains[bestChain]
		cb.pending = cb.pending[1:]
		if err := a.onEvent(best); err != nil {
			return err
		}
	}
}
