package coordinator

import (
	"context"
	"fmt"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/event"
	"github.com/chainsync/syncer/internal/realtime"
)

// runRealtimePhase hands chain off to the realtime syncer, seeded at the
// last block the historical phase backfilled through, and runs until ctx
// is canceled. Checkpoint persistence for this phase is owned by
// internal/realtime itself (spec.md §4.F); the coordinator's only job is
// routing matched events into the assembler.
func (c *Coordinator) runRealtimePhase(ctx context.Context, cs ChainSpec, progress SyncProgress) error {
	chainID := cs.Chain.ID

	rsources := make([]realtime.Source, len(cs.Sources))
	for i, f := range cs.Sources {
		rsources[i] = realtime.Source{Index: i, Filter: f}
	}

	onEvent := func(ev event.Event) error {
		return c.asm.Feed(chainID, []event.Event{ev}, ev.Checkpoint)
	}

	syncer := realtime.NewSyncer(chainID, cs.RPC, c.store, rsources, c.cfg.Realtime, onEvent, cs.Nudges)

	if seed, ok, err := c.store.GetBlock(ctx, chainID, progress.Finalized); err != nil {
		return fmt.Errorf("coordinator: seeding realtime syncer for chain %d: %w", chainID, err)
	} else if ok {
		syncer.Seed(chain.LightBlock{Hash: seed.Hash, ParentHash: seed.ParentHash, Number: seed.Number, Timestamp: seed.Timestamp})
	}

	if err := syncer.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("coordinator: realtime syncer for chain %d: %w", chainID, err)
	}
	return nil
}
