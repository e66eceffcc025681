package historical

import (
	"context"
	"fmt"

	"github.com/chainsync/syncer/internal/event"
	"github.com/chainsync/syncer/internal/store"
)

// EventBatch is one emitted batch of ordered historical events plus the
// checkpoint to persist as "safe" once the batch's consumer acknowledges
// it (spec.md §4.E/§4.G).
type EventBatch struct {
	Events         []event.Event
	SafeCheckpoint string
}

// EmitEvents pages through store.GetEventBlockData for [fromBlock, toBlock],
// keeping only rows match accepts (a source's own filter predicate — the
// table scan itself is chain-wide, not per-filter), and calls onBatch once
// per soft-sized batch (cfg.EventChunkSize events, never splitting a block
// across two batches) until the whole range has been emitted or onBatch
// returns an error.
func EmitEvents(ctx context.Context, st Store, chainID uint64, sourceIndex int, fromBlock, toBlock uint64, sources store.EventSources, match func(store.EventRow) bool, cfg Config, onBatch func(EventBatch) error) error {
	cursor := fromBlock
	var pending []event.Event

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		last := pending[len(pending)-1]
		safe := last.Checkpoint
		batch := EventBatch{Events: pending, SafeCheckpoint: safe}
		pending = nil
		return onBatch(batch)
	}

	for cursor <= toBlock {
		blocks, next, err := st.GetEventBlockData(ctx, chainID, cursor, toBlock, uint64(eventPageSize(cfg)), sources)
		if err != nil {
			return fmt.Errorf("historical: emitting events from %d: %w", cursor, err)
		}
		if len(blocks) == 0 {
			break
		}

		for _, be := range blocks {
			for _, row := range be.Events {
				if match != nil && !match(row) {
					continue
				}
				pending = append(pending, event.Event{
					ChainID:     chainID,
					SourceIndex: sourceIndex,
					Checkpoint:  row.Checkpoint,
					Log:         row.Log,
					Transaction: row.Transaction,
					Trace:       row.Trace,
				})
			}
			if len(pending) >= cfg.EventChunkSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}

		if next <= cursor {
			break
		}
		cursor = next + 1
	}

	return flush()
}

// eventPageSize widens GetEventBlockData's row LIMIT a little past
// EventChunkSize so a batch boundary rarely lands mid-query-page, while
// still bounding memory use per call.
func eventPageSize(cfg Config) int {
	return cfg.EventChunkSize * 4
}
