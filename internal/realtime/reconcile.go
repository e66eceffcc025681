package realtime

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/checkpoint"
	"github.com/chainsync/syncer/internal/store"
)

func lowerHex(s string) string { return strings.ToLower(s) }

// ErrDeepReorg is returned when a reorg's common ancestor could not be
// found within FinalizedDepth of the prior tip — a fatal condition per
// spec.md §4.F, since reorging past finality means something the syncer's
// model assumes can't happen has happened.
type ErrDeepReorg struct {
	ChainID    uint64
	PriorTip   uint64
	SearchedTo uint64
}

func (e *ErrDeepReorg) Error() string {
	return fmt.Sprintf("realtime: chain %d reorg past finalized depth (prior tip %d, searched back to %d)", e.ChainID, e.PriorTip, e.SearchedTo)
}

// reconcile applies the 5-case decision spec.md §4.F describes for a newly
// observed chain tip against the in-memory window.
func (s *Syncer) reconcile(ctx context.Context, newTip chain.LightBlock) error {
	s.mu.Lock()
	tail := append([]chain.LightBlock(nil), s.tail...)
	s.mu.Unlock()

	if len(tail) == 0 {
		return s.extendTo(ctx, newTip)
	}
	cur := tail[len(tail)-1]

	switch {
	case newTip.Number == cur.Number && newTip.Hash == cur.Hash:
		// Case 1: no-op, nothing changed.
		return nil

	case newTip.Number < cur.Number:
		// Case 2: stale response (a load-balanced RPC endpoint lagging
		// behind one we already observed); ignore.
		return nil

	case newTip.Number == cur.Number && newTip.Hash != cur.Hash:
		// Case 2b: same height, different hash — a same-height reorg
		// candidate. Handled by the general reorg path below.
		return s.handleReorg(ctx, tail, newTip)

	case newTip.Number == cur.Number+1 && newTip.ParentHash == cur.Hash:
		// Case 3: happy path, direct extension.
		return s.extendTo(ctx, newTip)

	case newTip.Number > cur.Number+1:
		// Case 4: gap-fill. Walk forward one block at a time so each
		// intermediate block gets its own reconcile (a reorg could still
		// be hiding inside the gap).
		for n := cur.Number + 1; n < newTip.Number; n++ {
			lb, err := s.fetchLightBlock(ctx, n)
			if err != nil {
				return err
			}
			if err := s.reconcile(ctx, lb); err != nil {
				return err
			}
		}
		return s.reconcile(ctx, newTip)

	default:
		// Case 5: parent mismatch at tip+1, or any other shape — a reorg.
		return s.handleReorg(ctx, tail, newTip)
	}
}

// extendTo materializes and appends a single new tip block, assuming
// newTip.ParentHash matches the current tail (or the tail is empty).
func (s *Syncer) extendTo(ctx context.Context, newTip chain.LightBlock) error {
	if err := s.materializeBlock(ctx, newTip.Number); err != nil {
		return err
	}

	s.mu.Lock()
	s.tail = append(s.tail, newTip)
	if len(s.tail) > s.cfg.MaxUnfinalized {
		s.tail = s.tail[len(s.tail)-s.cfg.MaxUnfinalized:]
	}
	s.mu.Unlock()

	return s.advanceCheckpoints(ctx, newTip)
}

// handleReorg walks backward from newTip looking for a block whose hash
// matches a block already in tail (the common ancestor), reverts stored
// state back to that point, then replays forward to newTip. If no
// ancestor is found within FinalizedDepth of the prior tip, the reorg is
// fatal and the pre-attempt tail is left untouched (the caller should stop
// the syncer rather than silently drop below finality).
func (s *Syncer) handleReorg(ctx context.Context, tail []chain.LightBlock, newTip chain.LightBlock) error {
	priorTip := tail[len(tail)-1]
	byHash := make(map[string]int, len(tail))
	for i, lb := range tail {
		byHash[lb.Hash] = i
	}

	floor := uint64(0)
	if priorTip.Number > s.cfg.FinalizedDepth {
		floor = priorTip.Number - s.cfg.FinalizedDepth
	}

	chainAncestors := []chain.LightBlock{newTip}
	cursor := newTip
	for {
		if idx, ok := byHash[cursor.Hash]; ok {
			return s.rewind(ctx, tail[:idx+1], chainAncestors, priorTip.Number)
		}
		if cursor.Number <= floor {
			return &ErrDeepReorg{ChainID: s.chainID, PriorTip: priorTip.Number, SearchedTo: cursor.Number}
		}
		parent, err := s.fetchLightBlock(ctx, cursor.Number-1)
		if err != nil {
			return err
		}
		chainAncestors = append(chainAncestors, parent)
		cursor = parent
	}
}

// rewind deletes stored state back to commonAncestor (the last element of
// keep) and replays newChain (newest-first, as accumulated during the
// backward walk) forward. priorTipNumber is the orphaned chain's tip
// before the reorg, used to evict the RPC response cache entries
// (eth_getLogs/eth_getBlockReceipts results) tied to the blocks being
// discarded, since they are keyed by block number and now describe a
// block that no longer exists on the canonical chain.
func (s *Syncer) rewind(ctx context.Context, keep []chain.LightBlock, newChainReversed []chain.LightBlock, priorTipNumber uint64) error {
	commonAncestor := keep[len(keep)-1]

	if priorTipNumber > commonAncestor.Number {
		orphaned := make([]uint64, 0, priorTipNumber-commonAncestor.Number)
		for n := commonAncestor.Number + 1; n <= priorTipNumber; n++ {
			orphaned = append(orphaned, n)
		}
		if err := s.store.PruneRpcRequestResults(ctx, s.chainID, orphaned); err != nil {
			return fmt.Errorf("realtime: pruning rpc cache for orphaned blocks past %d: %w", commonAncestor.Number, err)
		}
	}

	if err := s.store.DeleteBlocksFrom(ctx, s.chainID, commonAncestor.Number+1); err != nil {
		return fmt.Errorf("realtime: reverting to block %d: %w", commonAncestor.Number, err)
	}

	s.mu.Lock()
	s.tail = append([]chain.LightBlock(nil), keep...)
	s.mu.Unlock()

	// newChainReversed is ordered newest-first, ending at commonAncestor
	// (already accounted for in keep); replay everything before it oldest
	// to newest.
	for i := len(newChainReversed) - 2; i >= 0; i-- {
		if err := s.extendTo(ctx, newChainReversed[i]); err != nil {
			return err
		}
	}
	return nil
}

// fetchLightBlock fetches block n and reduces it to its LightBlock shape.
func (s *Syncer) fetchLightBlock(ctx context.Context, n uint64) (chain.LightBlock, error) {
	raw, err := s.rpc.GetBlockByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return chain.LightBlock{}, err
	}
	return chain.LightBlock{
		Hash:       lowerHex(raw.Hash().Hex()),
		ParentHash: lowerHex(raw.ParentHash().Hex()),
		Number:     raw.NumberU64(),
		Timestamp:  raw.Time(),
	}, nil
}

// advanceCheckpoints recomputes and persists the three checkpoint tiers
// once newTip is sealed: latest is always newTip's own checkpoint; safe
// and finalized trail by SafeDepth/FinalizedDepth confirmations.
func (s *Syncer) advanceCheckpoints(ctx context.Context, newTip chain.LightBlock) error {
	latest := checkpoint.Checkpoint{
		BlockTimestamp: newTip.Timestamp,
		ChainID:        s.chainID,
		BlockNumber:    newTip.Number,
		EventType:      checkpoint.EventTypeBlock,
	}.String()

	safe := latest
	if newTip.Number > s.cfg.SafeDepth {
		if b, ok, err := s.store.GetBlock(ctx, s.chainID, newTip.Number-s.cfg.SafeDepth); err == nil && ok {
			safe = b.Checkpoint
		}
	}
	finalized := safe
	if newTip.Number > s.cfg.FinalizedDepth {
		if b, ok, err := s.store.GetBlock(ctx, s.chainID, newTip.Number-s.cfg.FinalizedDepth); err == nil && ok {
			finalized = b.Checkpoint
		}
	}

	return s.store.PutChainCheckpoints(ctx, store.ChainCheckpoints{
		ChainID:             s.chainID,
		LatestCheckpoint:    latest,
		SafeCheckpoint:      safe,
		FinalizedCheckpoint: finalized,
	})
}
