package coordinator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/chainsync/syncer/internal/checkpoint"
	"github.com/chainsync/syncer/internal/store"
)

// recoverCrashState runs once per chain on restart when a prior run left a
// checkpoint row behind (spec.md §4.D's crash-recovery path). Block
// ingestion commits rows one at a time rather than batched behind the
// checkpoint upsert, so a process killed mid-historical-batch or
// mid-realtime-block can leave blocks past the last safely-acknowledged
// checkpoint. getSafeCrashRecoveryBlock finds the newest block strictly
// older than the safe checkpoint's own timestamp and recoverCrashState
// erases anything stored past it, the same DeleteBlocksFrom idiom
// internal/realtime uses to unwind a reorg.
func (c *Coordinator) recoverCrashState(ctx context.Context, cs ChainSpec, recovery store.ChainCheckpoints) error {
	chainID := cs.Chain.ID

	safe, err := checkpoint.Parse(recovery.SafeCheckpoint)
	if err != nil {
		return fmt.Errorf("parsing safe checkpoint: %w", err)
	}

	safeBlock, found, err := c.store.GetSafeCrashRecoveryBlock(ctx, chainID, safe.BlockTimestamp)
	if err != nil {
		return fmt.Errorf("finding safe crash recovery block: %w", err)
	}
	if !found {
		log.Info().Uint64("chainId", chainID).Msg("coordinator: resuming from crash-recovery checkpoint, no prior blocks to trim")
		return nil
	}

	if err := c.store.DeleteBlocksFrom(ctx, chainID, safeBlock+1); err != nil {
		return fmt.Errorf("trimming blocks past safe recovery point: %w", err)
	}

	log.Info().Uint64("chainId", chainID).Uint64("safeBlock", safeBlock).Str("safeCheckpoint", recovery.SafeCheckpoint).
		Msg("coordinator: resumed from crash-recovery checkpoint, trimmed any blocks past the safe point")
	return nil
}
