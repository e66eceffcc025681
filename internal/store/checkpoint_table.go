package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ChainCheckpoints is the coordinator's crash-recovery record for a single
// chain: the three checkpoint tiers of spec.md §7 (latest ingested, safe
// to read, and finalized).
type ChainCheckpoints struct {
	ChainName           string
	ChainID             uint64
	LatestCheckpoint    string
	SafeCheckpoint      string
	FinalizedCheckpoint string
}

// PutChainCheckpoints upserts the crash-recovery checkpoint row for a chain.
func (s *Store) PutChainCheckpoints(ctx context.Context, c ChainCheckpoints) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (chain_name, chain_id, latest_checkpoint, safe_checkpoint, finalized_checkpoint)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chain_id) DO UPDATE SET
			chain_name = excluded.chain_name,
			latest_checkpoint = excluded.latest_checkpoint,
			safe_checkpoint = excluded.safe_checkpoint,
			finalized_checkpoint = excluded.finalized_checkpoint`,
		c.ChainName, c.ChainID, c.LatestCheckpoint, c.SafeCheckpoint, c.FinalizedCheckpoint)
	if err != nil {
		return fmt.Errorf("store: saving checkpoints for chain %d: %w", c.ChainID, err)
	}
	return nil
}

// GetChainCheckpoints returns the last persisted checkpoints for a chain,
// read by the coordinator at startup to resume from a crash. Returns
// (false, nil) for a chain the store has never seen.
func (s *Store) GetChainCheckpoints(ctx context.Context, chainID uint64) (ChainCheckpoints, bool, error) {
	var c ChainCheckpoints
	err := s.db.QueryRowContext(ctx, `
		SELECT chain_name, chain_id, latest_checkpoint, safe_checkpoint, finalized_checkpoint
		FROM sync_checkpoints WHERE chain_id = ?`, chainID).
		Scan(&c.ChainName, &c.ChainID, &c.LatestCheckpoint, &c.SafeCheckpoint, &c.FinalizedCheckpoint)
	if err == sql.ErrNoRows {
		return ChainCheckpoints{}, false, nil
	}
	if err != nil {
		return ChainCheckpoints{}, false, fmt.Errorf("store: fetching checkpoints for chain %d: %w", chainID, err)
	}
	return c, true, nil
}
