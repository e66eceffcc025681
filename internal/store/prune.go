package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PruneByChain deletes all persisted state for a chain: blocks, their
// children, the interval ledger, the RPC cache, and the checkpoint row.
// Used to reset a chain's sync state entirely (e.g. a configuration change
// invalidating everything previously ingested for it).
func (s *Store) PruneByChain(ctx context.Context, chainID uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning prune transaction: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM blocks WHERE chain_id = ?`,
		`DELETE FROM transactions WHERE chain_id = ?`,
		`DELETE FROM transaction_receipts WHERE chain_id = ?`,
		`DELETE FROM logs WHERE chain_id = ?`,
		`DELETE FROM traces WHERE chain_id = ?`,
		`DELETE FROM factory_addresses WHERE chain_id = ?`,
		`DELETE FROM intervals WHERE chain_id = ?`,
		`DELETE FROM rpc_request_results WHERE chain_id = ?`,
		`DELETE FROM sync_checkpoints WHERE chain_id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, chainID); err != nil {
			return fmt.Errorf("store: pruning chain %d: %w", chainID, err)
		}
	}
	return tx.Commit()
}

// GetSafeCrashRecoveryBlock returns the greatest block number on chainID
// with a timestamp strictly less than the given timestamp, per spec.md
// §4.D: a conservative resume point that excludes any block recent enough
// that its ingestion could have been interrupted mid-write.
func (s *Store) GetSafeCrashRecoveryBlock(ctx context.Context, chainID, timestamp uint64) (uint64, bool, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(number) FROM blocks WHERE chain_id = ? AND timestamp < ?`, chainID, timestamp).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("store: finding safe crash recovery block for chain %d: %w", chainID, err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return uint64(max.Int64), true, nil
}
