package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/chainsync/syncer/internal/chain"
)

func bigString(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func parseBig(ns sql.NullString) *big.Int {
	if !ns.Valid {
		return nil
	}
	v, ok := new(big.Int).SetString(ns.String, 10)
	if !ok {
		return nil
	}
	return v
}

// InsertBlock upserts a block row keyed by (chain_id, number). A later
// insert for the same number overwrites the row, the mechanism reorg
// reconciliation uses to replace a stale canonical block.
func (s *Store) InsertBlock(ctx context.Context, b chain.Block) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocks (chain_id, number, hash, parent_hash, timestamp, miner, base_fee_per_gas, gas_used, gas_limit, checkpoint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, number) DO UPDATE SET
			hash = excluded.hash,
			parent_hash = excluded.parent_hash,
			timestamp = excluded.timestamp,
			miner = excluded.miner,
			base_fee_per_gas = excluded.base_fee_per_gas,
			gas_used = excluded.gas_used,
			gas_limit = excluded.gas_limit,
			checkpoint = excluded.checkpoint`,
		b.ChainID, b.Number, b.Hash, b.ParentHash, b.Timestamp, b.Miner, bigString(b.BaseFeePerGas), b.GasUsed, b.GasLimit, b.Checkpoint)
	if err != nil {
		return fmt.Errorf("store: inserting block %d: %w", b.Number, err)
	}
	return nil
}

// GetBlock fetches a block by its natural key. Returns (false, nil) when
// not found.
func (s *Store) GetBlock(ctx context.Context, chainID, number uint64) (chain.Block, bool, error) {
	var b chain.Block
	var baseFee sql.NullString
	row := s.db.QueryRowContext(ctx, `
		SELECT chain_id, number, hash, parent_hash, timestamp, miner, base_fee_per_gas, gas_used, gas_limit, checkpoint
		FROM blocks WHERE chain_id = ? AND number = ?`, chainID, number)
	err := row.Scan(&b.ChainID, &b.Number, &b.Hash, &b.ParentHash, &b.Timestamp, &b.Miner, &baseFee, &b.GasUsed, &b.GasLimit, &b.Checkpoint)
	if err == sql.ErrNoRows {
		return chain.Block{}, false, nil
	}
	if err != nil {
		return chain.Block{}, false, fmt.Errorf("store: fetching block %d: %w", number, err)
	}
	b.BaseFeePerGas = parseBig(baseFee)
	return b, true, nil
}

// GetBlockByHash fetches a block by its hash. Returns (false, nil) when not
// found.
func (s *Store) GetBlockByHash(ctx context.Context, chainID uint64, hash string) (chain.Block, bool, error) {
	var b chain.Block
	var baseFee sql.NullString
	row := s.db.QueryRowContext(ctx, `
		SELECT chain_id, number, hash, parent_hash, timestamp, miner, base_fee_per_gas, gas_used, gas_limit, checkpoint
		FROM blocks WHERE chain_id = ? AND hash = ?`, chainID, hash)
	err := row.Scan(&b.ChainID, &b.Number, &b.Hash, &b.ParentHash, &b.Timestamp, &b.Miner, &baseFee, &b.GasUsed, &b.GasLimit, &b.Checkpoint)
	if err == sql.ErrNoRows {
		return chain.Block{}, false, nil
	}
	if err != nil {
		return chain.Block{}, false, fmt.Errorf("store: fetching block by hash: %w", err)
	}
	b.BaseFeePerGas = parseBig(baseFee)
	return b, true, nil
}

// DeleteBlocksFrom removes blocks at or above fromNumber, the mechanism a
// reorg rollback uses to evict orphaned canonical rows before re-inserting
// the new fork's blocks (and cascades to their transactions/receipts/
// logs/traces, which share the same natural key prefix).
func (s *Store) DeleteBlocksFrom(ctx context.Context, chainID, fromNumber uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning rollback transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE chain_id = ? AND number >= ?`, chainID, fromNumber); err != nil {
		return fmt.Errorf("store: rolling back blocks: %w", err)
	}
	for _, table := range []string{"transactions", "transaction_receipts", "logs", "traces"} {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE chain_id = ? AND block_number >= ?`, table), chainID, fromNumber)
		if err != nil {
			return fmt.Errorf("store: rolling back %s: %w", table, err)
		}
	}
	return tx.Commit()
}
