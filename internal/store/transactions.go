package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chainsync/syncer/internal/chain"
)

// InsertTransaction upserts a transaction row keyed by (chain_id,
// block_number, transaction_index).
func (s *Store) InsertTransaction(ctx context.Context, t chain.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			chain_id, block_number, transaction_index, hash, from_address, to_address,
			value, type, gas_price, max_fee_per_gas, max_priority_fee_per_gas, input, checkpoint
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, block_number, transaction_index) DO UPDATE SET
			hash = excluded.hash,
			from_address = excluded.from_address,
			to_address = excluded.to_address,
			value = excluded.value,
			type = excluded.type,
			gas_price = excluded.gas_price,
			max_fee_per_gas = excluded.max_fee_per_gas,
			max_priority_fee_per_gas = excluded.max_priority_fee_per_gas,
			input = excluded.input,
			checkpoint = excluded.checkpoint`,
		t.ChainID, t.BlockNumber, t.TransactionIndex, t.Hash, t.From, t.To,
		bigString(t.Value), string(t.Type), bigString(t.GasPrice), bigString(t.MaxFeePerGas), bigString(t.MaxPriorityFeePerGas), t.Input, t.Checkpoint)
	if err != nil {
		return fmt.Errorf("store: inserting transaction %s: %w", t.Hash, err)
	}
	return nil
}

// GetTransactionsByBlock returns every transaction recorded for a block,
// ordered by transaction index.
func (s *Store) GetTransactionsByBlock(ctx context.Context, chainID, blockNumber uint64) ([]chain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, block_number, transaction_index, hash, from_address, to_address,
			value, type, gas_price, max_fee_per_gas, max_priority_fee_per_gas, input, checkpoint
		FROM transactions WHERE chain_id = ? AND block_number = ? ORDER BY transaction_index`, chainID, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("store: querying transactions for block %d: %w", blockNumber, err)
	}
	defer rows.Close()

	var out []chain.Transaction
	for rows.Next() {
		var t chain.Transaction
		var value, gasPrice, maxFee, maxPriority sql.NullString
		var txType string
		if err := rows.Scan(&t.ChainID, &t.BlockNumber, &t.TransactionIndex, &t.Hash, &t.From, &t.To,
			&value, &txType, &gasPrice, &maxFee, &maxPriority, &t.Input, &t.Checkpoint); err != nil {
			return nil, fmt.Errorf("store: scanning transaction row: %w", err)
		}
		t.Value = parseBig(value)
		t.Type = chain.TransactionType(txType)
		t.GasPrice = parseBig(gasPrice)
		t.MaxFeePerGas = parseBig(maxFee)
		t.MaxPriorityFeePerGas = parseBig(maxPriority)
		out = append(out, t)
	}
	return out, rows.Err()
}
