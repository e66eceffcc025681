package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chainsync/syncer/internal/chain"
)

// InsertReceipt upserts a transaction receipt keyed by (chain_id,
// block_number, transaction_index).
func (s *Store) InsertReceipt(ctx context.Context, r chain.TransactionReceipt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_receipts (
			chain_id, block_number, transaction_index, transaction_hash, contract_address,
			from_address, to_address, gas_used, status, type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, block_number, transaction_index) DO UPDATE SET
			transaction_hash = excluded.transaction_hash,
			contract_address = excluded.contract_address,
			from_address = excluded.from_address,
			to_address = excluded.to_address,
			gas_used = excluded.gas_used,
			status = excluded.status,
			type = excluded.type`,
		r.ChainID, r.BlockNumber, r.TransactionIndex, r.TransactionHash, r.ContractAddress,
		r.From, r.To, r.GasUsed, string(r.Status), string(r.Type))
	if err != nil {
		return fmt.Errorf("store: inserting receipt %s: %w", r.TransactionHash, err)
	}
	return nil
}

// GetReceipt fetches a receipt by its natural key. Returns (false, nil)
// when not found.
func (s *Store) GetReceipt(ctx context.Context, chainID, blockNumber, txIndex uint64) (chain.TransactionReceipt, bool, error) {
	var r chain.TransactionReceipt
	var status, typ string
	row := s.db.QueryRowContext(ctx, `
		SELECT chain_id, block_number, transaction_index, transaction_hash, contract_address,
			from_address, to_address, gas_used, status, type
		FROM transaction_receipts WHERE chain_id = ? AND block_number = ? AND transaction_index = ?`,
		chainID, blockNumber, txIndex)
	err := row.Scan(&r.ChainID, &r.BlockNumber, &r.TransactionIndex, &r.TransactionHash, &r.ContractAddress,
		&r.From, &r.To, &r.GasUsed, &status, &typ)
	if err == sql.ErrNoRows {
		return chain.TransactionReceipt{}, false, nil
	}
	if err != nil {
		return chain.TransactionReceipt{}, false, fmt.Errorf("store: fetching receipt: %w", err)
	}
	r.Status = chain.ReceiptStatus(status)
	r.Type = chain.TransactionType(typ)
	return r, true, nil
}
