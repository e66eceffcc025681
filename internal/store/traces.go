package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chainsync/syncer/internal/chain"
)

// InsertTrace upserts a trace row keyed by (chain_id, block_number,
// transaction_index, trace_index).
func (s *Store) InsertTrace(ctx context.Context, tr chain.Trace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traces (
			chain_id, block_number, transaction_index, trace_index, transaction_hash,
			from_address, to_address, value, type, input, output, function_selector,
			is_reverted, subcalls, checkpoint
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, block_number, transaction_index, trace_index) DO UPDATE SET
			transaction_hash = excluded.transaction_hash,
			from_address = excluded.from_address,
			to_address = excluded.to_address,
			value = excluded.value,
			type = excluded.type,
			input = excluded.input,
			output = excluded.output,
			function_selector = excluded.function_selector,
			is_reverted = excluded.is_reverted,
			subcalls = excluded.subcalls,
			checkpoint = excluded.checkpoint`,
		tr.ChainID, tr.BlockNumber, tr.TransactionIndex, tr.TraceIndex, tr.TransactionHash,
		tr.From, tr.To, bigString(tr.Value), tr.Type, tr.Input, tr.Output, tr.FunctionSelector,
		tr.IsReverted, tr.Subcalls, tr.Checkpoint)
	if err != nil {
		return fmt.Errorf("store: inserting trace %d/%d/%d: %w", tr.BlockNumber, tr.TransactionIndex, tr.TraceIndex, err)
	}
	return nil
}

// GetTracesByBlockRange returns traces in [from, to] for chainID,
// optionally filtered to a single from/to contract address, ordered by
// (block_number, transaction_index, trace_index).
func (s *Store) GetTracesByBlockRange(ctx context.Context, chainID, from, to uint64, fromAddress, toAddress string) ([]chain.Trace, error) {
	query := `
		SELECT chain_id, block_number, transaction_index, trace_index, transaction_hash,
			from_address, to_address, value, type, input, output, function_selector,
			is_reverted, subcalls, checkpoint
		FROM traces WHERE chain_id = ? AND block_number >= ? AND block_number <= ?`
	args := []interface{}{chainID, from, to}
	if fromAddress != "" {
		query += ` AND from_address = ?`
		args = append(args, fromAddress)
	}
	if toAddress != "" {
		query += ` AND to_address = ?`
		args = append(args, toAddress)
	}
	query += ` ORDER BY block_number, transaction_index, trace_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: querying traces: %w", err)
	}
	defer rows.Close()

	var out []chain.Trace
	for rows.Next() {
		var tr chain.Trace
		var value sql.NullString
		if err := rows.Scan(&tr.ChainID, &tr.BlockNumber, &tr.TransactionIndex, &tr.TraceIndex, &tr.TransactionHash,
			&tr.From, &tr.To, &value, &tr.Type, &tr.Input, &tr.Output, &tr.FunctionSelector,
			&tr.IsReverted, &tr.Subcalls, &tr.Checkpoint); err != nil {
			return nil, fmt.Errorf("store: scanning trace row: %w", err)
		}
		tr.Value = parseBig(value)
		out = append(out, tr)
	}
	return out, rows.Err()
}
