package store

import (
	"context"
	"fmt"

	"github.com/chainsync/syncer/internal/chain"
)

func topicAt(topics []string, i int) string {
	if i < len(topics) {
		return topics[i]
	}
	return ""
}

// InsertLog upserts a log row keyed by (chain_id, block_number, log_index).
func (s *Store) InsertLog(ctx context.Context, l chain.Log) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (
			chain_id, block_number, log_index, block_hash, transaction_hash, transaction_index,
			address, topic0, topic1, topic2, topic3, data, checkpoint
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, block_number, log_index) DO UPDATE SET
			block_hash = excluded.block_hash,
			transaction_hash = excluded.transaction_hash,
			transaction_index = excluded.transaction_index,
			address = excluded.address,
			topic0 = excluded.topic0,
			topic1 = excluded.topic1,
			topic2 = excluded.topic2,
			topic3 = excluded.topic3,
			data = excluded.data,
			checkpoint = excluded.checkpoint`,
		l.ChainID, l.BlockNumber, l.LogIndex, l.BlockHash, l.TransactionHash, l.TransactionIndex,
		l.Address, topicAt(l.Topics, 0), topicAt(l.Topics, 1), topicAt(l.Topics, 2), topicAt(l.Topics, 3), l.Data, l.Checkpoint)
	if err != nil {
		return fmt.Errorf("store: inserting log %d/%d: %w", l.BlockNumber, l.LogIndex, err)
	}
	return nil
}

// GetLogsByBlockRange returns logs in [from, to] for chainID, optionally
// filtered to a single contract address, ordered by (block_number,
// log_index) to preserve the checkpoint's total order.
func (s *Store) GetLogsByBlockRange(ctx context.Context, chainID, from, to uint64, address string) ([]chain.Log, error) {
	query := `
		SELECT chain_id, block_number, log_index, block_hash, transaction_hash, transaction_index,
			address, topic0, topic1, topic2, topic3, data, checkpoint
		FROM logs WHERE chain_id = ? AND block_number >= ? AND block_number <= ?`
	args := []interface{}{chainID, from, to}
	if address != "" {
		query += ` AND address = ?`
		args = append(args, address)
	}
	query += ` ORDER BY block_number, log_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: querying logs: %w", err)
	}
	defer rows.Close()

	var out []chain.Log
	for rows.Next() {
		var l chain.Log
		var t0, t1, t2, t3 string
		if err := rows.Scan(&l.ChainID, &l.BlockNumber, &l.LogIndex, &l.BlockHash, &l.TransactionHash, &l.TransactionIndex,
			&l.Address, &t0, &t1, &t2, &t3, &l.Data, &l.Checkpoint); err != nil {
			return nil, fmt.Errorf("store: scanning log row: %w", err)
		}
		for _, t := range []string{t0, t1, t2, t3} {
			if t != "" {
				l.Topics = append(l.Topics, t)
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
