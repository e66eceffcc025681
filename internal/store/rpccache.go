package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertRpcRequestResult caches a raw RPC response keyed by (chainID,
// requestHash) per spec.md §9. blockNumber is nil for requests not tied to
// a specific block (e.g. eth_chainId), which prune never evicts by block.
func (s *Store) InsertRpcRequestResult(ctx context.Context, chainID uint64, requestHash string, blockNumber *uint64, result string) error {
	var bn sql.NullInt64
	if blockNumber != nil {
		bn = sql.NullInt64{Int64: int64(*blockNumber), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rpc_request_results (chain_id, request_hash, block_number, result)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chain_id, request_hash) DO UPDATE SET
			block_number = excluded.block_number,
			result = excluded.result`,
		chainID, requestHash, bn, result)
	if err != nil {
		return fmt.Errorf("store: caching rpc result %s: %w", requestHash, err)
	}
	return nil
}

// GetRpcRequestResult returns a cached RPC response, if any.
func (s *Store) GetRpcRequestResult(ctx context.Context, chainID uint64, requestHash string) (string, bool, error) {
	var result string
	err := s.db.QueryRowContext(ctx, `
		SELECT result FROM rpc_request_results WHERE chain_id = ? AND request_hash = ?`,
		chainID, requestHash).Scan(&result)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: fetching rpc result %s: %w", requestHash, err)
	}
	return result, true, nil
}

// PruneRpcRequestResults evicts cached responses tied to the given block
// numbers, called when a reorg invalidates previously-cached
// eth_getLogs/eth_getBlockReceipts responses for the orphaned blocks.
// Requests with no block association (block_number IS NULL) are never
// pruned this way.
func (s *Store) PruneRpcRequestResults(ctx context.Context, chainID uint64, blocks []uint64) error {
	if len(blocks) == 0 {
		return nil
	}
	placeholders := make([]string, len(blocks))
	args := make([]interface{}, 0, len(blocks)+1)
	args = append(args, chainID)
	for i, b := range blocks {
		placeholders[i] = "?"
		args = append(args, b)
	}
	query := fmt.Sprintf(`DELETE FROM rpc_request_results WHERE chain_id = ? AND block_number IN (%s)`, join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: pruning rpc cache: %w", err)
	}
	return nil
}
