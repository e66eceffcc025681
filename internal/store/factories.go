package store

import (
	"context"
	"fmt"
)

// InsertChildAddresses records factory-derived child addresses, keeping
// the earliest block each was observed at across inserts (spec.md §4.D): a
// later re-discovery of the same child (e.g. while re-processing a
// reorg'd range) never regresses its first-seen block forward.
func (s *Store) InsertChildAddresses(ctx context.Context, factoryID string, chainID uint64, childAddresses map[string]uint64) error {
	if len(childAddresses) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning child address transaction: %w", err)
	}
	defer tx.Rollback()

	for address, blockNumber := range childAddresses {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO factory_addresses (factory_id, chain_id, address, first_seen_block)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(factory_id, chain_id, address) DO UPDATE SET
				first_seen_block = MIN(first_seen_block, excluded.first_seen_block)`,
			factoryID, chainID, address, blockNumber)
		if err != nil {
			return fmt.Errorf("store: inserting child address %s: %w", address, err)
		}
	}
	return tx.Commit()
}

// GetChildAddresses returns every address ever discovered under factoryID
// on chainID, mapped to the block it first appeared at.
func (s *Store) GetChildAddresses(ctx context.Context, factoryID string, chainID uint64) (map[string]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, first_seen_block FROM factory_addresses
		WHERE factory_id = ? AND chain_id = ?`, factoryID, chainID)
	if err != nil {
		return nil, fmt.Errorf("store: querying child addresses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var address string
		var firstSeen uint64
		if err := rows.Scan(&address, &firstSeen); err != nil {
			return nil, fmt.Errorf("store: scanning child address row: %w", err)
		}
		out[address] = firstSeen
	}
	return out, rows.Err()
}
