// Package store implements the sync store of spec.md §4.D: the
// content-addressed cache of blocks/logs/traces/transactions/receipts plus
// the interval ledger and RPC-response cache, backed by SQLite. Grounded
// on internal/persistence/sqlite.go's connection setup and migration style.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store is the sync store. All exported methods are safe for concurrent
// use; writes serialize through SQLite's single-writer connection.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS intervals (
		fragment_id TEXT PRIMARY KEY,
		chain_id INTEGER NOT NULL,
		blocks_json TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_intervals_chain ON intervals(chain_id)`,

	`CREATE TABLE IF NOT EXISTS blocks (
		chain_id INTEGER NOT NULL,
		number INTEGER NOT NULL,
		hash TEXT NOT NULL,
		parent_hash TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		miner TEXT NOT NULL DEFAULT '',
		base_fee_per_gas TEXT,
		gas_used INTEGER NOT NULL DEFAULT 0,
		gas_limit INTEGER NOT NULL DEFAULT 0,
		checkpoint TEXT NOT NULL,
		PRIMARY KEY (chain_id, number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_blocks_hash ON blocks(chain_id, hash)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		chain_id INTEGER NOT NULL,
		block_number INTEGER NOT NULL,
		transaction_index INTEGER NOT NULL,
		hash TEXT NOT NULL,
		from_address TEXT NOT NULL,
		to_address TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL DEFAULT '0',
		type TEXT NOT NULL,
		gas_price TEXT,
		max_fee_per_gas TEXT,
		max_priority_fee_per_gas TEXT,
		input BLOB,
		checkpoint TEXT NOT NULL,
		PRIMARY KEY (chain_id, block_number, transaction_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_hash ON transactions(chain_id, hash)`,

	`CREATE TABLE IF NOT EXISTS transaction_receipts (
		chain_id INTEGER NOT NULL,
		block_number INTEGER NOT NULL,
		transaction_index INTEGER NOT NULL,
		transaction_hash TEXT NOT NULL,
		contract_address TEXT NOT NULL DEFAULT '',
		from_address TEXT NOT NULL,
		to_address TEXT NOT NULL DEFAULT '',
		gas_used INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		type TEXT NOT NULL,
		PRIMARY KEY (chain_id, block_number, transaction_index)
	)`,

	`CREATE TABLE IF NOT EXISTS logs (
		chain_id INTEGER NOT NULL,
		block_number INTEGER NOT NULL,
		log_index INTEGER NOT NULL,
		block_hash TEXT NOT NULL,
		transaction_hash TEXT NOT NULL,
		transaction_index INTEGER NOT NULL,
		address TEXT NOT NULL,
		topic0 TEXT NOT NULL DEFAULT '',
		topic1 TEXT NOT NULL DEFAULT '',
		topic2 TEXT NOT NULL DEFAULT '',
		topic3 TEXT NOT NULL DEFAULT '',
		data BLOB,
		checkpoint TEXT NOT NULL,
		PRIMARY KEY (chain_id, block_number, log_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_address ON logs(chain_id, address)`,

	`CREATE TABLE IF NOT EXISTS traces (
		chain_id INTEGER NOT NULL,
		block_number INTEGER NOT NULL,
		transaction_index INTEGER NOT NULL,
		trace_index INTEGER NOT NULL,
		transaction_hash TEXT NOT NULL,
		from_address TEXT NOT NULL,
		to_address TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL DEFAULT '0',
		type TEXT NOT NULL,
		input BLOB,
		output BLOB,
		function_selector TEXT NOT NULL DEFAULT '',
		is_reverted INTEGER NOT NULL DEFAULT 0,
		subcalls INTEGER NOT NULL DEFAULT 0,
		checkpoint TEXT NOT NULL,
		PRIMARY KEY (chain_id, block_number, transaction_index, trace_index)
	)`,

	`CREATE TABLE IF NOT EXISTS factory_addresses (
		factory_id TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		address TEXT NOT NULL,
		first_seen_block INTEGER NOT NULL,
		PRIMARY KEY (factory_id, chain_id, address)
	)`,

	`CREATE TABLE IF NOT EXISTS rpc_request_results (
		chain_id INTEGER NOT NULL,
		request_hash TEXT NOT NULL,
		block_number INTEGER,
		result TEXT NOT NULL,
		PRIMARY KEY (chain_id, request_hash)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rpc_cache_block ON rpc_request_results(chain_id, block_number)`,

	`CREATE TABLE IF NOT EXISTS sync_checkpoints (
		chain_name TEXT NOT NULL,
		chain_id INTEGER PRIMARY KEY,
		latest_checkpoint TEXT NOT NULL,
		safe_checkpoint TEXT NOT NULL,
		finalized_checkpoint TEXT NOT NULL
	)`,
}

func (s *Store) migrate() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	log.Info().Msg("sync store migrations completed")
	return nil
}
