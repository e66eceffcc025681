package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/chainsync/syncer/internal/chain"
)

// EventRow is one log/transaction/trace attributed to a block within a
// GetEventBlockData page, already ordered by checkpoint within its block.
type EventRow struct {
	Checkpoint  string
	Log         *chain.Log
	Transaction *chain.Transaction
	Trace       *chain.Trace
}

// BlockEvents groups the event rows belonging to one block, in checkpoint
// order.
type BlockEvents struct {
	BlockNumber uint64
	Events      []EventRow
}

// EventSources selects which tables GetEventBlockData scans, set according
// to which fragment kinds the requesting filter set decomposes into.
type EventSources struct {
	Logs         bool
	Transactions bool
	Traces       bool
}

// GetEventBlockData performs the paginated forward-scan of spec.md §4.D.
// It returns contiguous blocks in ascending order and a cursor: the
// largest block number fully returned. If any scanned table hit limit,
// the supremum block (the minimum of the per-table final block numbers)
// is dropped entirely from the page so the next call, issued with
// fromBlock = cursor+1, re-fetches it completely.
func (s *Store) GetEventBlockData(ctx context.Context, chainID, fromBlock, toBlock, limit uint64, sources EventSources) ([]BlockEvents, uint64, error) {
	if limit == 0 {
		limit = 1000
	}

	rowsByBlock := make(map[uint64][]EventRow)
	// supremum tracks the tightest "fully covered up to here" bound
	// contributed by any table whose per-table limit was hit.
	supremum := toBlock + 1

	if sources.Logs {
		logs, err := s.scanLogsPage(ctx, chainID, fromBlock, toBlock, limit)
		if err != nil {
			return nil, 0, err
		}
		applyLimitBound(&supremum, logs, limit, func(l chain.Log) uint64 { return l.BlockNumber })
		for _, l := range logs {
			l := l
			rowsByBlock[l.BlockNumber] = append(rowsByBlock[l.BlockNumber], EventRow{Checkpoint: l.Checkpoint, Log: &l})
		}
	}

	if sources.Transactions {
		txs, err := s.scanTransactionsPage(ctx, chainID, fromBlock, toBlock, limit)
		if err != nil {
			return nil, 0, err
		}
		applyLimitBound(&supremum, txs, limit, func(t chain.Transaction) uint64 { return t.BlockNumber })
		for _, t := range txs {
			t := t
			rowsByBlock[t.BlockNumber] = append(rowsByBlock[t.BlockNumber], EventRow{Checkpoint: t.Checkpoint, Transaction: &t})
		}
	}

	if sources.Traces {
		traces, err := s.scanTracesPage(ctx, chainID, fromBlock, toBlock, limit)
		if err != nil {
			return nil, 0, err
		}
		applyLimitBound(&supremum, traces, limit, func(tr chain.Trace) uint64 { return tr.BlockNumber })
		for _, tr := range traces {
			tr := tr
			rowsByBlock[tr.BlockNumber] = append(rowsByBlock[tr.BlockNumber], EventRow{Checkpoint: tr.Checkpoint, Trace: &tr})
		}
	}

	// Drop the supremum block (and anything beyond it) entirely: a
	// partially-returned block must never be handed to the caller.
	blockNumbers := make([]uint64, 0, len(rowsByBlock))
	for n := range rowsByBlock {
		if n < supremum {
			blockNumbers = append(blockNumbers, n)
		}
	}
	sort.Slice(blockNumbers, func(i, j int) bool { return blockNumbers[i] < blockNumbers[j] })

	out := make([]BlockEvents, 0, len(blockNumbers))
	for _, n := range blockNumbers {
		rows := rowsByBlock[n]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Checkpoint < rows[j].Checkpoint })
		out = append(out, BlockEvents{BlockNumber: n, Events: rows})
	}

	cursor := supremum - 1
	if cursor < fromBlock && fromBlock > 0 {
		// Nothing could be fully sealed this page; re-offer the same start.
		cursor = fromBlock - 1
	}
	return out, cursor, nil
}

// applyLimitBound narrows *supremum to rows[last].blockNumber when rows hit
// limit, meaning the table has more data beyond what was fetched and its
// final block cannot be trusted as fully returned.
func applyLimitBound[T any](supremum *uint64, rows []T, limit uint64, blockOf func(T) uint64) {
	if uint64(len(rows)) < limit || len(rows) == 0 {
		return
	}
	if last := blockOf(rows[len(rows)-1]); last < *supremum {
		*supremum = last
	}
}

func (s *Store) scanLogsPage(ctx context.Context, chainID, fromBlock, toBlock, limit uint64) ([]chain.Log, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, block_number, log_index, block_hash, transaction_hash, transaction_index,
			address, topic0, topic1, topic2, topic3, data, checkpoint
		FROM logs WHERE chain_id = ? AND block_number >= ? AND block_number <= ?
		ORDER BY block_number, log_index LIMIT ?`, chainID, fromBlock, toBlock, limit)
	if err != nil {
		return nil, fmt.Errorf("store: scanning logs page: %w", err)
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

func (s *Store) scanTransactionsPage(ctx context.Context, chainID, fromBlock, toBlock, limit uint64) ([]chain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, block_number, transaction_index, hash, from_address, to_address,
			value, type, gas_price, max_fee_per_gas, max_priority_fee_per_gas, input, checkpoint
		FROM transactions WHERE chain_id = ? AND block_number >= ? AND block_number <= ?
		ORDER BY block_number, transaction_index LIMIT ?`, chainID, fromBlock, toBlock, limit)
	if err != nil {
		return nil, fmt.Errorf("store: scanning transactions page: %w", err)
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

func (s *Store) scanTracesPage(ctx context.Context, chainID, fromBlock, toBlock, limit uint64) ([]chain.Trace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, block_number, transaction_index, trace_index, transaction_hash,
			from_address, to_address, value, type, input, output, function_selector,
			is_reverted, subcalls, checkpoint
		FROM traces WHERE chain_id = ? AND block_number >= ? AND block_number <= ?
		ORDER BY block_number, transaction_index, trace_index LIMIT ?`, chainID, fromBlock, toBlock, limit)
	if err != nil {
		return nil, fmt.Errorf("store: scanning traces page: %w", err)
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
