package realtime

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/event"
	"github.com/chainsync/syncer/internal/filter"
)

// materializeBlock fetches block n in full — transactions, the logs it
// emitted, and (when any registered source needs them) receipts and call
// traces — stores every raw record, and invokes onEvent once per matched
// source in checkpoint order.
func (s *Syncer) materializeBlock(ctx context.Context, n uint64) error {
	raw, err := s.rpc.GetBlockByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return fmt.Errorf("realtime: fetching block %d: %w", n, err)
	}
	if raw == nil {
		return fmt.Errorf("realtime: block %d not found", n)
	}

	b := chain.ConvertBlock(raw, s.chainID)
	if err := s.store.InsertBlock(ctx, b); err != nil {
		return err
	}

	var events []event.Event

	for _, src := range s.sources {
		if src.Filter.Kind == filter.KindBlock && src.Filter.Block.MatchesBlock(n) {
			events = append(events, event.Event{ChainID: s.chainID, SourceIndex: src.Index, Checkpoint: b.Checkpoint, Block: &b})
		}
	}

	receiptsByTx, err := s.fetchReceiptsIfNeeded(ctx, raw.Hash())
	if err != nil {
		return err
	}

	txEvents, err := s.materializeTransactions(ctx, raw, b, receiptsByTx)
	if err != nil {
		return err
	}
	events = append(events, txEvents...)

	logEvents, err := s.materializeLogs(ctx, b)
	if err != nil {
		return err
	}
	events = append(events, logEvents...)

	traceEvents, err := s.materializeTraces(ctx, b)
	if err != nil {
		return err
	}
	events = append(events, traceEvents...)

	sort.Slice(events, func(i, j int) bool { return events[i].Checkpoint < events[j].Checkpoint })
	if s.onEvent == nil {
		return nil
	}
	for _, ev := range events {
		if err := s.onEvent(ev); err != nil {
			return fmt.Errorf("realtime: delivering event at checkpoint %s: %w", ev.Checkpoint, err)
		}
	}
	return nil
}

func (s *Syncer) fetchReceiptsIfNeeded(ctx context.Context, blockHash common.Hash) (map[string]*types.Receipt, error) {
	needed := false
	for _, src := range s.sources {
		switch src.Filter.Kind {
		case filter.KindTransaction, filter.KindLogFactory:
			needed = true
		case filter.KindLog:
			needed = needed || src.Filter.Log.IncludeReceipts
		case filter.KindTransfer:
			needed = needed || src.Filter.Transfer.IncludeReceipts
		case filter.KindTrace:
			needed = needed || src.Filter.Trace.IncludeReceipts
		}
	}
	if !needed {
		return nil, nil
	}

	receipts, err := s.rpc.GetBlockReceipts(ctx, blockHash)
	if err != nil {
		return nil, fmt.Errorf("realtime: fetching receipts: %w", err)
	}
	byTx := make(map[string]*types.Receipt, len(receipts))
	for _, r := range receipts {
		byTx[lowerHex(r.TxHash.Hex())] = r
	}
	return byTx, nil
}

func (s *Syncer) materializeTransactions(ctx context.Context, raw *types.Block, b chain.Block, receiptsByTx map[string]*types.Receipt) ([]event.Event, error) {
	var events []event.Event
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(s.chainID))

	for i, tx := range raw.Transactions() {
		from, _ := types.Sender(signer, tx)
		var to string
		if tx.To() != nil {
			to = lowerHex(tx.To().Hex())
		}
		converted := chain.ConvertTransaction(tx, s.chainID, b.Number, b.Timestamp, uint64(i), from.Hex())
		if err := s.store.InsertTransaction(ctx, converted); err != nil {
			return nil, err
		}

		var reverted bool
		var storedReceipt *chain.TransactionReceipt
		if gr, ok := receiptsByTx[converted.Hash]; ok {
			conv := chain.ConvertReceipt(gr, s.chainID, b.Number, uint64(i), converted.From, to)
			if err := s.store.InsertReceipt(ctx, conv); err != nil {
				return nil, err
			}
			storedReceipt = &conv
			reverted = conv.Status == chain.ReceiptStatusReverted
		}

		for _, src := range s.sources {
			if src.Filter.Kind != filter.KindTransaction {
				continue
			}
			tf := src.Filter.Transaction
			if reverted && !tf.IncludeReverted {
				continue
			}
			if !s.addressMatches(ctx, tf.FromAddress, converted.From) {
				continue
			}
			if !s.addressMatches(ctx, tf.ToAddress, to) {
				continue
			}
			ev := event.Event{ChainID: s.chainID, SourceIndex: src.Index, Checkpoint: converted.Checkpoint, Transaction: &converted}
			ev.Receipt = storedReceipt
			events = append(events, ev)
		}
	}
	return events, nil
}

func (s *Syncer) materializeLogs(ctx context.Context, b chain.Block) ([]event.Event, error) {
	var events []event.Event

	for _, src := range s.sources {
		if src.Filter.Kind != filter.KindLog && src.Filter.Kind != filter.KindLogFactory {
			continue
		}

		query, ok, err := s.buildSourceQuery(ctx, src.Filter, b.Number)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // a LogFactory source with zero known children yet
		}

		logs, err := s.rpc.GetLogs(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("realtime: fetching logs for block %d: %w", b.Number, err)
		}

		if src.Filter.Kind == filter.KindLogFactory {
			if err := s.recordFactoryChildren(ctx, src.Filter, logs); err != nil {
				return nil, err
			}
		}

		for i := range logs {
			l := logs[i]
			converted := chain.ConvertLog(&l, s.chainID, b.Timestamp, uint64(i))
			if err := s.store.InsertLog(ctx, converted); err != nil {
				return nil, err
			}
			events = append(events, event.Event{ChainID: s.chainID, SourceIndex: src.Index, Checkpoint: converted.Checkpoint, Log: &converted})
		}
	}
	return events, nil
}

// materializeTraces fetches debug_traceBlockByHash once per block whenever
// any registered source needs call-trace data — Trace filters directly, and
// Transfer filters since spec.md §4.F sources transfers from traces rather
// than logs (a native ETH transfer has no ERC-20 log to key off of).
func (s *Syncer) materializeTraces(ctx context.Context, b chain.Block) ([]event.Event, error) {
	needed := false
	for _, src := range s.sources {
		if src.Filter.Kind == filter.KindTrace || src.Filter.Kind == filter.KindTransfer {
			needed = true
			break
		}
	}
	if !needed {
		return nil, nil
	}

	results, err := s.rpc.TraceBlockByHash(ctx, common.HexToHash(b.Hash))
	if err != nil {
		return nil, fmt.Errorf("realtime: tracing block %d: %w", b.Number, err)
	}

	var events []event.Event
	for txIdx, res := range results {
		for _, tr := range chain.FlattenTrace(res.Result, s.chainID, b.Number, uint64(txIdx), res.TxHash, b.Timestamp) {
			tr := tr
			if err := s.store.InsertTrace(ctx, tr); err != nil {
				return nil, err
			}
			for _, src := range s.sources {
				switch src.Filter.Kind {
				case filter.KindTrace:
					if !s.matchesTrace(ctx, *src.Filter.Trace, tr) {
						continue
					}
				case filter.KindTransfer:
					if !s.matchesTransfer(ctx, *src.Filter.Transfer, tr) {
						continue
					}
				default:
					continue
				}
				events = append(events, event.Event{ChainID: s.chainID, SourceIndex: src.Index, Checkpoint: tr.Checkpoint, Trace: &tr})
			}
		}
	}
	return events, nil
}

func (s *Syncer) matchesTrace(ctx context.Context, tf filter.TraceFilter, tr chain.Trace) bool {
	if tr.IsReverted && !tf.IncludeReverted {
		return false
	}
	if tf.FunctionSelector != "" && tr.FunctionSelector != tf.FunctionSelector {
		return false
	}
	if tf.CallType != "" && tr.Type != tf.CallType {
		return false
	}
	if !s.addressMatches(ctx, tf.FromAddress, tr.From) {
		return false
	}
	return s.addressMatches(ctx, tf.ToAddress, tr.To)
}

// matchesTransfer reports whether tr represents a value transfer (a call
// carrying nonzero Value, whichever CALL/CREATE variant it was) satisfying
// tf — a Transfer filter has no FunctionSelector/CallType constraint, only
// the from/to/revert shape it shares with Trace.
func (s *Syncer) matchesTransfer(ctx context.Context, tf filter.TransferFilter, tr chain.Trace) bool {
	if tr.Value == nil || tr.Value.Sign() <= 0 {
		return false
	}
	if tr.IsReverted && !tf.IncludeReverted {
		return false
	}
	if !s.addressMatches(ctx, tf.FromAddress, tr.From) {
		return false
	}
	return s.addressMatches(ctx, tf.ToAddress, tr.To)
}

// addressMatches resolves an AddressSpec position against addr: a literal
// spec is an exact-match list, a factory spec defers to the currently-known
// child addresses for that factory, and an unconstrained spec always
// matches.
func (s *Syncer) addressMatches(ctx context.Context, spec filter.AddressSpec, addr string) bool {
	switch spec.Kind {
	case filter.AddressNone:
		return true
	case filter.AddressLiteral:
		for _, a := range spec.Addresses {
			if a == addr {
				return true
			}
		}
		return false
	case filter.AddressFactory:
		children, err := s.store.GetChildAddresses(ctx, spec.FactoryID, s.chainID)
		if err != nil {
			return false
		}
		_, ok := children[addr]
		return ok
	default:
		return false
	}
}
