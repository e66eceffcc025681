package historical

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/filter"
	"github.com/chainsync/syncer/internal/interval"
	"github.com/chainsync/syncer/internal/store"
)

// enqueueBlock registers cb against block n and, if n isn't already
// pending fetch, schedules a BlockTask for it. Multiple sources touching
// the same block share one fetch.
func (s *Syncer) enqueueBlock(n uint64, cb BlockCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blockWaiters[n] = append(s.blockWaiters[n], cb)
	if s.blockPending[n] {
		return
	}
	s.blockPending[n] = true
	s.queue.Enqueue(&Task{Kind: KindBlockTask, BlockNumber: n})
}

// blockCallback builds the BlockCallback a Trace/Transfer/Transaction/Block-
// kind source registers for block n: once the block is sealed, a Trace or
// Transfer source fetches and stores the block's call traces, and then the
// single block is recorded as completed coverage. No receipts are fetched
// and no per-source matching is done here.
func (src Source) blockCallback(s *Syncer, n uint64) BlockCallback {
	return func(b chain.Block) error {
		ctx := context.Background()

		switch src.Filter.Kind {
		case filter.KindBlock:
			if !src.Filter.Block.MatchesBlock(n) {
				return s.sealRange(src, n, n)
			}
		case filter.KindTrace, filter.KindTransfer:
			if err := s.materializeTraces(ctx, b); err != nil {
				return err
			}
		}
		return s.sealRange(src, n, n)
	}
}

// sealRange records [from, to] as completed for src's tracker and persists
// it to the interval ledger.
func (s *Syncer) sealRange(src Source, from, to uint64) error {
	s.mu.Lock()
	tracker := s.trackers[src.Index]
	if tracker != nil {
		tracker.AddCompletedInterval(interval.Range{Lo: from, Hi: to})
		s.completedCnt[src.Index] += (to - from + 1)
	}
	s.mu.Unlock()
	if tracker == nil {
		return fmt.Errorf("historical: no tracker for source %d", src.Index)
	}
	return s.store.InsertIntervals(context.Background(), src.Filter.ChainID(), []store.FilterInterval{
		{Filter: src.Filter, Interval: interval.Range{Lo: from, Hi: to}},
	})
}

// factoryReady reports whether factoryID's own LogFactory source has fully
// discovered children over [from, to] yet. A ChildContractTask consuming
// that factory (whether the factory source's own self-paired task or
// another source's Log filter scoped to address: factory) must not seal
// its range until this is true, or a range where children simply haven't
// been discovered yet would be recorded as permanently covered.
func (s *Syncer) factoryReady(factoryID string, from, to uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracker, ok := s.factoryTrackers[factoryID]
	if !ok {
		// No known LogFactory source owns this id (e.g. a dangling
		// reference in config); nothing to wait on.
		return true
	}
	return len(interval.Difference(interval.MultiRange{{Lo: from, Hi: to}}, tracker.Completed())) == 0
}

// materializeTraces fetches debug_traceBlockByHash for b and stores the
// flattened call trees.
func (s *Syncer) materializeTraces(ctx context.Context, b chain.Block) error {
	results, err := s.rpc.TraceBlockByHash(ctx, common.HexToHash(b.Hash))
	if err != nil {
		return fmt.Errorf("historical: tracing block %d: %w", b.Number, err)
	}
	for txIdx, res := range results {
		for _, tr := range chain.FlattenTrace(res.Result, b.ChainID, b.Number, uint64(txIdx), res.TxHash, b.Timestamp) {
			if err := s.store.InsertTrace(ctx, tr); err != nil {
				return err
			}
		}
	}
	return nil
}

// processBlockTask fetches block t.BlockNumber, stores its transactions,
// caches it, and resolves every callback registered against it.
func (s *Syncer) processBlockTask(ctx context.Context, t *Task) error {
	s.mu.Lock()
	cached, ok := s.blocks[t.BlockNumber]
	s.mu.Unlock()

	if !ok {
		raw, err := s.rpc.GetBlockByNumber(ctx, new(big.Int).SetUint64(t.BlockNumber))
		if err != nil {
			return fmt.Errorf("historical: fetching block %d: %w", t.BlockNumber, err)
		}
		cached = chain.ConvertBlock(raw, s.chainID)
		if err := s.store.InsertBlock(ctx, cached); err != nil {
			return err
		}
		signer := types.LatestSignerForChainID(new(big.Int).SetUint64(s.chainID))
		for i, tx := range raw.Transactions() {
			from, _ := types.Sender(signer, tx)
			converted := chain.ConvertTransaction(tx, s.chainID, cached.Number, cached.Timestamp, uint64(i), from.Hex())
			if err := s.store.InsertTransaction(ctx, converted); err != nil {
				return err
			}
		}
		s.mu.Lock()
		s.blocks[t.BlockNumber] = cached
		s.mu.Unlock()
	}

	s.mu.Lock()
	callbacks := s.blockWaiters[t.BlockNumber]
	delete(s.blockWaiters, t.BlockNumber)
	delete(s.blockPending, t.BlockNumber)
	s.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(cached); err != nil {
			return err
		}
	}
	return nil
}

// processLogFilterTask fetches eth_getLogs over [t.FromBlock, t.ToBlock]
// for a Log-kind filter, bisecting on range errors, then converts
// and stores matching logs and registers block-sealing callbacks for the
// distinct blocks touched.
func (s *Syncer) processLogFilterTask(ctx context.Context, t *Task) error {
	logs, err := s.fetchLogs(ctx, t.Filter, t.FromBlock, t.ToBlock)
	if err != nil {
		return err
	}
	return s.storeLogsAndSeal(ctx, t, logs)
}

// processFactoryContractTask fetches the factory's own creation logs,
// records discovered child addresses, seals its own range, then enqueues
// the self-paired ChildContractTask that captures the now-known children's
// own log activity for the same range. Enqueueing it here, after this
// task's own work is visible in the store, is what guarantees
// processChildContractTask never observes an incomplete child set for a
// range this task hasn't finished yet.
func (s *Syncer) processFactoryContractTask(ctx context.Context, t *Task) error {
	logs, err := s.fetchLogs(ctx, t.Filter, t.FromBlock, t.ToBlock)
	if err != nil {
		return err
	}

	fid := factoryID(Source{Filter: t.Filter})
	children := make(map[string]uint64)
	loc := t.Filter.LogFactory.ChildAddressLocation
	for _, l := range logs {
		topics := make([]string, len(l.Topics))
		for i, tp := range l.Topics {
			topics[i] = tp.Hex()
		}
		addr, err := filter.GetChildAddress(topics, l.Data, loc)
		if err != nil {
			continue
		}
		if existing, ok := children[addr]; !ok || l.BlockNumber < existing {
			children[addr] = l.BlockNumber
		}
	}
	if len(children) > 0 {
		if err := s.store.InsertChildAddresses(ctx, fid, t.Filter.ChainID(), children); err != nil {
			return err
		}
	}

	if err := s.storeLogsAndSeal(ctx, t, logs); err != nil {
		return err
	}

	s.queue.Enqueue(&Task{
		Kind:        KindChildContractTask,
		SourceIndex: t.SourceIndex,
		Filter:      t.Filter,
		FactoryID:   fid,
		FromBlock:   t.FromBlock,
		ToBlock:     t.ToBlock,
	})
	return nil
}

// processChildContractTask fetches currently-known child addresses for
// t.FactoryID and issues one batched eth_getLogs call over all of them for
// the task's range. It serves two cases: a LogFactory source's own
// self-paired task (t.Filter is the LogFactory filter, unscoped by topic —
// every log the children emitted) and another source's Log filter whose
// address position is AddressFactory (t.Filter is that Log filter, scoped
// by its own topics). Either way it must not seal the range until the
// referenced factory has itself finished discovering children over
// [t.FromBlock, t.ToBlock]; until then it requeues itself rather than
// sealing on what might be an incomplete child set.
func (s *Syncer) processChildContractTask(ctx context.Context, t *Task) error {
	if !s.factoryReady(t.FactoryID, t.FromBlock, t.ToBlock) {
		select {
		case <-time.After(childContractRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		s.queue.Enqueue(t)
		return nil
	}

	children, err := s.store.GetChildAddresses(ctx, t.FactoryID, t.Filter.ChainID())
	if err != nil {
		return err
	}
	src := Source{Index: t.SourceIndex, Filter: t.Filter}
	if len(children) == 0 {
		return s.sealRange(src, t.FromBlock, t.ToBlock)
	}

	addrs := make([]common.Address, 0, len(children))
	for a := range children {
		addrs = append(addrs, common.HexToAddress(a))
	}

	var query ethereum.FilterQuery
	if t.Filter.Kind == filter.KindLogFactory {
		query = ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(t.FromBlock),
			ToBlock:   new(big.Int).SetUint64(t.ToBlock),
			Addresses: addrs,
		}
	} else {
		query = buildFilterQuery(t.Filter, t.FromBlock, t.ToBlock)
		query.Addresses = addrs
	}

	logs, err := s.runLogQuery(ctx, query, t.FromBlock, t.ToBlock)
	if err != nil {
		return err
	}
	return s.storeLogsAndSeal(ctx, t, logs)
}

// childContractRetryDelay is how long a ChildContractTask waits before
// re-checking whether its paired factory has finished discovering children
// for its range. It doesn't count against a task's retry budget (attempts
// is left untouched) since waiting on a factory still backfilling earlier
// ranges is expected, not a failure.
const childContractRetryDelay = 50 * time.Millisecond
