package realtime

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/event"
	"github.com/chainsync/syncer/internal/filter"
	"github.com/chainsync/syncer/internal/store"
)

// fakeChainRPC serves a mutable in-memory chain, keyed by block number, so
// tests can rewrite history out from under a running syncer to simulate a
// reorg.
type fakeChainRPC struct {
	mu     sync.Mutex
	blocks map[uint64]*gethtypes.Block
	latest uint64
	traces []chain.TraceBlockResult
}

func newFakeChainRPC() *fakeChainRPC {
	return &fakeChainRPC{blocks: make(map[uint64]*gethtypes.Block)}
}

func (f *fakeChainRPC) set(n uint64, b *gethtypes.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[n] = b
}

func (f *fakeChainRPC) setLatest(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = n
}

func (f *fakeChainRPC) GetBlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.latest
	if number != nil {
		n = number.Uint64()
	}
	return f.blocks[n], nil
}

func (f *fakeChainRPC) GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	return nil, nil
}

func (f *fakeChainRPC) GetBlockReceipts(ctx context.Context, blockHash common.Hash) ([]*gethtypes.Receipt, error) {
	return nil, nil
}

func (f *fakeChainRPC) TraceBlockByHash(ctx context.Context, hash common.Hash) ([]chain.TraceBlockResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.traces, nil
}

func mkBlock(number uint64, parent common.Hash, variant uint64) *gethtypes.Block {
	header := &gethtypes.Header{
		Number:     big.NewInt(int64(number)),
		ParentHash: parent,
		Time:       1_700_000_000 + number*10 + variant,
		GasLimit:   8_000_000,
	}
	return gethtypes.NewBlockWithHeader(header)
}

func blockFilterSource(chainID uint64) Source {
	return Source{Index: 0, Filter: filter.Filter{
		Kind: filter.KindBlock,
		Block: &filter.BlockFilter{
			ChainID:  chainID,
			Interval: 1,
			Offset:   0,
		},
	}}
}

func TestSyncerHappyPathAppendsSequentially(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	const chainID = 1
	rpc := newFakeChainRPC()

	b0 := mkBlock(0, common.Hash{}, 0)
	b1 := mkBlock(1, b0.Hash(), 0)
	b2 := mkBlock(2, b1.Hash(), 0)
	rpc.set(0, b0)
	rpc.set(1, b1)
	rpc.set(2, b2)

	var mu sync.Mutex
	var seen []event.Event
	onEvent := func(ev event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev)
		return nil
	}

	cfg := Config{SafeDepth: 1, FinalizedDepth: 2, MaxUnfinalized: 256}
	syncer := NewSyncer(chainID, rpc, st, []Source{blockFilterSource(chainID)}, cfg, onEvent, nil)

	ctx := context.Background()
	rpc.setLatest(0)
	require.NoError(t, syncer.poll(ctx))
	rpc.setLatest(1)
	require.NoError(t, syncer.poll(ctx))
	rpc.setLatest(2)
	require.NoError(t, syncer.poll(ctx))

	require.Len(t, seen, 3)
	for i, ev := range seen {
		require.NotNil(t, ev.Block)
		require.Equal(t, uint64(i), ev.Block.Number)
	}

	_, ok, err := st.GetBlock(ctx, chainID, 2)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSyncerGapFillWalksIntermediateBlocks(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	const chainID = 1
	rpc := newFakeChainRPC()

	b0 := mkBlock(0, common.Hash{}, 0)
	b1 := mkBlock(1, b0.Hash(), 0)
	b2 := mkBlock(2, b1.Hash(), 0)
	b3 := mkBlock(3, b2.Hash(), 0)
	rpc.set(0, b0)
	rpc.set(1, b1)
	rpc.set(2, b2)
	rpc.set(3, b3)

	var seen []event.Event
	onEvent := func(ev event.Event) error { seen = append(seen, ev); return nil }

	cfg := Config{SafeDepth: 1, FinalizedDepth: 2, MaxUnfinalized: 256}
	syncer := NewSyncer(chainID, rpc, st, []Source{blockFilterSource(chainID)}, cfg, onEvent, nil)

	ctx := context.Background()
	rpc.setLatest(0)
	require.NoError(t, syncer.poll(ctx))

	rpc.setLatest(3)
	require.NoError(t, syncer.poll(ctx))

	require.Len(t, seen, 4)
	for n := uint64(0); n <= 3; n++ {
		_, ok, err := st.GetBlock(ctx, chainID, n)
		require.NoError(t, err)
		require.True(t, ok, "block %d should be stored", n)
	}
}

func TestSyncerReorgRewritesDivergentBlocks(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	const chainID = 1
	rpc := newFakeChainRPC()

	b0 := mkBlock(0, common.Hash{}, 0)
	b1 := mkBlock(1, b0.Hash(), 0)
	b2 := mkBlock(2, b1.Hash(), 0)
	b3 := mkBlock(3, b2.Hash(), 0)
	rpc.set(0, b0)
	rpc.set(1, b1)
	rpc.set(2, b2)
	rpc.set(3, b3)

	var seen []event.Event
	onEvent := func(ev event.Event) error { seen = append(seen, ev); return nil }

	cfg := Config{SafeDepth: 1, FinalizedDepth: 10, MaxUnfinalized: 256}
	syncer := NewSyncer(chainID, rpc, st, []Source{blockFilterSource(chainID)}, cfg, onEvent, nil)

	ctx := context.Background()
	rpc.setLatest(0)
	require.NoError(t, syncer.poll(ctx))
	rpc.setLatest(3)
	require.NoError(t, syncer.poll(ctx))
	require.Len(t, seen, 4)

	// Reorg: blocks 2 and 3 are replaced by a sibling chain branching off
	// the shared ancestor, block 1.
	b2alt := mkBlock(2, b1.Hash(), 99)
	b3alt := mkBlock(3, b2alt.Hash(), 99)
	require.NotEqual(t, b2.Hash(), b2alt.Hash())
	rpc.set(2, b2alt)
	rpc.set(3, b3alt)

	require.NoError(t, syncer.poll(ctx))

	stored2, ok, err := st.GetBlock(ctx, chainID, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, lowerHex(b2alt.Hash().Hex()), stored2.Hash)

	stored3, ok, err := st.GetBlock(ctx, chainID, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, lowerHex(b3alt.Hash().Hex()), stored3.Hash)

	require.Equal(t, []uint64{0, 1, 2, 3, 2, 3}, blockNumbers(seen))
}

func blockNumbers(events []event.Event) []uint64 {
	out := make([]uint64, 0, len(events))
	for _, ev := range events {
		if ev.Block != nil {
			out = append(out, ev.Block.Number)
		}
	}
	return out
}

func TestSyncerDeepReorgPastFinalizedDepthIsFatal(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	const chainID = 1
	rpc := newFakeChainRPC()

	b0 := mkBlock(0, common.Hash{}, 0)
	b1 := mkBlock(1, b0.Hash(), 0)
	b2 := mkBlock(2, b1.Hash(), 0)
	rpc.set(0, b0)
	rpc.set(1, b1)
	rpc.set(2, b2)

	cfg := Config{SafeDepth: 1, FinalizedDepth: 1, MaxUnfinalized: 256}
	syncer := NewSyncer(chainID, rpc, st, []Source{blockFilterSource(chainID)}, cfg, func(event.Event) error { return nil }, nil)

	ctx := context.Background()
	rpc.setLatest(0)
	require.NoError(t, syncer.poll(ctx))
	rpc.setLatest(2)
	require.NoError(t, syncer.poll(ctx))

	b0alt := mkBlock(0, common.Hash{}, 99)
	b1alt := mkBlock(1, b0alt.Hash(), 99)
	b2alt := mkBlock(2, b1alt.Hash(), 99)
	rpc.set(0, b0alt)
	rpc.set(1, b1alt)
	rpc.set(2, b2alt)
	rpc.setLatest(2)

	err = syncer.poll(ctx)
	require.Error(t, err)
	var deepReorg *ErrDeepReorg
	require.ErrorAs(t, err, &deepReorg)
}

func transferFilterSource(chainID uint64) Source {
	return Source{Index: 0, Filter: filter.Filter{
		Kind: filter.KindTransfer,
		Transfer: &filter.TransferFilter{
			ChainID:     chainID,
			FromAddress: filter.None(),
			ToAddress:   filter.None(),
		},
	}}
}

// TestSyncerMatchesTransferFromTraceValue verifies a Transfer-kind source is
// populated from debug_traceBlockByHash call values rather than eth_getLogs —
// a plain ETH transfer has no ERC-20 log to key off of.
func TestSyncerMatchesTransferFromTraceValue(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	const chainID = 1
	rpc := newFakeChainRPC()
	rpc.set(0, mkBlock(0, common.Hash{}, 0))
	rpc.traces = []chain.TraceBlockResult{
		{TxHash: "0xt0", Result: chain.CallFrame{Type: "CALL", From: "0xsender", To: "0xreceiver", Value: "0x1"}},
	}

	var seen []event.Event
	onEvent := func(ev event.Event) error { seen = append(seen, ev); return nil }

	cfg := Config{SafeDepth: 1, FinalizedDepth: 2, MaxUnfinalized: 256}
	syncer := NewSyncer(chainID, rpc, st, []Source{transferFilterSource(chainID)}, cfg, onEvent, nil)

	ctx := context.Background()
	rpc.setLatest(0)
	require.NoError(t, syncer.poll(ctx))

	require.Len(t, seen, 1)
	require.NotNil(t, seen[0].Trace)
	require.Equal(t, "0xsender", seen[0].Trace.From)
	require.Equal(t, int64(1), seen[0].Trace.Value.Int64())

	traces, err := st.GetTracesByBlockRange(ctx, chainID, 0, 0, "", "")
	require.NoError(t, err)
	require.Len(t, traces, 1)
}

// TestSyncerTransferIgnoresZeroValueCalls verifies a call that moves no
// value never matches a Transfer filter even though its from/to would
// otherwise qualify.
func TestSyncerTransferIgnoresZeroValueCalls(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	const chainID = 1
	rpc := newFakeChainRPC()
	rpc.set(0, mkBlock(0, common.Hash{}, 0))
	rpc.traces = []chain.TraceBlockResult{
		{TxHash: "0xt0", Result: chain.CallFrame{Type: "CALL", From: "0xsender", To: "0xreceiver", Value: "0x0"}},
	}

	var seen []event.Event
	onEvent := func(ev event.Event) error { seen = append(seen, ev); return nil }

	cfg := Config{SafeDepth: 1, FinalizedDepth: 2, MaxUnfinalized: 256}
	syncer := NewSyncer(chainID, rpc, st, []Source{transferFilterSource(chainID)}, cfg, onEvent, nil)

	ctx := context.Background()
	rpc.setLatest(0)
	require.NoError(t, syncer.poll(ctx))

	require.Empty(t, seen)
}
