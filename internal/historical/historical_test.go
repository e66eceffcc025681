package historical

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/filter"
	"github.com/chainsync/syncer/internal/interval"
	"github.com/chainsync/syncer/internal/store"
)

// fakeRPC serves a small synthetic chain of numbered blocks and a fixed
// set of logs/traces, enough to drive the syncer without a live endpoint.
type fakeRPC struct {
	blocks map[uint64]*gethtypes.Block
	logs   []gethtypes.Log
	traces []chain.TraceBlockResult
}

func newFakeRPC(n int) *fakeRPC {
	f := &fakeRPC{blocks: make(map[uint64]*gethtypes.Block)}
	for i := 0; i < n; i++ {
		header := &gethtypes.Header{
			Number: big.NewInt(int64(i)),
			Time:   uint64(1_700_000_000 + i),
		}
		f.blocks[uint64(i)] = gethtypes.NewBlockWithHeader(header)
	}
	return f
}

func (f *fakeRPC) GetBlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error) {
	return f.blocks[number.Uint64()], nil
}

// GetLogs filters the fixture logs by block range and, when the query sets
// them, by address and topic — close enough to eth_getLogs' own semantics to
// exercise factory/topic-scoped queries realistically.
func (f *fakeRPC) GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	var out []gethtypes.Log
	for _, l := range f.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if !topicsMatchQuery(q.Topics, l.Topics) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func containsAddress(addrs []common.Address, a common.Address) bool {
	for _, x := range addrs {
		if x == a {
			return true
		}
	}
	return false
}

func topicsMatchQuery(spec [][]common.Hash, actual []common.Hash) bool {
	for i, options := range spec {
		if len(options) == 0 {
			continue
		}
		if i >= len(actual) {
			return false
		}
		found := false
		for _, o := range options {
			if o == actual[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f *fakeRPC) GetBlockReceipts(ctx context.Context, blockHash common.Hash) ([]*gethtypes.Receipt, error) {
	return nil, nil
}

func (f *fakeRPC) TraceBlockByHash(ctx context.Context, hash common.Hash) ([]chain.TraceBlockResult, error) {
	return f.traces, nil
}

func testLogFilter(chainID uint64, from, to uint64, address string) filter.Filter {
	return filter.Filter{
		Kind: filter.KindLog,
		Log: &filter.LogFilter{
			ChainID:   chainID,
			Address:   filter.Literal(address),
			FromBlock: from,
			ToBlock:   to,
		},
	}
}

func TestSyncerBackfillsLogFilterRange(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	const chainID = 1
	const addr = "0x0000000000000000000000000000000000000001"

	rpc := newFakeRPC(10)
	rpc.logs = []gethtypes.Log{
		{Address: common.HexToAddress(addr), BlockNumber: 2, Index: 0, Topics: []common.Hash{common.HexToHash("0xaa")}},
		{Address: common.HexToAddress(addr), BlockNumber: 7, Index: 0, Topics: []common.Hash{common.HexToHash("0xbb")}},
	}

	f := testLogFilter(chainID, 0, 9, addr)
	syncer := NewSyncer(chainID, rpc, st, []Source{{Index: 0, Filter: f}}, Config{Concurrency: 2, MaxBlockRange: 1000, EventChunkSize: 10})

	require.NoError(t, syncer.Plan(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, syncer.Run(ctx))

	logs, err := st.GetLogsByBlockRange(context.Background(), chainID, 0, 9, addr)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	stats := syncer.Stats(0)
	require.Equal(t, uint64(10), stats.TotalBlocks)
	require.Equal(t, uint64(10), stats.CompletedBlocks)
	require.InDelta(t, 1.0, stats.FractionComplete(), 0.0001)
}

func TestSyncerSkipsAlreadyCachedRange(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	const chainID = 1
	const addr = "0x00000000000000000000000000000000000002"
	f := testLogFilter(chainID, 0, 4, addr)

	require.NoError(t, st.InsertIntervals(context.Background(), chainID, []store.FilterInterval{
		{Filter: f, Interval: interval.Range{Lo: 0, Hi: 4}},
	}))

	rpc := newFakeRPC(5)
	syncer := NewSyncer(chainID, rpc, st, []Source{{Index: 0, Filter: f}}, DefaultConfig())
	require.NoError(t, syncer.Plan(context.Background()))
	require.Equal(t, 0, syncer.queue.Len())
}

func TestBisectSplitsRangeInHalf(t *testing.T) {
	loFrom, loTo, hiFrom, hiTo := bisect(0, 9)
	require.Equal(t, uint64(0), loFrom)
	require.Equal(t, uint64(4), loTo)
	require.Equal(t, uint64(5), hiFrom)
	require.Equal(t, uint64(9), hiTo)
}

func TestClassifyRangeError(t *testing.T) {
	require.True(t, classifyRangeError(errors.New("log response size exceeded. you can make eth_getLogs requests with up to a 2K block range")))
	require.False(t, classifyRangeError(nil))
	require.False(t, classifyRangeError(errors.New("connection reset by peer")))
}

func TestPriorityQueueOrdersBySmallerFromBlockFirst(t *testing.T) {
	pq := NewPriorityQueue()
	pq.Enqueue(&Task{Kind: KindLogFilterTask, FromBlock: 100})
	pq.Enqueue(&Task{Kind: KindLogFilterTask, FromBlock: 5})
	pq.Enqueue(&Task{Kind: KindLogFilterTask, FromBlock: 50})

	first, ok := pq.Dequeue()
	require.True(t, ok)
	require.Equal(t, uint64(5), first.FromBlock)
}

// TestSyncerResolvesFactoryScopedLogFilterAfterDiscovery exercises a
// LogFactory source alongside a second source whose Log filter is scoped to
// that factory's children (address: factory). The dependent source's
// ChildContractTask must wait for the factory source to finish discovering
// children over the same range before it can seal it — otherwise it would
// seal a range with zero known children and never pick up the child's own
// logs once discovery finally lands.
func TestSyncerResolvesFactoryScopedLogFilterAfterDiscovery(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	const chainID = 1
	const factoryAddr = "0x0000000000000000000000000000000000aaaa"
	const childAddr = "0x000000000000000000000000000000000000bbbb"
	const createSelector = "0x1111111111111111111111111111111111111111111111111111111111111111"
	const transferTopic = "0x2222222222222222222222222222222222222222222222222222222222222222"

	childWord := common.LeftPadBytes(common.HexToAddress(childAddr).Bytes(), 32)

	rpc := newFakeRPC(5)
	rpc.logs = []gethtypes.Log{
		// the factory's own creation log, naming childAddr in topic[1]
		{
			Address:     common.HexToAddress(factoryAddr),
			BlockNumber: 1,
			Index:       0,
			Topics:      []common.Hash{common.HexToHash(createSelector), common.BytesToHash(childWord)},
		},
		// the child contract's own emitted log, matched by the dependent
		// source once the factory above has resolved it
		{
			Address:     common.HexToAddress(childAddr),
			BlockNumber: 3,
			Index:       0,
			Topics:      []common.Hash{common.HexToHash(transferTopic)},
		},
	}

	factorySrc := Source{Index: 0, Filter: filter.Filter{
		Kind: filter.KindLogFactory,
		LogFactory: &filter.LogFactoryFilter{
			ChainID:              chainID,
			Address:              filter.Literal(factoryAddr),
			EventSelector:        createSelector,
			ChildAddressLocation: filter.ChildAddressLocation{Kind: filter.ChildAddressTopic1},
			FromBlock:            0,
			ToBlock:              4,
		},
	}}
	fid := factoryID(factorySrc)

	dependentSrc := Source{Index: 1, Filter: filter.Filter{
		Kind: filter.KindLog,
		Log: &filter.LogFilter{
			ChainID:   chainID,
			Address:   filter.Factory(fid),
			Topics:    [4]filter.TopicSpec{filter.Topic(transferTopic)},
			FromBlock: 0,
			ToBlock:   4,
		},
	}}

	syncer := NewSyncer(chainID, rpc, st, []Source{factorySrc, dependentSrc}, Config{Concurrency: 4, MaxBlockRange: 1000, EventChunkSize: 10})
	require.NoError(t, syncer.Plan(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, syncer.Run(ctx))

	children, err := st.GetChildAddresses(context.Background(), fid, chainID)
	require.NoError(t, err)
	require.Contains(t, children, strings.ToLower(childAddr))

	logs, err := st.GetLogsByBlockRange(context.Background(), chainID, 0, 4, strings.ToLower(childAddr))
	require.NoError(t, err)
	require.Len(t, logs, 1)

	stats := syncer.Stats(1)
	require.Equal(t, uint64(5), stats.TotalBlocks)
	require.InDelta(t, 1.0, stats.FractionComplete(), 0.0001)
}

func testTransferFilter(chainID uint64, from, to uint64) filter.Filter {
	return filter.Filter{
		Kind: filter.KindTransfer,
		Transfer: &filter.TransferFilter{
			ChainID:     chainID,
			FromAddress: filter.None(),
			ToAddress:   filter.None(),
			FromBlock:   from,
			ToBlock:     to,
		},
	}
}

// TestSyncerSourcesTransferFromTraceBlockByHash verifies a Transfer-kind
// source backfills from debug_traceBlockByHash call values, not eth_getLogs —
// a native ETH transfer never emits an ERC-20 log to key off of.
func TestSyncerSourcesTransferFromTraceBlockByHash(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	const chainID = 1
	rpc := newFakeRPC(3)
	rpc.traces = []chain.TraceBlockResult{
		{
			TxHash: "0xtx1",
			Result: chain.CallFrame{
				Type:  "CALL",
				From:  "0xFrom00000000000000000000000000000000",
				To:    "0xTo000000000000000000000000000000000A",
				Value: "0xde0b6b3a7640000", // 1 ETH in wei
			},
		},
	}

	f := testTransferFilter(chainID, 0, 2)
	syncer := NewSyncer(chainID, rpc, st, []Source{{Index: 0, Filter: f}}, Config{Concurrency: 2, MaxBlockRange: 1000, EventChunkSize: 10})

	require.NoError(t, syncer.Plan(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, syncer.Run(ctx))

	traces, err := st.GetTracesByBlockRange(context.Background(), chainID, 0, 2, "", "")
	require.NoError(t, err)
	require.Len(t, traces, 3) // one trace per block fetched, fake returns the same call tree each time

	wantValue, ok := new(big.Int).SetString("1000000000000000000", 10)
	require.True(t, ok)
	for _, tr := range traces {
		require.Equal(t, 0, tr.Value.Cmp(wantValue))
		require.False(t, tr.IsReverted)
	}

	stats := syncer.Stats(0)
	require.Equal(t, uint64(3), stats.TotalBlocks)
	require.InDelta(t, 1.0, stats.FractionComplete(), 0.0001)
}
