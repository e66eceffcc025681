package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/checkpoint"
	"github.com/chainsync/syncer/internal/event"
	"github.com/chainsync/syncer/internal/filter"
	"github.com/chainsync/syncer/internal/historical"
	"github.com/chainsync/syncer/internal/realtime"
	"github.com/chainsync/syncer/internal/store"
)

// fakeRPC serves a small synthetic chain of numbered blocks, enough to
// drive the coordinator's historical and realtime phases without a live
// endpoint, mirroring internal/historical's and internal/realtime's own
// fakes.
type fakeRPC struct {
	mu     sync.Mutex
	blocks map[uint64]*gethtypes.Block
	latest uint64
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
	f.latest = uint64(n - 1)
	return f
}

func (f *fakeRPC) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeRPC) GetBlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.latest
	if number != nil {
		n = number.Uint64()
	}
	return f.blocks[n], nil
}

func (f *fakeRPC) GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	return nil, nil
}

func (f *fakeRPC) GetBlockReceipts(ctx context.Context, blockHash common.Hash) ([]*gethtypes.Receipt, error) {
	return nil, nil
}

func (f *fakeRPC) TraceBlockByHash(ctx context.Context, hash common.Hash) ([]chain.TraceBlockResult, error) {
	return nil, nil
}

// fakeRuntime is a scripted IndexingRuntime: each slice of errors is
// consumed in order, one per call; once it is exhausted every call
// succeeds.
type fakeRuntime struct {
	mu          sync.Mutex
	setupCalls  []int
	historical  [][]event.Event
	realtimeLog []event.Event
	histErrs    []error
}

func (r *fakeRuntime) ProcessSetupEvents(ctx context.Context, sourceIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setupCalls = append(r.setupCalls, sourceIndex)
	return nil
}

func (r *fakeRuntime) ProcessHistoricalEvents(ctx context.Context, batch []event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.histErrs) > 0 {
		err := r.histErrs[0]
		r.histErrs = r.histErrs[1:]
		if err != nil {
			return err
		}
	}
	r.historical = append(r.historical, batch)
	return nil
}

func (r *fakeRuntime) ProcessRealtimeEvents(ctx context.Context, batch []event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realtimeLog = append(r.realtimeLog, batch...)
	return nil
}

func blockSource(chainID, from, to uint64) filter.Filter {
	return filter.Filter{
		Kind: filter.KindBlock,
		Block: &filter.BlockFilter{
			ChainID:   chainID,
			Interval:  1,
			FromBlock: from,
			ToBlock:   to,
		},
	}
}

func TestBuildSyncProgressSpansAllSources(t *testing.T) {
	sources := []filter.Filter{
		blockSource(1, 10, 50),
		blockSource(1, 0, 30),
	}
	sp := buildSyncProgress(1, sources, 1000, 64)
	require.Equal(t, uint64(0), sp.Start)
	require.Equal(t, uint64(50), sp.End)
	require.False(t, sp.OpenEnded)
	require.Equal(t, uint64(936), sp.Finalized)
}

func TestBuildSyncProgressOpenEndedSource(t *testing.T) {
	sources := []filter.Filter{
		blockSource(1, 10, 0),
	}
	sp := buildSyncProgress(1, sources, 100, 64)
	require.True(t, sp.OpenEnded)
	require.Equal(t, uint64(10), sp.Start)
	require.Equal(t, uint64(36), sp.Finalized)
}

func TestBuildSyncProgressFinalizedNeverNegative(t *testing.T) {
	sp := buildSyncProgress(1, []filter.Filter{blockSource(1, 0, 5)}, 10, 64)
	require.Equal(t, uint64(0), sp.Finalized)
}

func TestClampToBlockBoundsOpenEndedFilter(t *testing.T) {
	f := blockSource(1, 10, 0)
	clamped := clampToBlock(f, 500)
	from, to := clamped.BlockRange()
	require.Equal(t, uint64(10), from)
	require.Equal(t, uint64(500), to)

	// the original filter is untouched
	origFrom, origTo := f.BlockRange()
	require.Equal(t, uint64(10), origFrom)
	require.Equal(t, uint64(0), origTo)
}

func TestClampToBlockLeavesClosedRangeAlone(t *testing.T) {
	f := blockSource(1, 10, 40)
	clamped := clampToBlock(f, 500)
	_, to := clamped.BlockRange()
	require.Equal(t, uint64(40), to)
}

func TestCallHistoricalWithRetrySucceedsAfterInvalidEventAccess(t *testing.T) {
	rt := &fakeRuntime{histErrs: []error{&InvalidEventAccess{Field: "receipt"}, nil}}
	c := &Coordinator{runtime: rt}

	err := c.callHistoricalWithRetry(context.Background(), []event.Event{{ChainID: 1}})
	require.NoError(t, err)
	require.Len(t, rt.historical, 1)
}

func TestCallHistoricalWithRetryBubblesNonRetryable(t *testing.T) {
	cause := errors.New("constraint violated")
	rt := &fakeRuntime{histErrs: []error{&NonRetryableUserError{Cause: cause}}}
	c := &Coordinator{runtime: rt}

	err := c.callHistoricalWithRetry(context.Background(), []event.Event{{ChainID: 1}})
	require.Error(t, err)
	var nonRetryable *NonRetryableUserError
	require.True(t, errors.As(err, &nonRetryable))
	require.ErrorIs(t, err, cause)
}

func TestCallHistoricalWithRetryExhaustsAttempts(t *testing.T) {
	rt := &fakeRuntime{histErrs: []error{
		&InvalidEventAccess{Field: "a"},
		&InvalidEventAccess{Field: "a"},
		&InvalidEventAccess{Field: "a"},
	}}
	c := &Coordinator{runtime: rt}

	err := c.callHistoricalWithRetry(context.Background(), []event.Event{{ChainID: 1}})
	require.Error(t, err)
	require.Empty(t, rt.historical)
}

func TestPhaseStateBatchesUntilChunkSizeThenFlushes(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	rt := &fakeRuntime{}
	c := &Coordinator{
		store:   st,
		runtime: rt,
		cfg:     Config{Historical: historical.Config{EventChunkSize: 2}},
		phases:  newPhaseState(),
	}
	c.phases.setHistorical(7, "testchain")

	ev := func(n uint64) event.Event {
		return event.Event{ChainID: 7, Checkpoint: checkpointFor(7, n)}
	}

	require.NoError(t, c.dispatchRealtime(ev(1)))
	require.Empty(t, rt.historical, "should not flush before chunk size is reached")

	require.NoError(t, c.dispatchRealtime(ev(2)))
	require.Len(t, rt.historical, 1)
	require.Len(t, rt.historical[0], 2)

	cp, ok, err := st.GetChainCheckpoints(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ev(2).Checkpoint, cp.SafeCheckpoint)
	require.Equal(t, cp.SafeCheckpoint, cp.FinalizedCheckpoint)
}

func TestPhaseStateRoutesToRealtimeAfterTransition(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	rt := &fakeRuntime{}
	c := &Coordinator{store: st, runtime: rt, cfg: Config{Historical: historical.Config{EventChunkSize: 10}}, phases: newPhaseState()}
	c.phases.setHistorical(7, "testchain")
	c.phases.setRealtime(7)

	ev := event.Event{ChainID: 7, Checkpoint: checkpointFor(7, 1)}
	require.NoError(t, c.dispatchRealtime(ev))
	require.Empty(t, rt.historical)
	require.Len(t, rt.realtimeLog, 1)
}

// checkpointFor produces distinct, ordered checkpoint strings for test
// fixtures without depending on the real checkpoint package's layout —
// dispatchRealtime/flushHistorical only ever compare or forward these
// opaquely, never parse them.
func checkpointFor(chainID, blockNumber uint64) string {
	return fmt.Sprintf("chain%02d-block%020d", chainID, blockNumber)
}

func TestRecoverCrashStateTrimsBlocksPastSafePoint(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	const chainID = 1
	ctx := context.Background()
	for n := uint64(0); n <= 5; n++ {
		require.NoError(t, st.InsertBlock(ctx, chain.Block{
			ChainID: chainID, Number: n, Hash: fmt.Sprintf("0x%d", n), Timestamp: 1_700_000_000 + n,
			Checkpoint: checkpoint.Checkpoint{BlockTimestamp: 1_700_000_000 + n, ChainID: chainID, BlockNumber: n}.String(),
		}))
	}

	safeCheckpoint := checkpoint.Checkpoint{BlockTimestamp: 1_700_000_003, ChainID: chainID}.String()
	c := &Coordinator{store: st}
	cs := ChainSpec{Chain: chain.Chain{ID: chainID, Name: "test"}}

	require.NoError(t, c.recoverCrashState(ctx, cs, store.ChainCheckpoints{ChainID: chainID, SafeCheckpoint: safeCheckpoint}))

	_, ok, err := st.GetBlock(ctx, chainID, 2)
	require.NoError(t, err)
	require.True(t, ok, "blocks strictly before the safe timestamp survive")

	_, ok, err = st.GetBlock(ctx, chainID, 3)
	require.NoError(t, err)
	require.False(t, ok, "blocks at or after the safe timestamp are trimmed")
}

func TestCoordinatorRunEndToEndHistoricalThenRealtime(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	const chainID = 1
	rpc := newFakeRPC(5)
	rt := &fakeRuntime{}

	chains := []ChainSpec{
		{
			Chain:   chain.Chain{ID: chainID, Name: "test", FinalityBlockCount: 1},
			RPC:     rpc,
			Sources: []filter.Filter{blockSource(chainID, 0, 3)},
		},
	}

	cfg := DefaultConfig()
	cfg.Historical.Concurrency = 2
	cfg.Historical.MaxBlockRange = 100
	cfg.Historical.EventChunkSize = 10
	cfg.Realtime = realtime.Config{PollInterval: 5 * time.Millisecond, SafeDepth: 1, FinalizedDepth: 2, MaxUnfinalized: 64}

	co := New(st, rt, chains, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = co.Run(ctx)
	require.NoError(t, err)

	require.NotEmpty(t, rt.setupCalls, "setup should run once with no crash-recovery checkpoint")

	total := 0
	for _, b := range rt.historical {
		total += len(b)
	}
	require.Equal(t, 4, total, "blocks 0-3 should all be delivered historically")

	cp, ok, err := st.GetChainCheckpoints(context.Background(), chainID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, cp.LatestCheckpoint)
}
