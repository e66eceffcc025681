package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/filter"
	"github.com/chainsync/syncer/internal/interval"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGetIntervalsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := filter.Filter{
		Kind: filter.KindLog,
		Log: &filter.LogFilter{
			ChainID:   1,
			Address:   filter.Literal("0xabc"),
			FromBlock: 0,
			ToBlock:   1000,
		},
	}

	err := s.InsertIntervals(ctx, 1, []FilterInterval{{Filter: f, Interval: interval.Range{Lo: 10, Hi: 20}}})
	require.NoError(t, err)

	// Re-inserting the same range must be a no-op.
	err = s.InsertIntervals(ctx, 1, []FilterInterval{{Filter: f, Interval: interval.Range{Lo: 10, Hi: 20}}})
	require.NoError(t, err)

	got, err := s.GetIntervals(ctx, []filter.Filter{f})
	require.NoError(t, err)
	require.Len(t, got[0], 1)
	require.Equal(t, interval.MultiRange{{Lo: 10, Hi: 20}}, got[0][0].Intervals)
}

func TestGetIntervalsWildcardRowSatisfiesNarrowerQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A wildcard (no address) filter's cached range should be visible to
	// a narrower single-address query through AdjacentIDs.
	wild := filter.Filter{
		Kind: filter.KindLog,
		Log:  &filter.LogFilter{ChainID: 1, FromBlock: 0, ToBlock: 1000},
	}
	err := s.InsertIntervals(ctx, 1, []FilterInterval{{Filter: wild, Interval: interval.Range{Lo: 0, Hi: 50}}})
	require.NoError(t, err)

	narrow := filter.Filter{
		Kind: filter.KindLog,
		Log:  &filter.LogFilter{ChainID: 1, Address: filter.Literal("0xabc"), FromBlock: 0, ToBlock: 1000},
	}
	got, err := s.GetIntervals(ctx, []filter.Filter{narrow})
	require.NoError(t, err)
	require.Equal(t, interval.MultiRange{{Lo: 0, Hi: 50}}, got[0][0].Intervals)
}

func TestBlockUpsertAndRollback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := chain.Block{ChainID: 1, Number: 100, Hash: "0xaaa", ParentHash: "0xbbb", Timestamp: 1000, Checkpoint: "ckpt"}
	require.NoError(t, s.InsertBlock(ctx, b))

	fetched, ok, err := s.GetBlock(ctx, 1, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b.Hash, fetched.Hash)

	fetchedByHash, ok, err := s.GetBlockByHash(ctx, 1, "0xaaa")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(100), fetchedByHash.Number)

	require.NoError(t, s.DeleteBlocksFrom(ctx, 1, 100))
	_, ok, err = s.GetBlock(ctx, 1, 100)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChildAddressesKeepsMinimumBlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertChildAddresses(ctx, "factory-1", 1, map[string]uint64{"0xchild": 500}))
	require.NoError(t, s.InsertChildAddresses(ctx, "factory-1", 1, map[string]uint64{"0xchild": 100}))

	got, err := s.GetChildAddresses(ctx, "factory-1", 1)
	require.NoError(t, err)
	require.Equal(t, uint64(100), got["0xchild"])
}

func TestRpcCachePruneByBlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	block := uint64(42)
	require.NoError(t, s.InsertRpcRequestResult(ctx, 1, "hash1", &block, `{"ok":true}`))

	result, ok, err := s.GetRpcRequestResult(ctx, 1, "hash1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"ok":true}`, result)

	require.NoError(t, s.PruneRpcRequestResults(ctx, 1, []uint64{42}))
	_, ok, err = s.GetRpcRequestResult(ctx, 1, "hash1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetSafeCrashRecoveryBlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertBlock(ctx, chain.Block{ChainID: 1, Number: 10, Timestamp: 1000, Checkpoint: "a"}))
	require.NoError(t, s.InsertBlock(ctx, chain.Block{ChainID: 1, Number: 11, Timestamp: 2000, Checkpoint: "b"}))

	safe, ok, err := s.GetSafeCrashRecoveryBlock(ctx, 1, 1500)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), safe)
}

func TestGetEventBlockDataDropsPartialSupremumBlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := uint64(0); i < 5; i++ {
		for j := uint64(0); j < 2; j++ {
			require.NoError(t, s.InsertLog(ctx, chain.Log{
				ChainID: 1, BlockNumber: i, LogIndex: j, Address: "0xabc", Checkpoint: checkpointFor(i, j),
			}))
		}
	}

	// limit=4 is reached at block 1's last log (rows 0..3 span blocks 0
	// and 1); since the limit was hit, block 1 cannot be known complete, so
	// it must be dropped and the cursor pulled back to block 0.
	page, cursor, err := s.GetEventBlockData(ctx, 1, 0, 10, 4, EventSources{Logs: true})
	require.NoError(t, err)
	require.Equal(t, uint64(0), cursor)
	require.Len(t, page, 1)
	require.Equal(t, uint64(0), page[0].BlockNumber)
}

func checkpointFor(block, index uint64) string {
	return chain.ComputeCheckpoint(block*1000, 1, block, 0, 9, index)
}
