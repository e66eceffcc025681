package coordinator

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/filter"
	"github.com/chainsync/syncer/internal/store"
)

func transferFilter(chainID uint64, includeReverted bool) filter.Filter {
	return filter.Filter{
		Kind: filter.KindTransfer,
		Transfer: &filter.TransferFilter{
			ChainID:         chainID,
			FromAddress:     filter.None(),
			ToAddress:       filter.None(),
			IncludeReverted: includeReverted,
		},
	}
}

func TestEventSourcesForTransferWantsTraces(t *testing.T) {
	sources := eventSourcesFor(transferFilter(1, false))
	require.Equal(t, store.EventSources{Traces: true}, sources)
}

func TestRowMatcherTransferRequiresNonzeroValue(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	c := &Coordinator{store: st}
	match := c.rowMatcher(context.Background(), transferFilter(1, false))

	zero := &chain.Trace{From: "0xa", To: "0xb", Value: big.NewInt(0)}
	require.False(t, match(store.EventRow{Trace: zero}))

	nonzero := &chain.Trace{From: "0xa", To: "0xb", Value: big.NewInt(1)}
	require.True(t, match(store.EventRow{Trace: nonzero}))
}

func TestRowMatcherTransferExcludesRevertedByDefault(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	c := &Coordinator{store: st}

	reverted := &chain.Trace{From: "0xa", To: "0xb", Value: big.NewInt(1), IsReverted: true}

	strict := c.rowMatcher(context.Background(), transferFilter(1, false))
	require.False(t, strict(store.EventRow{Trace: reverted}))

	lenient := c.rowMatcher(context.Background(), transferFilter(1, true))
	require.True(t, lenient(store.EventRow{Trace: reverted}))
}

func TestRowMatcherTransferIgnoresLogRows(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	c := &Coordinator{store: st}
	match := c.rowMatcher(context.Background(), transferFilter(1, false))
	require.False(t, match(store.EventRow{Log: &chain.Log{Address: "0xa"}}))
}
