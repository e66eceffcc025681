package assembler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainsync/syncer/internal/checkpoint"
	"github.com/chainsync/syncer/internal/event"
)

func cp(ts uint64) string {
	return checkpoint.Checkpoint{BlockTimestamp: ts, EventType: checkpoint.EventTypeBlock}.String()
}

func evt(chainID uint64, ts uint64) event.Event {
	return event.Event{ChainID: chainID, Checkpoint: cp(ts)}
}

func TestMultichainEmitsImmediatelyPreservingPerChainOrder(t *testing.T) {
	var seen []event.Event
	a := New(PolicyMultichain, func(ev event.Event) error {
		seen = append(seen, ev)
		return nil
	})
	a.RegisterChain(1)
	a.RegisterChain(137)

	require.NoError(t, a.Feed(1, []event.Event{evt(1, 100)}, cp(100)))
	require.NoError(t, a.Feed(137, []event.Event{evt(137, 50), evt(137, 60)}, cp(60)))

	require.Len(t, seen, 3)
}

func TestOmnichainHoldsBackAheadChainUntilLaggardCatchesUp(t *testing.T) {
	var seen []event.Event
	a := New(PolicyOmnichain, func(ev event.Event) error {
		seen = append(seen, ev)
		return nil
	})
	a.RegisterChain(1)
	a.RegisterChain(137)

	// Chain 1 reports two events and a high watermark; chain 137 hasn't
	// reported anything yet (watermark still zero), so nothing should be
	// emitted — the scheduler can't yet prove chain 1's events precede
	// whatever chain 137 eventually reports.
	require.NoError(t, a.Feed(1, []event.Event{evt(1, 1000), evt(1, 1001)}, cp(1001)))
	require.Len(t, seen, 0)

	// Chain 137 reports a lower watermark: both chains' events at or below
	// it become safe to emit (chain 1 first on the equal checkpoint), while
	// chain 1's event above it stays held.
	require.NoError(t, a.Feed(137, []event.Event{evt(137, 1000)}, cp(1000)))
	require.Len(t, seen, 2)
	require.Equal(t, uint64(1), seen[0].ChainID)
	require.Equal(t, cp(1000), seen[0].Checkpoint)
	require.Equal(t, uint64(137), seen[1].ChainID)
	require.Equal(t, cp(1000), seen[1].Checkpoint)

	// Chain 137 catches up past chain 1's remaining event.
	require.NoError(t, a.Feed(137, nil, cp(1002)))
	require.Len(t, seen, 3)
	require.Equal(t, uint64(1), seen[2].ChainID)
	require.Equal(t, cp(1001), seen[2].Checkpoint)
}

func TestOmnichainDrainsEverythingOnceAllChainsDone(t *testing.T) {
	var seen []event.Event
	a := New(PolicyOmnichain, func(ev event.Event) error {
		seen = append(seen, ev)
		return nil
	})
	a.RegisterChain(1)
	a.RegisterChain(137)

	require.NoError(t, a.Feed(1, []event.Event{evt(1, 100)}, cp(100)))
	require.NoError(t, a.MarkChainDone(1))
	require.Len(t, seen, 0, "the only active chain's watermark holds until it too is marked done")

	require.NoError(t, a.Feed(137, []event.Event{evt(137, 50)}, cp(50)))
	require.NoError(t, a.MarkChainDone(137))

	require.Len(t, seen, 2)
	require.Equal(t, uint64(137), seen[0].ChainID)
	require.Equal(t, uint64(1), seen[1].ChainID)
}
