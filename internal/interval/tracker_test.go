package interval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressTrackerAddCompletedInterval(t *testing.T) {
	tr := NewProgressTracker(Range{Lo: 100, Hi: 200}, nil)

	res := tr.AddCompletedInterval(Range{Lo: 100, Hi: 150})
	require.True(t, res.IsUpdated)
	require.Equal(t, uint64(150), res.NewCheckpoint)

	// A disjoint interval further out doesn't move the checkpoint yet.
	res = tr.AddCompletedInterval(Range{Lo: 180, Hi: 200})
	require.False(t, res.IsUpdated)
	require.Equal(t, uint64(150), res.NewCheckpoint)

	// Filling the gap connects everything and completes the tracker.
	res = tr.AddCompletedInterval(Range{Lo: 151, Hi: 179})
	require.True(t, res.IsUpdated)
	require.Equal(t, uint64(200), res.NewCheckpoint)
	require.True(t, tr.IsComplete())
}

func TestProgressTrackerRequired(t *testing.T) {
	tr := NewProgressTracker(Range{Lo: 0, Hi: 10}, MultiRange{{Lo: 0, Hi: 3}})
	require.Equal(t, MultiRange{{Lo: 4, Hi: 10}}, tr.Required())
}

func TestProgressTrackerReinsertionIsNoop(t *testing.T) {
	tr := NewProgressTracker(Range{Lo: 0, Hi: 10}, nil)
	tr.AddCompletedInterval(Range{Lo: 0, Hi: 5})
	before := tr.Completed()
	res := tr.AddCompletedInterval(Range{Lo: 0, Hi: 5})
	require.False(t, res.IsUpdated)
	require.Equal(t, before, tr.Completed())
}
