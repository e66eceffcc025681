package interval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMergesOverlapsAndAdjacent(t *testing.T) {
	in := MultiRange{{Lo: 10, Hi: 20}, {Lo: 21, Hi: 25}, {Lo: 5, Hi: 9}, {Lo: 30, Hi: 40}}
	got := Normalize(in)
	want := MultiRange{{Lo: 5, Hi: 25}, {Lo: 30, Hi: 40}}
	require.Equal(t, want, got)
}

func TestNormalizeEmpty(t *testing.T) {
	require.Equal(t, MultiRange{}, Normalize(nil))
	require.Equal(t, MultiRange{}, Normalize(MultiRange{}))
}

func TestUnionIdempotent(t *testing.T) {
	a := Normalize(MultiRange{{Lo: 0, Hi: 10}})
	once := Union(a, MultiRange{{Lo: 5, Hi: 15}})
	twice := Union(once, MultiRange{{Lo: 5, Hi: 15}})
	require.Equal(t, once, twice)
}

func TestIntersection(t *testing.T) {
	a := MultiRange{{Lo: 0, Hi: 10}, {Lo: 20, Hi: 30}}
	b := MultiRange{{Lo: 5, Hi: 25}}
	got := Intersection(a, b)
	want := MultiRange{{Lo: 5, Hi: 10}, {Lo: 20, Hi: 25}}
	require.Equal(t, want, got)
}

func TestDifference(t *testing.T) {
	target := MultiRange{{Lo: 0, Hi: 100}}
	completed := MultiRange{{Lo: 10, Hi: 50}, {Lo: 60, Hi: 100}}
	got := Difference(target, completed)
	want := MultiRange{{Lo: 0, Hi: 9}, {Lo: 51, Hi: 59}}
	require.Equal(t, want, got)
}

func TestDifferenceEmptyCompleted(t *testing.T) {
	target := MultiRange{{Lo: 0, Hi: 5}}
	got := Difference(target, nil)
	require.Equal(t, MultiRange{{Lo: 0, Hi: 5}}, got)
}

func TestSum(t *testing.T) {
	require.Equal(t, uint64(0), Sum(nil))
	require.Equal(t, uint64(11), Sum(MultiRange{{Lo: 0, Hi: 10}}))
}

func TestContains(t *testing.T) {
	rs := MultiRange{{Lo: 5, Hi: 10}, {Lo: 20, Hi: 30}}
	require.True(t, Contains(rs, 7))
	require.True(t, Contains(rs, 20))
	require.False(t, Contains(rs, 15))
	require.False(t, Contains(nil, 1))
}

func TestChunksRespectsMaxSize(t *testing.T) {
	rs := MultiRange{{Lo: 0, Hi: 9}}
	got := Chunks(rs, 3)
	want := []Range{{Lo: 0, Hi: 2}, {Lo: 3, Hi: 5}, {Lo: 6, Hi: 8}, {Lo: 9, Hi: 9}}
	require.Equal(t, want, got)
}

func TestChunksEmptyInput(t *testing.T) {
	require.Empty(t, Chunks(nil, 10))
	require.Empty(t, Chunks(MultiRange{}, 10))
}

func TestChunksExactFit(t *testing.T) {
	got := Chunks(MultiRange{{Lo: 0, Hi: 9}}, 10)
	require.Equal(t, []Range{{Lo: 0, Hi: 9}}, got)
}
