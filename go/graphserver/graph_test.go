package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

func buildTestGraph(t *testing.T) *Graph {
	t.Helper()
	// 3 local vertices, 1 ghost. Edges: 0->1 (w=0.5), ghost0->2 (w=0.25).
	g := NewGraph(3, 1)
	g.NormFactor = []float32{1, 1, 1}
	g.ColPtr = []int{0, 0, 1, 2}
	g.RowIdx = []int{0, 3} // vertex 1 reads from local 0, vertex 2 reads from ghost slot 0 (global row 3)
	g.CSCVal = []float32{0.5, 0.25}
	g.GlobalToGhost[42] = 0
	return g
}

func TestGatherForwardIncludesSelfAndNeighborTerms(t *testing.T) {
	g := buildTestGraph(t)
	h := []float32{1, 2, 3}
	hRow := func(r int) []float32 { return []float32{h[r]} }
	ghostRow := func(r int) []float32 { return []float32{10} }

	out := gnn.NewTensor("ah", 3, 1)
	g.GatherForward(0, 3, hRow, ghostRow, out)

	assert.Equal(t, float32(1), out.Get(0, 0), "zero-degree vertex keeps only its self term")
	assert.Equal(t, float32(2)+0.5*1, out.Get(1, 0))
	assert.Equal(t, float32(3)+0.25*10, out.Get(2, 0))
}

func TestMirrorUndirectedCopiesCSCIntoCSR(t *testing.T) {
	g := buildTestGraph(t)
	g.MirrorUndirected()
	require.Equal(t, g.ColPtr, g.RowPtr)
	require.Equal(t, g.RowIdx, g.ColIdx)
	require.Equal(t, g.CSCVal, g.CSRVal)
}

func TestGhostSlotResolvesKnownGlobalID(t *testing.T) {
	g := buildTestGraph(t)
	slot, ok := g.GhostSlot(42)
	assert.True(t, ok)
	assert.Equal(t, 0, slot)

	_, ok = g.GhostSlot(999)
	assert.False(t, ok)
}

func TestLocallyOwnedWithGhostsFiltersByPeer(t *testing.T) {
	peerGhosts := map[int][]uint32{
		0: {1, 2},
		1: {2},
		2: {1},
	}
	got := LocallyOwnedWithGhosts(0, 3, 2, peerGhosts)
	assert.ElementsMatch(t, []int{0, 1}, got)
}
