package gnn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorGetSet(t *testing.T) {
	ten := NewTensor("h", 2, 3)
	ten.Set(0, 0, 1.5)
	ten.Set(1, 2, 9)

	assert.Equal(t, float32(1.5), ten.Get(0, 0))
	assert.Equal(t, float32(9), ten.Get(1, 2))
	assert.Equal(t, float32(0), ten.Get(0, 1))
}

func TestTensorGetSetOutOfBoundsPanics(t *testing.T) {
	ten := NewTensor("h", 2, 2)
	assert.Panics(t, func() { ten.Get(2, 0) })
	assert.Panics(t, func() { ten.Set(0, 2, 1) })
}

func TestTensorRowRangeIsAView(t *testing.T) {
	ten := NewTensor("ah", 4, 2)
	row := ten.RowRange(1, 3)
	row[0] = 42
	assert.Equal(t, float32(42), ten.Get(1, 0))
}

func TestTensorCopyIsIndependent(t *testing.T) {
	ten := NewTensor("z", 2, 2)
	ten.Set(0, 0, 1)
	cp := ten.Copy("z")
	cp.Set(0, 0, 99)
	assert.Equal(t, float32(1), ten.Get(0, 0))
	assert.Equal(t, float32(99), cp.Get(0, 0))
}

func TestTensorDenseRoundTrip(t *testing.T) {
	ten := NewTensorFromData("x", 2, 2, []float32{1, 2, 3, 4})
	dense := ten.ToDense()

	out := NewTensor("x", 2, 2)
	out.FromDense(dense)
	assert.Equal(t, ten.Data(), out.Data())
}

func TestMapSaveGet(t *testing.T) {
	m := NewMap()
	h := NewTensor("h", 1, 1)
	m.Save(h)

	got, ok := m.Get("h")
	require.True(t, ok)
	assert.Same(t, h, got)

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestChunkRangesEvenSplit(t *testing.T) {
	ranges := ChunkRanges(10, 5)
	assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 6}, {6, 8}, {8, 10}}, ranges)
}

func TestChunkRangesUnevenSplitLastChunkAbsorbsRemainder(t *testing.T) {
	// L=11, K=4 -> ceil(11/4)=3, chunks of 3,3,3,2
	ranges := ChunkRanges(11, 4)
	assert.Equal(t, [][2]int{{0, 3}, {3, 6}, {6, 9}, {9, 11}}, ranges)
	last := ranges[len(ranges)-1]
	assert.Equal(t, 11-(len(ranges)-1)*3, last[1]-last[0])
}

func TestChunkRangesEmptyGraph(t *testing.T) {
	assert.Nil(t, ChunkRanges(0, 4))
}

func TestChunkKeyIgnoresBounds(t *testing.T) {
	c1 := NewChunk(0, 4, 2, 0, 5, 1, Forward, 3, true)
	c2 := NewChunk(0, 4, 2, 100, 200, 1, Forward, 3, true)
	assert.Equal(t, c1.Key(), c2.Key())
}
