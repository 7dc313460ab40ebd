package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

func TestParamTensorPullReturnsACopy(t *testing.T) {
	p := NewParamTensor("w0", 2, 2, 0.1)
	snap, version := p.Pull()
	assert.Equal(t, 0, version)
	snap.Data()[0] = 99
	unaffected, _ := p.Pull()
	assert.NotEqual(t, float32(99), unaffected.Data()[0], "Pull must hand out a copy, not the live buffer")
}

func TestParamTensorAppliesOnceRoundFills(t *testing.T) {
	p := NewParamTensor("w0", 1, 2, 1.0)
	p.SetExpectedTotal(2)

	g := gnn.NewTensorFromData("w0", 1, 2, []float32{1, 1})
	require.NoError(t, p.Push(g, 5))

	before, v := p.Pull()
	assert.Equal(t, 0, v, "round incomplete, value unchanged")
	assert.Equal(t, []float32{0, 0}, before.Data())

	require.NoError(t, p.Push(g, 5))
	after, v := p.Pull()
	assert.Equal(t, 1, v, "version bumps once the round completes")
	// scale = lr / expectedTotal = 1.0 / 2; accum = 1 + 1 = 2 per element.
	assert.InDelta(t, float32(-1), after.Data()[0], 1e-6)
}

func TestParamTensorAppliesUnweightedAverageAcrossUnequalChunks(t *testing.T) {
	p := NewParamTensor("w0", 1, 1, 0.1)
	p.Value.Data()[0] = 0.5
	p.SetExpectedTotal(4)

	delta := gnn.NewTensorFromData("w0", 1, 1, []float32{1})
	// Four pushes of unequal vertex count: the averaged update must still
	// divide by expectedTotal, not by the sum of vertex counts.
	for _, vtcs := range []int{1, 50, 3, 9} {
		require.NoError(t, p.Push(delta, vtcs))
	}

	after, v := p.Pull()
	assert.Equal(t, 1, v)
	assert.InDelta(t, float32(0.4), after.Data()[0], 1e-6)
}

func TestParamTensorPushRejectsShapeMismatch(t *testing.T) {
	p := NewParamTensor("w0", 2, 2, 0.1)
	bad := gnn.NewTensor("w0", 3, 3)
	assert.Error(t, p.Push(bad, 1))
}

func TestParamTensorRoundCompleteTracksApplyBoundary(t *testing.T) {
	p := NewParamTensor("w0", 1, 1, 1.0)
	p.SetExpectedTotal(1)
	assert.False(t, p.RoundComplete(), "no update applied yet")

	g := gnn.NewTensorFromData("w0", 1, 1, []float32{1})
	require.NoError(t, p.Push(g, 1))
	assert.True(t, p.RoundComplete())
}

func TestStoreInstallAndGet(t *testing.T) {
	s := NewStore()
	s.Install(NewParamTensor("w0", 1, 1, 0.1))
	s.Install(NewParamTensor("w1", 2, 2, 0.1))

	_, ok := s.Get("w0")
	assert.True(t, ok)
	_, ok = s.Get("missing")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"w0", "w1"}, s.Names())
}

func TestWeightServerSetExpectedTotalAppliesToAllLayers(t *testing.T) {
	ws := NewWeightServer(0, []uint32{4, 3, 2}, 1.0, nil)
	ws.SetExpectedTotal(2)

	w0, ok := ws.Store.Get("w0")
	require.True(t, ok)
	w1, ok := ws.Store.Get("w1")
	require.True(t, ok)

	g0 := gnn.NewTensor("w0", 4, 3)
	g1 := gnn.NewTensor("w1", 3, 2)

	require.NoError(t, w0.Push(g0, 1))
	require.NoError(t, w1.Push(g1, 1))
	assert.False(t, w0.RoundComplete())

	require.NoError(t, w0.Push(g0, 1))
	require.NoError(t, w1.Push(g1, 1))
	assert.True(t, w0.RoundComplete())
	assert.True(t, w1.RoundComplete())
}
