package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

func sampleChunk(localID uint32) gnn.Chunk {
	return gnn.NewChunk(0, 4, localID, localID*10, localID*10+10, 0, gnn.Forward, 1, true)
}

func TestTimeoutTableContainsAfterInsert(t *testing.T) {
	tt := NewTimeoutTable()
	c := sampleChunk(0)
	assert.False(t, tt.Contains(c.Key()))
	tt.Insert(c)
	assert.True(t, tt.Contains(c.Key()))
}

func TestTimeoutTableRemoveIsOneShot(t *testing.T) {
	tt := NewTimeoutTable()
	c := sampleChunk(1)
	tt.Insert(c)

	assert.True(t, tt.Remove(c.Key()), "first remove wins")
	assert.False(t, tt.Remove(c.Key()), "second remove finds nothing, the duplicate-push discard path")
	assert.False(t, tt.Contains(c.Key()))
}

func TestTimeoutTableSnapshotIsACopy(t *testing.T) {
	tt := NewTimeoutTable()
	tt.Insert(sampleChunk(0))
	tt.Insert(sampleChunk(1))

	snap := tt.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, 2, tt.Len())
}
