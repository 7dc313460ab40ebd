package main

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

// TestScatterChunkDeliversOwnedRowsToPeer wires one GraphServer's scatter
// stage directly to a second one's ghost-inbound handler, the way two
// graph-server processes exchange ghost updates in a real cluster (spec.md
// §4.1.3, §4.4).
func TestScatterChunkDeliversOwnedRowsToPeer(t *testing.T) {
	receiver := NewGraph(2, 0)
	receiver.GlobalToGhost[100] = 0 // peer's local vertex 0 arrives as global id 100
	rs := NewGraphServer(1, 2, gnn.Config{}, receiver, []uint32{2, 2}, nil, nil)

	var mu sync.Mutex
	received := map[uint32][]float32{}
	apply := func(layer uint32, dir gnn.Direction, epoch uint32, globalID uint32, row []float32) {
		mu.Lock()
		defer mu.Unlock()
		received[globalID] = append([]float32(nil), row...)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		rs.handleGhostConn(conn, apply)
	}()

	sender := NewGraph(3, 0)
	sender.PeerGhostOwners[0] = []uint32{1} // local vertex 0 has a ghost replica on node 1
	sender.LocalGlobalID[0] = 100

	gs := NewGraphServer(0, 2, gnn.Config{}, sender, []uint32{2, 2}, nil, nil)
	gs.GhostPeers = []GhostPeer{{NodeID: 1, Addr: ln.Addr().String()}}
	gs.AllocateIntermediate()

	h, ok := gs.TensorMap(0).Get("h")
	require.True(t, ok)
	copy(h.Row(0), []float32{4, 5})

	c := gnn.NewChunk(0, 1, 0, 0, 3, 0, gnn.Forward, 7, true)
	gs.scatterChunk(c)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		_, ok := received[100]
		return ok
	}, 2*time.Second, 10*time.Millisecond, "peer should have received the scattered row")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float32{4, 5}, received[100])
}

func TestScatterChunkNoopsWithoutPeerRoster(t *testing.T) {
	g := NewGraph(2, 0)
	gs := NewGraphServer(0, 1, gnn.Config{}, g, []uint32{2, 2}, nil, nil)
	gs.AllocateIntermediate()
	c := gnn.NewChunk(0, 1, 0, 0, 2, 0, gnn.Forward, 1, true)
	gs.scatterChunk(c) // must not panic with no GhostPeers configured
}
