package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

// GhostPeer is one other graph server this node exchanges ghost updates
// with (spec.md §4.4).
type GhostPeer struct {
	NodeID uint32
	Addr   string
}

// PublishGhosts sends the feature/gradient rows the local vertices vtcs
// owe to peer because peer holds ghost replicas of them (spec.md §4.4).
// values must have one row per entry of vtcs.
func (gs *GraphServer) PublishGhosts(ctx context.Context, peer GhostPeer, layer uint32, dir gnn.Direction, epoch uint32, vtcs []uint32, values *gnn.Tensor) error {
	d := net.Dialer{Timeout: socketReadTimeout}
	conn, err := d.DialContext(ctx, "tcp", peer.Addr)
	if err != nil {
		return fmt.Errorf("dial ghost peer %d: %w", peer.NodeID, err)
	}
	defer conn.Close()

	hdr := gnn.RequestHeader{Op: gnn.OpPush, Field1: layer, Field2: uint32(dir), Field3: epoch, Field4: uint32(len(vtcs))}
	if err := hdr.WriteTo(conn); err != nil {
		return err
	}
	if err := gnn.WriteIDList(conn, vtcs); err != nil {
		return err
	}
	if err := gnn.WriteTensor(conn, values, false); err != nil {
		return err
	}
	var ack int32
	br := bufio.NewReader(conn)
	ack, err = gnn.ReadAck(br)
	if err != nil {
		return err
	}
	if ack != int32(gnn.StatusOK) {
		return fmt.Errorf("ghost peer %d rejected update: status %d", peer.NodeID, ack)
	}
	return nil
}

// scatterChunk sends every row of a just-applied chunk that a peer holds a
// ghost replica of to that peer, batched under gnn.MaxGhostMsgSize (spec.md
// §4.1.3, §4.4). Forward passes scatter "h" (post-activation output);
// backward passes scatter "aTg" (aggregated gradient). A no-op when this
// node has no peer roster (single-node clusters, spec.md §8).
func (gs *GraphServer) scatterChunk(c gnn.Chunk) {
	if len(gs.GhostPeers) == 0 {
		return
	}
	outName := "h"
	if c.Dir == gnn.Backward {
		outName = "aTg"
	}
	t, ok := gs.TensorMap(c.Layer).Get(outName)
	if !ok {
		return
	}
	lo, hi := int(c.LowBound), int(c.UpBound)
	for _, peer := range gs.GhostPeers {
		owned := LocallyOwnedWithGhosts(lo, hi, peer.NodeID, gs.Graph.PeerGhostOwners)
		if len(owned) == 0 {
			continue
		}
		gs.publishGhostBatches(peer, c, outName, t, owned)
	}
}

// publishGhostBatches splits owned local vertex rows into messages no
// larger than gnn.MaxGhostMsgSize and fires one goroutine per batch — the
// commThdCnt scatter-sender thread pool's job (spec.md §5) collapsed onto
// Go's scheduler (DESIGN NOTES §9). Send failures are logged and dropped,
// matching spec.md §7c's "errors in the peer-ghost channel are transient by
// assumption."
func (gs *GraphServer) publishGhostBatches(peer GhostPeer, c gnn.Chunk, name string, t *gnn.Tensor, owned []int) {
	batchSize := gnn.GhostBatchSize(t.Cols)
	for start := 0; start < len(owned); start += batchSize {
		end := start + batchSize
		if end > len(owned) {
			end = len(owned)
		}
		batch := owned[start:end]
		vtcs := make([]uint32, len(batch))
		values := gnn.NewTensor(name, len(batch), t.Cols)
		for i, v := range batch {
			vtcs[i] = gs.Graph.LocalGlobalID[v]
			copy(values.Row(i), t.Row(v))
		}
		go func(vtcs []uint32, values *gnn.Tensor) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := gs.PublishGhosts(ctx, peer, c.Layer, c.Dir, c.Epoch, vtcs, values); err != nil {
				gs.log.Warn("ghost publish failed", "peer", peer.NodeID, "chunk", c, "error", err)
			}
		}(vtcs, values)
	}
}

// ServeGhostInbound accepts ghost-update connections from peer graph
// servers and installs each row into this node's ghost cache, advancing
// the current layer pass's ghost progress counter (spec.md §4.4,
// §4.1.4).
func (gs *GraphServer) ServeGhostInbound(addr string, apply func(layer uint32, dir gnn.Direction, epoch uint32, globalID uint32, row []float32)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	gs.log.Info("ghost listener started", "addr", addr)

	for !gs.Halted() {
		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(socketReadTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			if gs.Halted() {
				return nil
			}
			continue
		}
		go gs.handleGhostConn(conn, apply)
	}
	return nil
}

func (gs *GraphServer) handleGhostConn(conn net.Conn, apply func(layer uint32, dir gnn.Direction, epoch uint32, globalID uint32, row []float32)) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	hdr, err := gnn.ReadRequestHeader(r)
	if err != nil {
		gs.log.Debug("ghost connection read failed", "error", err)
		return
	}
	vtcs, err := gnn.ReadIDList(r, int(hdr.Field4))
	if err != nil {
		gs.log.Warn("malformed ghost id list", "error", err)
		return
	}
	th, err := gnn.ReadTensorHeader(r)
	if err != nil {
		gs.log.Warn("malformed ghost tensor header", "error", err)
		return
	}
	values, err := gnn.ReadTensor(r, th)
	if err != nil {
		gs.log.Warn("malformed ghost tensor body", "error", err)
		return
	}
	dir := gnn.Direction(hdr.Field2)
	for i, gid := range vtcs {
		apply(hdr.Field1, dir, hdr.Field3, gid, values.Row(i))
		if !gs.seenGhost(ghostKey{layer: hdr.Field1, dir: dir, epoch: hdr.Field3, globalID: gid}) {
			gs.onGhostReceived()
		}
	}
	gnn.WriteAck(conn, gnn.StatusOK)
}
