package main

import "github.com/sarda-devesh/dorylus/go/gnn"

// ghostKey identifies one (layer, direction, epoch, vertex) ghost update,
// the unit a relaunch can redeliver. seenGhost guards onGhostReceived's
// counter against being incremented twice for the same update.
type ghostKey struct {
	layer    uint32
	dir      gnn.Direction
	epoch    uint32
	globalID uint32
}

// seenGhost reports whether this exact ghost update was already applied
// recently, and records it if not. A relaunched chunk whose original
// dispatch eventually also lands produces a duplicate delivery of the
// same update; the last writer still wins in ghostRow's backing tensor,
// but the per-layer-pass completion counter must only advance once.
func (gs *GraphServer) seenGhost(key ghostKey) bool {
	if gs.ghostCache.Contains(key) {
		return true
	}
	gs.ghostCache.Add(key, struct{}{})
	return false
}

// prepareGhostTensor allocates the scratch tensor this pass's inbound
// ghost updates land in, sized (SrcGhostCount, dim). The previous pass's
// tensor is what the gather stage ahead of this pass reads from, so
// callers must gather before calling this for the same layer.
func (gs *GraphServer) prepareGhostTensor(dim int) *gnn.Tensor {
	gs.ghostMu.Lock()
	defer gs.ghostMu.Unlock()
	gs.currentGhostTensor = gnn.NewTensor("", gs.Graph.SrcGhostCount, dim)
	return gs.currentGhostTensor
}

// ghostRow reads from whichever ghost tensor is currently installed, or
// returns an empty slice if none has been prepared yet (spec.md §8's
// zero-ghost boundary case for a single-node cluster).
func (gs *GraphServer) ghostRow(row int) []float32 {
	gs.ghostMu.Lock()
	t := gs.currentGhostTensor
	gs.ghostMu.Unlock()
	if t == nil {
		return make([]float32, 0)
	}
	return t.Row(row)
}

// applyGhostUpdate installs one incoming ghost row into the current
// layer pass's ghost scratch tensor (wired from main's ServeGhostInbound
// callback).
func (gs *GraphServer) applyGhostUpdate(layer uint32, dir gnn.Direction, epoch uint32, globalID uint32, row []float32) {
	slot, ok := gs.Graph.GhostSlot(globalID)
	if !ok {
		gs.log.Warn("ghost update for unknown global id", "globalID", globalID)
		return
	}
	gs.ghostMu.Lock()
	t := gs.currentGhostTensor
	gs.ghostMu.Unlock()
	if t == nil || slot >= t.Rows {
		return
	}
	copy(t.Row(slot), row)
}

// buildChunksForPass partitions this node's local vertex range into chunks
// for one (layer, direction) pass, sized off NumLambdasForward or
// NumLambdasBackward depending on dir (spec.md §3's chunk descriptor, §6's
// per-direction lambda counts, §8's ceil-division boundary behavior).
// D_THREADS plays no part in chunk counts. The chunks carry epoch 0 here;
// RunLayerPass stamps the pass's epoch on each one before dispatch.
func (gs *GraphServer) buildChunksForPass(layer uint32, dir gnn.Direction) []gnn.Chunk {
	numLambdas := gs.Cfg.NumLambdasForward
	if dir == gnn.Backward {
		numLambdas = gs.Cfg.NumLambdasBackward
	}
	ranges := gnn.ChunkRanges(gs.Graph.LocalVertexCount, numLambdas)
	chunks := make([]gnn.Chunk, len(ranges))
	chunksPerNode := uint32(len(ranges))
	for i, r := range ranges {
		chunks[i] = gnn.NewChunk(gs.NodeID, chunksPerNode, uint32(i), uint32(r[0]), uint32(r[1]), layer, dir, 0, true)
	}
	return chunks
}

// expectedGhostsForPass reports how many ghost updates this node should
// expect before a pass is complete. Single-node clusters expect none.
func (gs *GraphServer) expectedGhostsForPass(layer uint32, dir gnn.Direction) int32 {
	if gs.NumNodes <= 1 {
		return 0
	}
	return int32(gs.Graph.DstGhostCount)
}
