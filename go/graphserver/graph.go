package main

import "github.com/sarda-devesh/dorylus/go/gnn"

// Graph is one machine's vertex shard: local vertices numbered [0, L), and
// ghost replicas of peer-owned vertices numbered contiguously after L
// (spec.md §3). Adjacency is stored twice — CSC for forward gather, CSR
// for backward gather — the way a sharded GNN engine avoids transposing a
// large sparse matrix on every sweep direction change.
type Graph struct {
	LocalVertexCount int
	NormFactor       []float32 // degree-derived scalar per local vertex

	// CSC: column v's in-edges (u, v) live in RowIdx[ColPtr[v]:ColPtr[v+1]],
	// with matching edge weights in CSCVal at the same offsets. Column
	// indices are local ids; row indices may reference ghost slots.
	ColPtr []int
	RowIdx []int
	CSCVal []float32

	// CSR: row v's out-edges (v, w) live in ColIdx[RowPtr[v]:RowPtr[v+1]],
	// used by the backward sweep's aggregation.
	RowPtr []int
	ColIdx []int
	CSRVal []float32

	// GlobalToGhost translates a global vertex id arriving on the wire to
	// a local ghost slot (>= LocalVertexCount). Populated by the
	// partitioner output; out of this package's scope to construct from
	// raw files (spec.md §1 excludes the on-disk partition format), but
	// every consumer here treats it as already built.
	GlobalToGhost map[uint32]int

	SrcGhostCount int // ghosts this node pulls forward features for
	DstGhostCount int // ghosts this node receives scattered updates into

	// LocalGlobalID translates a local vertex id to the graph-wide id peer
	// nodes know it by, needed only for vertices this node must scatter to
	// a peer's ghost replica (spec.md §4.4's gvid). Unset for a local
	// vertex with no peer ghosts.
	LocalGlobalID []uint32

	// PeerGhostOwners maps a local vertex id to the peer node ids holding
	// a ghost replica of it, the scatter stage's per-peer fan-out list
	// (spec.md §4.1.3). Populated by the partitioner output; nil on a
	// single-node cluster, where scatter is a no-op (spec.md §8 boundary
	// behavior).
	PeerGhostOwners map[int][]uint32
}

// NewGraph builds an empty graph shard sized for localVertexCount real
// vertices. ghostCount is not used; callers set SrcGhostCount and
// DstGhostCount and populate adjacency and GlobalToGhost from the
// partitioner's output.
func NewGraph(localVertexCount, ghostCount int) *Graph {
	return &Graph{
		LocalVertexCount: localVertexCount,
		NormFactor:       make([]float32, localVertexCount),
		ColPtr:           make([]int, localVertexCount+1),
		RowPtr:           make([]int, localVertexCount+1),
		GlobalToGhost:    make(map[uint32]int),
		LocalGlobalID:    make([]uint32, localVertexCount),
		PeerGhostOwners:  make(map[int][]uint32),
	}
}

// MirrorUndirected copies the CSC adjacency into the CSR slot so
// out-edges equal in-edges, the direct reading of the original engine's
// dual-adjacency construction for undirected datasets (SPEC_FULL.md
// SUPPLEMENTED FEATURES #4).
func (g *Graph) MirrorUndirected() {
	g.RowPtr = append([]int(nil), g.ColPtr...)
	g.ColIdx = append([]int(nil), g.RowIdx...)
	g.CSRVal = append([]float32(nil), g.CSCVal...)
}

// GhostSlot resolves a global vertex id to its local ghost row, or false
// if this node holds no ghost for it.
func (g *Graph) GhostSlot(globalID uint32) (int, bool) {
	slot, ok := g.GlobalToGhost[globalID]
	return slot, ok
}

// GatherForward computes, for each local vertex v in [lo, hi):
//
//	ah[v] = normFactor(v) * h[v] + Σ_{(u,v) ∈ E_in} edgeWeight(u,v) * h[u]
//
// using the CSC adjacency (spec.md §4.1.1). h is indexed [0, L) for local
// vertices and [L, L+SrcGhostCount) for source-side ghosts via ghost.
// Zero-degree vertices (ColPtr[v]==ColPtr[v+1]) still receive the
// self-norm term (spec.md §8 boundary behavior).
func (g *Graph) GatherForward(lo, hi int, h func(row int) []float32, ghost func(row int) []float32, out *gnn.Tensor) {
	featDim := out.Cols
	for v := lo; v < hi; v++ {
		dst := out.Row(v - lo)
		selfRow := h(v)
		for j := 0; j < featDim; j++ {
			dst[j] = g.NormFactor[v] * selfRow[j]
		}
		for e := g.ColPtr[v]; e < g.ColPtr[v+1]; e++ {
			u := g.RowIdx[e]
			w := g.CSCVal[e]
			var srcRow []float32
			if u < g.LocalVertexCount {
				srcRow = h(u)
			} else {
				srcRow = ghost(u - g.LocalVertexCount)
			}
			for j := 0; j < featDim; j++ {
				dst[j] += w * srcRow[j]
			}
		}
	}
}

// GatherBackward is the same accumulation over the CSR adjacency, serving
// the backward sweep's aTg = f(grad) (spec.md §4.1.1).
func (g *Graph) GatherBackward(lo, hi int, grad func(row int) []float32, ghost func(row int) []float32, out *gnn.Tensor) {
	featDim := out.Cols
	for v := lo; v < hi; v++ {
		dst := out.Row(v - lo)
		selfRow := grad(v)
		for j := 0; j < featDim; j++ {
			dst[j] = g.NormFactor[v] * selfRow[j]
		}
		for e := g.RowPtr[v]; e < g.RowPtr[v+1]; e++ {
			u := g.ColIdx[e]
			w := g.CSRVal[e]
			var srcRow []float32
			if u < g.LocalVertexCount {
				srcRow = grad(u)
			} else {
				srcRow = ghost(u - g.LocalVertexCount)
			}
			for j := 0; j < featDim; j++ {
				dst[j] += w * srcRow[j]
			}
		}
	}
}

// LocallyOwnedWithGhosts returns the local vertices in [lo, hi) that have
// at least one ghost replica on peerID, used by the scatter stage to
// decide which rows to batch into an outgoing message (spec.md §4.1.3).
// peerGhosts maps a local vertex id to the set of peer node ids holding a
// ghost of it; building that map from the partitioner output is out of
// this package's scope (spec.md §1), so it is supplied by the caller.
func LocallyOwnedWithGhosts(lo, hi int, peerID uint32, peerGhosts map[int][]uint32) []int {
	var out []int
	for v := lo; v < hi; v++ {
		for _, p := range peerGhosts[v] {
			if p == peerID {
				out = append(out, v)
				break
			}
		}
	}
	return out
}
