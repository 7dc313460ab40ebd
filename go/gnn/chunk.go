package gnn

import "fmt"

// Direction is the sweep direction a chunk belongs to.
type Direction uint32

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "backward"
}

// Chunk is an immutable value identifying a unit of work: a contiguous
// range [LowBound, UpBound) of local vertex rows within one layer and
// direction of one epoch (spec.md §3).
type Chunk struct {
	LocalID  uint32
	GlobalID uint32
	LowBound uint32
	UpBound  uint32
	Layer    uint32
	Dir      Direction
	Epoch    uint32
	Vertex   bool // true for vertex-NN chunks, false for edge-NN chunks
}

// NewChunk computes GlobalID from nodeID and chunksPerNode per spec.md §3:
// globalId = nodeId * chunksPerNode + localId.
func NewChunk(nodeID, chunksPerNode, localID, low, up, layer uint32, dir Direction, epoch uint32, vertex bool) Chunk {
	return Chunk{
		LocalID:  localID,
		GlobalID: nodeID*chunksPerNode + localID,
		LowBound: low,
		UpBound:  up,
		Layer:    layer,
		Dir:      dir,
		Epoch:    epoch,
		Vertex:   vertex,
	}
}

// Size is the number of local vertex rows this chunk covers.
func (c Chunk) Size() int {
	return int(c.UpBound - c.LowBound)
}

func (c Chunk) String() string {
	return fmt.Sprintf("chunk{local=%d global=%d rows=[%d,%d) layer=%d dir=%s epoch=%d vertex=%v}",
		c.LocalID, c.GlobalID, c.LowBound, c.UpBound, c.Layer, c.Dir, c.Epoch, c.Vertex)
}

// Key is a value usable as a map key uniquely identifying a chunk across
// relaunches (the timeout table's authoritative membership key).
type Key struct {
	LocalID uint32
	Layer   uint32
	Dir     Direction
	Epoch   uint32
	Vertex  bool
}

// Key returns this chunk's identity, ignoring LowBound/UpBound/GlobalID
// which never change across a relaunch of the same chunk.
func (c Chunk) Key() Key {
	return Key{LocalID: c.LocalID, Layer: c.Layer, Dir: c.Dir, Epoch: c.Epoch, Vertex: c.Vertex}
}

// ChunkRanges splits L local vertices into at most K ranges of ceil(L/K)
// rows each, the last one taking whatever remains (spec.md §8 boundary
// behavior: the last chunk covers L - (K-1)*ceil(L/K) rows when K ranges
// result). Fewer than K ranges are returned when ceil(L/K) rows per range
// use up L early, e.g. L=5, K=4 gives 3 ranges.
func ChunkRanges(l, k int) [][2]int {
	if k <= 0 {
		panic("ChunkRanges: k must be positive")
	}
	if l == 0 {
		return nil
	}
	chunkSize := (l + k - 1) / k // ceil(L/K)
	ranges := make([][2]int, 0, k)
	for low := 0; low < l; low += chunkSize {
		high := low + chunkSize
		if high > l {
			high = l
		}
		ranges = append(ranges, [2]int{low, high})
	}
	return ranges
}
