package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sarda-devesh/dorylus/go/gnn"
)

// ConvergeState mirrors the engine's convergence flag (spec.md §4.1.4).
type ConvergeState int

const (
	Running ConvergeState = iota
	Converged
)

// EpochLedger is the per-epoch accuracy/loss accumulator, closed once
// every chunk of the epoch has reported (spec.md §3).
type EpochLedger struct {
	mu        sync.Mutex
	acc       float64
	loss      float64
	vtcsCnt   int
	chunkCnt  int
	wantCnt   int
	closed    bool
	onClose   func(acc, loss float64)
}

func NewEpochLedger(wantChunks int, onClose func(acc, loss float64)) *EpochLedger {
	return &EpochLedger{wantCnt: wantChunks, onClose: onClose}
}

// Add folds in one chunk's contribution, weighted by vertex count, and
// closes the ledger once every expected chunk has reported.
func (l *EpochLedger) Add(acc, loss float32, vtcsCnt int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.acc += float64(acc) * float64(vtcsCnt)
	l.loss += float64(loss) * float64(vtcsCnt)
	l.vtcsCnt += vtcsCnt
	l.chunkCnt++
	if l.chunkCnt == l.wantCnt {
		l.closed = true
		finalAcc, finalLoss := l.acc, l.loss
		if l.vtcsCnt > 0 {
			finalAcc /= float64(l.vtcsCnt)
			finalLoss /= float64(l.vtcsCnt)
		}
		if l.onClose != nil {
			l.onClose(finalAcc, finalLoss)
		}
	}
}

// EngineMetrics accumulates the per-epoch timing vectors the original
// engine tracked (engine.hpp's vecTimeAggregate et al.), supplemented per
// SPEC_FULL.md #3. RunEpoch does not call recordEpoch, so in this build the
// vectors stay empty during training.
type EngineMetrics struct {
	mu              sync.Mutex
	Aggregate       []time.Duration
	ApplyVtx        []time.Duration
	Scatter         []time.Duration
	EpochTotal      []time.Duration
}

func (m *EngineMetrics) recordEpoch(aggregate, applyVtx, scatter, total time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Aggregate = append(m.Aggregate, aggregate)
	m.ApplyVtx = append(m.ApplyVtx, applyVtx)
	m.Scatter = append(m.Scatter, scatter)
	m.EpochTotal = append(m.EpochTotal, total)
}

// LayerState is a (layer, direction) pass's mutable progress counters,
// reset at the start of every pass (spec.md §4.1.4).
type LayerState struct {
	NumChunks          int32
	ChunksDispatched   atomic.Int32
	ChunksScattered    atomic.Int32
	GhostVtcsRecvd     atomic.Int32
	ExpectedGhostCount int32
}

func (s *LayerState) Complete() bool {
	return s.ChunksScattered.Load() == s.NumChunks && s.GhostVtcsRecvd.Load() == s.ExpectedGhostCount
}

// GraphServer is the per-machine pipeline engine plus the dispatch/retry
// RPC endpoint compute workers and peer graph servers talk to. One
// instance per process; the global-singleton engine the original source
// carried is replaced by an explicit value created in main and threaded
// through, per DESIGN NOTES §9.
type GraphServer struct {
	NodeID    uint32
	NumNodes  uint32
	Cfg       gnn.Config
	Graph     *Graph
	Layers    []uint32 // layer dimensions, input included
	NumLayers int

	// savedNNTensors[layer] is the tensor map for that layer, the stable
	// address space the wire protocol references (spec.md §3).
	savedNNTensors []*gnn.Map
	tensorMu       sync.RWMutex

	Timeouts *TimeoutTable
	Spawner  gnn.Spawner

	// GhostPeers is the roster of peer graph servers to scatter updated
	// local-vertex rows to, loaded from the dsh machines file. Empty on a
	// single-node cluster, where scatter is a no-op (spec.md §8 boundary
	// behavior).
	GhostPeers []GhostPeer

	log *slog.Logger

	currentLayer LayerState
	layerDone    chan struct{}
	layerMu      sync.Mutex

	convergeState atomic.Int32 // ConvergeState

	epochLedgers sync.Map // epoch uint32 -> *EpochLedger
	Metrics      EngineMetrics

	ghostCache *lru.LRU[ghostKey, struct{}]

	halted atomic.Bool

	outputSink OutputSink

	ProcMetrics *gnn.ProcessMetrics

	ghostMu            sync.Mutex
	currentGhostTensor *gnn.Tensor

	// features holds the input feature tensor "x" and ground-truth
	// labels tensor "lab", read once at startup (spec.md §6 featuresFile,
	// labelsFile) rather than reallocated every epoch.
	features *gnn.Map
}

// OutputSink is where per-epoch timing and accuracy/loss lines land
// (spec.md §6 "persisted state"). Implemented by outputsink.FileSink and
// outputsink.PostgresSink (SPEC_FULL.md DOMAIN STACK).
type OutputSink interface {
	WriteEpoch(epoch uint32, acc, loss float64, elapsed time.Duration) error
	Close() error
}

// NewGraphServer wires a GraphServer from config and a pre-built graph
// shard. layerDims is the layerConfigFile contents (spec.md §6): one
// dimension per layer, input included.
func NewGraphServer(nodeID, numNodes uint32, cfg gnn.Config, graph *Graph, layerDims []uint32, spawner gnn.Spawner, sink OutputSink) *GraphServer {
	numLayers := len(layerDims) - 1
	gs := &GraphServer{
		NodeID:     nodeID,
		NumNodes:   numNodes,
		Cfg:        cfg,
		Graph:      graph,
		Layers:     layerDims,
		NumLayers:  numLayers,
		Timeouts:   NewTimeoutTable(),
		Spawner:    spawner,
		log:        slog.With("node", nodeID, "role", "graph-server"),
		ghostCache:  lru.NewLRU[ghostKey, struct{}](4096, nil, 10*time.Minute),
		outputSink:  sink,
		ProcMetrics: gnn.NewProcessMetrics("graph-server"),
	}
	gs.savedNNTensors = make([]*gnn.Map, numLayers+1)
	for l := range gs.savedNNTensors {
		gs.savedNNTensors[l] = gnn.NewMap()
	}
	gs.features = gnn.NewMap()
	return gs
}

// TensorMap returns the tensor map for a layer, or nil for a layer out of
// range; it never allocates.
func (gs *GraphServer) TensorMap(layer uint32) *gnn.Map {
	gs.tensorMu.RLock()
	defer gs.tensorMu.RUnlock()
	if int(layer) >= len(gs.savedNNTensors) {
		return nil
	}
	return gs.savedNNTensors[layer]
}

// AllocateIntermediate (re)allocates the per-layer scratch tensors ah, z,
// h, grad, aTg at the shapes implied by layerConfig and the local vertex
// count, reused across every epoch (spec.md §3's lifecycle note).
func (gs *GraphServer) AllocateIntermediate() {
	rows := gs.Graph.LocalVertexCount
	for layer := 0; layer < gs.NumLayers; layer++ {
		inDim := int(gs.Layers[layer])
		outDim := int(gs.Layers[layer+1])
		m := gs.savedNNTensors[layer]
		m.Save(gnn.NewTensor("ah", rows, inDim))
		m.Save(gnn.NewTensor("z", rows, outDim))
		m.Save(gnn.NewTensor("h", rows, outDim))
		m.Save(gnn.NewTensor("grad", rows, outDim))
		m.Save(gnn.NewTensor("aTg", rows, inDim))
	}
}

// ExposeLabels shares the ground-truth "lab" tensor into the output
// layer's own tensor map, so a compute worker's normal PULL for the final
// layer can fetch labels the same way it fetches ah and weights, without a
// dedicated wire op (spec.md §4.1.2's final-layer apply).
func (gs *GraphServer) ExposeLabels() {
	lab, ok := gs.features.Get("lab")
	if !ok || gs.NumLayers == 0 {
		return
	}
	gs.savedNNTensors[gs.NumLayers-1].Save(lab)
}

// Halt raises the advisory, polled-at-every-loop-head halt flag
// (spec.md §5).
func (gs *GraphServer) Halt() {
	gs.halted.Store(true)
}

func (gs *GraphServer) Halted() bool {
	return gs.halted.Load()
}

// LedgerFor returns (creating if absent) the epoch ledger for epoch,
// closed once chunkCnt reaches numChunks (spec.md §3).
func (gs *GraphServer) LedgerFor(epoch uint32, numChunks int) *EpochLedger {
	if v, ok := gs.epochLedgers.Load(epoch); ok {
		return v.(*EpochLedger)
	}
	ledger := NewEpochLedger(numChunks, func(acc, loss float64) {
		gs.log.Info("epoch evaluation closed", "epoch", epoch, "acc", acc, "loss", loss)
	})
	actual, _ := gs.epochLedgers.LoadOrStore(epoch, ledger)
	return actual.(*EpochLedger)
}

// MakeBarrier blocks until ctx is done or the coordinator signals release,
// synchronising layer boundaries across all graph servers (spec.md
// §4.1.4). The concrete coordination transport lives in go/coord.
func (gs *GraphServer) MakeBarrier(ctx context.Context, barrier BarrierClient, layer uint32, dir gnn.Direction, epoch uint32) error {
	if barrier == nil {
		return nil // single-node cluster: no-op (spec.md §8 boundary behavior)
	}
	return barrier.Barrier(ctx, fmt.Sprintf("%d-%d-%d", epoch, layer, dir))
}

// BarrierClient is the coordination-channel capability the pipeline needs;
// go/coord provides a gRPC-backed implementation.
type BarrierClient interface {
	Barrier(ctx context.Context, tag string) error
}
