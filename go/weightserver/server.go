package main

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sarda-devesh/dorylus/go/weightserver/dashboard"
)

// WeightServer is the versioned parameter store one process owns: a
// tensor per layer, served over the same dispatch/retry wire protocol the
// graph server speaks, plus an optional websocket progress dashboard
// (spec.md §4.3, SPEC_FULL.md's DOMAIN STACK).
type WeightServer struct {
	Store     *Store
	NumLayers int

	halted atomic.Bool
	log    *slog.Logger

	Dashboard *dashboard.Hub // nil when no DASHBOARD_ADDR is configured

	evalLedgers       sync.Map // epoch uint32 -> *EvalLedger
	expectedRoundSize atomic.Int64
}

// NewWeightServer allocates one weight tensor per layer at the shape
// implied by layerDims (input dim included, same file the graph server
// reads). lr is the learning rate applied on every averaged update.
func NewWeightServer(nodeID int, layerDims []uint32, lr float32, dash *dashboard.Hub) *WeightServer {
	numLayers := len(layerDims) - 1
	store := NewStore()
	for l := 0; l < numLayers; l++ {
		inDim, outDim := int(layerDims[l]), int(layerDims[l+1])
		store.Install(NewParamTensor(weightName(l), inDim, outDim, lr))
	}
	return &WeightServer{
		Store:     store,
		NumLayers: numLayers,
		log:       slog.With("node", nodeID, "role", "weight-server"),
		Dashboard: dash,
	}
}

// weightName derives the tensor map key for a layer's weight matrix. It
// must fit gnn.MaxTensorName.
func weightName(layer int) string {
	return fmt.Sprintf("w%d", layer)
}

func (ws *WeightServer) Halt() {
	ws.halted.Store(true)
}

func (ws *WeightServer) Halted() bool {
	return ws.halted.Load()
}

// SetExpectedTotal configures every layer's round size at once. The graph
// server's INFO op calls it once at startup, since node count and chunk
// partitioning are fixed for the run (spec.md §4.3's INFO op).
func (ws *WeightServer) SetExpectedTotal(n int) {
	ws.expectedRoundSize.Store(int64(n))
	for _, name := range ws.Store.Names() {
		t, ok := ws.Store.Get(name)
		if ok {
			t.SetExpectedTotal(n)
		}
	}
}
