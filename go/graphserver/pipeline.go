package main

import (
	"context"
	"time"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

// relaunchState tracks one in-flight chunk's dispatch history so the
// relaunch loop can grow its timeout and eventually give up, the Go
// reading of coordserver.cpp's failedCnt/SLEEP_FREQUENCY/ABORT_LIMIT
// escalation (SPEC_FULL.md SUPPLEMENTED FEATURES #2).
type relaunchState struct {
	dispatchedAt time.Time
	attempts     int
}

const (
	baseChunkTimeout  = 500 * time.Millisecond
	timeoutGrowth     = 1.5
	maxChunkTimeout   = 10 * time.Second
	relaunchPoll      = 100 * time.Millisecond
	abortLimit        = 100
)

// nextTimeout grows the window multiplicatively: it starts at
// baseChunkTimeout, is multiplied by timeoutGrowth for each failed round,
// and is capped at maxChunkTimeout so a wedged worker doesn't starve the
// poll loop.
func nextTimeout(attempts int) time.Duration {
	d := baseChunkTimeout
	for i := 0; i < attempts; i++ {
		d = time.Duration(float64(d) * timeoutGrowth)
		if d >= maxChunkTimeout {
			return maxChunkTimeout
		}
	}
	return d
}

// RunLayerPass dispatches every chunk of one (layer, direction) pass,
// relaunching chunks whose response hasn't arrived within their adaptive
// timeout, until the pass completes or ctx is cancelled (spec.md §4.1.3,
// §4.2).
func (gs *GraphServer) RunLayerPass(ctx context.Context, layer uint32, dir gnn.Direction, epoch uint32, chunks []gnn.Chunk, expectedGhosts int32) error {
	outDim := int(gs.Layers[layer+1])
	if dir == gnn.Backward {
		outDim = int(gs.Layers[layer])
	}
	gs.prepareGhostTensor(outDim)

	gs.layerMu.Lock()
	gs.currentLayer = LayerState{NumChunks: int32(len(chunks)), ExpectedGhostCount: expectedGhosts}
	gs.layerDone = make(chan struct{})
	done := gs.layerDone
	gs.layerMu.Unlock()

	state := make(map[gnn.Key]*relaunchState, len(chunks))
	for _, c := range chunks {
		c.Epoch = epoch
		gs.Timeouts.Insert(c)
		if err := gs.Spawner.Dispatch(ctx, c); err != nil {
			return err
		}
		gs.currentLayer.ChunksDispatched.Add(1)
		gs.ProcMetrics.ChunksDispatched.Inc()
		state[c.Key()] = &relaunchState{dispatchedAt: time.Now()}
	}

	ticker := time.NewTicker(relaunchPoll)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := gs.relaunchStale(ctx, state); err != nil {
				return err
			}
		}
	}
}

// relaunchStale re-dispatches every chunk still present in the timeout
// table whose adaptive window has elapsed, and reports an abort if any
// chunk exceeds abortLimit attempts (spec.md §4.2 "adaptive backoff with
// an abort threshold").
func (gs *GraphServer) relaunchStale(ctx context.Context, state map[gnn.Key]*relaunchState) error {
	now := time.Now()
	for _, c := range gs.Timeouts.Snapshot() {
		st, ok := state[c.Key()]
		if !ok {
			continue
		}
		if now.Sub(st.dispatchedAt) < nextTimeout(st.attempts) {
			continue
		}
		st.attempts++
		if st.attempts >= abortLimit {
			gs.log.Error("chunk exceeded abort limit, halting", "chunk", c, "attempts", st.attempts)
			gs.Halt()
			return errAbortLimitExceeded
		}
		gs.log.Warn("relaunching stale chunk", "chunk", c, "attempt", st.attempts)
		if err := gs.Spawner.Dispatch(ctx, c); err != nil {
			return err
		}
		gs.ProcMetrics.RelaunchCount.Inc()
		st.dispatchedAt = now
	}
	return nil
}

var errAbortLimitExceeded = abortError{}

type abortError struct{}

func (abortError) Error() string { return "chunk exceeded relaunch abort limit" }

// onApplyComplete records one chunk's scatter completion, fans its updated
// rows out to any peer holding a ghost replica of them, and wakes
// RunLayerPass once every chunk and expected ghost update has landed.
func (gs *GraphServer) onApplyComplete(c gnn.Chunk) {
	gs.currentLayer.ChunksScattered.Add(1)
	gs.ProcMetrics.ChunksCompleted.Inc()
	gs.scatterChunk(c)
	gs.checkLayerComplete()
}

// onGhostReceived records one incoming ghost-vertex update, called from
// the ghost-exchange receiver goroutine.
func (gs *GraphServer) onGhostReceived() {
	gs.currentLayer.GhostVtcsRecvd.Add(1)
	gs.checkLayerComplete()
}

func (gs *GraphServer) checkLayerComplete() {
	gs.layerMu.Lock()
	defer gs.layerMu.Unlock()
	if gs.layerDone == nil || !gs.currentLayer.Complete() {
		return
	}
	select {
	case <-gs.layerDone:
	default:
		close(gs.layerDone)
	}
}

// runGatherStage performs the graph server's own aggregation step ahead
// of a pass: forward gathers the previous layer's output features (or
// the raw input features, for layer 0) into "ah"; backward gathers the
// next layer's pre-aggregation gradient contribution into "grad" (spec.md
// §4.1.1). The last layer's backward pass skips gathering entirely: its
// "grad" arrives already populated by the compute worker's softmax+loss
// apply during the preceding forward pass (runOutputForward).
func (gs *GraphServer) runGatherStage(layer uint32, dir gnn.Direction) {
	tm := gs.TensorMap(layer)
	if dir == gnn.Forward {
		var source *gnn.Tensor
		if layer == 0 {
			source, _ = gs.features.Get("x")
		} else {
			source, _ = gs.TensorMap(layer - 1).Get("h")
		}
		ah, _ := tm.Get("ah")
		if source == nil || ah == nil {
			return
		}
		gs.Graph.GatherForward(0, gs.Graph.LocalVertexCount, source.Row, gs.ghostRow, ah)
		return
	}
	if layer == uint32(gs.NumLayers)-1 {
		return // seeded from loss, not gathered
	}
	source, _ := gs.TensorMap(layer + 1).Get("aTg")
	grad, _ := tm.Get("grad")
	if source == nil || grad == nil {
		return
	}
	gs.Graph.GatherBackward(0, gs.Graph.LocalVertexCount, source.Row, gs.ghostRow, grad)
}

// RunEpoch drives one full forward sweep followed by one backward sweep,
// barriering at every layer boundary (spec.md §4.1.4). buildChunks and
// expectedGhosts are supplied by main, which knows the partition's layout.
func (gs *GraphServer) RunEpoch(ctx context.Context, epoch uint32, barrier BarrierClient, buildChunks func(layer uint32, dir gnn.Direction) []gnn.Chunk, expectedGhosts func(layer uint32, dir gnn.Direction) int32) error {
	start := time.Now()
	for layer := uint32(0); layer < uint32(gs.NumLayers); layer++ {
		gs.runGatherStage(layer, gnn.Forward)
		chunks := buildChunks(layer, gnn.Forward)
		if err := gs.RunLayerPass(ctx, layer, gnn.Forward, epoch, chunks, expectedGhosts(layer, gnn.Forward)); err != nil {
			return err
		}
		if err := gs.MakeBarrier(ctx, barrier, layer, gnn.Forward, epoch); err != nil {
			return err
		}
	}
	for layer := uint32(gs.NumLayers) - 1; ; layer-- {
		gs.runGatherStage(layer, gnn.Backward)
		chunks := buildChunks(layer, gnn.Backward)
		if err := gs.RunLayerPass(ctx, layer, gnn.Backward, epoch, chunks, expectedGhosts(layer, gnn.Backward)); err != nil {
			return err
		}
		if err := gs.MakeBarrier(ctx, barrier, layer, gnn.Backward, epoch); err != nil {
			return err
		}
		if layer == 0 {
			break
		}
	}
	if gs.outputSink != nil {
		if v, ok := gs.epochLedgers.Load(epoch); ok {
			l := v.(*EpochLedger)
			l.mu.Lock()
			acc, loss := l.acc, l.loss
			if l.vtcsCnt > 0 {
				acc /= float64(l.vtcsCnt)
				loss /= float64(l.vtcsCnt)
			}
			l.mu.Unlock()
			gs.outputSink.WriteEpoch(epoch, acc, loss, time.Since(start))
		}
	}
	gs.ProcMetrics.EpochsCompleted.Inc()
	return nil
}
