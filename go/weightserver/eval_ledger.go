package main

import "sync"

// EvalLedger is the weight server's side of the accuracy/loss ledger
// (spec.md §3, §4.3's eval operation): EVAL is sent to both the graph
// server that owns the chunk and the weight server serving its layer, so
// a training run's final numbers can be read from either collaborator.
// Mirrors graphserver.EpochLedger's accumulate-then-close shape.
type EvalLedger struct {
	mu       sync.Mutex
	acc      float64
	loss     float64
	vtcsCnt  int
	chunkCnt int
	wantCnt  int
	closed   bool
	onClose  func(acc, loss float64)
}

func NewEvalLedger(wantChunks int, onClose func(acc, loss float64)) *EvalLedger {
	return &EvalLedger{wantCnt: wantChunks, onClose: onClose}
}

// Add folds in one chunk's contribution, weighted by vertex count, and
// closes the ledger once every expected contribution has reported.
func (l *EvalLedger) Add(acc, loss float32, vtcsCnt int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.acc += float64(acc) * float64(vtcsCnt)
	l.loss += float64(loss) * float64(vtcsCnt)
	l.vtcsCnt += vtcsCnt
	l.chunkCnt++
	if l.wantCnt > 0 && l.chunkCnt == l.wantCnt {
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

// EvalLedgerFor returns (creating if absent) the eval ledger for epoch,
// sized off the weight server's currently configured round size (the same
// expectedTotal the INFO op set for gradient accumulation — this build's
// single-graph-server-per-weight-server assumption, see DESIGN.md).
func (ws *WeightServer) EvalLedgerFor(epoch uint32) *EvalLedger {
	if v, ok := ws.evalLedgers.Load(epoch); ok {
		return v.(*EvalLedger)
	}
	ledger := NewEvalLedger(int(ws.expectedRoundSize.Load()), func(acc, loss float64) {
		ws.log.Info("epoch evaluation closed", "epoch", epoch, "acc", acc, "loss", loss)
	})
	actual, _ := ws.evalLedgers.LoadOrStore(epoch, ledger)
	return actual.(*EvalLedger)
}
