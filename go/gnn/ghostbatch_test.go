package gnn

import "testing"

func TestGhostBatchSizeMatchesFloorDivisionFormula(t *testing.T) {
	const featDim = 1000
	const ghosts = 10000

	batch := GhostBatchSize(featDim)
	if batch <= 0 {
		t.Fatalf("GhostBatchSize(%d) = %d, want positive", featDim, batch)
	}
	wantBatch := (MaxGhostMsgSize - ghostMsgOverhead) / (4 + featDim*4)
	if batch != wantBatch {
		t.Fatalf("GhostBatchSize(%d) = %d, want %d", featDim, batch, wantBatch)
	}

	numMessages := (ghosts + batch - 1) / batch
	if numMessages < 2 {
		t.Fatalf("expected 10000 ghosts at featDim=1000 to need multiple messages, got %d", numMessages)
	}
}

func TestGhostBatchSizeNeverReturnsZero(t *testing.T) {
	if got := GhostBatchSize(1 << 20); got != 1 {
		t.Fatalf("GhostBatchSize with an oversized row = %d, want 1", got)
	}
}
