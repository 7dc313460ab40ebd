package gnn

// MaxGhostMsgSize bounds one ghost-update message's wire size, the scatter
// stage's batching budget (spec.md §4.1.3, §8 scenario 5).
const MaxGhostMsgSize = 5 * 1024 * 1024

// ghostMsgOverhead is the fixed framing cost of one ghost-update message
// ahead of its (gvid, row) pairs: this build's ghost push reuses the same
// RequestHeader + TensorHeader framing every other dispatch op uses, rather
// than a ghost-specific narrower header (see DESIGN.md for why that diverges
// from the worked example's smaller constant).
const ghostMsgOverhead = HeaderSize + TensorHdrSize

// GhostBatchSize returns how many (gvid, row) pairs of featDim columns fit
// in one message under MaxGhostMsgSize: the floor-division batching
// formula grounded on the original engine's BATCH_SIZE computation, with a
// minimum of 1 so an oversized single row still makes progress.
func GhostBatchSize(featDim int) int {
	const idSize = 4
	rowSize := idSize + featDim*4
	avail := MaxGhostMsgSize - ghostMsgOverhead
	if avail < rowSize {
		return 1
	}
	return avail / rowSize
}
