package main

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

// socketReadTimeout bounds each blocking receive so the handler loop can
// poll the halt flag without hanging forever (spec.md §5: "compute-worker
// RPC handlers block on socket receive with a 1 s timeout").
const socketReadTimeout = 1 * time.Second

// ServeDispatch accepts compute-worker connections on the graph server's
// dataserver port and serves PULL/PULLE/PULLEINFO/PUSH/PUSHE/EVAL/FIN
// until the engine halts (spec.md §6).
func (gs *GraphServer) ServeDispatch(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	gs.log.Info("dispatch listener started", "addr", addr)

	for !gs.Halted() {
		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(socketReadTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if gs.Halted() {
				return nil
			}
			gs.log.Warn("accept failed", "error", err)
			continue
		}
		go gs.handleConn(conn)
	}
	return nil
}

func (gs *GraphServer) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for !gs.Halted() {
		conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
		hdr, err := gnn.ReadRequestHeader(r)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if err != io.EOF {
				gs.log.Debug("connection closed", "error", err)
			}
			return
		}
		if err := gs.dispatchOne(r, conn, hdr); err != nil {
			gs.log.Warn("dispatch handler error, closing socket", "op", hdr.Op, "error", err)
			return
		}
		if hdr.Op == gnn.OpFin || hdr.Op == gnn.OpTerm {
			return
		}
	}
}

func (gs *GraphServer) dispatchOne(r *bufio.Reader, w io.Writer, hdr gnn.RequestHeader) error {
	switch hdr.Op {
	case gnn.OpPull:
		return gs.handlePull(r, w, hdr)
	case gnn.OpPullE:
		return gs.handlePullE(r, w, hdr)
	case gnn.OpPullEInfo:
		return gs.handlePullEInfo(r, w)
	case gnn.OpPush:
		return gs.handlePush(r, w, hdr)
	case gnn.OpPushE:
		return gs.handlePushE(r, w, hdr)
	case gnn.OpEval:
		return gs.handleEval(r, w)
	case gnn.OpFin:
		return gs.handleFin(r, w)
	default:
		// Unknown op: drain nothing (we don't know the shape), log and
		// close — a protocol violation per spec.md §7c.
		return errUnknownOp(hdr.Op)
	}
}

type dispatchError struct{ op gnn.Op }

func (e dispatchError) Error() string { return "unknown op code" }

func errUnknownOp(op gnn.Op) error { return dispatchError{op: op} }

// handlePull serves PULL: chunk + list of tensor names -> for each name a
// header+slab, or an error-header if unknown (spec.md §6). The timeout
// table gate decides whether to serve at all (spec.md §4.2).
func (gs *GraphServer) handlePull(r *bufio.Reader, w io.Writer, hdr gnn.RequestHeader) error {
	chunk, err := gnn.ReadChunk(r)
	if err != nil {
		return err
	}
	numNames := int(hdr.Field1)
	names, err := gnn.ReadNameList(r, numNames)
	if err != nil {
		return err
	}

	if !gs.Timeouts.Contains(chunk.Key()) {
		gs.log.Debug("PULL for stale chunk, discarding", "chunk", chunk)
		for i := range names {
			if err := gnn.WriteErrorTensor(w, gnn.StatusDiscardedLate, names[i]); err != nil {
				return err
			}
		}
		return nil
	}

	tm := gs.TensorMap(chunk.Layer)
	for i, name := range names {
		more := i < len(names)-1
		t, ok := tm.Get(name)
		if !ok {
			if err := gnn.WriteErrorTensor(w, gnn.StatusUnknownTensor, name); err != nil {
				return err
			}
			continue
		}
		view := gnn.NewTensorFromData(name, chunk.Size(), t.Cols, append([]float32(nil), t.RowRange(int(chunk.LowBound), int(chunk.UpBound))...))
		if err := gnn.WriteTensor(w, view, more); err != nil {
			return err
		}
	}
	return nil
}

// handlePullE serves PULLE: chunk + edge-tensor name -> header + edge-slab.
// This repo's default GCN mode never issues PULLE; the handler is wired
// into dispatchOne for the edge-NN path richer GNN variants use, and no
// test exercises it (SPEC_FULL.md SUPPLEMENTED FEATURES #1).
func (gs *GraphServer) handlePullE(r *bufio.Reader, w io.Writer, hdr gnn.RequestHeader) error {
	chunk, err := gnn.ReadChunk(r)
	if err != nil {
		return err
	}
	names, err := gnn.ReadNameList(r, 1)
	if err != nil {
		return err
	}
	if !gs.Timeouts.Contains(chunk.Key()) {
		return gnn.WriteErrorTensor(w, gnn.StatusDiscardedLate, names[0])
	}
	tm := gs.TensorMap(chunk.Layer)
	t, ok := tm.Get(names[0])
	if !ok {
		return gnn.WriteErrorTensor(w, gnn.StatusUnknownTensor, names[0])
	}
	return gnn.WriteTensor(w, t, false)
}

// handlePullEInfo serves PULLEINFO: chunk -> header(numLvids, numEdges) +
// column-pointer slab (spec.md §6).
func (gs *GraphServer) handlePullEInfo(r *bufio.Reader, w io.Writer) error {
	chunk, err := gnn.ReadChunk(r)
	if err != nil {
		return err
	}
	if !gs.Timeouts.Contains(chunk.Key()) {
		return gnn.WriteEdgeInfo(w, gnn.EdgeInfoHeader{}, nil)
	}
	lo, hi := int(chunk.LowBound), int(chunk.UpBound)
	colPtr := make([]int32, hi-lo+1)
	base := int32(gs.Graph.ColPtr[lo])
	for i := lo; i <= hi; i++ {
		colPtr[i-lo] = int32(gs.Graph.ColPtr[i]) - base
	}
	numEdges := colPtr[len(colPtr)-1]
	return gnn.WriteEdgeInfo(w, gnn.EdgeInfoHeader{NumLvids: uint32(hi - lo), NumEdges: uint32(numEdges)}, colPtr)
}

// handlePush serves PUSH: chunk + (name,rows,cols,data)* -> ack. First
// response wins: it atomically removes the chunk from the timeout table
// before installing tensors, so a concurrent duplicate push finds absence
// and is discarded (spec.md §4.2).
func (gs *GraphServer) handlePush(r *bufio.Reader, w io.Writer, hdr gnn.RequestHeader) error {
	chunk, err := gnn.ReadChunk(r)
	if err != nil {
		return err
	}

	var tensors []*gnn.Tensor
	for {
		th, err := gnn.ReadTensorHeader(r)
		if err != nil {
			return err
		}
		t, err := gnn.ReadTensor(r, th)
		if err != nil {
			return err
		}
		if t != nil {
			tensors = append(tensors, t)
		}
		if th.More == 0 {
			break
		}
	}

	if !gs.Timeouts.Remove(chunk.Key()) {
		gs.log.Debug("duplicate/late PUSH discarded", "chunk", chunk)
		return gnn.WriteAck(w, gnn.StatusDiscardedLate)
	}

	tm := gs.TensorMap(chunk.Layer)
	for _, t := range tensors {
		dst, ok := tm.Get(t.Name)
		if !ok {
			gs.log.Warn("PUSH for unknown tensor name", "name", t.Name, "chunk", chunk)
			continue
		}
		copy(dst.RowRange(int(chunk.LowBound), int(chunk.UpBound)), t.Data())
	}
	gs.onApplyComplete(chunk)
	return gnn.WriteAck(w, gnn.StatusOK)
}

// handlePushE serves PUSHE analogously to PUSH, for the edge-NN path.
func (gs *GraphServer) handlePushE(r *bufio.Reader, w io.Writer, hdr gnn.RequestHeader) error {
	chunk, err := gnn.ReadChunk(r)
	if err != nil {
		return err
	}
	th, err := gnn.ReadTensorHeader(r)
	if err != nil {
		return err
	}
	t, err := gnn.ReadTensor(r, th)
	if err != nil {
		return err
	}
	if !gs.Timeouts.Remove(chunk.Key()) {
		return gnn.WriteAck(w, gnn.StatusDiscardedLate)
	}
	if t != nil {
		tm := gs.TensorMap(chunk.Layer)
		tm.Save(t)
	}
	gs.onApplyComplete(chunk)
	return gnn.WriteAck(w, gnn.StatusOK)
}

// handleEval serves EVAL: chunk + (acc, loss) -> no ack, folded into the
// epoch ledger (spec.md §6, §4.3).
func (gs *GraphServer) handleEval(r *bufio.Reader, w io.Writer) error {
	chunk, err := gnn.ReadChunk(r)
	if err != nil {
		return err
	}
	acc, loss, err := gnn.ReadEvalBody(r)
	if err != nil {
		return err
	}
	ledger := gs.LedgerFor(chunk.Epoch, int(gs.currentLayer.NumChunks))
	ledger.Add(acc, loss, chunk.Size())
	return nil
}

// handleFin serves FIN: chunk -> ack. A worker sends FIN after its PUSH
// ack to signal it is exiting cleanly; the handler always acks even for a
// chunk no longer in the table, since FIN carries no state to protect.
func (gs *GraphServer) handleFin(r *bufio.Reader, w io.Writer) error {
	if _, err := gnn.ReadChunk(r); err != nil {
		return err
	}
	return gnn.WriteAck(w, gnn.StatusOK)
}
