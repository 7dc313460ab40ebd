package main

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

const socketReadTimeout = 1 * time.Second

// ServeDispatch accepts compute-worker connections and serves
// PULL/PUSH/INFO/EVAL/TERM until the server halts (spec.md §4.3, §6).
func (ws *WeightServer) ServeDispatch(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	ws.log.Info("weight dispatch listener started", "addr", addr)

	for !ws.Halted() {
		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(socketReadTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ws.Halted() {
				return nil
			}
			ws.log.Warn("accept failed", "error", err)
			continue
		}
		go ws.handleConn(conn)
	}
	return nil
}

func (ws *WeightServer) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for !ws.Halted() {
		conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
		hdr, err := gnn.ReadRequestHeader(r)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if err != io.EOF {
				ws.log.Debug("connection closed", "error", err)
			}
			return
		}
		if err := ws.dispatchOne(r, conn, hdr); err != nil {
			ws.log.Warn("dispatch handler error, closing socket", "op", hdr.Op, "error", err)
			return
		}
		if hdr.Op == gnn.OpTerm {
			return
		}
	}
}

func (ws *WeightServer) dispatchOne(r *bufio.Reader, w io.Writer, hdr gnn.RequestHeader) error {
	switch hdr.Op {
	case gnn.OpPull:
		return ws.handlePull(w, hdr)
	case gnn.OpPush:
		return ws.handlePush(r, w, hdr)
	case gnn.OpInfo:
		return ws.handleInfo(w, hdr)
	case gnn.OpEval:
		return ws.handleEval(r, hdr)
	case gnn.OpTerm:
		return ws.handleTerm(w)
	default:
		return dispatchError{op: hdr.Op}
	}
}

type dispatchError struct{ op gnn.Op }

func (e dispatchError) Error() string { return "unknown op code" }

// handlePull serves PULL: Field1 names the layer -> header + weight slab,
// or an error header for an out-of-range layer (spec.md §6). The pull is
// served at once with the current version: there is no BLOCK-mode epoch
// gate, and Config.Block is read but not consulted.
func (ws *WeightServer) handlePull(w io.Writer, hdr gnn.RequestHeader) error {
	layer := int(hdr.Field1)
	t, ok := ws.Store.Get(weightName(layer))
	if !ok {
		return gnn.WriteErrorTensor(w, gnn.StatusUnknownTensor, weightName(layer))
	}
	snapshot, _ := t.Pull()
	return gnn.WriteTensor(w, snapshot, false)
}

// handlePush serves PUSH: Field1 names the layer, Field2 the vertex count
// the pushed gradient was computed over -> ack. Accumulation and the
// averaged-SGD apply live in ParamTensor.Push (spec.md §4.3).
func (ws *WeightServer) handlePush(r *bufio.Reader, w io.Writer, hdr gnn.RequestHeader) error {
	layer := int(hdr.Field1)
	vtcsCnt := int(hdr.Field2)

	th, err := gnn.ReadTensorHeader(r)
	if err != nil {
		return err
	}
	grad, err := gnn.ReadTensor(r, th)
	if err != nil {
		return err
	}

	t, ok := ws.Store.Get(weightName(layer))
	if !ok || grad == nil {
		return gnn.WriteAck(w, gnn.StatusUnknownTensor)
	}
	if err := t.Push(grad, vtcsCnt); err != nil {
		ws.log.Warn("gradient push rejected", "layer", layer, "error", err)
		return gnn.WriteAck(w, gnn.StatusMalformedHeader)
	}
	if ws.Dashboard != nil {
		ws.Dashboard.Broadcast(dashboardUpdate{Layer: layer, Version: t.Version, Vtcs: vtcsCnt})
	}
	return gnn.WriteAck(w, gnn.StatusOK)
}

// handleInfo serves INFO: Field1 is the number of gradient pushes every
// layer should expect before applying this round's update (spec.md
// §4.3's round-size configuration; the graph server sends it once, at
// startup).
func (ws *WeightServer) handleInfo(w io.Writer, hdr gnn.RequestHeader) error {
	ws.SetExpectedTotal(int(hdr.Field1))
	return gnn.WriteAck(w, gnn.StatusOK)
}

// handleEval serves EVAL: Field1 is the epoch, Field2 the vertex count
// the pushed (acc, loss) pair was computed over -> no ack, folded into
// this server's own epoch ledger alongside the graph server's (spec.md
// §4.3's eval operation, §4.2's RPC table).
func (ws *WeightServer) handleEval(r *bufio.Reader, hdr gnn.RequestHeader) error {
	acc, loss, err := gnn.ReadEvalBody(r)
	if err != nil {
		return err
	}
	ledger := ws.EvalLedgerFor(hdr.Field1)
	ledger.Add(acc, loss, int(hdr.Field2))
	return nil
}

func (ws *WeightServer) handleTerm(w io.Writer) error {
	return gnn.WriteAck(w, gnn.StatusOK)
}
