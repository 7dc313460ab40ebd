package main

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

func startTestWeightServer(t *testing.T) (*WeightServer, string) {
	t.Helper()
	ws := NewWeightServer(0, []uint32{2, 2}, 1.0, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	go func() {
		for !ws.Halted() {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go ws.handleConn(conn)
		}
	}()
	t.Cleanup(func() {
		ws.Halt()
		ln.Close()
	})
	return ws, addr
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDispatchPullReturnsCurrentWeight(t *testing.T) {
	_, addr := startTestWeightServer(t)
	conn := dial(t, addr)

	hdr := gnn.RequestHeader{Op: gnn.OpPull, Field1: 0}
	require.NoError(t, hdr.WriteTo(conn))

	r := bufio.NewReader(conn)
	th, err := gnn.ReadTensorHeader(r)
	require.NoError(t, err)
	require.Equal(t, gnn.StatusOK, th.Status)

	tensor, err := gnn.ReadTensor(r, th)
	require.NoError(t, err)
	require.Equal(t, 2, tensor.Rows)
	require.Equal(t, 2, tensor.Cols)
}

func TestDispatchPullUnknownLayerReturnsErrorHeader(t *testing.T) {
	_, addr := startTestWeightServer(t)
	conn := dial(t, addr)

	hdr := gnn.RequestHeader{Op: gnn.OpPull, Field1: 9}
	require.NoError(t, hdr.WriteTo(conn))

	th, err := gnn.ReadTensorHeader(bufio.NewReader(conn))
	require.NoError(t, err)
	require.Equal(t, gnn.StatusUnknownTensor, th.Status)
}

func TestDispatchInfoThenPushAppliesAfterRoundFills(t *testing.T) {
	ws, addr := startTestWeightServer(t)

	infoConn := dial(t, addr)
	infoHdr := gnn.RequestHeader{Op: gnn.OpInfo, Field1: 1}
	require.NoError(t, infoHdr.WriteTo(infoConn))
	ack, err := gnn.ReadAck(bufio.NewReader(infoConn))
	require.NoError(t, err)
	require.Equal(t, gnn.StatusOK, ack)

	pushConn := dial(t, addr)
	pushHdr := gnn.RequestHeader{Op: gnn.OpPush, Field1: 0, Field2: 4}
	require.NoError(t, pushHdr.WriteTo(pushConn))
	grad := gnn.NewTensorFromData("w0", 2, 2, []float32{1, 1, 1, 1})
	require.NoError(t, gnn.WriteTensor(pushConn, grad, false))

	ack, err = gnn.ReadAck(bufio.NewReader(pushConn))
	require.NoError(t, err)
	require.Equal(t, gnn.StatusOK, ack)

	tensor, ok := ws.Store.Get("w0")
	require.True(t, ok)
	require.Equal(t, 1, tensor.Version, "single-contribution round should apply immediately")
}

func TestDispatchEvalFoldsIntoLedger(t *testing.T) {
	ws, addr := startTestWeightServer(t)
	ws.SetExpectedTotal(2)

	send := func(epoch uint32, vtcs uint32, acc, loss float32) {
		conn := dial(t, addr)
		hdr := gnn.RequestHeader{Op: gnn.OpEval, Field1: epoch, Field2: vtcs}
		require.NoError(t, hdr.WriteTo(conn))
		require.NoError(t, gnn.WriteEvalBody(conn, acc, loss))
	}

	send(0, 10, 1.0, 0.5)
	ledger := ws.EvalLedgerFor(0)
	require.Eventually(t, func() bool {
		ledger.mu.Lock()
		defer ledger.mu.Unlock()
		return ledger.chunkCnt == 1
	}, time.Second, 10*time.Millisecond, "expected the first eval to land in the ledger")

	send(0, 10, 0.6, 0.3)
	require.Eventually(t, func() bool {
		ledger.mu.Lock()
		defer ledger.mu.Unlock()
		return ledger.closed
	}, time.Second, 10*time.Millisecond, "ledger should close once both chunks report")
}
