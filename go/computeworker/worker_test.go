package computeworker

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

// fakeGraphServer answers PULL with preset tensors, records every PUSH,
// and acks FIN, just enough of the dispatch protocol for a Worker to run
// one chunk end to end without the real graph server package.
type fakeGraphServer struct {
	mu       sync.Mutex
	tensor   map[string]*gnn.Tensor
	pushed   map[string]*gnn.Tensor
	evalAcc  float32
	evalLoss float32
	evalSeen bool
}

func newFakeGraphServer(t *testing.T) (*fakeGraphServer, string) {
	t.Helper()
	fgs := &fakeGraphServer{tensor: map[string]*gnn.Tensor{}, pushed: map[string]*gnn.Tensor{}}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go fgs.serve(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return fgs, ln.Addr().String()
}

func (f *fakeGraphServer) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		hdr, err := gnn.ReadRequestHeader(r)
		if err != nil {
			return
		}
		switch hdr.Op {
		case gnn.OpPull:
			if _, err := gnn.ReadChunk(r); err != nil {
				return
			}
			names, err := gnn.ReadNameList(r, int(hdr.Field1))
			if err != nil {
				return
			}
			f.mu.Lock()
			for i, name := range names {
				t := f.tensor[name]
				gnn.WriteTensor(conn, t, i < len(names)-1)
			}
			f.mu.Unlock()
		case gnn.OpPush:
			if _, err := gnn.ReadChunk(r); err != nil {
				return
			}
			for {
				th, err := gnn.ReadTensorHeader(r)
				if err != nil {
					return
				}
				t, err := gnn.ReadTensor(r, th)
				if err != nil {
					return
				}
				f.mu.Lock()
				f.pushed[t.Name] = t
				f.mu.Unlock()
				if th.More == 0 {
					break
				}
			}
			gnn.WriteAck(conn, gnn.StatusOK)
		case gnn.OpEval:
			if _, err := gnn.ReadChunk(r); err != nil {
				return
			}
			acc, loss, err := gnn.ReadEvalBody(r)
			if err != nil {
				return
			}
			f.mu.Lock()
			f.evalAcc, f.evalLoss, f.evalSeen = acc, loss, true
			f.mu.Unlock()
		case gnn.OpFin:
			if _, err := gnn.ReadChunk(r); err != nil {
				return
			}
			gnn.WriteAck(conn, gnn.StatusOK)
			return
		default:
			return
		}
	}
}

func TestWorkerRunForwardPushesActivations(t *testing.T) {
	fgs, graphAddr := newFakeGraphServer(t)
	fgs.tensor["ah"] = gnn.NewTensorFromData("ah", 2, 2, []float32{1, 2, 3, 4})
	weight := gnn.NewTensorFromData("w0", 2, 2, []float32{1, 0, 0, 1})

	weightLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { weightLn.Close() })
	go func() {
		conn, err := weightLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		if _, err := gnn.ReadRequestHeader(r); err != nil {
			return
		}
		gnn.WriteTensor(conn, weight, false)
	}()

	w := NewWorker(graphAddr, weightLn.Addr().String(), 2)
	c := gnn.NewChunk(0, 1, 0, 0, 2, 0, gnn.Forward, 1, true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.RunChunk(ctx, c))

	fgs.mu.Lock()
	defer fgs.mu.Unlock()
	require.Contains(t, fgs.pushed, "z")
	require.Contains(t, fgs.pushed, "h")
	require.Equal(t, []float32{1, 2, 3, 4}, fgs.pushed["z"].Data(), "identity weight leaves z equal to ah")
}

func TestWorkerRunBackwardPushesGradientsToBothServers(t *testing.T) {
	fgs, graphAddr := newFakeGraphServer(t)
	fgs.tensor["grad"] = gnn.NewTensorFromData("grad", 2, 2, []float32{1, 1, 1, 1})
	fgs.tensor["ah"] = gnn.NewTensorFromData("ah", 2, 2, []float32{1, 0, 0, 1})

	weight := gnn.NewTensorFromData("w0", 2, 2, []float32{1, 0, 0, 1})
	var gotGrad *gnn.Tensor
	var mu sync.Mutex
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for i := 0; i < 2; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				hdr, err := gnn.ReadRequestHeader(r)
				if err != nil {
					return
				}
				if hdr.Op == gnn.OpPull {
					gnn.WriteTensor(conn, weight, false)
					return
				}
				th, err := gnn.ReadTensorHeader(r)
				if err != nil {
					return
				}
				t, err := gnn.ReadTensor(r, th)
				if err != nil {
					return
				}
				mu.Lock()
				gotGrad = t
				mu.Unlock()
				gnn.WriteAck(conn, gnn.StatusOK)
			}(conn)
		}
	}()

	w := NewWorker(graphAddr, ln.Addr().String(), 2)
	c := gnn.NewChunk(0, 1, 0, 0, 2, 0, gnn.Backward, 1, true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.RunChunk(ctx, c))

	fgs.mu.Lock()
	require.Contains(t, fgs.pushed, "aTg")
	fgs.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, gotGrad, "weight gradient should have been pushed to the weight server")
}

func TestWorkerRunForwardFinalLayerAppliesSoftmaxAndEval(t *testing.T) {
	fgs, graphAddr := newFakeGraphServer(t)
	fgs.tensor["ah"] = gnn.NewTensorFromData("ah", 2, 2, []float32{1, 0, 0, 1})
	fgs.tensor["lab"] = gnn.NewTensorFromData("lab", 2, 2, []float32{1, 0, 0, 1})
	weight := gnn.NewTensorFromData("w0", 2, 2, []float32{1, 0, 0, 1})

	var evalFromWeightServer struct {
		mu   sync.Mutex
		seen bool
		acc  float32
		loss float32
	}
	weightLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { weightLn.Close() })
	go func() {
		// PULL for the weight, then a standalone EVAL connection.
		conn, err := weightLn.Accept()
		if err != nil {
			return
		}
		func() {
			defer conn.Close()
			r := bufio.NewReader(conn)
			if _, err := gnn.ReadRequestHeader(r); err != nil {
				return
			}
			gnn.WriteTensor(conn, weight, false)
		}()

		conn, err = weightLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		hdr, err := gnn.ReadRequestHeader(r)
		if err != nil || hdr.Op != gnn.OpEval {
			return
		}
		acc, loss, err := gnn.ReadEvalBody(r)
		if err != nil {
			return
		}
		evalFromWeightServer.mu.Lock()
		evalFromWeightServer.seen, evalFromWeightServer.acc, evalFromWeightServer.loss = true, acc, loss
		evalFromWeightServer.mu.Unlock()
	}()

	w := NewWorker(graphAddr, weightLn.Addr().String(), 1)
	c := gnn.NewChunk(0, 1, 0, 0, 2, 0, gnn.Forward, 1, true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.RunChunk(ctx, c))

	fgs.mu.Lock()
	require.Contains(t, fgs.pushed, "z")
	require.Contains(t, fgs.pushed, "h")
	require.Contains(t, fgs.pushed, "grad")
	require.True(t, fgs.evalSeen, "eval should have been reported to the graph server")
	h := fgs.pushed["h"].Data()
	fgs.mu.Unlock()
	var rowSum float32
	for _, v := range h[:2] {
		rowSum += v
	}
	require.InDelta(t, float32(1), rowSum, 1e-5, "softmax rows sum to one")

	evalFromWeightServer.mu.Lock()
	defer evalFromWeightServer.mu.Unlock()
	require.True(t, evalFromWeightServer.seen, "eval should have been reported to the weight server too")
}
