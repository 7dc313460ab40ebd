package computeworker

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

const (
	backoffStart = 5 * time.Millisecond
	backoffMul   = 1.5
	backoffCap   = 500 * time.Millisecond
)

// Worker is one ephemeral compute-worker invocation: dial graph server,
// pull a chunk's tensors, dial weight server, pull the layer's weights,
// compute, push both results back (spec.md §4.2's dispatch/retry
// protocol, the compute worker side). A Worker instance is stateless
// across chunks; CPU mode constructs one per dispatched chunk and
// discards it after, LAMBDA/GPU modes would do the same at the process
// level.
type Worker struct {
	ID         uuid.UUID
	GraphAddr  string
	WeightAddr string
	NumLayers  uint32
	log        *slog.Logger
}

func NewWorker(graphAddr, weightAddr string, numLayers uint32) *Worker {
	id := uuid.New()
	return &Worker{
		ID:         id,
		GraphAddr:  graphAddr,
		WeightAddr: weightAddr,
		NumLayers:  numLayers,
		log:        slog.With("worker", id.String(), "role", "compute-worker"),
	}
}

// isOutputLayer reports whether c is the network's final layer, where
// apply means softmax + cross-entropy loss rather than ReLU (spec.md's
// glossary: "softmax+loss on the final layer... offloaded to compute
// workers").
func (w *Worker) isOutputLayer(c gnn.Chunk) bool {
	return w.NumLayers > 0 && c.Layer == w.NumLayers-1
}

// RunChunk executes one chunk's forward or backward GCN step end to end.
func (w *Worker) RunChunk(ctx context.Context, c gnn.Chunk) error {
	if c.Dir == gnn.Forward {
		return w.runForward(ctx, c)
	}
	return w.runBackward(ctx, c)
}

func (w *Worker) runForward(ctx context.Context, c gnn.Chunk) error {
	gconn, err := w.dial(ctx, w.GraphAddr)
	if err != nil {
		return err
	}
	defer gconn.Close()

	ah, err := w.pullTensor(gconn, c, "ah")
	if err != nil {
		return fmt.Errorf("pull ah: %w", err)
	}

	weight, err := w.pullWeightWithBackoff(ctx, c.Layer)
	if err != nil {
		return fmt.Errorf("pull weight: %w", err)
	}

	z := MatMul(ah, weight)

	if !w.isOutputLayer(c) {
		h := ReLU(z)
		h.Name = "h"
		if err := w.pushTensors(gconn, c, []*gnn.Tensor{z, h}); err != nil {
			return fmt.Errorf("push z,h: %w", err)
		}
		return w.sendFin(gconn, c)
	}

	return w.runOutputForward(ctx, gconn, c, z)
}

// runOutputForward applies the final layer's softmax+cross-entropy head
// instead of ReLU, the apply stage computeworker.math.go exists for (spec.md
// glossary: "softmax+loss on the final layer... offloaded to compute
// workers"). The resulting grad is pushed alongside z,h so the backward
// sweep's gather stage for earlier layers has something to read without the
// graph server ever touching raw predictions.
func (w *Worker) runOutputForward(ctx context.Context, gconn net.Conn, c gnn.Chunk, z *gnn.Tensor) error {
	labels, err := w.pullTensor(gconn, c, "lab")
	if err != nil {
		return fmt.Errorf("pull lab: %w", err)
	}

	h := SoftmaxRows(z)
	h.Name = "h"
	loss, acc := CrossEntropyLoss(h, labels)
	grad := CrossEntropyBackward(h, labels)

	if err := w.pushTensors(gconn, c, []*gnn.Tensor{z, h, grad}); err != nil {
		return fmt.Errorf("push z,h,grad: %w", err)
	}
	if err := w.sendEval(gconn, c, acc, loss); err != nil {
		return fmt.Errorf("send eval to graph server: %w", err)
	}
	if err := w.sendEvalToWeightServer(ctx, c, acc, loss); err != nil {
		w.log.Warn("eval push to weight server failed", "chunk", c, "error", err)
	}
	return w.sendFin(gconn, c)
}

func (w *Worker) runBackward(ctx context.Context, c gnn.Chunk) error {
	gconn, err := w.dial(ctx, w.GraphAddr)
	if err != nil {
		return err
	}
	defer gconn.Close()

	grad, err := w.pullTensor(gconn, c, "grad")
	if err != nil {
		return fmt.Errorf("pull grad: %w", err)
	}
	ah, err := w.pullTensor(gconn, c, "ah")
	if err != nil {
		return fmt.Errorf("pull ah: %w", err)
	}
	weight, err := w.pullWeightWithBackoff(ctx, c.Layer)
	if err != nil {
		return fmt.Errorf("pull weight: %w", err)
	}

	weightGrad := transposeMatMul(ah.ToDense(), grad.ToDense(), ah.Cols, grad.Cols)

	aTg := MatMul(grad, transpose(weight))
	aTg.Name = "aTg"

	if err := w.pushTensors(gconn, c, []*gnn.Tensor{aTg}); err != nil {
		return fmt.Errorf("push aTg: %w", err)
	}
	if err := w.pushGradient(ctx, c.Layer, weightGrad, c.Size()); err != nil {
		return fmt.Errorf("push weight gradient: %w", err)
	}
	return w.sendFin(gconn, c)
}

func (w *Worker) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

func (w *Worker) pullTensor(conn net.Conn, c gnn.Chunk, name string) (*gnn.Tensor, error) {
	hdr := gnn.RequestHeader{Op: gnn.OpPull, Field1: 1}
	if err := hdr.WriteTo(conn); err != nil {
		return nil, err
	}
	if err := gnn.WriteChunk(conn, c); err != nil {
		return nil, err
	}
	if err := gnn.WriteNameList(conn, []string{name}); err != nil {
		return nil, err
	}
	r := bufio.NewReader(conn)
	th, err := gnn.ReadTensorHeader(r)
	if err != nil {
		return nil, err
	}
	if th.Status != gnn.StatusOK {
		return nil, fmt.Errorf("pull %s rejected: status %d", name, th.Status)
	}
	return gnn.ReadTensor(r, th)
}

func (w *Worker) pushTensors(conn net.Conn, c gnn.Chunk, tensors []*gnn.Tensor) error {
	hdr := gnn.RequestHeader{Op: gnn.OpPush}
	if err := hdr.WriteTo(conn); err != nil {
		return err
	}
	if err := gnn.WriteChunk(conn, c); err != nil {
		return err
	}
	for i, t := range tensors {
		if err := gnn.WriteTensor(conn, t, i < len(tensors)-1); err != nil {
			return err
		}
	}
	ack, err := gnn.ReadAck(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	if ack != gnn.StatusOK {
		return fmt.Errorf("push rejected: status %d", ack)
	}
	return nil
}

// sendEval reports a chunk's (acc, loss) to the graph server that owns it,
// reusing the already-open connection ahead of FIN (spec.md §4.2's RPC
// table, §4.3's eval operation).
func (w *Worker) sendEval(conn net.Conn, c gnn.Chunk, acc, loss float32) error {
	hdr := gnn.RequestHeader{Op: gnn.OpEval}
	if err := hdr.WriteTo(conn); err != nil {
		return err
	}
	if err := gnn.WriteChunk(conn, c); err != nil {
		return err
	}
	return gnn.WriteEvalBody(conn, acc, loss)
}

// sendEvalToWeightServer reports the same (acc, loss) pair to the weight
// server serving this chunk's layer, since EVAL is sent to both
// collaborators (spec.md §4.2, SPEC_FULL.md §3's weightserver.EvalLedger).
// A fresh connection is used, matching the one-request-per-dial pattern the
// other weight-server calls in this file already follow.
func (w *Worker) sendEvalToWeightServer(ctx context.Context, c gnn.Chunk, acc, loss float32) error {
	conn, err := w.dial(ctx, w.WeightAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	hdr := gnn.RequestHeader{Op: gnn.OpEval, Field1: c.Epoch, Field2: uint32(c.Size())}
	if err := hdr.WriteTo(conn); err != nil {
		return err
	}
	return gnn.WriteEvalBody(conn, acc, loss)
}

func (w *Worker) sendFin(conn net.Conn, c gnn.Chunk) error {
	hdr := gnn.RequestHeader{Op: gnn.OpFin}
	if err := hdr.WriteTo(conn); err != nil {
		return err
	}
	if err := gnn.WriteChunk(conn, c); err != nil {
		return err
	}
	_, err := gnn.ReadAck(bufio.NewReader(conn))
	return err
}

// pullWeightWithBackoff retries PULL against the weight server with
// exponential backoff when a pull fails, without hammering it. The weight
// server has no BLOCK-mode epoch gate, so a successful pull returns the
// current weights whatever the chunk's epoch.
func (w *Worker) pullWeightWithBackoff(ctx context.Context, layer uint32) (*gnn.Tensor, error) {
	delay := backoffStart
	for {
		t, err := w.tryPullWeight(ctx, layer)
		if err == nil {
			return t, nil
		}
		w.log.Debug("weight pull backing off", "layer", layer, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * backoffMul)
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

func (w *Worker) tryPullWeight(ctx context.Context, layer uint32) (*gnn.Tensor, error) {
	conn, err := w.dial(ctx, w.WeightAddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	hdr := gnn.RequestHeader{Op: gnn.OpPull, Field1: layer}
	if err := hdr.WriteTo(conn); err != nil {
		return nil, err
	}
	r := bufio.NewReader(conn)
	th, err := gnn.ReadTensorHeader(r)
	if err != nil {
		return nil, err
	}
	if th.Status != gnn.StatusOK {
		return nil, fmt.Errorf("weight pull rejected: status %d", th.Status)
	}
	return gnn.ReadTensor(r, th)
}

// pushGradient sends a layer's weight gradient to the weight server for
// accumulation (spec.md §4.3).
func (w *Worker) pushGradient(ctx context.Context, layer uint32, grad *gnn.Tensor, vtcsCnt int) error {
	conn, err := w.dial(ctx, w.WeightAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	hdr := gnn.RequestHeader{Op: gnn.OpPush, Field1: layer, Field2: uint32(vtcsCnt)}
	if err := hdr.WriteTo(conn); err != nil {
		return err
	}
	if err := gnn.WriteTensor(conn, grad, false); err != nil {
		return err
	}
	ack, err := gnn.ReadAck(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	if ack != gnn.StatusOK {
		return fmt.Errorf("gradient push rejected: status %d", ack)
	}
	return nil
}
