// Package computeworker implements the stateless per-chunk math a
// compute worker performs once it has pulled a chunk's tensors: the
// GCN layer forward/backward math (spec.md §4.1.2), offloaded away
// from the graph server's process by design.
package computeworker

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

// MatMul computes a @ w into a freshly allocated tensor, the GCN layer's
// z = ah @ W step, via gonum's dense BLAS path rather than a hand-rolled
// triple loop (the direct generalization of neuro/activations.go's
// Tensor.Apply style to a real linear-algebra primitive).
func MatMul(a, w *gnn.Tensor) *gnn.Tensor {
	ad := a.ToDense()
	wd := w.ToDense()
	var zd mat.Dense
	zd.Mul(ad, wd)
	out := gnn.NewTensor("z", a.Rows, w.Cols)
	out.FromDense(&zd)
	return out
}

// ReLU applies the rectifier elementwise, grounded on
// neuro/activations.go's ReLU.Forward.
func ReLU(t *gnn.Tensor) *gnn.Tensor {
	return t.Apply(func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// ReLUBackward zeroes grad entries where the forward activation was
// clamped, grounded on neuro/activations.go's ReLU.Backward.
func ReLUBackward(grad, forwardOut *gnn.Tensor) *gnn.Tensor {
	out := grad.Copy("grad")
	fd, gd := forwardOut.Data(), out.Data()
	for i := range gd {
		if fd[i] <= 0 {
			gd[i] = 0
		}
	}
	return out
}

// SoftmaxRows applies row-wise softmax, the GCN output layer's
// classification head.
func SoftmaxRows(t *gnn.Tensor) *gnn.Tensor {
	out := gnn.NewTensor(t.Name, t.Rows, t.Cols)
	for r := 0; r < t.Rows; r++ {
		row := t.Row(r)
		dst := out.Row(r)
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float32
		for i, v := range row {
			e := float32(math.Exp(float64(v - max)))
			dst[i] = e
			sum += e
		}
		if sum > 0 {
			for i := range dst {
				dst[i] /= sum
			}
		}
	}
	return out
}

// CrossEntropyLoss returns the mean per-row cross-entropy loss and the
// fraction of rows whose argmax matches the one-hot label, grounded on
// neuro/loss.go's CrossEntropy.Forward.
func CrossEntropyLoss(predictions, labels *gnn.Tensor) (loss, acc float32) {
	const epsilon = 1e-7
	rows := predictions.Rows
	var correct int
	for r := 0; r < rows; r++ {
		pred := predictions.Row(r)
		lbl := labels.Row(r)
		var rowLoss float32
		predArgmax, lblArgmax := 0, 0
		for i := range pred {
			p := clamp32(pred[i], epsilon, 1-epsilon)
			if lbl[i] == 1 {
				rowLoss -= float32(math.Log(float64(p)))
				lblArgmax = i
			}
			if pred[i] > pred[predArgmax] {
				predArgmax = i
			}
		}
		loss += rowLoss
		if predArgmax == lblArgmax {
			correct++
		}
	}
	if rows > 0 {
		loss /= float32(rows)
		acc = float32(correct) / float32(rows)
	}
	return loss, acc
}

// CrossEntropyBackward returns d(loss)/d(softmaxInput), the well-known
// softmax-cross-entropy simplification (predictions - labels).
func CrossEntropyBackward(predictions, labels *gnn.Tensor) *gnn.Tensor {
	out := predictions.Copy("grad")
	pd, ld := out.Data(), labels.Data()
	for i := range pd {
		pd[i] -= ld[i]
	}
	return out
}

// transpose returns w^T as a new tensor, needed by the backward sweep's
// aTg = grad @ W^T step.
func transpose(w *gnn.Tensor) *gnn.Tensor {
	out := gnn.NewTensor(w.Name+"T", w.Cols, w.Rows)
	for r := 0; r < w.Rows; r++ {
		row := w.Row(r)
		for c := 0; c < w.Cols; c++ {
			out.Set(c, r, row[c])
		}
	}
	return out
}

// transposeMatMul computes ah^T @ grad, the weight gradient for one
// chunk, directly via gonum rather than materializing ah^T first.
func transposeMatMul(ah, grad *mat.Dense, inDim, outDim int) *gnn.Tensor {
	var wgD mat.Dense
	wgD.Mul(ah.T(), grad)
	out := gnn.NewTensor("weightGrad", inDim, outDim)
	out.FromDense(&wgD)
	return out
}

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
