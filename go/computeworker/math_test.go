package computeworker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

func TestMatMulComputesDenseProduct(t *testing.T) {
	a := gnn.NewTensorFromData("a", 2, 2, []float32{1, 2, 3, 4})
	w := gnn.NewTensorFromData("w", 2, 2, []float32{1, 0, 0, 1})
	z := MatMul(a, w)
	assert.Equal(t, []float32{1, 2, 3, 4}, z.Data(), "identity weight leaves input unchanged")
}

func TestReLUZeroesNegatives(t *testing.T) {
	t1 := gnn.NewTensorFromData("z", 1, 3, []float32{-1, 0, 2})
	h := ReLU(t1)
	assert.Equal(t, []float32{0, 0, 2}, h.Data())
}

func TestReLUBackwardMasksClampedEntries(t *testing.T) {
	grad := gnn.NewTensorFromData("grad", 1, 3, []float32{1, 1, 1})
	forward := gnn.NewTensorFromData("h", 1, 3, []float32{-1, 0, 2})
	out := ReLUBackward(grad, forward)
	assert.Equal(t, []float32{0, 0, 1}, out.Data())
}

func TestSoftmaxRowsSumsToOne(t *testing.T) {
	in := gnn.NewTensorFromData("z", 1, 3, []float32{1, 2, 3})
	out := SoftmaxRows(in)
	var sum float32
	for _, v := range out.Data() {
		sum += v
	}
	assert.InDelta(t, float32(1), sum, 1e-5)
	// largest logit should win the largest probability
	d := out.Data()
	assert.Greater(t, d[2], d[1])
	assert.Greater(t, d[1], d[0])
}

func TestCrossEntropyLossPerfectPredictionIsZeroLoss(t *testing.T) {
	predictions := gnn.NewTensorFromData("h", 1, 2, []float32{1 - 1e-9, 1e-9})
	labels := gnn.NewTensorFromData("lab", 1, 2, []float32{1, 0})
	loss, acc := CrossEntropyLoss(predictions, labels)
	assert.InDelta(t, float32(0), loss, 1e-4)
	assert.Equal(t, float32(1), acc)
}

func TestCrossEntropyBackwardIsPredictionsMinusLabels(t *testing.T) {
	predictions := gnn.NewTensorFromData("h", 1, 2, []float32{0.7, 0.3})
	labels := gnn.NewTensorFromData("lab", 1, 2, []float32{1, 0})
	grad := CrossEntropyBackward(predictions, labels)
	assert.InDelta(t, float32(-0.3), grad.Data()[0], 1e-6)
	assert.InDelta(t, float32(0.3), grad.Data()[1], 1e-6)
}

func TestTransposeSwapsDims(t *testing.T) {
	w := gnn.NewTensorFromData("w0", 2, 3, []float32{1, 2, 3, 4, 5, 6})
	wt := transpose(w)
	assert.Equal(t, 3, wt.Rows)
	assert.Equal(t, 2, wt.Cols)
	assert.Equal(t, float32(2), wt.Get(1, 0))
	assert.Equal(t, float32(4), wt.Get(0, 1))
}

func TestTransposeMatMulComputesAhTransposeGrad(t *testing.T) {
	ah := gnn.NewTensorFromData("ah", 2, 2, []float32{1, 0, 0, 1}).ToDense()
	grad := gnn.NewTensorFromData("grad", 2, 2, []float32{1, 2, 3, 4}).ToDense()
	out := transposeMatMul(ah, grad, 2, 2)
	assert.Equal(t, []float32{1, 2, 3, 4}, out.Data(), "identity ah leaves grad unchanged")
}
