// Package gnn holds the types and wire protocol shared by the graph
// server, weight server and compute worker: tensors, chunk descriptors,
// the dispatch/retry RPC codec, and process configuration.
package gnn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MaxTensorName is the longest name a tensor may carry on the wire.
const MaxTensorName = 8

// Tensor is a named, dense, row-major 2-D matrix of 32-bit floats. It owns
// its backing buffer; callers that need to hand out disjoint row ranges
// (the single-writer discipline chunks rely on, spec.md §5) use RowRange
// to get a view rather than copying.
type Tensor struct {
	Name string
	Rows int
	Cols int
	data []float32
}

// NewTensor builds a zero-valued tensor. name may be empty for tensors
// that are never placed on the wire (e.g. scratch buffers).
func NewTensor(name string, rows, cols int) *Tensor {
	if len(name) > MaxTensorName {
		panic(fmt.Sprintf("tensor name %q exceeds %d bytes", name, MaxTensorName))
	}
	return &Tensor{
		Name: name,
		Rows: rows,
		Cols: cols,
		data: make([]float32, rows*cols),
	}
}

// NewTensorFromData builds a tensor that takes ownership of data. len(data)
// must equal rows*cols.
func NewTensorFromData(name string, rows, cols int, data []float32) *Tensor {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("tensor %q: data has %d elements, want %d", name, len(data), rows*cols))
	}
	return &Tensor{Name: name, Rows: rows, Cols: cols, data: data}
}

// Data returns the owning buffer. Callers in the apply/scatter write
// window may mutate it directly; the chunk partitioning guarantees no
// other goroutine touches the same rows concurrently (spec.md §5).
func (t *Tensor) Data() []float32 { return t.data }

// Row returns a view onto one row; mutations are visible in the tensor.
func (t *Tensor) Row(r int) []float32 {
	if r < 0 || r >= t.Rows {
		panic(fmt.Sprintf("tensor %q: row %d out of bounds [0,%d)", t.Name, r, t.Rows))
	}
	return t.data[r*t.Cols : (r+1)*t.Cols]
}

// RowRange returns a view onto rows [lo, hi).
func (t *Tensor) RowRange(lo, hi int) []float32 {
	if lo < 0 || hi > t.Rows || lo > hi {
		panic(fmt.Sprintf("tensor %q: row range [%d,%d) out of bounds [0,%d)", t.Name, lo, hi, t.Rows))
	}
	return t.data[lo*t.Cols : hi*t.Cols]
}

// Get returns the element at (r, c).
func (t *Tensor) Get(r, c int) float32 {
	if r < 0 || r >= t.Rows || c < 0 || c >= t.Cols {
		panic(fmt.Sprintf("tensor %q: index (%d,%d) out of bounds (%d,%d)", t.Name, r, c, t.Rows, t.Cols))
	}
	return t.data[r*t.Cols+c]
}

// Set writes the element at (r, c).
func (t *Tensor) Set(r, c int, v float32) {
	if r < 0 || r >= t.Rows || c < 0 || c >= t.Cols {
		panic(fmt.Sprintf("tensor %q: index (%d,%d) out of bounds (%d,%d)", t.Name, r, c, t.Rows, t.Cols))
	}
	t.data[r*t.Cols+c] = v
}

// Zero clears the backing buffer in place. The engine does not call it
// between epochs for the intermediate tensors (ah, z, h, grad, aTg).
func (t *Tensor) Zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

// Copy returns a deep copy under a possibly different name.
func (t *Tensor) Copy(name string) *Tensor {
	cp := make([]float32, len(t.data))
	copy(cp, t.data)
	return &Tensor{Name: name, Rows: t.Rows, Cols: t.Cols, data: cp}
}

// Apply returns a new tensor with f applied elementwise, mirroring
// utils.Tensor.Apply in the teacher's neural-network package.
func (t *Tensor) Apply(f func(float32) float32) *Tensor {
	out := t.Copy(t.Name)
	for i, v := range out.data {
		out.data[i] = f(v)
	}
	return out
}

// ToDense converts to a gonum dense matrix (float64) for matmul, the
// assumed-available BLAS primitive named in spec.md §1.
func (t *Tensor) ToDense() *mat.Dense {
	data := make([]float64, len(t.data))
	for i, v := range t.data {
		data[i] = float64(v)
	}
	return mat.NewDense(t.Rows, t.Cols, data)
}

// FromDense overwrites t's buffer with d's contents. d must have the same
// shape as t.
func (t *Tensor) FromDense(d *mat.Dense) {
	r, c := d.Dims()
	if r != t.Rows || c != t.Cols {
		panic(fmt.Sprintf("tensor %q: shape mismatch loading dense %dx%d into %dx%d", t.Name, r, c, t.Rows, t.Cols))
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t.data[i*c+j] = float32(d.At(i, j))
		}
	}
}

// Map is the per-layer tensor map keyed by short name (x, ah, z, h, lab,
// grad, aTg, fg, bg, ...), the stable address space the wire protocol
// references (spec.md §3).
type Map struct {
	byName map[string]*Tensor
}

// NewMap builds an empty tensor map.
func NewMap() *Map {
	return &Map{byName: make(map[string]*Tensor)}
}

// Save installs or replaces a tensor under its own Name.
func (m *Map) Save(t *Tensor) {
	m.byName[t.Name] = t
}

// Get returns the tensor by name and whether it was found, the lookup
// every PULL/PUSH handler performs before touching the wire (spec.md §6).
func (m *Map) Get(name string) (*Tensor, bool) {
	t, ok := m.byName[name]
	return t, ok
}

// Delete removes a tensor by name.
func (m *Map) Delete(name string) {
	delete(m.byName, name)
}

// Names returns the tensor names currently installed, primarily for tests.
func (m *Map) Names() []string {
	names := make([]string, 0, len(m.byName))
	for n := range m.byName {
		names = append(names, n)
	}
	return names
}
