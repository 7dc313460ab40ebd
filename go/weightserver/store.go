// Package main implements the weight server: the versioned parameter
// store every compute worker pulls weights from and pushes gradients to
// (spec.md §4.3).
package main

import (
	"fmt"
	"sync"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

// ParamTensor is one layer's weight matrix plus its in-flight gradient
// accumulator. Pull takes the shared lock; Push holds the exclusive lock
// for the whole call, both to accumulate and to apply the averaged update.
type ParamTensor struct {
	mu sync.RWMutex

	Name    string
	Value   *gnn.Tensor // W
	accum   *gnn.Tensor // A, same shape as Value
	Version int

	refCount         int // gradient pushes received since creation; never reset or read
	localUpdateCount int // gradient pushes received so far this round
	expectedTotal    int // set by SetExpectedTotal (the INFO op), 0 means "not yet configured"

	LearningRate float32
}

// NewParamTensor allocates a zero-initialized weight matrix. Real
// training would Xavier/He-initialize it; that choice is out of scope
// here (spec.md §1 treats weight initialization as externally supplied).
func NewParamTensor(name string, rows, cols int, lr float32) *ParamTensor {
	return &ParamTensor{
		Name:         name,
		Value:        gnn.NewTensor(name, rows, cols),
		accum:        gnn.NewTensor(name, rows, cols),
		LearningRate: lr,
	}
}

// SetExpectedTotal configures how many gradient pushes this round needs
// before Push applies the averaged update (spec.md §4.3's INFO op).
func (p *ParamTensor) SetExpectedTotal(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedTotal = n
}

// Pull returns a read-only snapshot of the current weight value and its
// version.
func (p *ParamTensor) Pull() (*gnn.Tensor, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Value.Copy(p.Name), p.Version
}

// Push accumulates one chunk's gradient into A and applies the averaged
// update once every expected contribution for the round has arrived
// (spec.md §4.3: "add delta into A atomically... M ← M − (learningRate ×
// A / expectedTotal)"). vtcsCnt plays no part in the math — it is the
// pushing chunk's vertex count, reported only for dashboard visibility.
func (p *ParamTensor) Push(grad *gnn.Tensor, vtcsCnt int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if grad.Rows != p.accum.Rows || grad.Cols != p.accum.Cols {
		return fmt.Errorf("gradient shape %dx%d does not match %s shape %dx%d", grad.Rows, grad.Cols, p.Name, p.accum.Rows, p.accum.Cols)
	}
	ad, gd := p.accum.Data(), grad.Data()
	for i := range ad {
		ad[i] += gd[i]
	}
	p.localUpdateCount++
	p.refCount++

	if p.expectedTotal == 0 || p.localUpdateCount < p.expectedTotal {
		return nil
	}

	p.applyLocked()
	return nil
}

// applyLocked performs the averaged-SGD step and resets the round's
// accumulator state. Caller must hold mu.
func (p *ParamTensor) applyLocked() {
	if p.expectedTotal == 0 {
		return
	}
	scale := p.LearningRate / float32(p.expectedTotal)
	vd, ad := p.Value.Data(), p.accum.Data()
	for i := range vd {
		vd[i] -= scale * ad[i]
		ad[i] = 0
	}
	p.Version++
	p.localUpdateCount = 0
}

// RoundComplete reports whether the round size is configured, at least one
// update has been applied, and no gradient of a new round is pending. No
// dispatch handler calls it; the weight server's PULL has no BLOCK-mode
// epoch gate.
func (p *ParamTensor) RoundComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.expectedTotal > 0 && p.localUpdateCount == 0 && p.Version > 0
}

// Store is the full set of per-layer parameter tensors one weight server
// process owns.
type Store struct {
	mu      sync.RWMutex
	tensors map[string]*ParamTensor
}

func NewStore() *Store {
	return &Store{tensors: make(map[string]*ParamTensor)}
}

func (s *Store) Install(t *ParamTensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tensors[t.Name] = t
}

func (s *Store) Get(name string) (*ParamTensor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tensors[name]
	return t, ok
}

func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tensors))
	for n := range s.tensors {
		names = append(names, n)
	}
	return names
}
