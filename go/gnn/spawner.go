package gnn

import "context"

// Spawner is the capability set a compute backend exposes to the
// scheduler: dispatch a chunk, wait for outstanding work, shut down. This
// replaces the {LAMBDA, CPU, GPU} polymorphism the original source
// expressed with a mode integer and branching call sites (DESIGN NOTES
// §9): the scheduler only ever talks to a Spawner, never to a concrete
// backend type.
type Spawner interface {
	// Dispatch launches a compute worker for chunk. It must not block on
	// the worker's completion; completion is observed later through the
	// dispatch/retry protocol (PUSH/PUSHE installing results, or a
	// relaunch on timeout).
	Dispatch(ctx context.Context, c Chunk) error

	// Wait blocks until every chunk Dispatch'd so far has either
	// completed or the context is cancelled.
	Wait(ctx context.Context) error

	// Shutdown releases backend resources. Safe to call once, after Wait.
	Shutdown() error
}

// InvokeFunc launches one compute worker for a chunk; CPU mode implements
// it by running the worker in-process, LAMBDA/GPU modes would implement it
// against their respective external invocation channels, which spec.md §1
// explicitly places out of scope — callers of this package only ever see
// the Spawner interface above.
type InvokeFunc func(ctx context.Context, c Chunk) error
