package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sarda-devesh/dorylus/go/computeworker"
	"github.com/sarda-devesh/dorylus/go/gnn"
)

// CPUSpawner runs each dispatched chunk's compute worker in-process as a
// goroutine, the CPU backend named in spec.md §6. It implements
// gnn.Spawner alongside whatever LAMBDA/GPU spawner a deployment chooses,
// letting the scheduler stay oblivious to which one it holds (DESIGN
// NOTES §9).
type CPUSpawner struct {
	graphAddr  string
	weightAddr string
	numLayers  uint32
	log        *slog.Logger

	wg sync.WaitGroup
}

func NewCPUSpawner(graphAddr, weightAddr string, numLayers uint32) *CPUSpawner {
	return &CPUSpawner{
		graphAddr:  graphAddr,
		weightAddr: weightAddr,
		numLayers:  numLayers,
		log:        slog.With("component", "cpu-spawner"),
	}
}

func (s *CPUSpawner) Dispatch(ctx context.Context, c gnn.Chunk) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w := computeworker.NewWorker(s.graphAddr, s.weightAddr, s.numLayers)
		if err := w.RunChunk(ctx, c); err != nil {
			s.log.Warn("in-process compute worker failed, relaunch loop will retry", "chunk", c, "error", err)
		}
	}()
	return nil
}

func (s *CPUSpawner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CPUSpawner) Shutdown() error {
	return nil
}
