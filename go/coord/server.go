package coord

import (
	"context"
	"log/slog"
	"sync"
)

// gate is one barrier tag's fan-in state: count of arrivals and the
// channel every waiter blocks on until the last one arrives.
type gate struct {
	arrived int
	done    chan struct{}
}

// Server is the coordinator every graph server's BarrierClient talks to.
// It fans NumNodes Barrier calls sharing a tag into one release, the
// direct generalization of coordserver.cpp's per-round rendezvous to a
// gRPC unary call per arrival instead of a ZeroMQ REQ/REP round (spec.md
// §4.1.4).
type Server struct {
	NumNodes int

	mu    sync.Mutex
	gates map[string]*gate

	log *slog.Logger
}

func NewServer(numNodes int) *Server {
	return &Server{
		NumNodes: numNodes,
		gates:    make(map[string]*gate),
		log:      slog.With("component", "coordinator"),
	}
}

func (s *Server) gateFor(tag string) *gate {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[tag]
	if !ok {
		g = &gate{done: make(chan struct{})}
		s.gates[tag] = g
	}
	return g
}

// Barrier blocks until NumNodes distinct calls have arrived for req.Tag,
// then releases all of them together.
func (s *Server) Barrier(ctx context.Context, req *BarrierRequest) (*BarrierResponse, error) {
	g := s.gateFor(req.Tag)

	s.mu.Lock()
	g.arrived++
	reached := g.arrived >= s.NumNodes
	if reached {
		delete(s.gates, req.Tag)
	}
	s.mu.Unlock()

	if reached {
		s.log.Debug("barrier released", "tag", req.Tag)
		close(g.done)
		return &BarrierResponse{}, nil
	}

	select {
	case <-g.done:
		return &BarrierResponse{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Term fans in like Barrier under a fixed "term" tag: once every graph
// server has announced completion, all Term calls return and each node
// proceeds to shut down its own listeners.
func (s *Server) Term(ctx context.Context, req *TermRequest) (*TermResponse, error) {
	if _, err := s.Barrier(ctx, &BarrierRequest{NodeID: req.NodeID, Tag: "term"}); err != nil {
		return nil, err
	}
	return &TermResponse{}, nil
}
