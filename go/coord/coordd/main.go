// Command coordd runs the coordination service standalone, one per
// cluster, replacing the original engine's coord-server process
// (coordserver.cpp).
package main

import (
	"log/slog"
	"net"
	"os"
	"strconv"

	"google.golang.org/grpc"

	"github.com/sarda-devesh/dorylus/go/coord"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	addr := os.Getenv("COORD_ADDR")
	if addr == "" {
		addr = ":8888"
	}
	numNodes, err := strconv.Atoi(os.Getenv("NUM_NODES"))
	if err != nil || numNodes <= 0 {
		slog.Error("NUM_NODES must be a positive integer")
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("failed to listen", "addr", addr, "error", err)
		os.Exit(1)
	}

	s := grpc.NewServer(grpc.ForceServerCodec(coord.Codec()))
	coord.RegisterNodeCoordinatorServer(s, coord.NewServer(numNodes))

	slog.Info("coordinator listening", "addr", addr, "num_nodes", numNodes)
	if err := s.Serve(ln); err != nil {
		slog.Error("serve failed", "error", err)
		os.Exit(1)
	}
}
