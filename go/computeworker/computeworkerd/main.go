// Command computeworkerd is the ephemeral per-chunk compute-worker
// process: it reads one chunk descriptor from the environment, runs it and
// exits once it has pushed its result (spec.md §1, §4.2: the compute
// worker is stateless and carries no persisted identity across
// invocations). Nothing in this repository launches it; the graph server
// runs only CPU mode, which executes workers in-process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/sarda-devesh/dorylus/go/computeworker"
	"github.com/sarda-devesh/dorylus/go/gnn"
)

func envUint(key string) (uint32, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("missing required env var %s", key)
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return uint32(n), nil
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func chunkFromEnv() (gnn.Chunk, error) {
	var c gnn.Chunk
	var err error
	if c.LocalID, err = envUint("CHUNK_LOCAL_ID"); err != nil {
		return c, err
	}
	if c.GlobalID, err = envUint("CHUNK_GLOBAL_ID"); err != nil {
		return c, err
	}
	if c.LowBound, err = envUint("CHUNK_LOW"); err != nil {
		return c, err
	}
	if c.UpBound, err = envUint("CHUNK_HIGH"); err != nil {
		return c, err
	}
	if c.Layer, err = envUint("CHUNK_LAYER"); err != nil {
		return c, err
	}
	dir, err := envUint("CHUNK_DIR")
	if err != nil {
		return c, err
	}
	c.Dir = gnn.Direction(dir)
	if c.Epoch, err = envUint("CHUNK_EPOCH"); err != nil {
		return c, err
	}
	c.Vertex = envBool("CHUNK_VERTEX")
	return c, nil
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	graphAddr := os.Getenv("GRAPH_SERVER_ADDR")
	weightAddr := os.Getenv("WEIGHT_SERVER_ADDR")
	if graphAddr == "" || weightAddr == "" {
		slog.Error("GRAPH_SERVER_ADDR and WEIGHT_SERVER_ADDR are required")
		os.Exit(1)
	}
	numLayers, err := envUint("NUM_LAYERS")
	if err != nil {
		slog.Error("invalid NUM_LAYERS", "error", err)
		os.Exit(1)
	}

	chunk, err := chunkFromEnv()
	if err != nil {
		slog.Error("invalid chunk descriptor", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	w := computeworker.NewWorker(graphAddr, weightAddr, numLayers)
	if err := w.RunChunk(ctx, chunk); err != nil {
		slog.Error("chunk failed", "chunk", chunk, "error", err)
		os.Exit(1)
	}
}
