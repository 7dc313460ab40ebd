// Command graphserver runs one shard of the pipeline engine: it owns a
// partition of the graph, drives the gather/apply/scatter sweeps, and
// serves the compute-worker dispatch/retry protocol (spec.md §2, §4.1).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sarda-devesh/dorylus/go/coord"
	"github.com/sarda-devesh/dorylus/go/gnn"
	"github.com/sarda-devesh/dorylus/go/gnn/outputsink"
	"github.com/sarda-devesh/dorylus/go/mucks"
)

func buildOutputSink(cfg gnn.Config) (OutputSink, error) {
	file, err := outputsink.NewFileSink(cfg.OutFile)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresConnectionString == "" {
		return file, nil
	}
	pg, err := outputsink.NewPostgresSink(cfg.PostgresConnectionString)
	if err != nil {
		slog.Warn("postgres sink unavailable, continuing with file sink only", "error", err)
		return file, nil
	}
	return outputsink.NewMultiSink(file, pg), nil
}

func buildBarrier(cfg gnn.Config) (BarrierClient, func() error) {
	if cfg.NumNodes <= 1 {
		return nil, func() error { return nil }
	}
	// Resolving the coordinator's address from the dsh machines file is
	// out of scope (spec.md §1); this build assumes a co-located
	// coordinator, the way a single-host integration test runs the whole
	// cluster.
	coordAddr := fmt.Sprintf("localhost:%d", cfg.CoordserverPort)
	client, err := coord.Dial(coordAddr, uint32(cfg.NodeID))
	if err != nil {
		slog.Error("failed to dial coordinator, running without cross-node barriers", "error", err)
		return nil, func() error { return nil }
	}
	return client, client.Close
}

func serveAdmin(gs *GraphServer, addr string) {
	m := mucks.NewMucks()
	m.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if gs.Halted() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	m.Mux.Handle("GET /metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, m); err != nil {
			slog.Warn("admin server stopped", "error", err)
		}
	}()
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := gnn.LoadConfig()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	log := slog.With("node", cfg.NodeID, "role", "graph-server")

	graph, err := LoadGraph(cfg.DatasetDir + "/partition")
	if err != nil {
		log.Error("failed to load graph partition", "error", err)
		os.Exit(1)
	}
	if cfg.Undirected {
		graph.MirrorUndirected()
	}

	layerDims, err := gnn.LoadLayerConfig(cfg.LayerConfigFile)
	if err != nil {
		log.Error("failed to load layer config", "error", err)
		os.Exit(1)
	}

	sink, err := buildOutputSink(cfg)
	if err != nil {
		log.Error("failed to open output sink", "error", err)
		os.Exit(1)
	}
	defer sink.Close()

	dataAddr := fmt.Sprintf(":%d", cfg.DataserverPort)
	weightAddr := fmt.Sprintf("localhost:%d", cfg.WeightserverPort)

	var spawner gnn.Spawner
	switch cfg.Mode {
	case gnn.ModeCPU, "":
		spawner = NewCPUSpawner("localhost"+dataAddr, weightAddr, uint32(len(layerDims)-1))
	default:
		log.Error("unsupported compute mode for this build", "mode", cfg.Mode)
		os.Exit(1)
	}

	gs := NewGraphServer(uint32(cfg.NodeID), uint32(cfg.NumNodes), cfg, graph, layerDims, spawner, sink)

	if cfg.DshMachinesFile != "" {
		peers, err := LoadGhostPeers(cfg.DshMachinesFile, uint32(cfg.NodeID), cfg.DataserverPort+1)
		if err != nil {
			log.Warn("failed to load ghost peer roster, scatter to peers disabled", "error", err)
		} else {
			gs.GhostPeers = peers
		}
	}

	if cfg.FeaturesFile != "" {
		if err := LoadFeatures(gs.features, cfg.FeaturesFile, cfg.LabelsFile, graph.LocalVertexCount); err != nil {
			log.Error("failed to load features", "error", err)
			os.Exit(1)
		}
		gs.ExposeLabels()
	}

	barrier, closeBarrier := buildBarrier(cfg)
	defer closeBarrier()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutdown signal received, halting")
		gs.Halt()
	}()

	go func() {
		if err := gs.ServeDispatch(dataAddr); err != nil {
			log.Error("dispatch server stopped", "error", err)
		}
	}()

	ghostAddr := fmt.Sprintf(":%d", cfg.DataserverPort+1)
	go func() {
		if err := gs.ServeGhostInbound(ghostAddr, gs.applyGhostUpdate); err != nil {
			log.Error("ghost server stopped", "error", err)
		}
	}()

	serveAdmin(gs, fmt.Sprintf(":%d", cfg.DataserverPort+2))

	gs.AllocateIntermediate()

	backwardChunks := len(gnn.ChunkRanges(graph.LocalVertexCount, cfg.NumLambdasBackward))
	if err := configureWeightServer(weightAddr, backwardChunks); err != nil {
		log.Warn("failed to configure weight server round size, proceeding anyway", "error", err)
	}

	for epoch := 0; epoch < cfg.NumEpochs && !gs.Halted(); epoch++ {
		if err := gs.RunEpoch(ctx, uint32(epoch), barrier, gs.buildChunksForPass, gs.expectedGhostsForPass); err != nil {
			log.Error("epoch failed", "epoch", epoch, "error", err)
			break
		}
	}

	gs.Halt()
}
