// Command weightserver runs the versioned parameter store: one weight
// matrix per layer, pulled by compute workers and updated by averaged
// gradient pushes (spec.md §4.3).
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

	"github.com/sarda-devesh/dorylus/go/gnn"
	"github.com/sarda-devesh/dorylus/go/mucks"
	"github.com/sarda-devesh/dorylus/go/weightserver/dashboard"
)

const learningRate = 0.01

func serveAdmin(ws *WeightServer, addr string) {
	m := mucks.NewMucks()
	m.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if ws.Halted() {
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
	log := slog.With("node", cfg.NodeID, "role", "weight-server")

	layerDims, err := gnn.LoadLayerConfig(cfg.LayerConfigFile)
	if err != nil {
		log.Error("failed to load layer config", "error", err)
		os.Exit(1)
	}

	var dash *dashboard.Hub
	if cfg.DashboardAddr != "" {
		dash = dashboard.NewHub()
		go dash.Run()
		mux := http.NewServeMux()
		mux.HandleFunc("GET /ws", dash.ServeWs)
		go func() {
			if err := http.ListenAndServe(cfg.DashboardAddr, mux); err != nil {
				log.Warn("dashboard server stopped", "error", err)
			}
		}()
	}

	ws := NewWeightServer(cfg.NodeID, layerDims, learningRate, dash)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutdown signal received, halting")
		ws.Halt()
	}()

	dataAddr := fmt.Sprintf(":%d", cfg.WeightserverPort)
	serveAdmin(ws, fmt.Sprintf(":%d", cfg.WeightserverPort+2))

	if err := ws.ServeDispatch(dataAddr); err != nil {
		log.Error("dispatch server stopped", "error", err)
		os.Exit(1)
	}
}
