package gnn

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Mode selects the compute backend a graph server dispatches chunks to
// (spec.md §6). CPU is the only backend this repo runs end to end; GPU and
// LAMBDA are modelled by the Spawner interface (see spawner.go) and are
// otherwise opaque, per spec.md §1's scope boundary.
type Mode string

const (
	ModeLambda Mode = "LAMBDA"
	ModeCPU    Mode = "CPU"
	ModeGPU    Mode = "GPU"
)

// GNNType selects the layer math family. GCN is the only one implemented.
type GNNType string

const GCN GNNType = "GCN"

// Config mirrors every configuration knob enumerated in spec.md §6. It is
// loaded env-var-first with a file fallback, the way go/r3dr/config.go
// loads DB_CONNECTION_STRING: no third-party flag or config library, since
// none of the pack's services reach for one for this (see DESIGN.md).
type Config struct {
	NodeID   int
	NumNodes int

	DshMachinesFile    string
	MyPrIPFile         string
	MyPubIPFile        string
	WeightserverIPFile string
	LayerConfigFile    string
	FeaturesFile       string
	LabelsFile         string
	DatasetDir         string
	OutFile            string

	DataserverPort  int
	WeightserverPort int
	CoordserverPort int

	NumLambdasForward  int
	NumLambdasBackward int
	NumEpochs          int
	ValFreq            int
	Staleness          int // -1 means unbounded (spec.md §4.2 staleness == infinity)

	Mode    Mode
	GNNType GNNType

	DThreads int
	CThreads int

	Undirected      bool
	ForcePreprocess bool
	Block           bool

	// PostgresConnectionString, when set, turns on the supplemental
	// Postgres epoch-metrics sink alongside the file sink (SPEC_FULL.md
	// DOMAIN STACK: lib/pq).
	PostgresConnectionString string

	// DashboardAddr, when set, serves the websocket training-progress
	// dashboard from the weight server (SPEC_FULL.md DOMAIN STACK:
	// gorilla/websocket).
	DashboardAddr string
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok
}

func readFileFallback(path string) (string, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

// stringVal resolves key from the environment, then from a fallback file,
// then to def. When def == "" and nothing is found it logs a warning and
// returns "".
func stringVal(key, fallbackFile, def string) string {
	if v, ok := lookupEnv(key); ok {
		return v
	}
	if fallbackFile != "" {
		if v, ok := readFileFallback(fallbackFile); ok {
			return v
		}
	}
	if def == "" {
		slog.Warn("config value not set, leaving empty", "key", key)
	}
	return def
}

func intVal(key string, def int) int {
	v, ok := lookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer config value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func boolVal(key string, def bool) bool {
	v, ok := lookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean config value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

// LoadConfig reads the full Config from the environment, falling back to
// the `/etc/dorylus/<key>` file convention for the few values that name an
// actual roster/config file on disk (machines file, ip files, layer
// config). A string value that is neither set nor found is logged and left
// empty; the only error returned is for a config with neither
// FEATURES_FILE nor DATASET_DIR.
func LoadConfig() (Config, error) {
	cfg := Config{
		NodeID:   intVal("NODE_ID", 0),
		NumNodes: intVal("NUM_NODES", 1),

		DshMachinesFile:    stringVal("DSH_MACHINES_FILE", "/etc/dorylus/dsh_machines", ""),
		MyPrIPFile:         stringVal("MY_PRIVATE_IP_FILE", "/etc/dorylus/my_private_ip", ""),
		MyPubIPFile:        stringVal("MY_PUBLIC_IP_FILE", "/etc/dorylus/my_public_ip", ""),
		WeightserverIPFile: stringVal("WEIGHTSERVER_IP_FILE", "/etc/dorylus/weightserver_ips", ""),
		LayerConfigFile:    stringVal("LAYER_CONFIG_FILE", "/etc/dorylus/layer_config", ""),
		FeaturesFile:       stringVal("FEATURES_FILE", "", ""),
		LabelsFile:         stringVal("LABELS_FILE", "", ""),
		DatasetDir:         stringVal("DATASET_DIR", "", "."),
		OutFile:            stringVal("OUT_FILE", "", "output"),

		DataserverPort:   intVal("DATASERVER_PORT", 8000),
		WeightserverPort: intVal("WEIGHTSERVER_PORT", 9000),
		CoordserverPort:  intVal("COORDSERVER_PORT", 8888),

		NumLambdasForward:  intVal("NUM_LAMBDAS_FORWARD", 1),
		NumLambdasBackward: intVal("NUM_LAMBDAS_BACKWARD", 1),
		NumEpochs:          intVal("NUM_EPOCHS", 10),
		ValFreq:            intVal("VAL_FREQ", 1),
		Staleness:          intVal("STALENESS", 0),

		Mode:    Mode(stringVal("MODE", "", string(ModeCPU))),
		GNNType: GNNType(stringVal("GNN_TYPE", "", string(GCN))),

		DThreads: intVal("D_THREADS", 4),
		CThreads: intVal("C_THREADS", 4),

		Undirected:      boolVal("UNDIRECTED", false),
		ForcePreprocess: boolVal("FORCE_PREPROCESS", false),
		Block:           boolVal("BLOCK", false),

		PostgresConnectionString: stringVal("POSTGRES_CONNECTION_STRING", "", ""),
		DashboardAddr:            stringVal("DASHBOARD_ADDR", "", ""),
	}

	if cfg.DatasetDir == "." && cfg.FeaturesFile == "" {
		return cfg, fmt.Errorf("config: FEATURES_FILE or DATASET_DIR must be set")
	}
	return cfg, nil
}

// StalenessUnbounded reports whether the configured staleness disables the
// admission bound, relying purely on the layer barrier (spec.md §4.2).
func (c Config) StalenessUnbounded() bool {
	return c.Staleness < 0
}
