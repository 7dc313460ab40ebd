package gnn

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadLayerConfig reads one integer dimension per line, input dimension
// first (spec.md §6's layerConfigFile). Both the graph server and the
// weight server read this same file: the former to size its per-layer
// scratch tensors, the latter to size its weight matrices.
func LoadLayerConfig(path string) ([]uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open layer config %s: %w", path, err)
	}
	defer f.Close()
	var dims []uint32
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		d, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("malformed layer dimension %q: %w", line, err)
		}
		dims = append(dims, uint32(d))
	}
	if len(dims) < 2 {
		return nil, fmt.Errorf("layer config must list at least input and output dimensions")
	}
	return dims, sc.Err()
}
