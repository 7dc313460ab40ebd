package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadGhostPeers reads the dsh machines file: one host per line, the line's
// position doubling as that node's id (spec.md §1's dshMachinesFile — the
// node roster every graph server dials to exchange ghost updates). The
// caller's own line is skipped. ghostPort is appended to every host, the
// same uniform-port-per-cluster convention this build's other cross-node
// addressing already assumes (weightAddr, coordAddr).
func LoadGhostPeers(path string, selfID uint32, ghostPort int) ([]GhostPeer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dsh machines file %s: %w", path, err)
	}
	defer f.Close()

	var peers []GhostPeer
	sc := bufio.NewScanner(f)
	var nodeID uint32
	for sc.Scan() {
		host := strings.TrimSpace(sc.Text())
		if host == "" {
			continue
		}
		if nodeID != selfID {
			peers = append(peers, GhostPeer{NodeID: nodeID, Addr: fmt.Sprintf("%s:%d", host, ghostPort)})
		}
		nodeID++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return peers, nil
}
