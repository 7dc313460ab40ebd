package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

// LoadGraph reads this node's vertex shard from a simple text partition
// format: a header line "localVertexCount ghostCount", one "n v normFactor"
// line per local vertex, one "e u v weight" line per local in-edge (u may be
// a ghost, encoded as "g<globalId>"), and one "p v globalId peerId" line per
// local vertex v that a peer node holds a ghost replica of (globalId is the
// id peer knows v by, peerId the node holding the replica — both needed by
// the scatter stage, spec.md §4.1.3/§4.4). The on-disk partition format
// itself is out of scope (spec.md §1); this is a minimal loader good enough
// to exercise the pipeline end to end.
func LoadGraph(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph partition %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	if !sc.Scan() {
		return nil, fmt.Errorf("empty graph partition file %s", path)
	}
	header := strings.Fields(sc.Text())
	if len(header) != 2 {
		return nil, fmt.Errorf("malformed graph partition header: %q", sc.Text())
	}
	localCount, err := strconv.Atoi(header[0])
	if err != nil {
		return nil, fmt.Errorf("malformed local vertex count: %w", err)
	}
	ghostCount, err := strconv.Atoi(header[1])
	if err != nil {
		return nil, fmt.Errorf("malformed ghost count: %w", err)
	}

	g := NewGraph(localCount, ghostCount)
	edgesByCol := make([][][2]float32, localCount) // col -> [(rowIdx, weight)]
	nextGhost := 0

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "n":
			if len(fields) != 3 {
				return nil, fmt.Errorf("malformed norm line: %q", sc.Text())
			}
			v, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, err
			}
			norm, err := strconv.ParseFloat(fields[2], 32)
			if err != nil {
				return nil, err
			}
			g.NormFactor[v] = float32(norm)
		case "e":
			if len(fields) != 4 {
				return nil, fmt.Errorf("malformed edge line: %q", sc.Text())
			}
			uTok, vTok, wTok := fields[1], fields[2], fields[3]
			v, err := strconv.Atoi(vTok)
			if err != nil {
				return nil, err
			}
			w, err := strconv.ParseFloat(wTok, 32)
			if err != nil {
				return nil, err
			}
			rowIdx, err := resolveRow(g, uTok, &nextGhost)
			if err != nil {
				return nil, err
			}
			edgesByCol[v] = append(edgesByCol[v], [2]float32{float32(rowIdx), float32(w)})
		case "p":
			if len(fields) != 4 {
				return nil, fmt.Errorf("malformed peer-ghost line: %q", sc.Text())
			}
			v, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, err
			}
			globalID, err := strconv.ParseUint(fields[2], 10, 32)
			if err != nil {
				return nil, err
			}
			peerID, err := strconv.ParseUint(fields[3], 10, 32)
			if err != nil {
				return nil, err
			}
			if v < 0 || v >= localCount {
				return nil, fmt.Errorf("peer-ghost line references out-of-range vertex %d", v)
			}
			g.LocalGlobalID[v] = uint32(globalID)
			g.PeerGhostOwners[v] = append(g.PeerGhostOwners[v], uint32(peerID))
		default:
			return nil, fmt.Errorf("unknown partition line kind %q", fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	offset := 0
	for v := 0; v < localCount; v++ {
		g.ColPtr[v] = offset
		for _, rw := range edgesByCol[v] {
			g.RowIdx = append(g.RowIdx, int(rw[0]))
			g.CSCVal = append(g.CSCVal, rw[1])
			offset++
		}
	}
	g.ColPtr[localCount] = offset
	g.SrcGhostCount = nextGhost
	g.DstGhostCount = nextGhost
	return g, nil
}

// resolveRow maps a "g<id>" token to a ghost row (assigning one on first
// sight) or a plain local-id token to itself.
func resolveRow(g *Graph, tok string, nextGhost *int) (int, error) {
	if strings.HasPrefix(tok, "g") {
		globalID, err := strconv.ParseUint(tok[1:], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("malformed ghost token %q: %w", tok, err)
		}
		if slot, ok := g.GlobalToGhost[uint32(globalID)]; ok {
			return g.LocalVertexCount + slot, nil
		}
		slot := *nextGhost
		*nextGhost++
		g.GlobalToGhost[uint32(globalID)] = slot
		return g.LocalVertexCount + slot, nil
	}
	u, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("malformed local vertex token %q: %w", tok, err)
	}
	return u, nil
}

// LoadFeatures reads whitespace-separated float rows from featuresPath
// into tensor "x" and, if labelsPath is non-empty, one-hot label rows
// into tensor "lab" (spec.md §6 featuresFile/labelsFile). Both files must
// have exactly localVertexCount rows.
func LoadFeatures(m *gnn.Map, featuresPath, labelsPath string, localVertexCount int) error {
	if err := loadRowFile(m, "x", featuresPath, localVertexCount); err != nil {
		return err
	}
	if labelsPath == "" {
		return nil
	}
	return loadRowFile(m, "lab", labelsPath, localVertexCount)
}

func loadRowFile(m *gnn.Map, name, path string, wantRows int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	var rows [][]float32
	cols := -1
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if cols == -1 {
			cols = len(fields)
		} else if len(fields) != cols {
			return fmt.Errorf("%s: row %d has %d columns, want %d", path, len(rows), len(fields), cols)
		}
		row := make([]float32, cols)
		for i, tok := range fields {
			v, err := strconv.ParseFloat(tok, 32)
			if err != nil {
				return fmt.Errorf("%s: row %d col %d: %w", path, len(rows), i, err)
			}
			row[i] = float32(v)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if len(rows) != wantRows {
		return fmt.Errorf("%s: %d rows, want %d", path, len(rows), wantRows)
	}
	data := make([]float32, 0, wantRows*cols)
	for _, r := range rows {
		data = append(data, r...)
	}
	m.Save(gnn.NewTensorFromData(name, wantRows, cols, data))
	return nil
}
