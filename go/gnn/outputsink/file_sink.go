// Package outputsink persists per-epoch accuracy/loss/timing lines, the
// destination spec.md §6 calls outFile. FileSink is the default; PostgresSink
// is an additive destination enabled by config (SPEC_FULL.md DOMAIN STACK).
package outputsink

import (
	"fmt"
	"os"
	"time"
)

// FileSink appends one line per epoch to a text file, the direct Go
// reading of the original engine's outFile stream writes.
type FileSink struct {
	f *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open output file %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) WriteEpoch(epoch uint32, acc, loss float64, elapsed time.Duration) error {
	_, err := fmt.Fprintf(s.f, "epoch=%d acc=%.6f loss=%.6f elapsed=%s\n", epoch, acc, loss, elapsed)
	return err
}

func (s *FileSink) Close() error {
	return s.f.Close()
}
