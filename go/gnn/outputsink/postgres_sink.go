package outputsink

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresSink mirrors epoch metrics into a Postgres table, grounded on
// go/r3dr/short_db.go's sql.Open/Exec pattern. It is additive to FileSink,
// not a replacement: enabling POSTGRES_CONNECTION_STRING never turns off
// the file record (SPEC_FULL.md DOMAIN STACK).
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens the connection and ensures the epoch_metrics table
// exists.
func NewPostgresSink(connectionString string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres sink: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS epoch_metrics (
		epoch INTEGER NOT NULL,
		acc DOUBLE PRECISION NOT NULL,
		loss DOUBLE PRECISION NOT NULL,
		elapsed_ms BIGINT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (epoch)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create epoch_metrics table: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) WriteEpoch(epoch uint32, acc, loss float64, elapsed time.Duration) error {
	_, err := s.db.Exec(
		`INSERT INTO epoch_metrics (epoch, acc, loss, elapsed_ms) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (epoch) DO UPDATE SET acc = $2, loss = $3, elapsed_ms = $4`,
		epoch, acc, loss, elapsed.Milliseconds(),
	)
	return err
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// Sink is the interface graphserver.OutputSink mirrors; declared here too
// so MultiSink can fan out without importing graphserver.
type Sink interface {
	WriteEpoch(epoch uint32, acc, loss float64, elapsed time.Duration) error
	Close() error
}

// MultiSink fans a single WriteEpoch call out to several sinks, letting
// the file sink and the Postgres sink run side by side.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) WriteEpoch(epoch uint32, acc, loss float64, elapsed time.Duration) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.WriteEpoch(epoch, acc, loss, elapsed); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
