package gnn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProcessMetrics is the small set of counters the graph server registers
// and exposes on its admin mux's /metrics endpoint, grounded on
// Chapter13/prom_http's promauto registration style. The weight server and
// compute worker do not create one.
type ProcessMetrics struct {
	ChunksDispatched prometheus.Counter
	ChunksCompleted  prometheus.Counter
	RelaunchCount    prometheus.Counter
	EpochsCompleted  prometheus.Counter
}

// NewProcessMetrics registers the counters under a role-qualified prefix
// so a graph server, weight server and compute worker on the same host
// don't collide.
func NewProcessMetrics(role string) *ProcessMetrics {
	return &ProcessMetrics{
		ChunksDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "dorylus_chunks_dispatched_total",
			Help:        "Chunks dispatched to compute workers.",
			ConstLabels: prometheus.Labels{"role": role},
		}),
		ChunksCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "dorylus_chunks_completed_total",
			Help:        "Chunks whose result was installed.",
			ConstLabels: prometheus.Labels{"role": role},
		}),
		RelaunchCount: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "dorylus_chunk_relaunches_total",
			Help:        "Chunks relaunched after their adaptive timeout elapsed.",
			ConstLabels: prometheus.Labels{"role": role},
		}),
		EpochsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "dorylus_epochs_completed_total",
			Help:        "Epochs whose evaluation ledger closed.",
			ConstLabels: prometheus.Labels{"role": role},
		}),
	}
}
