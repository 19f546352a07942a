package flatten

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"mgflat/pkg/filter"
)

const metricsNamespace = "mgflat"

// metrics holds the counters of one run in a private registry so runs never
// share state.
type metrics struct {
	registry     *prometheus.Registry
	processed    prometheus.Counter
	skipped      *prometheus.CounterVec
	consolidated prometheus.Counter
	parts        prometheus.Counter
	bytes        prometheus.Counter

	// Mirrors of the counters for the run summary.
	nProcessed    atomic.Int64
	nSkipped      atomic.Int64
	nConsolidated atomic.Int64
	nParts        atomic.Int64
	nBytes        atomic.Int64
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "files_processed_total",
			Help:      "Source files whose content reached the output directory.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "files_skipped_total",
			Help:      "Source files left out of the output, by reason.",
		}, []string{"reason"}),
		consolidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "files_consolidated_total",
			Help:      "Log files merged into consolidated documents.",
		}),
		parts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "parts_written_total",
			Help:      "Part files written by the splitter.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_written_total",
			Help:      "Bytes written to the output directory.",
		}),
	}
	m.registry.MustRegister(m.processed, m.skipped, m.consolidated, m.parts, m.bytes)
	return m
}

func (m *metrics) fileProcessed() {
	m.processed.Inc()
	m.nProcessed.Add(1)
}

func (m *metrics) fileSkipped(reason filter.Reason) {
	m.skipped.WithLabelValues(string(reason)).Inc()
	m.nSkipped.Add(1)
}

func (m *metrics) filesConsolidated(n int) {
	m.consolidated.Add(float64(n))
	m.nConsolidated.Add(int64(n))
}

func (m *metrics) partsWritten(n int) {
	m.parts.Add(float64(n))
	m.nParts.Add(int64(n))
}

func (m *metrics) bytesWritten(n int64) {
	m.bytes.Add(float64(n))
	m.nBytes.Add(n)
}

// writeTextfile writes the counters in the Prometheus text format, for the
// node exporter textfile collector.
func (m *metrics) writeTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
