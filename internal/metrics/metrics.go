package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds scan and streaming instrumentation for the VFS and the
// refresh scheduler.
type Metrics struct {
	FilesOpened   prometheus.Counter
	StreamedBytes prometheus.Counter
	ReadErrors    prometheus.Counter
	Scans         *prometheus.CounterVec
	ScanDuration  prometheus.Histogram
	IndexEntries  prometheus.Gauge
}

// New creates and registers metrics with the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FilesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plexmount",
			Subsystem: "vfs",
			Name:      "files_opened_total",
			Help:      "Total files opened through the virtual filesystem.",
		}),
		StreamedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plexmount",
			Subsystem: "vfs",
			Name:      "streamed_bytes_total",
			Help:      "Total bytes streamed from the remote catalog.",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plexmount",
			Subsystem: "vfs",
			Name:      "read_errors_total",
			Help:      "Streaming reads that failed.",
		}),
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plexmount",
			Subsystem: "scan",
			Name:      "runs_total",
			Help:      "Catalog scans by result.",
		}, []string{"result"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "plexmount",
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Duration of catalog scans.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		IndexEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "plexmount",
			Subsystem: "index",
			Name:      "entries",
			Help:      "Entries in the currently published path index.",
		}),
	}

	reg.MustRegister(
		m.FilesOpened,
		m.StreamedBytes,
		m.ReadErrors,
		m.Scans,
		m.ScanDuration,
		m.IndexEntries,
	)

	return m
}
