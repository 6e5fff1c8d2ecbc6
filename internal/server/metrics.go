package server

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the counters behind INFO and the Prometheus endpoint.
type metrics struct {
	connections    atomic.Uint64
	commands       atomic.Uint64
	items          atomic.Uint64
	snapshots      atomic.Uint64
	snapshotErrors atomic.Uint64

	commandsByName  *prometheus.CounterVec
	snapshotSeconds prometheus.Histogram
}

func newMetrics() *metrics {
	return &metrics{
		commandsByName: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hll",
			Name:      "commands_by_name_total",
			Help:      "Commands processed, by command name.",
		}, []string{"command"}),
		snapshotSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hll",
			Name:      "snapshot_duration_seconds",
			Help:      "Time spent writing snapshots.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

// collector reads the atomic counters and store size at scrape time.
type collector struct {
	s *Server

	connections    *prometheus.Desc
	active         *prometheus.Desc
	commands       *prometheus.Desc
	items          *prometheus.Desc
	keys           *prometheus.Desc
	snapshots      *prometheus.Desc
	snapshotErrors *prometheus.Desc
}

func newCollector(s *Server) *collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("hll", "", name), help, nil, nil)
	}
	return &collector{
		s:              s,
		connections:    desc("connections_total", "Client connections accepted."),
		active:         desc("connections_active", "Client connections currently open."),
		commands:       desc("commands_total", "Commands processed."),
		items:          desc("items_added_total", "Items applied to sketches by HLL.ADD."),
		keys:           desc("sketches", "Sketches in the store."),
		snapshots:      desc("snapshots_total", "Snapshots written."),
		snapshotErrors: desc("snapshot_errors_total", "Snapshots that failed."),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.active
	ch <- c.commands
	ch <- c.items
	ch <- c.keys
	ch <- c.snapshots
	ch <- c.snapshotErrors
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	m := c.s.metrics
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.connections, m.connections.Load())
	counter(c.commands, m.commands.Load())
	counter(c.items, m.items.Load())
	counter(c.snapshots, m.snapshots.Load())
	counter(c.snapshotErrors, m.snapshotErrors.Load())
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(len(c.s.connLimiter)))
	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(c.s.store.Len()))
}

// MetricsHandler serves the server's metrics, plus Go runtime and process
// metrics, in the Prometheus text format. Each call uses its own registry.
func (s *Server) MetricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newCollector(s),
		s.metrics.commandsByName,
		s.metrics.snapshotSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
