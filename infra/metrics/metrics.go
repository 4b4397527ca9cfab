// Package metrics holds the engine's prometheus collectors. Everything is
// registered on a dedicated registry so tests can create isolated sets.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Set struct {
	Registry *prometheus.Registry

	CommandsTotal   *prometheus.CounterVec
	RejectsTotal    *prometheus.CounterVec
	TradesTotal     prometheus.Counter
	EventsTotal     prometheus.Counter
	QueueDepth      prometheus.Gauge
	WALFsyncSeconds prometheus.Histogram
	ReplicationLag  prometheus.Gauge
	LastLSN         prometheus.Gauge
}

func New() *Set {
	reg := prometheus.NewRegistry()

	s := &Set{
		Registry: reg,
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidar_commands_total",
			Help: "Commands processed by the matching writer, by type.",
		}, []string{"type"}),
		RejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidar_rejects_total",
			Help: "Rejected commands by reason code.",
		}, []string{"reason"}),
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidar_trades_total",
			Help: "Matches executed.",
		}),
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidar_events_total",
			Help: "Events committed to the WAL.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vidar_ingest_queue_depth",
			Help: "Commands waiting in the ingestion queue.",
		}),
		WALFsyncSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidar_wal_fsync_seconds",
			Help:    "WAL fsync latency per commit batch.",
			Buckets: prometheus.ExponentialBuckets(50e-6, 2, 14),
		}),
		ReplicationLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vidar_replication_lag",
			Help: "Primary LSN minus follower last-applied LSN.",
		}),
		LastLSN: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vidar_last_lsn",
			Help: "Last committed (primary) or applied (follower) LSN.",
		}),
	}

	reg.MustRegister(
		s.CommandsTotal, s.RejectsTotal, s.TradesTotal, s.EventsTotal,
		s.QueueDepth, s.WALFsyncSeconds, s.ReplicationLag, s.LastLSN,
	)
	return s
}
