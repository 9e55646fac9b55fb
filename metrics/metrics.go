// Package metrics exposes server-internal counters and gauges via
// prometheus/client_golang, wired into conn.Handler's lifecycle hooks,
// the TTL expirer's sweep callback, and the replication master's queue
// depth (SPEC_FULL.md DOMAIN STACK).
/*
 * Copyright (c) 2024-2026, kvnode contributors. All rights reserved.
 */
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kvnode/kvnode/conn"
)

// Registry bundles every metric the server publishes under one
// prometheus.Registerer, with typed accessor methods satisfying the
// interfaces conn/store/expire/repl expect.
type Registry struct {
	reg *prometheus.Registry

	connsOpened   prometheus.Counter
	connsClosed   prometheus.Counter
	commandsTotal *prometheus.CounterVec
	expiredTotal  prometheus.Counter
	snapshotSecs  prometheus.Histogram
	replQueued    prometheus.Gauge
	replFollowers prometheus.Gauge
	diskReadBytes prometheus.Counter
	diskWriteBytes prometheus.Counter
}

// New builds a Registry with a fresh prometheus.Registry (not the global
// default one, so tests can spin up independent instances).
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		connsOpened: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "kvnode", Name: "connections_opened_total",
			Help: "Total TCP connections accepted.",
		}),
		connsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "kvnode", Name: "connections_closed_total",
			Help: "Total TCP connections closed.",
		}),
		commandsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvnode", Name: "commands_total",
			Help: "Commands processed, by verb.",
		}, []string{"verb"}),
		expiredTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "kvnode", Name: "keys_expired_total",
			Help: "Keys removed by the TTL expirer.",
		}),
		snapshotSecs: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "kvnode", Name: "snapshot_duration_seconds",
			Help:    "Wall time spent writing a snapshot file.",
			Buckets: prometheus.DefBuckets,
		}),
		replQueued: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "kvnode", Name: "replication_queue_depth",
			Help: "Sum of queued replication lines across all followers.",
		}),
		replFollowers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "kvnode", Name: "replication_followers",
			Help: "Currently registered replication followers.",
		}),
		diskReadBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "kvnode", Name: "disk_read_bytes_total",
			Help: "Bytes read, summed over every disk iostat reports.",
		}),
		diskWriteBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "kvnode", Name: "disk_write_bytes_total",
			Help: "Bytes written, summed over every disk iostat reports.",
		}),
	}
	return m
}

// Registerer exposes the underlying prometheus.Registry for the admin
// HTTP surface's /metrics handler.
func (m *Registry) Registerer() *prometheus.Registry { return m.reg }

// ConnOpened/ConnClosed/CommandProcessed satisfy conn.Metrics.
func (m *Registry) ConnOpened()                   { m.connsOpened.Inc() }
func (m *Registry) ConnClosed()                   { m.connsClosed.Inc() }
func (m *Registry) CommandProcessed(verb string)  { m.commandsTotal.WithLabelValues(verb).Inc() }

// ExpireSweep records a TTL expirer pass that removed n keys, satisfying
// the store.Expirer onSweep callback signature.
func (m *Registry) ExpireSweep(n int) { m.expiredTotal.Add(float64(n)) }

// ObserveSnapshotSeconds records one snapshot write's duration.
func (m *Registry) ObserveSnapshotSeconds(seconds float64) { m.snapshotSecs.Observe(seconds) }

// SetReplicationDepth and SetReplicationFollowers are sampled by the
// repl package after each fan-out and registration/removal respectively.
func (m *Registry) SetReplicationDepth(n int)     { m.replQueued.Set(float64(n)) }
func (m *Registry) SetReplicationFollowers(n int) { m.replFollowers.Set(float64(n)) }

// AddDiskIO accumulates the incremental bytes read/written since the
// previous iostat sample (see iostat.go).
func (m *Registry) AddDiskIO(readDelta, writeDelta uint64) {
	m.diskReadBytes.Add(float64(readDelta))
	m.diskWriteBytes.Add(float64(writeDelta))
}

var _ conn.Metrics = (*Registry)(nil)
