// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes the engine's operation counters through
// prometheus/client_golang, backing the Prometheus-format /metrics
// endpoint. The /stats endpoint does not read these counters; it reports
// the engine's size snapshot (tsdb.Stats).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups every counter the engine updates as it serves requests.
// A single instance is created at startup and threaded through the engine
// and HTTP adapter; it is safe for concurrent use since every field is a
// prometheus.Counter, which is itself concurrency-safe.
type Collector struct {
	InsertsTotal        prometheus.Counter
	UpdatesTotal        prometheus.Counter
	DeletesTotal        prometheus.Counter
	QueriesTotal        prometheus.Counter
	FlushesTotal        prometheus.Counter
	CompactionsTotal    prometheus.Counter
	SegmentsPrunedTotal prometheus.Counter
}

// NewCollector registers a fresh set of counters against reg. Passing
// prometheus.NewRegistry() keeps tests hermetic; passing
// prometheus.DefaultRegisterer wires into the process-wide /metrics
// endpoint.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		InsertsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb",
			Name:      "inserts_total",
			Help:      "Total number of datapoint inserts accepted.",
		}),
		UpdatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb",
			Name:      "updates_total",
			Help:      "Total number of successful point updates.",
		}),
		DeletesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb",
			Name:      "deletes_total",
			Help:      "Total number of successful deletes (point or whole-series).",
		}),
		QueriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb",
			Name:      "queries_total",
			Help:      "Total number of range queries served.",
		}),
		FlushesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb",
			Name:      "flushes_total",
			Help:      "Total number of memtable flushes to a new segment.",
		}),
		CompactionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb",
			Name:      "compactions_total",
			Help:      "Total number of completed segment compactions.",
		}),
		SegmentsPrunedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb",
			Name:      "segments_pruned_total",
			Help:      "Total number of segment blocks skipped via min/max timestamp pruning without decompression.",
		}),
	}
}
