// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics holds the Prometheus collectors of the sync layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultDropped = "dropped"
	ResultError   = "error"

	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeFiltered  = "filtered"
)

// Metrics is safe to use through a nil pointer, which records nothing.
type Metrics struct {
	GridFetchTotal     *prometheus.CounterVec
	GridFetchDuration  prometheus.Histogram
	BulkActionsTotal   *prometheus.CounterVec
	BulkActionIDsTotal *prometheus.CounterVec
	SessionSavesTotal  *prometheus.CounterVec
	Instances          prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers every collector with reg. A nil reg uses a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		GridFetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratiosync_grid_fetch_total",
			Help: "Grid summary fetches by result",
		}, []string{"result"}),
		GridFetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratiosync_grid_fetch_duration_seconds",
			Help:    "Time spent fetching grid summaries",
			Buckets: prometheus.DefBuckets,
		}),
		BulkActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratiosync_bulk_actions_total",
			Help: "Bulk actions issued from the grid",
		}, []string{"action"}),
		BulkActionIDsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratiosync_bulk_action_ids_total",
			Help: "Instance ids touched by bulk actions by outcome",
		}, []string{"action", "outcome"}),
		SessionSavesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratiosync_session_saves_total",
			Help: "Session snapshot saves by result",
		}, []string{"result"}),
		Instances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ratiosync_instances",
			Help: "Instances currently held by the standard view",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveFetch(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.GridFetchTotal.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.GridFetchDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObserveBulk(action string, succeeded, failed, filtered int) {
	if m == nil {
		return
	}
	m.BulkActionsTotal.WithLabelValues(action).Inc()
	m.BulkActionIDsTotal.WithLabelValues(action, OutcomeSucceeded).Add(float64(succeeded))
	m.BulkActionIDsTotal.WithLabelValues(action, OutcomeFailed).Add(float64(failed))
	m.BulkActionIDsTotal.WithLabelValues(action, OutcomeFiltered).Add(float64(filtered))
}

func (m *Metrics) ObserveSave(result string) {
	if m == nil {
		return
	}
	m.SessionSavesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetInstances(n int) {
	if m == nil {
		return
	}
	m.Instances.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
