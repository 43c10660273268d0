// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the audio ingest
// service.
//
// # Description
//
// Metrics cover the two halves of the pipeline:
//   - Synchronous intake: upload counts by outcome, bytes accepted
//   - Asynchronous analysis: durations, failures, similarity matches
//
// Plus a gauge of live event-stream subscribers.
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "aleutian"
const audioSubsystem = "audio"

// Upload outcome label values.
const (
	OutcomeAccepted    = "accepted"
	OutcomeDuplicate   = "duplicate"
	OutcomeUnsupported = "unsupported_type"
	OutcomeError       = "error"
)

// Metrics holds all Prometheus instruments for the service. Initialize
// once at startup via NewMetrics.
type Metrics struct {
	UploadsTotal            *prometheus.CounterVec
	UploadBytesTotal        prometheus.Counter
	AnalysisDurationSeconds prometheus.Histogram
	AnalysisFailuresTotal   prometheus.Counter
	SimilarityMatchesTotal  prometheus.Counter
	ActiveSubscribers       prometheus.Gauge
}

// NewMetrics registers all instruments on the given registerer (use
// prometheus.DefaultRegisterer in main, a fresh registry in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: audioSubsystem,
			Name:      "uploads_total",
			Help:      "Upload attempts by outcome (accepted, duplicate, unsupported_type, error).",
		}, []string{"outcome"}),
		UploadBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: audioSubsystem,
			Name:      "upload_bytes_total",
			Help:      "Total bytes of accepted uploads.",
		}),
		AnalysisDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: audioSubsystem,
			Name:      "analysis_duration_seconds",
			Help:      "End-to-end duration of one analysis task.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		AnalysisFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: audioSubsystem,
			Name:      "analysis_failures_total",
			Help:      "Analysis tasks that failed and left their artifact pending.",
		}),
		SimilarityMatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: audioSubsystem,
			Name:      "similarity_matches_total",
			Help:      "Similarity warnings recorded by the scan.",
		}),
		ActiveSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: audioSubsystem,
			Name:      "active_subscribers",
			Help:      "Currently connected similarity event subscribers.",
		}),
	}
}

// RecordUpload counts one upload attempt by outcome; accepted uploads also
// add their size to the byte counter.
func (m *Metrics) RecordUpload(outcome string, byteSize int64) {
	m.UploadsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeAccepted && byteSize > 0 {
		m.UploadBytesTotal.Add(float64(byteSize))
	}
}

// ObserveAnalysis records one finished analysis task.
func (m *Metrics) ObserveAnalysis(d time.Duration, ok bool) {
	m.AnalysisDurationSeconds.Observe(d.Seconds())
	if !ok {
		m.AnalysisFailuresTotal.Inc()
	}
}

// SimilarityMatch counts one recorded similarity match.
func (m *Metrics) SimilarityMatch() {
	m.SimilarityMatchesTotal.Inc()
}

// SubscriberConnected / SubscriberDisconnected track the live subscriber
// gauge from the stream handlers.
func (m *Metrics) SubscriberConnected()    { m.ActiveSubscribers.Inc() }
func (m *Metrics) SubscriberDisconnected() { m.ActiveSubscribers.Dec() }
