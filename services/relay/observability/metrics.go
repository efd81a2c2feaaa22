// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing for the relay.
//
// # Description
//
// Prometheus metrics cover both chat endpoints:
//   - Request counters (by endpoint and status)
//   - Error counters (by endpoint and error code)
//   - Latency histograms (time to first chunk, stream duration, upstream call)
//   - Active stream gauge, relayed chunk, keepalive and disconnect counters
//
// Metrics are registered on the Registerer passed to NewRelayMetrics and
// exposed on /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is safe to call on a nil *RelayMetrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "bailian_relay"
	chatSubsystem    = "chat"
)

// RelayMetrics holds the Prometheus collectors for the chat endpoints.
type RelayMetrics struct {
	// RequestsTotal counts chat requests.
	// Labels: endpoint (chat, chat_stream), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// ErrorsTotal counts failures by category.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// TimeToFirstChunkSeconds measures latency until the first content frame.
	// Labels: endpoint
	TimeToFirstChunkSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status
	StreamDurationSeconds *prometheus.HistogramVec

	// UpstreamDurationSeconds measures single-shot provider calls.
	// Labels: endpoint, status
	UpstreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streams.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ChunksTotal counts content frames relayed to clients.
	// Labels: endpoint
	ChunksTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive comments sent.
	// Labels: endpoint
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts streams abandoned by the client.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec
}

// NewRelayMetrics creates and registers all collectors on reg.
//
// # Limitations
//
//   - Panics if the collectors are already registered on reg.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	factory := promauto.With(reg)
	latencyBuckets := []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}

	return &RelayMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "requests_total",
				Help:      "Total number of chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "errors_total",
				Help:      "Total chat errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),
		TimeToFirstChunkSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "time_to_first_chunk_seconds",
				Help:      "Time from request to first relayed chunk in seconds",
				Buckets:   latencyBuckets,
			},
			[]string{"endpoint"},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),
		UpstreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "upstream_duration_seconds",
				Help:      "Duration of single-shot provider calls in seconds",
				Buckets:   latencyBuckets,
			},
			[]string{"endpoint", "status"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open streams",
			},
			[]string{"endpoint"},
		),
		ChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "chunks_total",
				Help:      "Total content chunks relayed to clients",
			},
			[]string{"endpoint"},
		),
		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive comments sent",
			},
			[]string{"endpoint"},
		),
		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}
}

// =============================================================================
// Labels
// =============================================================================

// Endpoint labels a chat endpoint.
type Endpoint string

const (
	EndpointChat       Endpoint = "chat"
	EndpointChatStream Endpoint = "chat_stream"
)

// ErrorCode labels a failure category.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeConfiguration    ErrorCode = "configuration"
	ErrorCodeUpstream         ErrorCode = "upstream"
	ErrorCodeStreamFault      ErrorCode = "stream_fault"
	ErrorCodeInternal         ErrorCode = "internal"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a finished request.
func (m *RelayMetrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordError records a failure.
func (m *RelayMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *RelayMetrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *RelayMetrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstChunk observes the latency to the first content frame.
func (m *RelayMetrics) RecordTimeToFirstChunk(endpoint Endpoint, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstChunkSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration observes the total duration of a stream.
func (m *RelayMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), statusLabel(success)).Observe(seconds)
}

// RecordUpstreamDuration observes one single-shot provider call.
func (m *RelayMetrics) RecordUpstreamDuration(endpoint Endpoint, seconds float64, success bool) {
	if m == nil {
		return
	}
	m.UpstreamDurationSeconds.WithLabelValues(string(endpoint), statusLabel(success)).Observe(seconds)
}

// RecordChunk counts one relayed content frame.
func (m *RelayMetrics) RecordChunk(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordKeepAlive counts one keepalive comment.
func (m *RelayMetrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect counts one abandoned stream.
func (m *RelayMetrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
