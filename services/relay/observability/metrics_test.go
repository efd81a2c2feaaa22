// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMetrics registers metrics on an isolated registry so tests can
// run in parallel without touching the global one.
func newTestMetrics(t *testing.T) (*RelayMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewRelayMetrics(reg), reg
}

func TestNewRelayMetrics_RegistersCollectors(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordRequest(EndpointChat, true)
	m.RecordError(EndpointChat, ErrorCodeValidation)
	m.StreamStarted(EndpointChatStream)
	m.RecordChunk(EndpointChatStream)
	m.RecordKeepAlive(EndpointChatStream)
	m.RecordClientDisconnect(EndpointChatStream)
	m.RecordTimeToFirstChunk(EndpointChatStream, 0.2)
	m.RecordStreamDuration(EndpointChatStream, 3, true)
	m.RecordUpstreamDuration(EndpointChat, 1, false)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"bailian_relay_chat_requests_total",
		"bailian_relay_chat_errors_total",
		"bailian_relay_chat_active_streams",
		"bailian_relay_chat_chunks_total",
		"bailian_relay_chat_keepalives_total",
		"bailian_relay_chat_client_disconnects_total",
		"bailian_relay_chat_time_to_first_chunk_seconds",
		"bailian_relay_chat_stream_duration_seconds",
		"bailian_relay_chat_upstream_duration_seconds",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestNewRelayMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRelayMetrics(reg)
	assert.Panics(t, func() { NewRelayMetrics(reg) })
}

func TestRelayMetrics_RecordRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRequest(EndpointChat, true)
	m.RecordRequest(EndpointChat, true)
	m.RecordRequest(EndpointChat, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat", "error")))
}

func TestRelayMetrics_StreamLifecycle(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.StreamStarted(EndpointChatStream)
	m.StreamStarted(EndpointChatStream)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chat_stream")))

	m.StreamEnded(EndpointChatStream)
	m.StreamEnded(EndpointChatStream)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chat_stream")))
}

func TestRelayMetrics_ClientDisconnectScenario(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.StreamStarted(EndpointChatStream)
	m.RecordChunk(EndpointChatStream)
	m.RecordClientDisconnect(EndpointChatStream)
	m.RecordError(EndpointChatStream, ErrorCodeClientDisconnect)
	m.StreamEnded(EndpointChatStream)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientDisconnectsTotal.WithLabelValues("chat_stream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("chat_stream", "client_disconnect")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunksTotal.WithLabelValues("chat_stream")))
}

func TestRelayMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *RelayMetrics
	assert.NotPanics(t, func() {
		m.RecordRequest(EndpointChat, true)
		m.RecordError(EndpointChat, ErrorCodeInternal)
		m.StreamStarted(EndpointChatStream)
		m.StreamEnded(EndpointChatStream)
		m.RecordTimeToFirstChunk(EndpointChatStream, 1)
		m.RecordStreamDuration(EndpointChatStream, 1, true)
		m.RecordUpstreamDuration(EndpointChat, 1, true)
		m.RecordChunk(EndpointChatStream)
		m.RecordKeepAlive(EndpointChatStream)
		m.RecordClientDisconnect(EndpointChatStream)
	})
}

func TestRelayMetrics_ConcurrentSafety(t *testing.T) {
	m, _ := newTestMetrics(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.StreamStarted(EndpointChatStream)
			m.RecordChunk(EndpointChatStream)
			m.StreamEnded(EndpointChatStream)
			m.RecordRequest(EndpointChatStream, true)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat_stream", "success")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.ChunksTotal.WithLabelValues("chat_stream")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chat_stream")))
}

// =============================================================================
// Tracing
// =============================================================================

func TestInitTracer_None(t *testing.T) {
	for _, exporter := range []string{"", TraceExporterNone} {
		shutdown, err := InitTracer(context.Background(), TracingConfig{Exporter: exporter})
		require.NoError(t, err)
		require.NotNil(t, shutdown)
		assert.NoError(t, shutdown(context.Background()))
	}
}

func TestInitTracer_Stdout(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{
		Exporter:       TraceExporterStdout,
		ServiceName:    "bailian-relay-test",
		ServiceVersion: "test",
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracer_UnknownExporter(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{Exporter: "zipkin"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownExporter))
	assert.NotNil(t, shutdown)
}
