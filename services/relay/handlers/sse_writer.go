// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes Server-Sent Events to an HTTP response.
//
// # Description
//
// Each event is one `data: <json>\n\n` frame with no event name or id,
// which is what the chat widget parses. Every write is flushed
// immediately so chunks reach the browser as they arrive.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The relay loop and the
// heartbeat goroutine write through the same writer.
//
// # Assumptions
//
//   - Caller has called SetSSEHeaders before the first write.
type SSEWriter interface {
	// WriteEvent serializes payload to JSON and writes it as one data frame.
	WriteEvent(payload any) error

	// WriteKeepAlive writes an SSE comment that clients ignore.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter implements SSEWriter on top of an http.ResponseWriter.
type sseWriter struct {
	writer  io.Writer
	flusher http.Flusher
	mu      sync.Mutex
}

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("response writer does not support flushing")

// NewSSEWriter wraps w for event writing.
//
// # Outputs
//
//   - SSEWriter: Writer bound to w.
//   - error: ErrStreamingUnsupported if w does not implement http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// WriteEvent writes payload as a data frame and flushes.
func (w *sseWriter) WriteEvent(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteKeepAlive writes ": ping\n\n" and flushes. Comments keep proxies
// and load balancers from closing an idle connection.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders sets the streaming response headers. The CORS headers let
// the widget read the stream from another origin.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

var _ SSEWriter = (*sseWriter)(nil)
