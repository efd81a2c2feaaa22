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
	"context"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/BailianRelay/services/llm"
	"github.com/AleutianAI/BailianRelay/services/relay/datatypes"
	"github.com/AleutianAI/BailianRelay/services/relay/middleware"
	"github.com/AleutianAI/BailianRelay/services/relay/observability"
	"github.com/AleutianAI/BailianRelay/services/relay/stream"
)

// streamOutcome summarizes one relayed stream for metrics and logging.
type streamOutcome struct {
	chunks        int
	completed     bool
	upstreamError bool
	fault         bool
	disconnected  bool
	writeErr      error
}

func (o streamOutcome) success() bool {
	return o.completed && !o.upstreamError && !o.disconnected
}

// HandleChatStream answers POST /myapi/v1/chat-bot/stream.
//
// # Description
//
// Validation and configuration failures are answered with a JSON body
// before any stream is opened. Otherwise the response is a 200 SSE stream:
//
//	data: {"success":true,"content":"Hel","finished":false,"session_id":null}
//
//	data: {"success":true,"content":"lo","finished":false,"session_id":null}
//
//	data: {"success":true,"finished":true,"message":"Stream completed"}
//
// A provider error adds one {"success":false,"message":"API Error: ...",
// "code":N} frame before the completed frame. A failure of the stream
// itself ends it with {"success":false,"message":"Stream generation
// error: ...","finished":true} instead of the completed frame.
//
// # Limitations
//
//   - When the client disconnects the provider call is cancelled and no
//     terminal frame is written.
func (h *chatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	appReq, reqErr := h.prepare(c)
	if reqErr != nil {
		h.opts.Metrics.RecordRequest(endpoint, false)
		h.rejectRequest(c, span, endpoint, reqErr)
		return
	}
	span.SetAttributes(
		attribute.Int("chat.turns", len(appReq.Messages)),
		attribute.Bool("chat.has_session", appReq.SessionID != ""),
	)

	logger := middleware.Logger(c)

	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		h.opts.Metrics.RecordRequest(endpoint, false)
		h.opts.Metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		logger.Error("Streaming not supported", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse(datatypes.MessageInternalError))
		return
	}

	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	h.opts.Metrics.StreamStarted(endpoint)
	defer h.opts.Metrics.StreamEnded(endpoint)

	var heartbeat sync.WaitGroup
	heartbeatDone := make(chan struct{})
	if h.opts.HeartbeatInterval > 0 {
		heartbeat.Add(1)
		go func() {
			defer heartbeat.Done()
			h.runHeartbeat(ctx, writer, endpoint, heartbeatDone)
		}()
	}

	outcome := h.relay(ctx, writer, h.client.CallStream(ctx, appReq), endpoint, startTime)

	close(heartbeatDone)
	heartbeat.Wait()

	duration := time.Since(startTime)
	h.opts.Metrics.RecordRequest(endpoint, outcome.success())
	h.opts.Metrics.RecordStreamDuration(endpoint, duration.Seconds(), outcome.success())
	span.SetAttributes(attribute.Int("stream.chunks", outcome.chunks))

	switch {
	case outcome.disconnected:
		h.opts.Metrics.RecordClientDisconnect(endpoint)
		h.opts.Metrics.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
		span.SetStatus(codes.Error, "client disconnected")
		logger.Debug("Client disconnected during stream",
			"chunks", outcome.chunks, "write_error", outcome.writeErr)
	case outcome.fault:
		h.opts.Metrics.RecordError(endpoint, observability.ErrorCodeStreamFault)
		span.SetStatus(codes.Error, "stream fault")
		logger.Error("Stream ended with a fault", "chunks", outcome.chunks)
	case outcome.upstreamError:
		h.opts.Metrics.RecordError(endpoint, observability.ErrorCodeUpstream)
		span.SetStatus(codes.Error, "provider error")
		logger.Warn("Provider reported an error in stream", "chunks", outcome.chunks)
	default:
		span.SetStatus(codes.Ok, "stream completed")
		logger.Info("Stream completed",
			"chunks", outcome.chunks, "duration_ms", duration.Milliseconds())
	}
}

// relay writes every frame of the stream to writer.
func (h *chatHandler) relay(
	ctx context.Context,
	writer SSEWriter,
	chunks iter.Seq2[llm.StreamChunk, error],
	endpoint observability.Endpoint,
	startTime time.Time,
) streamOutcome {
	var out streamOutcome

	for frame := range stream.Frames(ctx, chunks) {
		if err := writer.WriteEvent(frame.Payload); err != nil {
			out.writeErr = err
			break
		}

		switch frame.Kind {
		case stream.KindContent:
			if out.chunks == 0 {
				h.opts.Metrics.RecordTimeToFirstChunk(endpoint, time.Since(startTime).Seconds())
			}
			out.chunks++
			h.opts.Metrics.RecordChunk(endpoint)
		case stream.KindUpstreamError:
			out.upstreamError = true
		case stream.KindCompleted:
			out.completed = true
		case stream.KindFault:
			out.fault = true
		}
	}

	if out.writeErr != nil || (ctx.Err() != nil && !out.completed && !out.fault) {
		out.disconnected = true
	}
	return out
}

// runHeartbeat writes keepalive comments until done is closed or the
// client goes away.
func (h *chatHandler) runHeartbeat(
	ctx context.Context,
	writer SSEWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			h.opts.Metrics.RecordKeepAlive(endpoint)
		}
	}
}
