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
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/BailianRelay/services/llm"
	"github.com/AleutianAI/BailianRelay/services/relay/datatypes"
	"github.com/AleutianAI/BailianRelay/services/relay/middleware"
	"github.com/AleutianAI/BailianRelay/services/relay/observability"
)

const (
	// maxRequestBodyBytes bounds the chat request body.
	maxRequestBodyBytes = 1 << 20

	// DefaultHeartbeatInterval is the keepalive period for open streams.
	DefaultHeartbeatInterval = 15 * time.Second
)

// DefaultSystemPrompt scopes the assistant to its subject area.
const DefaultSystemPrompt = "Answer questions only related to digital marketing, otherwise, say I dont know"

// ChatOptions carries the per-process settings the chat handlers need.
type ChatOptions struct {
	// SystemPrompt is the first turn of every conversation.
	SystemPrompt string

	// Temperature is forwarded to the provider unchanged.
	Temperature float32

	// HeartbeatInterval is the keepalive period. Zero disables keepalives.
	HeartbeatInterval time.Duration

	// Metrics may be nil.
	Metrics *observability.RelayMetrics
}

// ChatHandler serves the two chat endpoints.
//
// # Description
//
// Both endpoints share validation, conversation assembly and the API key
// check, and differ only in how the provider result is delivered:
//   - HandleChat: POST /myapi/v1/chat-bot, one JSON body.
//   - HandleChatStream: POST /myapi/v1/chat-bot/stream, an SSE stream.
//
// # Thread Safety
//
// Safe for concurrent use. Each request builds its own conversation.
type ChatHandler interface {
	HandleChat(c *gin.Context)
	HandleChatStream(c *gin.Context)
}

type chatHandler struct {
	client llm.ApplicationClient
	opts   ChatOptions
	tracer trace.Tracer
}

// NewChatHandler returns a ChatHandler backed by client.
//
// # Limitations
//
//   - Panics if client is nil.
func NewChatHandler(client llm.ApplicationClient, opts ChatOptions) ChatHandler {
	if client == nil {
		panic("NewChatHandler: client must not be nil")
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	return &chatHandler{
		client: client,
		opts:   opts,
		tracer: otel.Tracer("bailian.relay.handlers.chat"),
	}
}

// prepare reads and validates the body, checks that the provider client
// is usable, and builds the upstream request. No provider call is made.
func (h *chatHandler) prepare(c *gin.Context) (llm.AppRequest, *RequestError) {
	var body []byte
	if c.Request.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodyBytes))
		if err != nil {
			return llm.AppRequest{}, classifyParseError(err)
		}
	}

	req, err := datatypes.ParseChatRequest(body)
	if err != nil {
		return llm.AppRequest{}, classifyParseError(err)
	}

	if err := h.client.Ready(); err != nil {
		return llm.AppRequest{}, classifyReadyError(err)
	}

	conversation := datatypes.BuildConversation(h.opts.SystemPrompt, req.History, req.LastPrompt)
	return llm.AppRequest{
		Messages:    toMessages(conversation),
		SessionID:   req.SessionID,
		Temperature: h.opts.Temperature,
	}, nil
}

func toMessages(conversation datatypes.Conversation) []llm.Message {
	turns := conversation.Turns()
	messages := make([]llm.Message, len(turns))
	for i, turn := range turns {
		messages[i] = llm.Message{Role: turn.Role, Content: turn.Content}
	}
	return messages
}

// rejectRequest answers a failure detected before any provider call.
func (h *chatHandler) rejectRequest(c *gin.Context, span trace.Span, endpoint observability.Endpoint, reqErr *RequestError) {
	span.RecordError(reqErr)
	span.SetStatus(codes.Error, string(reqErr.Kind))
	h.opts.Metrics.RecordError(endpoint, reqErr.MetricCode())

	logger := middleware.Logger(c)
	if reqErr.Kind == KindConfiguration {
		logger.Error("Chat request rejected", "kind", reqErr.Kind, "error", reqErr)
	} else {
		logger.Info("Chat request rejected", "kind", reqErr.Kind, "reason", reqErr.Message)
	}
	c.JSON(reqErr.HTTPStatus(), datatypes.NewErrorResponse(reqErr.Message))
}

// HandleChat answers POST /myapi/v1/chat-bot.
//
// # Description
//
// Responses:
//   - 200 success with the provider text in result.
//   - 200 success=false with "API Error: <msg>" when the provider
//     reported a failure.
//   - 400 for validation failures, 500 for a missing API key.
//   - 500 with "Request processing error: <detail>" for any other failure.
func (h *chatHandler) HandleChat(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChat

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChat")
	defer span.End()

	success := false
	defer func() { h.opts.Metrics.RecordRequest(endpoint, success) }()

	appReq, reqErr := h.prepare(c)
	if reqErr != nil {
		h.rejectRequest(c, span, endpoint, reqErr)
		return
	}
	span.SetAttributes(
		attribute.Int("chat.turns", len(appReq.Messages)),
		attribute.Bool("chat.has_session", appReq.SessionID != ""),
	)

	logger := middleware.Logger(c)
	logger.Debug("Calling provider", "turns", len(appReq.Messages), "prompt_bytes", len(appReq.Messages[len(appReq.Messages)-1].Content))

	completion, err := h.client.Call(ctx, appReq)
	h.opts.Metrics.RecordUpstreamDuration(endpoint, time.Since(startTime).Seconds(), err == nil)

	if err != nil {
		span.RecordError(err)
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) {
			span.SetStatus(codes.Error, "provider error")
			h.opts.Metrics.RecordError(endpoint, observability.ErrorCodeUpstream)
			logger.Warn("Provider returned an error",
				"status", apiErr.StatusCode, "code", apiErr.Code, "request_id", apiErr.RequestID)
			c.JSON(http.StatusOK, datatypes.NewChatAPIError(apiErr.Message))
			return
		}

		span.SetStatus(codes.Error, "request failed")
		h.opts.Metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		logger.Error("Chat request failed", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.NewChatRequestError(describeError(ctx, err)))
		return
	}

	success = true
	span.SetStatus(codes.Ok, "")
	logger.Info("Chat response generated",
		"reply_bytes", len(completion.Text), "duration_ms", time.Since(startTime).Milliseconds())
	c.JSON(http.StatusOK, datatypes.NewChatSuccess(completion.Text, completion.SessionID))
}

// describeError returns the detail shown after "Request processing error: ".
func describeError(ctx context.Context, err error) string {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return "request cancelled"
	}
	return err.Error()
}
