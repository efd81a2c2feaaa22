// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultCompatibleBaseURL is DashScope's OpenAI-compatible endpoint.
	DefaultCompatibleBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

	// DefaultCompatibleModel is used when no model is configured.
	DefaultCompatibleModel = "qwen-plus"
)

// OpenAICompatConfig configures an OpenAICompatClient.
type OpenAICompatConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	HTTPClient     *http.Client
}

// OpenAICompatClient talks to an OpenAI-compatible chat completions API.
// It has no notion of provider-side sessions, so session ids are ignored
// and never returned.
type OpenAICompatClient struct {
	client      *openai.Client
	model       string
	configured  bool
	readTimeout time.Duration
	tracer      trace.Tracer
}

// NewOpenAICompatClient returns a client for cfg.BaseURL, defaulting to
// DashScope compatible mode and DefaultCompatibleModel.
func NewOpenAICompatClient(cfg OpenAICompatConfig) (*OpenAICompatClient, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultCompatibleModel
		slog.Warn("OpenAI-compatible model not set, using default", "model", model)
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = DefaultCompatibleBaseURL
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = newHTTPClient(cfg.ConnectTimeout, readTimeout)
	}

	slog.Info("Initializing OpenAI-compatible client", "model", model, "base_url", config.BaseURL)
	return &OpenAICompatClient{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		configured:  cfg.APIKey != "",
		readTimeout: readTimeout,
		tracer:      otel.Tracer("bailian.relay.llm.openai"),
	}, nil
}

// Ready reports ErrMissingAPIKey when no key was configured.
func (c *OpenAICompatClient) Ready() error {
	if !c.configured {
		return ErrMissingAPIKey
	}
	return nil
}

// Call performs one chat completion.
func (c *OpenAICompatClient) Call(ctx context.Context, req AppRequest) (*Completion, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "OpenAICompatClient.Call")
	defer span.End()
	span.SetAttributes(
		attribute.String("openai.model", c.model),
		attribute.Int("openai.messages", len(req.Messages)),
	)

	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, c.chatRequest(req, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return nil, errors.New("openai: response contained no choices")
	}

	return &Completion{
		Text:         resp.Choices[0].Message.Content,
		RequestID:    resp.ID,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// CallStream streams a chat completion. Every delta with content becomes a
// chunk; the chunk carrying a finish reason is final.
func (c *OpenAICompatClient) CallStream(ctx context.Context, req AppRequest) iter.Seq2[StreamChunk, error] {
	var consumed atomic.Bool

	return func(yield func(StreamChunk, error) bool) {
		if consumed.Swap(true) {
			yield(StreamChunk{}, ErrStreamConsumed)
			return
		}
		if err := c.Ready(); err != nil {
			yield(StreamChunk{}, err)
			return
		}

		ctx, span := c.tracer.Start(ctx, "OpenAICompatClient.CallStream")
		defer span.End()
		span.SetAttributes(
			attribute.String("openai.model", c.model),
			attribute.Int("openai.messages", len(req.Messages)),
		)

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		idle := watchIdle(c.readTimeout, cancel)
		defer idle.Stop()

		fail := func(err error) {
			if idle.Fired() {
				err = fmt.Errorf("openai: no data received for %s", c.readTimeout)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream failed")
			yield(StreamChunk{}, err)
		}

		stream, err := c.client.CreateChatCompletionStream(streamCtx, c.chatRequest(req, true))
		if err != nil {
			if chunk, ok := apiErrorChunk(err); ok {
				span.SetStatus(codes.Error, chunk.ErrorMessage)
				yield(chunk, nil)
				return
			}
			fail(fmt.Errorf("openai: request failed: %w", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if chunk, ok := apiErrorChunk(err); ok {
					yield(chunk, nil)
					return
				}
				fail(fmt.Errorf("openai: read stream: %w", err))
				return
			}
			idle.Touch()

			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			chunk := StreamChunk{
				Text:    choice.Delta.Content,
				IsFinal: choice.FinishReason != "",
			}
			if chunk.Text == "" && !chunk.IsFinal {
				continue
			}
			if !yield(chunk, nil) || chunk.IsFinal {
				return
			}
		}
	}
}

func (c *OpenAICompatClient) chatRequest(req AppRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

// mapOpenAIError converts go-openai's typed errors into *APIError so
// callers can treat every backend alike.
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		mapped := &APIError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
		if apiErr.Code != nil {
			mapped.Code = fmt.Sprint(apiErr.Code)
		}
		return mapped
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &APIError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    http.StatusText(reqErr.HTTPStatusCode),
		}
	}
	return fmt.Errorf("openai: %w", err)
}

func apiErrorChunk(err error) (StreamChunk, bool) {
	var apiErr *APIError
	if errors.As(mapOpenAIError(err), &apiErr) {
		return StreamChunk{ErrorCode: apiErr.StatusCode, ErrorMessage: apiErr.Message}, true
	}
	return StreamChunk{}, false
}
