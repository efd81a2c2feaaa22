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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBailianBaseURL is the public DashScope API root.
const DefaultBailianBaseURL = "https://dashscope.aliyuncs.com/api/v1"

const maxResponseBytes = 4 << 20

// BailianConfig configures a BailianClient.
type BailianConfig struct {
	APIKey         string
	AppID          string
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// HTTPClient overrides the client built from the timeouts.
	HTTPClient *http.Client
}

// BailianClient calls a Bailian application through the DashScope
// application completion API.
//
// # Description
//
// Every call posts the full conversation as input.messages together with
// the optional session id. Streaming calls request incremental output so
// each SSE event carries only the newly generated text.
//
// # Limitations
//
//   - No retries. A failed call is reported once.
//
// # Thread Safety
//
// Safe for concurrent use. The client holds no per-request state.
type BailianClient struct {
	apiKey      string
	appID       string
	endpoint    string
	httpClient  *http.Client
	readTimeout time.Duration
	tracer      trace.Tracer
}

// NewBailianClient validates cfg and returns a ready client. An empty API
// key is accepted here and reported by Ready.
func NewBailianClient(cfg BailianConfig) (*BailianClient, error) {
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, errors.New("bailian: app id is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBailianBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("bailian: invalid base url %q: %w", base, err)
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(cfg.ConnectTimeout, readTimeout)
	}

	slog.Info("Initializing Bailian client", "app_id", cfg.AppID, "base_url", base)
	return &BailianClient{
		apiKey:      cfg.APIKey,
		appID:       cfg.AppID,
		endpoint:    strings.TrimRight(base, "/") + "/apps/" + url.PathEscape(cfg.AppID) + "/completion",
		httpClient:  httpClient,
		readTimeout: readTimeout,
		tracer:      otel.Tracer("bailian.relay.llm.bailian"),
	}, nil
}

// Ready reports ErrMissingAPIKey when no key was configured.
func (c *BailianClient) Ready() error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Call performs one non-streaming completion.
//
// # Outputs
//
//   - *Completion: Reply text and session id on HTTP 200.
//   - error: *APIError when the provider answered with a non-success
//     status, a wrapped transport or decode error otherwise.
func (c *BailianClient) Call(ctx context.Context, req AppRequest) (*Completion, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "BailianClient.Call")
	defer span.End()
	span.SetAttributes(
		attribute.String("bailian.app_id", c.appID),
		attribute.Int("bailian.messages", len(req.Messages)),
		attribute.Bool("bailian.has_session", req.SessionID != ""),
	)

	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	resp, err := c.post(ctx, req, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("bailian: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, fmt.Errorf("bailian: read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		apiErr := newAPIError(resp.StatusCode, body)
		span.SetStatus(codes.Error, apiErr.Message)
		slog.Warn("Bailian returned an error",
			"status", apiErr.StatusCode, "code", apiErr.Code, "request_id", apiErr.RequestID)
		return nil, apiErr
	}

	var out bailianResponse
	if err := json.Unmarshal(body, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, fmt.Errorf("bailian: decode response: %w", err)
	}

	span.SetAttributes(attribute.String("bailian.request_id", out.RequestID))
	return &Completion{
		Text:         out.Output.Text,
		SessionID:    out.Output.SessionID,
		RequestID:    out.RequestID,
		FinishReason: out.Output.FinishReason,
	}, nil
}

// CallStream performs a streaming completion.
//
// # Description
//
// Nothing is sent until the returned sequence is ranged over. Each SSE
// event with text becomes one chunk. A non-200 response, or an error event
// inside the stream, becomes a single chunk with ErrorCode set to the HTTP
// status, after which the sequence ends. Transport failures, including no
// data for longer than the read timeout, end the sequence with an error.
//
// # Limitations
//
//   - The sequence can be ranged over once. Later attempts yield
//     ErrStreamConsumed.
func (c *BailianClient) CallStream(ctx context.Context, req AppRequest) iter.Seq2[StreamChunk, error] {
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

		ctx, span := c.tracer.Start(ctx, "BailianClient.CallStream")
		defer span.End()
		span.SetAttributes(
			attribute.String("bailian.app_id", c.appID),
			attribute.Int("bailian.messages", len(req.Messages)),
			attribute.Bool("bailian.has_session", req.SessionID != ""),
		)

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		idle := watchIdle(c.readTimeout, cancel)
		defer idle.Stop()

		fail := func(err error) {
			if idle.Fired() {
				err = fmt.Errorf("bailian: no data received for %s", c.readTimeout)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream failed")
			yield(StreamChunk{}, err)
		}

		resp, err := c.post(streamCtx, req, true)
		if err != nil {
			fail(fmt.Errorf("bailian: request failed: %w", err))
			return
		}
		defer resp.Body.Close()
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			apiErr := newAPIError(resp.StatusCode, extractEventData(body))
			span.SetStatus(codes.Error, apiErr.Message)
			yield(StreamChunk{ErrorCode: apiErr.StatusCode, ErrorMessage: apiErr.Message}, nil)
			return
		}

		events := newEventReader(resp.Body)
		chunks := 0
		for {
			event, err := events.Next()
			if errors.Is(err, io.EOF) {
				span.SetAttributes(attribute.Int("bailian.chunks", chunks))
				return
			}
			if err != nil {
				fail(fmt.Errorf("bailian: read stream: %w", err))
				return
			}
			idle.Touch()

			chunk, ok, err := event.chunk()
			if err != nil {
				fail(err)
				return
			}
			if !ok {
				continue
			}
			chunks++
			if !yield(chunk, nil) {
				return
			}
			if chunk.IsFinal || chunk.Failed() {
				span.SetAttributes(attribute.Int("bailian.chunks", chunks))
				return
			}
		}
	}
}

func (c *BailianClient) post(ctx context.Context, req AppRequest, stream bool) (*http.Response, error) {
	payload := bailianRequest{
		Input: bailianInput{
			Messages:  req.Messages,
			SessionID: req.SessionID,
		},
		Parameters: bailianParameters{
			Temperature:       req.Temperature,
			IncrementalOutput: stream,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("X-DashScope-SSE", "enable")
	}
	return c.httpClient.Do(httpReq)
}

// =============================================================================
// Wire types
// =============================================================================

type bailianRequest struct {
	Input      bailianInput      `json:"input"`
	Parameters bailianParameters `json:"parameters"`
}

type bailianInput struct {
	Messages  []Message `json:"messages"`
	SessionID string    `json:"session_id,omitempty"`
}

type bailianParameters struct {
	Temperature       float32 `json:"temperature"`
	IncrementalOutput bool    `json:"incremental_output,omitempty"`
}

type bailianResponse struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Output    struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
		SessionID    string `json:"session_id"`
	} `json:"output"`
}

// newAPIError decodes a DashScope error body. Bodies that are not JSON
// fall back to the HTTP status text.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var payload bailianResponse
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
		apiErr.RequestID = payload.RequestID
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
