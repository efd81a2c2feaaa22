// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm adapts hosted conversational-AI application endpoints to a
// single client interface used by the relay.
//
// # Description
//
// Two backends are provided:
//   - BailianClient: the DashScope application completion API
//     (POST /apps/{appId}/completion), single shot and SSE streaming.
//   - OpenAICompatClient: any OpenAI-compatible chat completions endpoint,
//     DashScope compatible mode by default.
//
// Credentials are held by the client value, which is constructed once at
// startup and shared by all requests.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"
)

// Provider names accepted by NewApplicationClient.
const (
	ProviderBailian = "bailian"
	ProviderOpenAI  = "openai"
)

var (
	// ErrMissingAPIKey is returned by Ready and by every call when the
	// client was built without an API key.
	ErrMissingAPIKey = errors.New("llm: API key is not configured")

	// ErrStreamConsumed is yielded when a stream sequence is ranged over
	// a second time.
	ErrStreamConsumed = errors.New("llm: stream already consumed")
)

// Message is one conversation turn on the provider wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AppRequest is the provider-neutral input of one call.
type AppRequest struct {
	Messages    []Message
	SessionID   string
	Temperature float32
}

// Completion is the result of a successful single-shot call.
type Completion struct {
	Text         string
	SessionID    string
	RequestID    string
	FinishReason string
}

// StreamChunk is one incremental unit of a streamed reply.
//
// A chunk with ErrorCode or ErrorMessage set reports a provider-side
// failure and is always the last chunk of its stream. IsFinal marks the
// normal end of generation; at most one chunk per stream carries it.
type StreamChunk struct {
	Text         string
	IsFinal      bool
	SessionID    string
	ErrorMessage string
	ErrorCode    int
}

// Failed reports whether the chunk carries a provider error.
func (c StreamChunk) Failed() bool {
	return c.ErrorCode != 0 || c.ErrorMessage != ""
}

// APIError is a non-success answer from the provider.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Message)
}

// ApplicationClient is the contract the relay handlers depend on.
//
// # Description
//
// Ready reports configuration problems without touching the network.
// Call performs one blocking request. CallStream returns a lazy, finite,
// non-restartable sequence: the upstream request is issued when ranging
// starts, chunks are yielded in arrival order, and a non-nil error in the
// sequence is a transport fault after which nothing else is yielded.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ApplicationClient interface {
	Ready() error
	Call(ctx context.Context, req AppRequest) (*Completion, error)
	CallStream(ctx context.Context, req AppRequest) iter.Seq2[StreamChunk, error]
}

// ProviderConfig selects and configures a backend.
type ProviderConfig struct {
	Provider       string
	APIKey         string
	AppID          string
	BaseURL        string
	Model          string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	HTTPClient     *http.Client
}

// NewApplicationClient builds the backend named by cfg.Provider.
// An empty provider selects Bailian.
func NewApplicationClient(cfg ProviderConfig) (ApplicationClient, error) {
	switch cfg.Provider {
	case "", ProviderBailian:
		return NewBailianClient(BailianConfig{
			APIKey:         cfg.APIKey,
			AppID:          cfg.AppID,
			BaseURL:        cfg.BaseURL,
			ConnectTimeout: cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			HTTPClient:     cfg.HTTPClient,
		})
	case ProviderOpenAI:
		return NewOpenAICompatClient(OpenAICompatConfig{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			ConnectTimeout: cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			HTTPClient:     cfg.HTTPClient,
		})
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
