// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/BailianRelay/services/llm"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// mockClient is a scripted llm.ApplicationClient.
type mockClient struct {
	readyErr error

	completion *llm.Completion
	callErr    error

	chunks    []llm.StreamChunk
	streamErr error
	// chunkDelay is slept before each streamed chunk.
	chunkDelay time.Duration

	calls       atomic.Int32
	streamCalls atomic.Int32

	mu      sync.Mutex
	lastReq llm.AppRequest
}

func (m *mockClient) Ready() error { return m.readyErr }

func (m *mockClient) Call(_ context.Context, req llm.AppRequest) (*llm.Completion, error) {
	m.calls.Add(1)
	m.record(req)
	if m.callErr != nil {
		return nil, m.callErr
	}
	if m.completion == nil {
		return &llm.Completion{Text: "ok"}, nil
	}
	return m.completion, nil
}

func (m *mockClient) CallStream(ctx context.Context, req llm.AppRequest) iter.Seq2[llm.StreamChunk, error] {
	return func(yield func(llm.StreamChunk, error) bool) {
		m.streamCalls.Add(1)
		m.record(req)
		for _, chunk := range m.chunks {
			if m.chunkDelay > 0 {
				select {
				case <-time.After(m.chunkDelay):
				case <-ctx.Done():
					yield(llm.StreamChunk{}, ctx.Err())
					return
				}
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if m.streamErr != nil {
			yield(llm.StreamChunk{}, m.streamErr)
		}
	}
}

func (m *mockClient) record(req llm.AppRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReq = req
}

func (m *mockClient) request() llm.AppRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReq
}

func (m *mockClient) totalCalls() int {
	return int(m.calls.Load() + m.streamCalls.Load())
}

// newRouter wires a ChatHandler for client onto a fresh engine.
func newRouter(client llm.ApplicationClient, opts ChatOptions) *gin.Engine {
	h := NewChatHandler(client, opts)
	router := gin.New()
	router.POST("/chat", h.HandleChat)
	router.POST("/stream", h.HandleChatStream)
	return router
}

func post(router http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// parseSSE splits a stream body into decoded data frames and counts the
// keepalive comments.
func parseSSE(t *testing.T, body string) (frames []map[string]any, keepAlives int) {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
		case line == ": ping":
			keepAlives++
		case strings.HasPrefix(line, "data: "):
			var frame map[string]any
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame), line)
			frames = append(frames, frame)
		default:
			t.Fatalf("unexpected SSE line %q", line)
		}
	}
	require.NoError(t, scanner.Err())
	return frames, keepAlives
}
