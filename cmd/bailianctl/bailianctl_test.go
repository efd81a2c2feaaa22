// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

// fakeProvider answers the Bailian completion API and counts calls.
type fakeProvider struct {
	server  *httptest.Server
	calls   atomic.Int32
	status  int
	lastReq atomic.Value
}

func newFakeProvider(t *testing.T, status int) *fakeProvider {
	t.Helper()
	f := &fakeProvider{status: status}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastReq.Store(body)

		if f.status != http.StatusOK {
			w.WriteHeader(f.status)
			fmt.Fprint(w, `{"code":"InvalidApiKey","message":"Invalid API-key provided.","request_id":"r-1"}`)
			return
		}
		if r.Header.Get("X-DashScope-SSE") == "enable" {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "id:1\nevent:result\n:HTTP_STATUS/200\ndata:{\"output\":{\"text\":\"Hello \",\"finish_reason\":\"null\",\"session_id\":\"s-7\"}}\n\n")
			fmt.Fprint(w, "id:2\nevent:result\n:HTTP_STATUS/200\ndata:{\"output\":{\"text\":\"there\",\"finish_reason\":\"stop\",\"session_id\":\"s-7\"}}\n\n")
			return
		}
		fmt.Fprint(w, `{"output":{"text":"test succeeded, and this reply is deliberately longer than fifty characters","finish_reason":"stop","session_id":"s-7"},"request_id":"r-1"}`)
	}))
	t.Cleanup(f.server.Close)
	return f
}

// setEnv points the CLI at provider with valid-looking credentials.
func setEnv(t *testing.T, baseURL string) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("API_KEY", "sk-abcdefghijklmnop")
	t.Setenv("APP_ID", "app-123")
	t.Setenv("LLM_PROVIDER", "bailian")
	t.Setenv("DASHSCOPE_BASE_URL", baseURL)
	t.Setenv("SYSTEM_PROMPT", "Be brief.")
	for _, key := range []string{"PORT", "TIMEOUT", "CONNECT_TIMEOUT", "TEMPERATURE", "HEARTBEAT_INTERVAL",
		"LOG_LEVEL", "LOG_FORMAT", "OTEL_TRACES_EXPORTER", "OPENAI_BASE_URL", "OPENAI_MODEL", "HOST"} {
		t.Setenv(key, "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// =============================================================================
// check Tests
// =============================================================================

func TestCheck_Success(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK)
	setEnv(t, provider.server.URL)

	out, err := execute(t, "check")
	require.NoError(t, err)

	assert.Contains(t, out, "API_KEY: sk-abcdefg...")
	assert.NotContains(t, out, "sk-abcdefghijklmnop")
	assert.Contains(t, out, "APP_ID: app-123")
	assert.Contains(t, out, "API connection succeeded")
	assert.Contains(t, out, "test succeeded, and this reply is deliberately lon...")
	assert.EqualValues(t, 1, provider.calls.Load())

	body := provider.lastReq.Load().(map[string]any)
	params := body["parameters"].(map[string]any)
	assert.InDelta(t, 0.1, params["temperature"], 1e-6)
}

func TestCheck_MissingAPIKey(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK)
	setEnv(t, provider.server.URL)
	t.Setenv("API_KEY", "")

	out, err := execute(t, "check")

	assert.ErrorIs(t, err, errAPIKeyNotConfigured)
	assert.Contains(t, out, "API_KEY is not configured")
	assert.Zero(t, provider.calls.Load())
}

func TestCheck_PlaceholderAPIKey(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK)
	setEnv(t, provider.server.URL)
	t.Setenv("API_KEY", placeholderAPIKey)

	_, err := execute(t, "check")

	assert.ErrorIs(t, err, errAPIKeyNotConfigured)
	assert.Zero(t, provider.calls.Load())
}

func TestCheck_PlaceholderAppID(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK)
	setEnv(t, provider.server.URL)
	t.Setenv("APP_ID", "your-app-id-here")

	out, err := execute(t, "check")

	assert.ErrorIs(t, err, errAppIDNotConfigured)
	assert.Contains(t, out, "APP_ID is not configured")
	assert.Zero(t, provider.calls.Load())
}

func TestCheck_ProviderRejects(t *testing.T) {
	provider := newFakeProvider(t, http.StatusUnauthorized)
	setEnv(t, provider.server.URL)

	out, err := execute(t, "check")

	assert.ErrorIs(t, err, errProbeFailed)
	assert.Contains(t, out, "API connection failed: Invalid API-key provided.")
}

func TestCheck_InvalidConfiguration(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK)
	setEnv(t, provider.server.URL)
	t.Setenv("PORT", "not-a-port")

	_, err := execute(t, "check")

	assert.ErrorContains(t, err, "PORT")
	assert.Zero(t, provider.calls.Load())
}

// =============================================================================
// ask Tests
// =============================================================================

func TestAsk_Streams(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK)
	setEnv(t, provider.server.URL)

	out, err := execute(t, "ask", "how", "are", "you")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "Hello there\n"), out)
	assert.Contains(t, out, "session: s-7")

	body := provider.lastReq.Load().(map[string]any)
	messages := body["input"].(map[string]any)["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "Be brief.", messages[0].(map[string]any)["content"])
	assert.Equal(t, "how are you", messages[1].(map[string]any)["content"])
}

func TestAsk_NoStreamWithSession(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK)
	setEnv(t, provider.server.URL)

	out, err := execute(t, "ask", "--no-stream", "--session", "s-7", "hi")
	require.NoError(t, err)

	assert.Contains(t, out, "test succeeded")
	body := provider.lastReq.Load().(map[string]any)
	assert.Equal(t, "s-7", body["input"].(map[string]any)["session_id"])
}

func TestAsk_StreamProviderError(t *testing.T) {
	provider := newFakeProvider(t, http.StatusUnauthorized)
	setEnv(t, provider.server.URL)

	out, err := execute(t, "ask", "hi")

	assert.Error(t, err)
	assert.Contains(t, out, "Invalid API-key provided.")
}

func TestAsk_MissingAPIKey(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK)
	setEnv(t, provider.server.URL)
	t.Setenv("API_KEY", "")

	out, err := execute(t, "ask", "hi")

	assert.Error(t, err)
	assert.Contains(t, out, "API Key is not configured")
	assert.Zero(t, provider.calls.Load())
}

func TestAsk_RequiresPrompt(t *testing.T) {
	_, err := execute(t, "ask")
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "abc", preview("abc", 50))
	assert.Equal(t, "你好", preview("你好世界", 2))
}
