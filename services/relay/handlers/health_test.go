// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/BailianRelay/services/relay/datatypes"
)

func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"Bailian-chatbot-backend","version":"1.0.0"}`, w.Body.String())
}

func TestHandleBotConfig_ServesConfig(t *testing.T) {
	cfg := &datatypes.BotConfig{
		BotStatus:      0,
		StartUpMessage: "Hi! How can I help?",
		FontSize:       "16",
		CommonButtons: []datatypes.CommonButton{
			{ButtonText: "SEO", ButtonPrompt: "Explain SEO basics"},
		},
	}
	router := gin.New()
	router.GET("/config", HandleBotConfig(cfg))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Hi! How can I help?", body["StartUpMessage"])
	assert.Equal(t, "16", body["fontSize"])
	assert.Len(t, body["commonButtons"], 1)
}

func TestHandleBotConfig_Nil(t *testing.T) {
	router := gin.New()
	router.GET("/config", HandleBotConfig(nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to get configuration")
}
