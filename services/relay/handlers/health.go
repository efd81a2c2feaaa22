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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/BailianRelay/services/relay/datatypes"
	"github.com/AleutianAI/BailianRelay/services/relay/middleware"
)

// HealthCheck answers GET /health. It never contacts the provider.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, datatypes.NewHealthResponse())
}

// HandleBotConfig returns a handler for GET /myapi/v1/chat-bot-config that
// serves cfg, loaded once at startup. A nil cfg is reported as a 500.
func HandleBotConfig(cfg *datatypes.BotConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil {
			middleware.Logger(c).Error("Bot configuration requested but not loaded")
			c.JSON(http.StatusInternalServerError,
				datatypes.NewConfigErrorResponse("bot configuration is not loaded"))
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}
