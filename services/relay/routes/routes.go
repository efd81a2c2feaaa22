// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/BailianRelay/services/relay/datatypes"
	"github.com/AleutianAI/BailianRelay/services/relay/handlers"
	"github.com/AleutianAI/BailianRelay/services/relay/middleware"
)

// Dependencies are the collaborators the relay routes are built from.
type Dependencies struct {
	// ChatHandler serves both chat endpoints. Required.
	ChatHandler handlers.ChatHandler

	// BotConfig is served by the config endpoint. A nil value answers 500.
	BotConfig *datatypes.BotConfig

	// Gatherer backs GET /metrics. Nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// ServiceName names the server spans. Empty means datatypes.ServiceName.
	ServiceName string
}

// SetupRoutes installs the middleware chain and every relay route on router.
//
// # Description
//
// Middleware runs in this order: tracing, request ID, access log, panic
// recovery. Routes:
//
//	GET  /health
//	GET  /metrics
//	GET  /myapi/v1/chat-bot-config
//	POST /myapi/v1/chat-bot/stream
//	POST /myapi/v1/chat-bot
//
// Any other path answers 404 {"success":false,"message":"Endpoint not found"}.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = datatypes.ServiceName
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.Use(
		otelgin.Middleware(serviceName),
		middleware.RequestID(),
		middleware.AccessLog(),
		middleware.Recovery(),
	)

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/myapi/v1")
	{
		v1.GET("/chat-bot-config", handlers.HandleBotConfig(deps.BotConfig))
		v1.POST("/chat-bot/stream", deps.ChatHandler.HandleChatStream)
		v1.POST("/chat-bot", deps.ChatHandler.HandleChat)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, datatypes.NewErrorResponse(datatypes.MessageEndpointNotFound))
	})
}
