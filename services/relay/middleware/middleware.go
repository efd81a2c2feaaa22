// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the Gin middleware shared by every relay route:
// request IDs, request-scoped loggers, access logging and panic recovery.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/BailianRelay/services/relay/datatypes"
)

// =============================================================================
// Context Keys
// =============================================================================

const (
	// RequestIDHeader carries the request ID in both directions.
	RequestIDHeader = "X-Request-Id"

	// requestIDKey is the Gin context key for the request ID.
	requestIDKey = "relay_request_id"

	// maxIncomingIDLength bounds a caller-supplied request ID.
	maxIncomingIDLength = 128
)

// =============================================================================
// Request ID
// =============================================================================

// RequestID assigns every request an ID and echoes it in the response.
//
// # Description
//
// A caller-supplied X-Request-Id is reused when it is printable and at most
// 128 bytes long. Otherwise a new UUIDv4 is generated. The ID is stored in
// the Gin context for GetRequestID and Logger, and is written to the
// response header before any handler runs, so it is present on streamed
// responses too.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validIncomingID(id) {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the ID assigned by RequestID, or "" when the
// middleware did not run.
func GetRequestID(c *gin.Context) string {
	if value, exists := c.Get(requestIDKey); exists {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}

// Logger returns the default logger annotated with the request ID.
//
// # Examples
//
//	middleware.Logger(c).Info("Chat response generated", "reply_bytes", n)
func Logger(c *gin.Context) *slog.Logger {
	if id := GetRequestID(c); id != "" {
		return slog.Default().With("request_id", id)
	}
	return slog.Default()
}

func validIncomingID(id string) bool {
	if id == "" || len(id) > maxIncomingIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// =============================================================================
// Access Log
// =============================================================================

// AccessLog writes one structured log line per request after it completes.
// Server errors log at Error, client errors at Warn and the rest at Info.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}

		logger := Logger(c)
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("HTTP request", attrs...)
		case status >= http.StatusBadRequest:
			logger.Warn("HTTP request", attrs...)
		default:
			logger.Info("HTTP request", attrs...)
		}
	}
}

// =============================================================================
// Recovery
// =============================================================================

// Recovery turns a handler panic into a 500 with the generic error body.
// Nothing about the panic value reaches the client.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		Logger(c).Error("Recovered from handler panic",
			"panic", recovered,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
		if c.Writer.Written() {
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError,
			datatypes.NewErrorResponse(datatypes.MessageInternalError))
	})
}
