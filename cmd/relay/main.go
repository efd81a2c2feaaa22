// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command relay starts the Bailian chat relay HTTP server.
//
// Configuration comes from environment variables, optionally seeded from a
// .env file. See package config for the full list.
//
// # Usage
//
//	# Build
//	go build -o relay ./cmd/relay
//
//	# Run
//	API_KEY=sk-... APP_ID=... ./relay
//
// SIGINT and SIGTERM stop accepting connections and let open streams
// finish for up to ten seconds.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/BailianRelay/pkg/logging"
	"github.com/AleutianAI/BailianRelay/services/relay"
	"github.com/AleutianAI/BailianRelay/services/relay/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Service: "bailian-relay",
		Format:  cfg.LogFormat,
		Output:  os.Stdout,
	})
	slog.SetDefault(logger.Slog())

	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	svc, err := relay.New(cfg, relay.Options{})
	if err != nil {
		slog.Error("Failed to create relay service", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		slog.Error("Relay server stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Relay server stopped")
}
