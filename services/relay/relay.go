// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package relay assembles the Bailian chat relay HTTP service.
//
// The relay sits between a browser chat widget and an Alibaba Cloud
// Bailian (DashScope) application. It validates chat requests, prepends
// the system prompt, and returns the provider's answer either as one JSON
// body or as a Server-Sent Events stream.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := relay.New(cfg, relay.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	log.Fatal(svc.Run(ctx))
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/BailianRelay/services/llm"
	"github.com/AleutianAI/BailianRelay/services/relay/config"
	"github.com/AleutianAI/BailianRelay/services/relay/datatypes"
	"github.com/AleutianAI/BailianRelay/services/relay/handlers"
	"github.com/AleutianAI/BailianRelay/services/relay/observability"
	"github.com/AleutianAI/BailianRelay/services/relay/routes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the relay server lifecycle.
//
// # Thread Safety
//
// Run must be called at most once. Router is safe to call at any time.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails, then
	// drains open requests for up to the shutdown grace period.
	//
	// # Outputs
	//
	//   - error: nil after a clean shutdown, otherwise the listener or
	//     shutdown error.
	Run(ctx context.Context) error

	// Router returns the configured engine, for tests that call it
	// directly.
	Router() *gin.Engine
}

// =============================================================================
// Options
// =============================================================================

// Options overrides collaborators that New would otherwise build from the
// configuration. Every field is optional.
type Options struct {
	// Client replaces the provider client built from cfg.
	Client llm.ApplicationClient

	// Registerer and Gatherer replace the default Prometheus registry.
	// Set both or neither.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// ShutdownGrace bounds how long Run waits for open requests,
	// including streams, after ctx is cancelled. Default: 10s.
	ShutdownGrace time.Duration
}

const defaultShutdownGrace = 10 * time.Second

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config        config.Config
	opts          Options
	client        llm.ApplicationClient
	botConfig     *datatypes.BotConfig
	metrics       *observability.RelayMetrics
	router        *gin.Engine
	tracerCleanup observability.ShutdownFunc
}

// New builds a ready-to-run relay Service.
//
// # Description
//
// Initialization order:
//  1. Tracing, from cfg.TraceExporter.
//  2. Prometheus metrics on opts.Registerer or the default registry.
//  3. The provider client, unless opts.Client is set.
//  4. The bot configuration, embedded or from cfg.BotConfigFile.
//  5. The Gin router with every route.
//
// A missing API key is logged as a warning and is not an error: health and
// bot-config keep working, and chat requests answer 500 until the key is
// provided.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Tracer, client or bot configuration setup failed.
func New(cfg config.Config, opts Options) (Service, error) {
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}
	s := &service{config: cfg, opts: opts}

	cleanup, err := observability.InitTracer(context.Background(), observability.TracingConfig{
		Exporter:       cfg.TraceExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		ServiceName:    datatypes.ServiceName,
		ServiceVersion: datatypes.ServiceVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.initMetrics()

	if err := s.initClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize provider client: %w", err)
	}

	if err := s.initBotConfig(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load bot configuration: %w", err)
	}

	s.initRouter()
	return s, nil
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	server := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting relay server",
			"addr", server.Addr,
			"provider", s.config.Provider,
			"api_key_present", s.config.APIKeyConfigured(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down relay server", "grace", s.opts.ShutdownGrace)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initMetrics() {
	reg := s.opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s.metrics = observability.NewRelayMetrics(reg)
}

func (s *service) initClient() error {
	if !s.config.APIKeyConfigured() {
		slog.Warn("API_KEY is not set; chat endpoints will answer 500 until it is configured")
	}
	if s.config.Provider == llm.ProviderBailian && s.config.AppIDIsPlaceholder() {
		slog.Warn("APP_ID still holds the placeholder value", "app_id", s.config.AppID)
	}

	if s.opts.Client != nil {
		s.client = s.opts.Client
		return nil
	}

	client, err := llm.NewApplicationClient(s.config.ProviderConfig())
	if err != nil {
		return err
	}
	s.client = client
	slog.Info("Provider client configured",
		"provider", s.config.Provider,
		"base_url", s.config.BaseURL(),
		"read_timeout", s.config.ReadTimeout,
		"connect_timeout", s.config.ConnectTimeout,
	)
	return nil
}

func (s *service) initBotConfig() error {
	cfg, err := datatypes.LoadBotConfig(s.config.BotConfigFile)
	if err != nil {
		return err
	}
	s.botConfig = cfg
	if s.config.BotConfigFile != "" {
		slog.Info("Loaded bot configuration", "path", s.config.BotConfigFile)
	}
	return nil
}

func (s *service) initRouter() {
	s.router = gin.New()

	chat := handlers.NewChatHandler(s.client, handlers.ChatOptions{
		SystemPrompt:      s.config.SystemPrompt,
		Temperature:       s.config.Temperature,
		HeartbeatInterval: s.config.HeartbeatInterval,
		Metrics:           s.metrics,
	})

	routes.SetupRoutes(s.router, routes.Dependencies{
		ChatHandler: chat,
		BotConfig:   s.botConfig,
		Gatherer:    s.opts.Gatherer,
		ServiceName: datatypes.ServiceName,
	})
}

// cleanup flushes the tracer. Called when Run returns or New fails.
func (s *service) cleanup() {
	if s.tracerCleanup == nil {
		return
	}
	if err := s.tracerCleanup(context.Background()); err != nil {
		slog.Error("Failed to shut down tracer", "error", err)
	}
}
