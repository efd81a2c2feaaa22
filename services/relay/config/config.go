// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config reads the relay configuration from the environment.
//
// # Environment Variables
//
//   - API_KEY: provider API key. Chat endpoints answer 500 without it.
//   - APP_ID: Bailian application id (default: your-app-id-here)
//   - HOST, PORT: bind address (default: 0.0.0.0, 8000)
//   - TIMEOUT: provider read timeout (default: 120 seconds)
//   - CONNECT_TIMEOUT: provider connect timeout (default: 30 seconds)
//   - TEMPERATURE: generation temperature, 0 to 2 (default: 0.7)
//   - SYSTEM_PROMPT: first turn of every conversation
//   - LLM_PROVIDER: bailian or openai (default: bailian)
//   - DASHSCOPE_BASE_URL: Bailian API base URL
//   - OPENAI_BASE_URL, OPENAI_MODEL: OpenAI-compatible backend
//   - HEARTBEAT_INTERVAL: SSE keepalive period, 0 disables (default: 15s)
//   - BOT_CONFIG_FILE: YAML file replacing the embedded bot configuration
//   - LOG_LEVEL, LOG_FORMAT: logging (default: info, auto)
//   - OTEL_TRACES_EXPORTER: none, stdout or otlp (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector address (default: localhost:4317)
//   - ENV_FILE: dotenv file loaded first (default: .env)
//
// Durations accept either a bare number of seconds ("120") or a Go
// duration string ("2m").
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/AleutianAI/BailianRelay/pkg/logging"
	"github.com/AleutianAI/BailianRelay/services/llm"
	"github.com/AleutianAI/BailianRelay/services/relay/handlers"
	"github.com/AleutianAI/BailianRelay/services/relay/observability"
)

// PlaceholderAppID is the APP_ID default shipped in example .env files.
const PlaceholderAppID = "your-app-id-here"

const (
	defaultHost           = "0.0.0.0"
	defaultPort           = 8000
	defaultTimeout        = 120 * time.Second
	defaultConnectTimeout = 30 * time.Second
	defaultTemperature    = 0.7
	defaultOTLPEndpoint   = "localhost:4317"
	defaultEnvFile        = ".env"
)

// Config is the validated relay configuration. It is built once at
// startup and passed by value.
type Config struct {
	APIKey string
	AppID  string `validate:"required"`

	Host string
	Port int `validate:"min=1,max=65535"`

	ReadTimeout    time.Duration `validate:"gt=0"`
	ConnectTimeout time.Duration `validate:"gt=0"`

	Temperature  float32 `validate:"gte=0,lte=2"`
	SystemPrompt string  `validate:"required"`

	Provider      string `validate:"oneof=bailian openai"`
	BailianURL    string `validate:"url"`
	OpenAIBaseURL string `validate:"url"`
	OpenAIModel   string `validate:"required"`

	HeartbeatInterval time.Duration `validate:"gte=0"`
	BotConfigFile     string

	LogLevel  logging.Level
	LogFormat logging.Format

	TraceExporter string `validate:"oneof=none stdout otlp"`
	OTLPEndpoint  string
}

var configValidate = validator.New()

// Load reads the dotenv file named by ENV_FILE, then the environment.
//
// # Description
//
// Variables already present in the environment win over the dotenv file.
// A missing dotenv file is not an error. Malformed numbers, durations and
// enum values are reported instead of silently replaced by defaults.
//
// # Outputs
//
//   - Config: The validated configuration.
//   - error: Non-nil if the dotenv file is unreadable or a value is invalid.
func Load() (Config, error) {
	envFile := envString("ENV_FILE", defaultEnvFile)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		APIKey:        strings.TrimSpace(os.Getenv("API_KEY")),
		AppID:         envString("APP_ID", PlaceholderAppID),
		Host:          envString("HOST", defaultHost),
		SystemPrompt:  envString("SYSTEM_PROMPT", handlers.DefaultSystemPrompt),
		Provider:      strings.ToLower(envString("LLM_PROVIDER", llm.ProviderBailian)),
		BailianURL:    envString("DASHSCOPE_BASE_URL", llm.DefaultBailianBaseURL),
		OpenAIBaseURL: envString("OPENAI_BASE_URL", llm.DefaultCompatibleBaseURL),
		OpenAIModel:   envString("OPENAI_MODEL", llm.DefaultCompatibleModel),
		BotConfigFile: os.Getenv("BOT_CONFIG_FILE"),
		TraceExporter: strings.ToLower(envString("OTEL_TRACES_EXPORTER", observability.TraceExporterNone)),
		OTLPEndpoint:  envString("OTEL_EXPORTER_OTLP_ENDPOINT", defaultOTLPEndpoint),
	}

	var err error
	cfg.Port, err = envInt("PORT", defaultPort)
	collect(err)
	cfg.ReadTimeout, err = envDuration("TIMEOUT", defaultTimeout)
	collect(err)
	cfg.ConnectTimeout, err = envDuration("CONNECT_TIMEOUT", defaultConnectTimeout)
	collect(err)
	cfg.HeartbeatInterval, err = envDuration("HEARTBEAT_INTERVAL", handlers.DefaultHeartbeatInterval)
	collect(err)

	temperature, err := envFloat("TEMPERATURE", defaultTemperature)
	collect(err)
	cfg.Temperature = float32(temperature)

	cfg.LogLevel, err = logging.ParseLevel(os.Getenv("LOG_LEVEL"))
	collect(err)
	cfg.LogFormat, err = logging.ParseFormat(os.Getenv("LOG_FORMAT"))
	collect(err)

	if len(errs) == 0 {
		collect(cfg.Validate())
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Validate checks the configuration against its validation tags.
func (c Config) Validate() error {
	return configValidate.Struct(c)
}

// Addr is the listen address for http.Server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// APIKeyConfigured reports whether an API key was supplied.
func (c Config) APIKeyConfigured() bool {
	return c.APIKey != ""
}

// AppIDIsPlaceholder reports whether APP_ID was never set to a real id.
func (c Config) AppIDIsPlaceholder() bool {
	return c.AppID == PlaceholderAppID
}

// MaskedAPIKey returns the first ten characters of the key followed by
// "...", or "" when no key is configured.
func (c Config) MaskedAPIKey() string {
	if c.APIKey == "" {
		return ""
	}
	const visible = 10
	if len(c.APIKey) <= visible {
		return c.APIKey[:len(c.APIKey)/2] + "..."
	}
	return c.APIKey[:visible] + "..."
}

// BaseURL returns the endpoint of the selected provider.
func (c Config) BaseURL() string {
	if c.Provider == llm.ProviderOpenAI {
		return c.OpenAIBaseURL
	}
	return c.BailianURL
}

// ProviderConfig converts the configuration into the client factory input.
func (c Config) ProviderConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider:       c.Provider,
		APIKey:         c.APIKey,
		AppID:          c.AppID,
		BaseURL:        c.BaseURL(),
		Model:          c.OpenAIModel,
		ConnectTimeout: c.ConnectTimeout,
		ReadTimeout:    c.ReadTimeout,
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// envString returns the trimmed variable value or a default.
func envString(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %q is not an integer", key, value)
	}
	return n, nil
}

func envFloat(key string, defaultValue float64) (float64, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %q is not a number", key, value)
	}
	return f, nil
}

// envDuration accepts whole or fractional seconds ("120", "0.5") or a
// duration string ("2m").
func envDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %q is not a duration", key, value)
	}
	return d, nil
}
