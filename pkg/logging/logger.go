// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the structured loggers used by the relay server
// and the bailianctl CLI.
//
// Both binaries log through log/slog. This package only decides where the
// records go and how they look:
//
//   - Format "json": one JSON object per line, for log shippers.
//   - Format "text": key=value pairs, for people reading a terminal.
//   - Format "auto" (default): text when the output is a terminal, JSON
//     otherwise. A container's stdout is not a terminal, so the server
//     logs JSON in production without extra configuration.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    Service: "bailian-relay",
//	})
//	slog.SetDefault(logger.Slog())
//
// # Security Considerations
//
// Nothing is redacted here. Callers log the presence of secrets, never the
// secrets themselves:
//
//	logger.Info("provider configured", "api_key_present", apiKey != "")
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level is a log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug covers per-chunk and per-request detail.
	LevelDebug Level = iota

	// LevelInfo covers request completion and startup.
	LevelInfo

	// LevelWarn covers provider errors and degraded configuration, such as
	// a missing API key.
	LevelWarn

	// LevelError covers failed requests and stream faults.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR" or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a LOG_LEVEL value to a Level. Matching is
// case-insensitive and accepts "warning" for LevelWarn. An empty string is
// LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// =============================================================================
// Formats
// =============================================================================

// Format selects the record encoding.
type Format string

const (
	FormatAuto Format = "auto"
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat converts a LOG_FORMAT value to a Format. An empty string is
// FormatAuto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatJSON, FormatText:
		return f, nil
	default:
		return FormatAuto, fmt.Errorf("unknown log format %q", s)
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Logger. The zero value logs Info and above to
// stderr in the auto format.
type Config struct {
	// Level is the minimum level written. Default: LevelInfo.
	Level Level

	// Service is attached to every record as the "service" attribute when
	// set.
	Service string

	// Format selects the encoding. Default: FormatAuto.
	Format Format

	// Output receives the records. Default: os.Stderr.
	Output io.Writer

	// AddSource includes the calling file and line in every record.
	AddSource bool
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps a configured slog.Logger.
//
// # Thread Safety
//
// Safe for concurrent use.
type Logger struct {
	slog   *slog.Logger
	format Format
}

// New builds a Logger from config.
//
// # Description
//
// FormatAuto resolves to FormatText when Output is a terminal and to
// FormatJSON otherwise. The resolved format is reported by Format.
//
// # Inputs
//
//   - config: Logger configuration. Zero values use defaults.
//
// # Outputs
//
//   - *Logger: Ready to use. No resources need closing.
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	format := config.Format
	if format == "" || format == FormatAuto {
		format = detectFormat(out)
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level.toSlogLevel(),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if format == FormatText {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	return &Logger{slog: slog.New(handler), format: format}
}

// Default returns an Info-level logger on stderr for the relay service.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "bailian-relay"})
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child logger that adds args to every record.
//
//	reqLogger := logger.With("request_id", id)
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), format: l.format}
}

// Slog exposes the underlying logger, typically for slog.SetDefault.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Format reports the resolved encoding, never FormatAuto.
func (l *Logger) Format() Format {
	return l.format
}

// detectFormat picks text for terminals and JSON for everything else.
func detectFormat(w io.Writer) Format {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return FormatJSON
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return FormatText
	}
	return FormatJSON
}
