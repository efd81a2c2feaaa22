// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/AleutianAI/BailianRelay/services/llm"
	"github.com/AleutianAI/BailianRelay/services/relay/config"
	"github.com/AleutianAI/BailianRelay/services/relay/datatypes"
)

const (
	// placeholderAPIKey is the API_KEY value shipped in example .env files.
	placeholderAPIKey = "sk-your-api-key-here"

	probePrompt      = `Hello, please reply "test succeeded"`
	probeTemperature = 0.1
	probePreviewLen  = 50
)

var (
	errAPIKeyNotConfigured = errors.New("API_KEY is not configured")
	errAppIDNotConfigured  = errors.New("APP_ID is not configured")
	errProbeFailed         = errors.New("provider probe failed")
)

// runCheck verifies the credentials and makes one live call.
//
// # Description
//
// Mirrors what the server needs to answer chat requests:
//  1. API_KEY is set and is not the example placeholder.
//  2. APP_ID is not the placeholder (Bailian only).
//  3. A short single-shot call succeeds. The first 50 characters of the
//     reply are printed.
//
// # Outputs
//
//   - error: The first failed step. The report is written either way.
func runCheck(ctx context.Context, w io.Writer, cfg config.Config) error {
	p := printer{w: w}
	p.title("Bailian relay configuration check")

	switch {
	case !cfg.APIKeyConfigured(), cfg.APIKey == placeholderAPIKey:
		p.fail("API_KEY is not configured. Set your DashScope API key in the environment or .env")
		return errAPIKeyNotConfigured
	default:
		p.ok("API_KEY: %s", cfg.MaskedAPIKey())
	}

	if cfg.Provider == llm.ProviderBailian {
		if cfg.AppIDIsPlaceholder() {
			p.fail("APP_ID is not configured. Set your Bailian application id in the environment or .env")
			return errAppIDNotConfigured
		}
		p.ok("APP_ID: %s", cfg.AppID)
	} else {
		p.ok("Provider: %s (model %s)", cfg.Provider, cfg.OpenAIModel)
	}
	p.muted("Endpoint: %s", cfg.BaseURL())

	client, err := llm.NewApplicationClient(cfg.ProviderConfig())
	if err != nil {
		p.fail("Could not build provider client: %v", err)
		return err
	}

	completion, err := client.Call(ctx, llm.AppRequest{
		Messages:    []llm.Message{{Role: datatypes.RoleUser, Content: probePrompt}},
		Temperature: probeTemperature,
	})
	if err != nil {
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) {
			p.fail("API connection failed: %s", apiErr.Message)
		} else {
			p.fail("API connection error: %v", err)
		}
		return fmt.Errorf("%w: %w", errProbeFailed, err)
	}

	p.ok("API connection succeeded")
	p.box("Reply: " + preview(completion.Text, probePreviewLen) + "...")
	p.muted("All checks passed. Start the server with: relay")
	return nil
}

// preview returns at most n runes of s.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
