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

type askOptions struct {
	SessionID string
	NoStream  bool
}

// runAsk sends prompt the way the relay would, with the configured system
// prompt as the first turn, and prints the answer.
func runAsk(ctx context.Context, w io.Writer, cfg config.Config, prompt string, opts askOptions) error {
	p := printer{w: w}

	client, err := llm.NewApplicationClient(cfg.ProviderConfig())
	if err != nil {
		return err
	}
	if err := client.Ready(); err != nil {
		p.fail("%s", datatypes.MessageAPIKeyMissing)
		return err
	}

	conversation := datatypes.BuildConversation(cfg.SystemPrompt, nil, prompt)
	turns := conversation.Turns()
	messages := make([]llm.Message, len(turns))
	for i, turn := range turns {
		messages[i] = llm.Message{Role: turn.Role, Content: turn.Content}
	}
	req := llm.AppRequest{
		Messages:    messages,
		SessionID:   opts.SessionID,
		Temperature: cfg.Temperature,
	}

	if opts.NoStream {
		completion, err := client.Call(ctx, req)
		if err != nil {
			return reportAskError(p, err)
		}
		fmt.Fprintln(w, completion.Text)
		if completion.SessionID != "" {
			p.muted("session: %s", completion.SessionID)
		}
		return nil
	}

	var sessionID string
	for chunk, err := range client.CallStream(ctx, req) {
		if err != nil {
			fmt.Fprintln(w)
			return reportAskError(p, err)
		}
		if chunk.Failed() {
			fmt.Fprintln(w)
			return reportAskError(p, &llm.APIError{StatusCode: chunk.ErrorCode, Message: chunk.ErrorMessage})
		}
		if chunk.SessionID != "" {
			sessionID = chunk.SessionID
		}
		fmt.Fprint(w, chunk.Text)
	}
	fmt.Fprintln(w)
	if sessionID != "" {
		p.muted("session: %s", sessionID)
	}
	return nil
}

func reportAskError(p printer, err error) error {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		p.errorBox(fmt.Sprintf("API Error (%d): %s", apiErr.StatusCode, apiErr.Message))
	} else {
		p.errorBox("Request failed: " + err.Error())
	}
	return err
}
