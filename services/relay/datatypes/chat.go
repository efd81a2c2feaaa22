// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the relay's request, response and configuration
// payloads together with the rules that validate them.
package datatypes

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Validation
// =============================================================================

// Client-facing validation messages.
const (
	MessageNoData             = "No data provided"
	MessageLastPromptRequired = "last_prompt is required"
)

var (
	// ErrNoData is returned when the request body is absent, not a JSON
	// object, or an object without any keys.
	ErrNoData = errors.New("no data provided")

	// ErrLastPromptRequired is returned when last_prompt is missing, not a
	// string, or blank.
	ErrLastPromptRequired = errors.New("last_prompt is required")
)

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("notblank", validateNotBlank)
}

// validateNotBlank rejects strings that are empty after trimming whitespace.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Conversation
// =============================================================================

// Role names a conversation participant.
type Role = string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one message of a conversation. History turns keep whatever
// role string the client sent.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the ordered list of turns sent upstream for one request.
// It is built once and never modified.
type Conversation struct {
	turns []ChatTurn
}

// BuildConversation orders the turns as: the system prompt, the history
// in input order, then the new user turn.
func BuildConversation(systemPrompt string, history []ChatTurn, lastPrompt string) Conversation {
	turns := make([]ChatTurn, 0, len(history)+2)
	turns = append(turns, ChatTurn{Role: RoleSystem, Content: systemPrompt})
	turns = append(turns, history...)
	turns = append(turns, ChatTurn{Role: RoleUser, Content: lastPrompt})
	return Conversation{turns: turns}
}

// Turns returns a copy of the conversation's turns.
func (c Conversation) Turns() []ChatTurn {
	out := make([]ChatTurn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c Conversation) Len() int { return len(c.turns) }

// =============================================================================
// Requests
// =============================================================================

// ChatRequest is the validated body shared by both chat endpoints.
//
// # Description
//
// Wire format:
//
//	{
//	  "last_prompt": "How do I grow my newsletter?",
//	  "conversation_history": [{"role": "user", "content": "..."}],
//	  "session_id": "optional provider session"
//	}
//
// History entries that are not objects with both role and content are
// dropped. A conversation_history that is not an array is treated as
// empty.
type ChatRequest struct {
	LastPrompt string `validate:"notblank"`
	History    []ChatTurn
	SessionID  string
}

// Validate checks the request against its validation tags.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ParseChatRequest decodes and validates a chat request body.
//
// # Outputs
//
//   - *ChatRequest: The accepted request. last_prompt is kept untrimmed.
//   - error: ErrNoData or ErrLastPromptRequired.
func ParseChatRequest(body []byte) (*ChatRequest, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrNoData
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) == 0 {
		return nil, ErrNoData
	}

	req := &ChatRequest{}
	if raw, ok := fields["last_prompt"]; ok {
		if err := json.Unmarshal(raw, &req.LastPrompt); err != nil {
			return nil, ErrLastPromptRequired
		}
	}
	if err := req.Validate(); err != nil {
		return nil, ErrLastPromptRequired
	}

	req.History = parseHistory(fields["conversation_history"])

	if raw, ok := fields["session_id"]; ok {
		var sessionID string
		if json.Unmarshal(raw, &sessionID) == nil {
			req.SessionID = sessionID
		}
	}

	return req, nil
}

// parseHistory keeps the entries that are objects with both role and
// content keys. Values that are not strings are forwarded as JSON text.
func parseHistory(raw json.RawMessage) []ChatTurn {
	if len(raw) == 0 {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	history := make([]ChatTurn, 0, len(entries))
	for _, entry := range entries {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(entry, &obj); err != nil || obj == nil {
			continue
		}
		role, hasRole := obj["role"]
		content, hasContent := obj["content"]
		if !hasRole || !hasContent {
			continue
		}
		history = append(history, ChatTurn{
			Role:    rawText(role),
			Content: rawText(content),
		})
	}
	return history
}

// rawText returns the string value of a JSON string, "" for null, and the
// compact JSON text for any other value.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := bytes.TrimSpace(raw)
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}
