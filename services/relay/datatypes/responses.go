// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Fixed response messages.
const (
	MessageResponseGenerated = "Response Generated"
	MessageStreamCompleted   = "Stream completed"
	MessageEndpointNotFound  = "Endpoint not found"
	MessageInternalError     = "Internal server error"
	MessageAPIKeyMissing     = "API Key is not configured"

	apiErrorPrefix         = "API Error: "
	requestErrorPrefix     = "Request processing error: "
	streamFaultPrefix      = "Stream generation error: "
	configurationErrorText = "Failed to get configuration"
)

// Service identity reported by the health check.
const (
	ServiceName    = "Bailian-chatbot-backend"
	ServiceVersion = "1.0.0"
)

// ChatResponse is the body of the non-streaming chat endpoint.
//
// Result holds the provider's text verbatim; it is usually markdown and
// is never rendered here.
type ChatResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Result    string `json:"result"`
	SessionID string `json:"session_id,omitempty"`
}

// NewChatSuccess builds the response for a completed upstream call.
func NewChatSuccess(result, sessionID string) ChatResponse {
	return ChatResponse{
		Success:   true,
		Message:   MessageResponseGenerated,
		Result:    result,
		SessionID: sessionID,
	}
}

// NewChatAPIError builds the response for a provider-reported failure.
func NewChatAPIError(providerMessage string) ChatResponse {
	return ChatResponse{Message: apiErrorPrefix + providerMessage}
}

// NewChatRequestError builds the response for an unexpected failure.
func NewChatRequestError(detail string) ChatResponse {
	return ChatResponse{Message: requestErrorPrefix + detail}
}

// ErrorResponse is the body of every pre-stream failure, 404 and 500.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewErrorResponse returns a failure body with the given message.
func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Message: message}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// NewHealthResponse reports the service as healthy.
func NewHealthResponse() HealthResponse {
	return HealthResponse{Status: "healthy", Service: ServiceName, Version: ServiceVersion}
}

// ConfigErrorResponse is returned when the bot configuration is missing.
type ConfigErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewConfigErrorResponse wraps detail in the configuration failure body.
func NewConfigErrorResponse(detail string) ConfigErrorResponse {
	return ConfigErrorResponse{Error: configurationErrorText, Message: detail}
}

// =============================================================================
// Stream events
// =============================================================================

// StreamContentEvent carries one relayed chunk of text. SessionID is
// serialized as null when the provider did not report one.
type StreamContentEvent struct {
	Success   bool    `json:"success"`
	Content   string  `json:"content"`
	Finished  bool    `json:"finished"`
	SessionID *string `json:"session_id"`
}

// StreamErrorEvent reports a provider error inside an open stream.
type StreamErrorEvent struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// StreamCompletedEvent is the terminal event of a stream that ended
// normally or after a provider error.
type StreamCompletedEvent struct {
	Success  bool   `json:"success"`
	Finished bool   `json:"finished"`
	Message  string `json:"message"`
}

// StreamFaultEvent replaces StreamCompletedEvent when the relay itself
// failed.
type StreamFaultEvent struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Finished bool   `json:"finished"`
}

// NewStreamContentEvent builds a content event.
func NewStreamContentEvent(content, sessionID string) StreamContentEvent {
	event := StreamContentEvent{Success: true, Content: content}
	if sessionID != "" {
		event.SessionID = &sessionID
	}
	return event
}

// NewStreamErrorEvent builds an in-stream provider error event.
func NewStreamErrorEvent(providerMessage string, code int) StreamErrorEvent {
	return StreamErrorEvent{Message: apiErrorPrefix + providerMessage, Code: code}
}

// NewStreamCompletedEvent builds the terminal event.
func NewStreamCompletedEvent() StreamCompletedEvent {
	return StreamCompletedEvent{Success: true, Finished: true, Message: MessageStreamCompleted}
}

// NewStreamFaultEvent builds the fault event.
func NewStreamFaultEvent(detail string) StreamFaultEvent {
	return StreamFaultEvent{Message: streamFaultPrefix + detail, Finished: true}
}
