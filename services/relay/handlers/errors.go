// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"net/http"

	"github.com/AleutianAI/BailianRelay/services/llm"
	"github.com/AleutianAI/BailianRelay/services/relay/datatypes"
	"github.com/AleutianAI/BailianRelay/services/relay/observability"
)

// ErrorKind classifies a request failure.
type ErrorKind string

const (
	// KindValidation is a malformed or incomplete request body.
	KindValidation ErrorKind = "validation"

	// KindConfiguration is a server that cannot serve chat, such as a
	// missing API key.
	KindConfiguration ErrorKind = "configuration"

	// KindUpstream is a failure reported by the provider.
	KindUpstream ErrorKind = "upstream"

	// KindUnexpected is anything else.
	KindUnexpected ErrorKind = "unexpected"
)

// RequestError is a failure detected before or while serving a chat
// request. Message is safe to show to the client.
type RequestError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RequestError) Unwrap() error { return e.Err }

// HTTPStatus maps the kind to the response status for failures that are
// answered before any body is written.
func (e *RequestError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// MetricCode maps the kind to its metrics label.
func (e *RequestError) MetricCode() observability.ErrorCode {
	switch e.Kind {
	case KindValidation:
		return observability.ErrorCodeValidation
	case KindConfiguration:
		return observability.ErrorCodeConfiguration
	case KindUpstream:
		return observability.ErrorCodeUpstream
	default:
		return observability.ErrorCodeInternal
	}
}

// classifyParseError converts a datatypes parse error into a RequestError.
func classifyParseError(err error) *RequestError {
	switch {
	case errors.Is(err, datatypes.ErrNoData):
		return &RequestError{Kind: KindValidation, Message: datatypes.MessageNoData, Err: err}
	case errors.Is(err, datatypes.ErrLastPromptRequired):
		return &RequestError{Kind: KindValidation, Message: datatypes.MessageLastPromptRequired, Err: err}
	default:
		return &RequestError{Kind: KindValidation, Message: datatypes.MessageNoData, Err: err}
	}
}

// classifyReadyError converts a client readiness error into a RequestError.
func classifyReadyError(err error) *RequestError {
	if errors.Is(err, llm.ErrMissingAPIKey) {
		return &RequestError{Kind: KindConfiguration, Message: datatypes.MessageAPIKeyMissing, Err: err}
	}
	return &RequestError{Kind: KindConfiguration, Message: err.Error(), Err: err}
}
