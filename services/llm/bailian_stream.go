// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 1024 * 1024
)

// sseEvent is one dispatched DashScope SSE event:
//
//	id:1
//	event:result
//	:HTTP_STATUS/200
//	data:{"output":{"text":"Hel","finish_reason":"null","session_id":"..."}}
type sseEvent struct {
	id     string
	name   string
	status int
	data   []byte
}

// eventReader splits an SSE body into events. Multiple data lines of one
// event are joined with newlines.
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scannerInitialBuffer), scannerMaxBuffer)
	return &eventReader{scanner: scanner}
}

// Next returns the next complete event, or io.EOF when the body ends.
func (r *eventReader) Next() (sseEvent, error) {
	var (
		event   sseEvent
		pending bool
		data    [][]byte
	)

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if pending {
				event.data = bytes.Join(data, []byte("\n"))
				return event, nil
			}
			continue
		}
		pending = true

		if strings.HasPrefix(line, ":") {
			comment := strings.TrimSpace(line[1:])
			if code, ok := strings.CutPrefix(comment, "HTTP_STATUS/"); ok {
				if status, err := strconv.Atoi(strings.TrimSpace(code)); err == nil {
					event.status = status
				}
			}
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			event.id = value
		case "event":
			event.name = value
		case "data":
			data = append(data, []byte(value))
		}
	}

	if err := r.scanner.Err(); err != nil {
		return sseEvent{}, err
	}
	if pending {
		event.data = bytes.Join(data, []byte("\n"))
		return event, nil
	}
	return sseEvent{}, io.EOF
}

// chunk converts an event into a StreamChunk. ok is false for events that
// carry nothing to relay.
func (e sseEvent) chunk() (StreamChunk, bool, error) {
	failed := e.name == "error" || (e.status != 0 && e.status != http.StatusOK)

	if len(e.data) == 0 {
		if failed {
			return errorChunk(e.status, nil), true, nil
		}
		return StreamChunk{}, false, nil
	}

	var payload bailianResponse
	if err := json.Unmarshal(e.data, &payload); err != nil {
		if failed {
			return errorChunk(e.status, nil), true, nil
		}
		return StreamChunk{}, false, fmt.Errorf("bailian: decode stream event %q: %w", e.id, err)
	}

	if failed || (payload.Code != "" && payload.Message != "") {
		return errorChunk(e.status, &payload), true, nil
	}

	return StreamChunk{
		Text:      payload.Output.Text,
		IsFinal:   isFinishReason(payload.Output.FinishReason),
		SessionID: payload.Output.SessionID,
	}, true, nil
}

func errorChunk(status int, payload *bailianResponse) StreamChunk {
	if status == 0 || status == http.StatusOK {
		status = http.StatusInternalServerError
	}
	chunk := StreamChunk{ErrorCode: status}
	if payload != nil {
		chunk.ErrorMessage = payload.Message
		chunk.SessionID = payload.Output.SessionID
	}
	if chunk.ErrorMessage == "" {
		chunk.ErrorMessage = http.StatusText(status)
	}
	return chunk
}

// isFinishReason reports whether DashScope marked generation as finished.
// Intermediate events carry the literal string "null".
func isFinishReason(reason string) bool {
	return reason != "" && reason != "null"
}

// extractEventData returns the payload of the first data line when body is
// an SSE document, and body unchanged otherwise. Error responses to
// streaming requests arrive in either shape.
func extractEventData(body []byte) []byte {
	for line := range bytes.SplitSeq(body, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			return bytes.TrimSpace(rest)
		}
	}
	return body
}
