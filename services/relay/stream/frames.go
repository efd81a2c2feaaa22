// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream turns a provider chunk sequence into the ordered list of
// client-facing stream events.
//
// # Description
//
// The relay is a small state machine:
//
//	OPEN -> EMITTING* -> DONE
//
// Every chunk with text becomes one content frame, in arrival order. A
// provider error chunk becomes one error frame and ends consumption. The
// stream closes with exactly one completed frame, or with one fault frame
// when the provider sequence itself failed. Writing frames is left to the
// caller so the sequencing can be tested without HTTP.
package stream

import (
	"context"
	"fmt"
	"iter"

	"github.com/AleutianAI/BailianRelay/services/llm"
	"github.com/AleutianAI/BailianRelay/services/relay/datatypes"
)

// Kind identifies the role of a frame in the stream.
type Kind int

const (
	KindContent Kind = iota
	KindUpstreamError
	KindCompleted
	KindFault
)

func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindUpstreamError:
		return "upstream_error"
	case KindCompleted:
		return "completed"
	case KindFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Frame is one event to be written to the client. Payload is one of the
// datatypes.Stream*Event types and is serialized as the SSE data line.
type Frame struct {
	Kind    Kind
	Payload any
}

// Terminal reports whether no frame can follow this one.
func (f Frame) Terminal() bool {
	return f.Kind == KindCompleted || f.Kind == KindFault
}

// Frames returns the frame sequence for one relayed stream.
//
// # Description
//
// Chunks are pulled one at a time, so nothing is read from the provider
// ahead of the consumer. Consumption stops after an error chunk or a final
// chunk. A sequence error or a panic raised while producing a chunk
// becomes the fault frame.
//
// # Inputs
//
//   - ctx: Request context. Once it is done no further frames are
//     produced, not even the terminal one.
//   - chunks: Provider sequence from llm.ApplicationClient.CallStream.
//
// # Outputs
//
//   - iter.Seq[Frame]: Zero or more content frames, at most one upstream
//     error frame, then exactly one completed or fault frame, unless the
//     consumer stops early or ctx is cancelled.
func Frames(ctx context.Context, chunks iter.Seq2[llm.StreamChunk, error]) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		next, stop := iter.Pull2(chunks)
		defer stop()

		for {
			if ctx.Err() != nil {
				return
			}

			chunk, err, ok := pull(next)
			if !ok {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(faultFrame(err))
				return
			}

			if chunk.Failed() {
				if !yield(Frame{
					Kind:    KindUpstreamError,
					Payload: datatypes.NewStreamErrorEvent(chunk.ErrorMessage, chunk.ErrorCode),
				}) {
					return
				}
				break
			}

			if chunk.Text != "" {
				if !yield(Frame{
					Kind:    KindContent,
					Payload: datatypes.NewStreamContentEvent(chunk.Text, chunk.SessionID),
				}) {
					return
				}
			}

			if chunk.IsFinal {
				break
			}
		}

		if ctx.Err() != nil {
			return
		}
		yield(Frame{Kind: KindCompleted, Payload: datatypes.NewStreamCompletedEvent()})
	}
}

// pull advances the provider sequence, converting a panic in the provider
// into an error.
func pull(next func() (llm.StreamChunk, error, bool)) (chunk llm.StreamChunk, err error, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			chunk, err, ok = llm.StreamChunk{}, fmt.Errorf("panic: %v", r), true
		}
	}()
	return next()
}

func faultFrame(err error) Frame {
	return Frame{Kind: KindFault, Payload: datatypes.NewStreamFaultEvent(err.Error())}
}
