// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/BailianRelay/services/llm"
	"github.com/AleutianAI/BailianRelay/services/relay/datatypes"
)

// =============================================================================
// Test Helpers
// =============================================================================

// scriptedStream yields the given steps in order and counts how many were
// pulled. A step with a non-nil err is yielded as a sequence error.
type step struct {
	chunk llm.StreamChunk
	err   error
	panic any
}

type scriptedStream struct {
	steps  []step
	pulled int
}

func (s *scriptedStream) Seq() iter.Seq2[llm.StreamChunk, error] {
	return func(yield func(llm.StreamChunk, error) bool) {
		for _, st := range s.steps {
			s.pulled++
			if st.panic != nil {
				panic(st.panic)
			}
			if !yield(st.chunk, st.err) {
				return
			}
		}
	}
}

func text(s string) step { return step{chunk: llm.StreamChunk{Text: s}} }

func collectFrames(ctx context.Context, s *scriptedStream) []Frame {
	var frames []Frame
	for frame := range Frames(ctx, s.Seq()) {
		frames = append(frames, frame)
	}
	return frames
}

func kinds(frames []Frame) []Kind {
	out := make([]Kind, len(frames))
	for i, f := range frames {
		out[i] = f.Kind
	}
	return out
}

// =============================================================================
// Ordering and termination
// =============================================================================

func TestFrames_ContentThenCompleted(t *testing.T) {
	s := &scriptedStream{steps: []step{text("Hel"), text("lo")}}
	frames := collectFrames(context.Background(), s)

	require.Equal(t, []Kind{KindContent, KindContent, KindCompleted}, kinds(frames))
	assert.Equal(t, datatypes.NewStreamContentEvent("Hel", ""), frames[0].Payload)
	assert.Equal(t, datatypes.NewStreamContentEvent("lo", ""), frames[1].Payload)
	assert.Equal(t, datatypes.NewStreamCompletedEvent(), frames[2].Payload)
	assert.True(t, frames[2].Terminal())
}

func TestFrames_EmptyStreamStillCompletes(t *testing.T) {
	frames := collectFrames(context.Background(), &scriptedStream{})
	assert.Equal(t, []Kind{KindCompleted}, kinds(frames))
}

func TestFrames_SkipsEmptyText(t *testing.T) {
	s := &scriptedStream{steps: []step{text(""), text("a"), text("")}}
	frames := collectFrames(context.Background(), s)
	assert.Equal(t, []Kind{KindContent, KindCompleted}, kinds(frames))
}

func TestFrames_CarriesSessionID(t *testing.T) {
	s := &scriptedStream{steps: []step{{chunk: llm.StreamChunk{Text: "a", SessionID: "s-1"}}}}
	frames := collectFrames(context.Background(), s)

	event, ok := frames[0].Payload.(datatypes.StreamContentEvent)
	require.True(t, ok)
	require.NotNil(t, event.SessionID)
	assert.Equal(t, "s-1", *event.SessionID)
}

func TestFrames_UpstreamErrorStopsConsumption(t *testing.T) {
	s := &scriptedStream{steps: []step{
		text("a"),
		{chunk: llm.StreamChunk{ErrorMessage: "Invalid API-key provided.", ErrorCode: 401}},
		text("never"),
	}}
	frames := collectFrames(context.Background(), s)

	require.Equal(t, []Kind{KindContent, KindUpstreamError, KindCompleted}, kinds(frames))
	assert.Equal(t, datatypes.NewStreamErrorEvent("Invalid API-key provided.", 401), frames[1].Payload)
	assert.Equal(t, 2, s.pulled, "no chunk is pulled after the error chunk")
}

func TestFrames_FinalChunkStopsConsumption(t *testing.T) {
	s := &scriptedStream{steps: []step{
		text("a"),
		{chunk: llm.StreamChunk{Text: "b", IsFinal: true}},
		text("never"),
	}}
	frames := collectFrames(context.Background(), s)

	assert.Equal(t, []Kind{KindContent, KindContent, KindCompleted}, kinds(frames))
	assert.Equal(t, 2, s.pulled)
}

func TestFrames_SequenceErrorBecomesFault(t *testing.T) {
	s := &scriptedStream{steps: []step{
		text("a"),
		{err: errors.New("connection reset by peer")},
	}}
	frames := collectFrames(context.Background(), s)

	require.Equal(t, []Kind{KindContent, KindFault}, kinds(frames))
	assert.Equal(t, datatypes.NewStreamFaultEvent("connection reset by peer"), frames[1].Payload)
	assert.True(t, frames[1].Terminal())
}

func TestFrames_PanicBecomesFault(t *testing.T) {
	s := &scriptedStream{steps: []step{text("a"), {panic: "adapter exploded"}}}
	frames := collectFrames(context.Background(), s)

	require.Equal(t, []Kind{KindContent, KindFault}, kinds(frames))
	event, ok := frames[1].Payload.(datatypes.StreamFaultEvent)
	require.True(t, ok)
	assert.Contains(t, event.Message, "adapter exploded")
	assert.True(t, event.Finished)
}

func TestFrames_ExactlyOneTerminal(t *testing.T) {
	scripts := map[string][]step{
		"normal": {text("a"), text("b")},
		"error":  {{chunk: llm.StreamChunk{ErrorMessage: "x", ErrorCode: 500}}},
		"fault":  {{err: errors.New("boom")}},
		"final":  {{chunk: llm.StreamChunk{IsFinal: true}}},
		"empty":  nil,
	}
	for name, steps := range scripts {
		t.Run(name, func(t *testing.T) {
			frames := collectFrames(context.Background(), &scriptedStream{steps: steps})
			terminals := 0
			for i, f := range frames {
				if f.Terminal() {
					terminals++
					assert.Equal(t, len(frames)-1, i, "terminal frame must be last")
				}
			}
			assert.Equal(t, 1, terminals)
		})
	}
}

// =============================================================================
// Cancellation
// =============================================================================

func TestFrames_CancelledContextEmitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &scriptedStream{steps: []step{text("a")}}
	frames := collectFrames(ctx, s)
	assert.Empty(t, frames)
	assert.Equal(t, 0, s.pulled)
}

func TestFrames_CancelMidStreamStopsWithoutTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &scriptedStream{steps: []step{text("a"), text("b"), text("c")}}
	var frames []Frame
	for frame := range Frames(ctx, s.Seq()) {
		frames = append(frames, frame)
		cancel()
	}

	assert.Equal(t, []Kind{KindContent}, kinds(frames))
	assert.Equal(t, 1, s.pulled)
}

func TestFrames_SequenceErrorAfterCancelIsNotAFault(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &scriptedStream{}
	s.steps = []step{{err: context.Canceled}}

	seq := func(yield func(llm.StreamChunk, error) bool) {
		cancel()
		for chunk, err := range s.Seq() {
			if !yield(chunk, err) {
				return
			}
		}
	}

	var frames []Frame
	for frame := range Frames(ctx, seq) {
		frames = append(frames, frame)
	}
	assert.Empty(t, frames)
}

func TestFrames_ConsumerStopsEarly(t *testing.T) {
	s := &scriptedStream{steps: []step{text("a"), text("b"), text("c")}}
	for range Frames(context.Background(), s.Seq()) {
		break
	}
	assert.Equal(t, 1, s.pulled)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "content", KindContent.String())
	assert.Equal(t, "upstream_error", KindUpstreamError.String())
	assert.Equal(t, "completed", KindCompleted.String())
	assert.Equal(t, "fault", KindFault.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
