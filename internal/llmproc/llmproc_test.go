// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llmproc

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/control"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

type scriptedStream struct {
	mu     sync.Mutex
	chunks []frame.LLMChunk
	delay  time.Duration
	closed bool
}

func (s *scriptedStream) Recv(ctx context.Context) (frame.LLMChunk, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return frame.LLMChunk{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return frame.LLMChunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type scriptedPort struct {
	stream *scriptedStream
}

func (p *scriptedPort) Name() string { return "scripted" }
func (p *scriptedPort) Generate(ctx context.Context, req ports.LLMRequest) (ports.LLMStream, error) {
	return p.stream, nil
}

func TestForwardsAllChunksInOrder(t *testing.T) {
	trace := uuid.New()
	stream := &scriptedStream{chunks: []frame.LLMChunk{
		frame.NewLLMContentChunk(trace, "Hola"),
		frame.NewLLMContentChunk(trace, " mundo"),
		frame.NewLLMTerminalChunk(trace, frame.FinishStop),
	}}
	proc := New(&scriptedPort{stream: stream}, control.New(), commons.NewNop())

	out := make(chan frame.LLMChunk, 8)
	err := proc.Run(context.Background(), trace, ports.LLMRequest{}, out)
	require.NoError(t, err)
	close(out)

	var got []frame.LLMChunk
	for c := range out {
		got = append(got, c)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "Hola", got[0].Content)
	assert.Equal(t, " mundo", got[1].Content)
	assert.Equal(t, frame.FinishStop, got[2].FinishReason)
	assert.True(t, stream.closed)
}

func TestCancelTurnAbortsStreamWithInterruptedTerminal(t *testing.T) {
	trace := uuid.New()
	stream := &scriptedStream{delay: 2 * time.Second}
	ctrl := control.New()
	proc := New(&scriptedPort{stream: stream}, ctrl, commons.NewNop())

	out := make(chan frame.LLMChunk, 8)
	done := make(chan error, 1)
	go func() { done <- proc.Run(context.Background(), trace, ports.LLMRequest{}, out) }()

	time.Sleep(20 * time.Millisecond)
	ctrl.Publish(control.Message{Kind: control.CancelTurn, TraceID: trace})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Run did not return within bound after CANCEL_TURN")
	}

	close(out)
	var last frame.LLMChunk
	for c := range out {
		last = c
	}
	assert.Equal(t, frame.FinishInterrupted, last.FinishReason)
}

func TestControlMessageForDifferentTraceIsIgnored(t *testing.T) {
	trace := uuid.New()
	other := uuid.New()
	stream := &scriptedStream{chunks: []frame.LLMChunk{
		frame.NewLLMContentChunk(trace, "still here"),
		frame.NewLLMTerminalChunk(trace, frame.FinishStop),
	}, delay: 30 * time.Millisecond}
	ctrl := control.New()
	proc := New(&scriptedPort{stream: stream}, ctrl, commons.NewNop())

	out := make(chan frame.LLMChunk, 8)
	ctrl.Publish(control.Message{Kind: control.Interrupt, TraceID: other})

	err := proc.Run(context.Background(), trace, ports.LLMRequest{}, out)
	require.NoError(t, err)
	close(out)

	var got []frame.LLMChunk
	for c := range out {
		got = append(got, c)
	}
	require.Len(t, got, 2)
	assert.Equal(t, frame.FinishStop, got[1].FinishReason)
}
