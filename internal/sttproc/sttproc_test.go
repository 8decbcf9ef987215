// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sttproc

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
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// fakeStream is a scripted ports.STTStream: Recv drains a queue fed by the
// test, optionally after a delay, and returns io.EOF once drained and closed.
type fakeStream struct {
	mu       sync.Mutex
	queue    []frame.TextFrame
	closed   bool
	closeSend bool
	delay    time.Duration
	sent     []ports.AudioChunk
}

func (f *fakeStream) push(tf frame.TextFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, tf)
}

func (f *fakeStream) Send(ctx context.Context, chunk ports.AudioChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chunk)
	return nil
}

func (f *fakeStream) Recv(ctx context.Context) (frame.TextFrame, error) {
	for {
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		f.mu.Lock()
		if len(f.queue) > 0 {
			tf := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			return tf, nil
		}
		done := f.closed || f.closeSend
		f.mu.Unlock()
		if done {
			return frame.TextFrame{}, io.EOF
		}
		select {
		case <-ctx.Done():
			return frame.TextFrame{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSend = true
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakePort struct {
	mu      sync.Mutex
	streams []*fakeStream
	next    int
}

func (p *fakePort) Name() string { return "fake" }

func (p *fakePort) Start(ctx context.Context, opts ports.STTOptions) (ports.STTStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.streams[p.next]
	p.next++
	return s, nil
}

func TestForwardsFinalTranscript(t *testing.T) {
	trace := uuid.New()
	s := &fakeStream{}
	s.push(frame.NewTextFrame(trace, "hola", true))
	s.push(frame.NewTextFrame(trace, "hola, ¿cómo estás?", false))

	port := &fakePort{streams: []*fakeStream{s}}
	proc := New(port, Config{SuppressStaleFinals: true}, commons.NewNop())

	sess, err := proc.StartTurn(context.Background(), trace)
	require.NoError(t, err)

	final := proc.CloseAndAwaitFinal(context.Background(), sess)
	assert.Equal(t, "hola, ¿cómo estás?", final)
	assert.True(t, s.closeSend)
}

func TestFinalWaitTimesOutBounded(t *testing.T) {
	trace := uuid.New()
	s := &fakeStream{delay: 50 * time.Millisecond}
	port := &fakePort{streams: []*fakeStream{s}}
	proc := New(port, Config{FinalWaitTimeout: 10 * time.Millisecond}, commons.NewNop())

	sess, err := proc.StartTurn(context.Background(), trace)
	require.NoError(t, err)

	start := time.Now()
	final := proc.CloseAndAwaitFinal(context.Background(), sess)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, "", final)
}

func TestEagerResessionSuppressesStaleFinal(t *testing.T) {
	first := &fakeStream{delay: 20 * time.Millisecond}
	second := &fakeStream{}
	port := &fakePort{streams: []*fakeStream{first, second}}
	proc := New(port, Config{SuppressStaleFinals: true}, commons.NewNop())

	trace1 := uuid.New()
	sess1, err := proc.StartTurn(context.Background(), trace1)
	require.NoError(t, err)

	first.push(frame.NewTextFrame(trace1, "stale final", false))

	// barge-in: start a second session (eager re-session on INTERRUPT).
	trace2 := uuid.New()
	sess2, err := proc.StartTurn(context.Background(), trace2)
	require.NoError(t, err)
	second.push(frame.NewTextFrame(trace2, "fresh text", false))

	select {
	case tf, ok := <-sess1.Out():
		assert.False(t, ok, "stale session output should be suppressed/closed, got %+v", tf)
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case tf := <-sess2.Out():
		assert.Equal(t, "fresh text", tf.Text)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected fresh text from current session")
	}
}

func TestHallucinationBlacklistDropsFinal(t *testing.T) {
	trace := uuid.New()
	s := &fakeStream{}
	s.push(frame.NewTextFrame(trace, "thank you for watching", false))

	port := &fakePort{streams: []*fakeStream{s}}
	proc := New(port, Config{HallucinationBlacklist: []string{"thank you for watching"}}, commons.NewNop())

	sess, err := proc.StartTurn(context.Background(), trace)
	require.NoError(t, err)

	final := proc.CloseAndAwaitFinal(context.Background(), sess)
	assert.Equal(t, "", final)
}

func TestCloseIsIdempotent(t *testing.T) {
	trace := uuid.New()
	s := &fakeStream{}
	port := &fakePort{streams: []*fakeStream{s}}
	proc := New(port, Config{}, commons.NewNop())

	_, err := proc.StartTurn(context.Background(), trace)
	require.NoError(t, err)

	assert.NoError(t, proc.Close())
	assert.NoError(t, proc.Close())
}
