// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/frame"
)

// fakeConn is a scripted Conn: ReadMessage drains a queue of inbound frames
// fed by the test, then blocks (as a real still-open connection would)
// until the test calls hangUp, at which point it returns io.EOF.
// WriteMessage records everything written for assertions.
type fakeConn struct {
	mu      sync.Mutex
	inbound [][]byte
	readPos int
	hangup  chan struct{}

	written [][]byte
	closed  bool
}

func newFakeConn(inbound ...[]byte) *fakeConn {
	return &fakeConn{inbound: inbound, hangup: make(chan struct{})}
}

func (f *fakeConn) hangUp() {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.hangup:
	default:
		close(f.hangup)
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	if f.readPos < len(f.inbound) {
		data := f.inbound[f.readPos]
		f.readPos++
		f.mu.Unlock()
		return 1, data, nil
	}
	hangup := f.hangup
	f.mu.Unlock()
	<-hangup
	return 0, nil, io.EOF
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) writtenEnvelopes() []OutboundEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OutboundEnvelope, 0, len(f.written))
	for _, data := range f.written {
		var env OutboundEnvelope
		if err := json.Unmarshal(data, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func envelopeJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// fakeRunner is a scripted Runner. Run blocks on audioIn until it's closed,
// recording every AudioFrame it sees and optionally echoing queued frames
// onto transportOut; Interrupts exposes a channel the test controls directly.
type fakeRunner struct {
	mu        sync.Mutex
	received  []frame.AudioFrame
	interrupt chan struct{}
	echo      []frame.AudioFrame
	closeErr  error
	closed    bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{interrupt: make(chan struct{}, 1)}
}

func (r *fakeRunner) Run(ctx context.Context, audioIn <-chan frame.AudioFrame, transportOut chan<- frame.AudioFrame) error {
	// transportOut is buffered well beyond len(r.echo) in every test here, so
	// this never blocks and never races against ctx cancellation.
	for _, af := range r.echo {
		transportOut <- af
	}
	for {
		select {
		case af, ok := <-audioIn:
			if !ok {
				return nil
			}
			r.mu.Lock()
			r.received = append(r.received, af)
			r.mu.Unlock()
		case <-ctx.Done():
			// Record frames still buffered in audioIn before returning.
			for {
				select {
				case af, ok := <-audioIn:
					if !ok {
						return nil
					}
					r.mu.Lock()
					r.received = append(r.received, af)
					r.mu.Unlock()
				default:
					return nil
				}
			}
		}
	}
}

func (r *fakeRunner) Interrupts() <-chan struct{} { return r.interrupt }

func (r *fakeRunner) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.closeErr
}

func (r *fakeRunner) receivedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.received)
}

func TestWSSessionDecodesStartAndMediaIntoAudioIn(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	start := envelopeJSON(t, InboundEnvelope{
		Event: EventStart,
		Start: &StartPayload{StreamSID: "s1", MediaFormat: MediaFormat{Encoding: "linear16", SampleRate: 8000, Channels: 1}},
	})
	media := envelopeJSON(t, InboundEnvelope{
		Event: EventMedia,
		Media: &MediaPayload{Payload: base64.StdEncoding.EncodeToString(pcm)},
	})

	stop := envelopeJSON(t, InboundEnvelope{Event: EventStop})
	conn := newFakeConn(start, media, stop)
	runner := newFakeRunner()
	w := NewWSSession(conn, runner, "call-1", commons.NewNop())

	err := w.Serve(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, runner.receivedCount())
	assert.Equal(t, pcm, runner.received[0].PCM)
	assert.Equal(t, 8000, runner.received[0].SampleRate)
	assert.True(t, runner.closed)
}

func TestWSSessionDropsMalformedEnvelopeAndContinues(t *testing.T) {
	pcm := []byte{9, 9}
	media := envelopeJSON(t, InboundEnvelope{Event: EventMedia, Media: &MediaPayload{Payload: base64.StdEncoding.EncodeToString(pcm)}})
	stop := envelopeJSON(t, InboundEnvelope{Event: EventStop})

	conn := newFakeConn([]byte("{not json"), media, stop)
	runner := newFakeRunner()
	w := NewWSSession(conn, runner, "call-2", commons.NewNop())

	err := w.Serve(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, runner.receivedCount())
	assert.Equal(t, pcm, runner.received[0].PCM)
}

func TestWSSessionDropsUndecodableBase64Payload(t *testing.T) {
	media := envelopeJSON(t, InboundEnvelope{Event: EventMedia, Media: &MediaPayload{Payload: "not-valid-base64!!"}})
	stop := envelopeJSON(t, InboundEnvelope{Event: EventStop})
	conn := newFakeConn(media, stop)
	runner := newFakeRunner()
	w := NewWSSession(conn, runner, "call-3", commons.NewNop())

	err := w.Serve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, runner.receivedCount())
}

// waitForEnvelopes polls until the connection has recorded at least n
// outbound writes, or fails the test after a generous bound.
func waitForEnvelopes(t *testing.T, conn *fakeConn, n int) []OutboundEnvelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		envs := conn.writtenEnvelopes()
		if len(envs) >= n {
			return envs
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d outbound envelopes, got %d", n, len(envs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWSSessionEncodesOutboundAudioAsMediaEnvelope(t *testing.T) {
	af := frame.NewAudioFrame(uuid.New(), []byte{5, 6, 7}, 16000, frame.ChannelBot)
	conn := newFakeConn() // stays "open" (ReadMessage blocks) until hangUp
	runner := newFakeRunner()
	runner.echo = []frame.AudioFrame{af}

	w := NewWSSession(conn, runner, "call-4", commons.NewNop())
	done := make(chan error, 1)
	go func() { done <- w.Serve(context.Background()) }()

	envs := waitForEnvelopes(t, conn, 1)
	conn.hangUp()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after hangup")
	}

	require.Len(t, envs, 1)
	assert.Equal(t, EventMedia, envs[0].Event)
	require.NotNil(t, envs[0].Media)
	decoded, err := base64.StdEncoding.DecodeString(envs[0].Media.Payload)
	require.NoError(t, err)
	assert.Equal(t, af.PCM, decoded)
}

func TestWSSessionRelaysInterruptAsClearEnvelope(t *testing.T) {
	conn := newFakeConn()
	runner := newFakeRunner()
	runner.interrupt <- struct{}{}

	w := NewWSSession(conn, runner, "call-5", commons.NewNop())
	done := make(chan error, 1)
	go func() { done <- w.Serve(context.Background()) }()

	envs := waitForEnvelopes(t, conn, 1)
	conn.hangUp()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after hangup")
	}

	require.GreaterOrEqual(t, len(envs), 1)
	assert.Equal(t, EventClear, envs[0].Event)
}
