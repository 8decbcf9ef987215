// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/orchestrator"
)

// Runner is the subset of *orchestrator.Session the WS adapter drives. A
// narrow interface keeps this package testable without a real Session.
type Runner interface {
	Run(ctx context.Context, audioIn <-chan frame.AudioFrame, transportOut chan<- frame.AudioFrame) error
	Interrupts() <-chan struct{}
	Close(ctx context.Context) error
}

// Conn is the subset of *websocket.Conn this package depends on, narrowed
// for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// WSSession bridges one WebSocket connection to one orchestrator.Session,
// translating spec.md §6's JSON media envelopes to/from frame.AudioFrame.
// Buffer/queue management is grounded on the teacher's baseStreamer
// (internal/channel/webrtc/base_streamer.go): bounded channels, non-blocking
// pushes that drop and log rather than block the hot path, and a dedicated
// signal channel to flush pending output on interruption.
type WSSession struct {
	conn    Conn
	runner  Runner
	logger  commons.Logger
	callID  string

	writeMu sync.Mutex
}

// NewWSSession constructs the adapter. callID is used only for logging; the
// orchestrator.Session itself was already constructed against it.
func NewWSSession(conn Conn, runner Runner, callID string, logger commons.Logger) *WSSession {
	return &WSSession{conn: conn, runner: runner, callID: callID, logger: logger.With("call_id", callID)}
}

// Serve runs the bidirectional bridge until the connection closes or ctx is
// cancelled, then tears the session down within its teardown budget
// (spec.md §4.12).
func (w *WSSession) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	audioIn := make(chan frame.AudioFrame, orchestrator.AudioQueueDepth)
	transportOut := make(chan frame.AudioFrame, orchestrator.TTSQueueDepth)

	g, gctx := errgroup.WithContext(ctx)

	// errgroup only cancels gctx when a goroutine returns a non-nil error; a
	// clean return (e.g. the orchestrator ending the call) would otherwise
	// leave the other two loops blocked forever, so every leg also cancels
	// on its own clean exit.
	g.Go(func() error {
		defer cancel()
		defer close(audioIn)
		return w.readLoop(gctx, audioIn)
	})
	g.Go(func() error {
		defer cancel()
		return w.writeLoop(gctx, transportOut)
	})
	g.Go(func() error {
		defer cancel()
		return w.runner.Run(gctx, audioIn, transportOut)
	})

	err := g.Wait()
	closeErr := w.runner.Close(context.Background())
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	return closeErr
}

// readLoop decodes inbound start/media/stop envelopes (spec.md §6) and
// feeds PCM into audioIn. A full audioIn queue drops the oldest-arriving
// frame's replacement rather than blocking the WebSocket read loop, mirroring
// baseStreamer.pushInput's "drop and log" policy.
func (w *WSSession) readLoop(ctx context.Context, audioIn chan<- frame.AudioFrame) error {
	var sampleRate = 16000
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := unmarshalEnvelope(data)
		if err != nil {
			w.logger.Warnw("transport: dropped malformed envelope", "error", err.Error())
			continue
		}

		switch env.Event {
		case EventStart:
			if env.Start != nil && env.Start.MediaFormat.SampleRate > 0 {
				sampleRate = env.Start.MediaFormat.SampleRate
			}
		case EventMedia:
			if env.Media == nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(env.Media.Payload)
			if err != nil {
				w.logger.Warnw("transport: dropped undecodable media payload", "error", err.Error())
				continue
			}
			af := frame.NewAudioFrame(uuid.Nil, pcm, sampleRate, frame.ChannelUser)
			select {
			case audioIn <- af:
			case <-ctx.Done():
				return nil
			default:
				w.logger.Warnw("transport: audio-in queue full, dropping frame")
			}
		case EventStop:
			return nil
		}
	}
}

// writeLoop encodes outbound AudioFrames as "media" envelopes (spec.md §6)
// and relays the orchestrator's barge-in flush signal as an outbound
// "clear" envelope.
func (w *WSSession) writeLoop(ctx context.Context, transportOut <-chan frame.AudioFrame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.runner.Interrupts():
			if err := w.send(newClearEnvelope()); err != nil {
				return err
			}
		case af, ok := <-transportOut:
			if !ok {
				return nil
			}
			payload := base64.StdEncoding.EncodeToString(af.PCM)
			if err := w.send(newMediaEnvelope(payload)); err != nil {
				return err
			}
		}
	}
}

func (w *WSSession) send(env OutboundEnvelope) error {
	data, err := marshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("transport: marshal outbound envelope: %w", err)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}
