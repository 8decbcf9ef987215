// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package tts holds the concrete ports.TTSPort adapters (spec.md §4.2).
// cartesia.go is grounded directly on the teacher's
// internal/transformer/cartesia.cartesiaTTS: a websocket connection, a
// background read loop decoding base64 audio payloads, and a done signal
// on the terminal "done" message.
package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// CartesiaProviderName is the registry.KindTTS key this package registers
// itself under.
const CartesiaProviderName = "cartesia"

const cartesiaWSURL = "wss://api.cartesia.ai/tts/websocket"

type cartesiaPort struct {
	apiKey string
	logger commons.Logger
}

// NewCartesiaFactory returns a registry.TTSFactory reading its API key
// from env[apiKeyEnv].
func NewCartesiaFactory(apiKeyEnv string, logger commons.Logger) func(ctx context.Context, snap ports.ConfigSnapshot) (ports.TTSPort, error) {
	return func(ctx context.Context, snap ports.ConfigSnapshot) (ports.TTSPort, error) {
		key := os.Getenv(apiKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("tts/cartesia: %s is not set", apiKeyEnv)
		}
		return &cartesiaPort{apiKey: key, logger: logger.With("provider", CartesiaProviderName)}, nil
	}
}

func (p *cartesiaPort) Name() string { return CartesiaProviderName }

type cartesiaOutput struct {
	ContextID string `json:"context_id"`
	Data      string `json:"data"`
	Done      bool   `json:"done"`
}

func (p *cartesiaPort) Synthesize(ctx context.Context, req ports.TTSRequest) (ports.TTSStream, error) {
	dialURL := cartesiaWSURL + "?api_key=" + url.QueryEscape(p.apiKey) + "&cartesia_version=2024-11-13"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return nil, fmt.Errorf("tts/cartesia: dial: %w", err)
	}

	voice := req.Voice
	if voice == "" {
		voice = "a0e99841-438c-4a64-b679-ae501e7d6091"
	}
	message := map[string]interface{}{
		"context_id": uuid.NewString(),
		"model_id":   "sonic-2",
		"transcript": req.Text,
		"voice":      map[string]interface{}{"mode": "id", "id": voice},
		"output_format": map[string]interface{}{
			"container":   "raw",
			"encoding":    "pcm_s16le",
			"sample_rate": 16000,
		},
		"language": req.Language,
		"speed":    req.Rate,
		"continue": false,
	}
	if err := conn.WriteJSON(message); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tts/cartesia: send request: %w", err)
	}

	stream := &cartesiaStream{
		logger: p.logger,
		conn:   conn,
		frames: make(chan frame.AudioFrame, 32),
		done:   make(chan struct{}),
	}
	go stream.readLoop()
	return stream, nil
}

// cartesiaStream mirrors the teacher's textToSpeechCallback goroutine: one
// reader decoding base64 payloads into frame.AudioFrame, terminating on the
// server's "done" message or a read error.
type cartesiaStream struct {
	logger commons.Logger
	conn   *websocket.Conn
	frames chan frame.AudioFrame

	closeOnce sync.Once
	done      chan struct{}
}

func (s *cartesiaStream) readLoop() {
	defer close(s.frames)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var payload cartesiaOutput
		if err := json.Unmarshal(msg, &payload); err != nil {
			s.logger.Warnw("tts/cartesia: invalid json from provider", "error", err.Error())
			continue
		}
		if payload.Done {
			s.closeDone()
			return
		}
		if payload.Data == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(payload.Data)
		if err != nil {
			s.logger.Warnw("tts/cartesia: failed to decode audio payload", "error", err.Error())
			continue
		}
		select {
		case s.frames <- frame.NewAudioFrame(uuid.Nil, decoded, 16000, frame.ChannelBot):
		case <-s.done:
			return
		}
	}
}

func (s *cartesiaStream) closeDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *cartesiaStream) Recv(ctx context.Context) (frame.AudioFrame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return frame.AudioFrame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return frame.AudioFrame{}, ctx.Err()
	}
}

// Close tears down the websocket immediately, satisfying spec.md §4.2's
// "mid-stream cancellation returning within 50ms" by not waiting for the
// provider's own "done" message.
func (s *cartesiaStream) Close() error {
	s.closeDone()
	return s.conn.Close()
}
