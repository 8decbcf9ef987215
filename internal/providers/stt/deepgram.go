// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package stt holds the concrete ports.STTPort adapters (spec.md §4.2),
// one per vendor SDK, each registering itself with internal/registry at
// process init. Grounded on the teacher's internal/transformer/deepgram
// option-builder pattern, generalized off a vault-credential lookup onto
// plain environment-sourced API keys.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/live"
	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/live/v1/websocket/interfaces"
	"github.com/google/uuid"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// DeepgramProviderName is the registry.KindSTT key this package registers
// itself under.
const DeepgramProviderName = "deepgram"

// deepgramPort implements ports.STTPort over deepgram-go-sdk/v3's
// websocket live-transcription client.
type deepgramPort struct {
	apiKey string
	logger commons.Logger
}

// NewDeepgramFactory returns a registry.STTFactory reading its API key
// from env[apiKeyEnv]. A missing key fails at Create time, before any
// websocket is dialled; the check runs once per session construction.
func NewDeepgramFactory(apiKeyEnv string, logger commons.Logger) func(ctx context.Context, snap ports.ConfigSnapshot) (ports.STTPort, error) {
	return func(ctx context.Context, snap ports.ConfigSnapshot) (ports.STTPort, error) {
		key := os.Getenv(apiKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("stt/deepgram: %s is not set", apiKeyEnv)
		}
		return &deepgramPort{apiKey: key, logger: logger.With("provider", DeepgramProviderName)}, nil
	}
}

func (p *deepgramPort) Name() string { return DeepgramProviderName }

func (p *deepgramPort) Start(ctx context.Context, opts ports.STTOptions) (ports.STTStream, error) {
	stream := &deepgramStream{
		logger: p.logger,
		frames: make(chan frame.TextFrame, 32),
		done:   make(chan struct{}),
	}

	language := opts.Language
	if language == "" {
		language = "en-US"
	}
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	txOpts := interfaces.LiveTranscriptionOptions{
		Model:          "nova-2",
		Language:       language,
		Channels:       1,
		SampleRate:     sampleRate,
		Encoding:       "linear16",
		SmartFormat:    true,
		InterimResults: true,
		Punctuate:      true,
		Endpointing:    "300",
	}

	client, err := listen.NewWSUsingCallback(ctx, p.apiKey, &interfaces.ClientOptions{}, &txOpts, stream)
	if err != nil {
		return nil, fmt.Errorf("stt/deepgram: connect: %w", err)
	}
	if ok := client.Connect(); !ok {
		return nil, errors.New("stt/deepgram: websocket handshake failed")
	}
	stream.conn = client
	return stream, nil
}

// deepgramStream bridges the SDK's OnMessage callback style onto
// ports.STTStream's pull-based Recv, the same shape cartesia's
// read-loop-to-callback bridge uses in reverse.
type deepgramStream struct {
	logger commons.Logger
	conn   *listen.WSChannel
	frames chan frame.TextFrame

	closeOnce sync.Once
	done      chan struct{}
}

// Message implements interfaces.LiveMessageCallback.
func (s *deepgramStream) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := mr.Channel.Alternatives[0].Transcript
	if text == "" {
		return nil
	}
	// TraceID here is ignored by sttproc.Processor.pump, which re-keys every
	// frame off the Session it was pumped into, not off this value.
	select {
	case s.frames <- frame.NewTextFrame(uuid.Nil, text, !mr.IsFinal):
	case <-s.done:
	}
	return nil
}

func (s *deepgramStream) Open(*api.OpenResponse) error           { return nil }
func (s *deepgramStream) Metadata(*api.MetadataResponse) error   { return nil }
func (s *deepgramStream) SpeechStarted(*api.SpeechStartedResponse) error { return nil }
func (s *deepgramStream) UtteranceEnd(*api.UtteranceEndResponse) error   { return nil }
func (s *deepgramStream) Close(*api.CloseResponse) error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
func (s *deepgramStream) Error(er *api.ErrorResponse) error {
	s.logger.Warnw("stt/deepgram: provider error", "error", er.Description)
	return nil
}
func (s *deepgramStream) UnhandledEvent([]byte) error { return nil }

func (s *deepgramStream) Send(ctx context.Context, chunk ports.AudioChunk) error {
	if s.conn == nil {
		return errors.New("stt/deepgram: stream not started")
	}
	return s.conn.WriteBinary(chunk.PCM)
}

func (s *deepgramStream) Recv(ctx context.Context) (frame.TextFrame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return frame.TextFrame{}, io.EOF
		}
		return f, nil
	case <-s.done:
		return frame.TextFrame{}, io.EOF
	case <-ctx.Done():
		return frame.TextFrame{}, ctx.Err()
	}
}

func (s *deepgramStream) CloseSend() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Finalize()
}

func (s *deepgramStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	if s.conn == nil {
		return nil
	}
	s.conn.Stop()
	return nil
}
