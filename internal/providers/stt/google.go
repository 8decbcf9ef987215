// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package stt

import (
	"context"
	"fmt"
	"io"
	"os"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// GoogleProviderName is the registry.KindSTT key this package registers
// itself under. It is an alternative to DeepgramProviderName and
// AzureProviderName, selected by name; a session wraps only the one STT
// provider its config names, with no fallback chain behind it.
const GoogleProviderName = "google"

type googlePort struct {
	client    *speech.Client
	projectID string
	logger    commons.Logger
}

// NewGoogleFactory returns a registry.STTFactory authenticating from the
// JSON key file named by env[credsFileEnv], same option.ClientOption
// indirection as the teacher's internal/transformer/google.NewGoogleOption.
func NewGoogleFactory(credsFileEnv, projectIDEnv string, logger commons.Logger) func(ctx context.Context, snap ports.ConfigSnapshot) (ports.STTPort, error) {
	return func(ctx context.Context, snap ports.ConfigSnapshot) (ports.STTPort, error) {
		var opts []option.ClientOption
		if path := os.Getenv(credsFileEnv); path != "" {
			opts = append(opts, option.WithCredentialsFile(path))
		}
		client, err := speech.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("stt/google: new client: %w", err)
		}
		projectID := os.Getenv(projectIDEnv)
		if projectID == "" {
			projectID = "default"
		}
		return &googlePort{client: client, projectID: projectID, logger: logger.With("provider", GoogleProviderName)}, nil
	}
}

func (p *googlePort) Name() string { return GoogleProviderName }

func (p *googlePort) Start(ctx context.Context, opts ports.STTOptions) (ports.STTStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	bidi, err := p.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stt/google: open stream: %w", err)
	}

	language := opts.Language
	if language == "" {
		language = "en-US"
	}
	sampleRate := int32(opts.SampleRate)
	if sampleRate == 0 {
		sampleRate = 16000
	}

	recognizer := fmt.Sprintf("projects/%s/locations/global/recognizers/_", p.projectID)
	initReq := &speechpb.StreamingRecognizeRequest{
		Recognizer: recognizer,
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   sampleRate,
							AudioChannelCount: 1,
						},
					},
					LanguageCodes: []string{language},
					Model:         "long",
					Features: &speechpb.RecognitionFeatures{
						EnableAutomaticPunctuation: true,
					},
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{
					InterimResults: true,
				},
			},
		},
	}
	if err := bidi.Send(initReq); err != nil {
		cancel()
		return nil, fmt.Errorf("stt/google: send config: %w", err)
	}

	stream := &googleStream{
		logger: p.logger,
		bidi:   bidi,
		cancel: cancel,
		frames: make(chan frame.TextFrame, 32),
	}
	go stream.readLoop()
	return stream, nil
}

type googleStream struct {
	logger commons.Logger
	bidi   speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	frames chan frame.TextFrame
}

func (s *googleStream) readLoop() {
	defer close(s.frames)
	for {
		resp, err := s.bidi.Recv()
		if err != nil {
			return
		}
		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			text := result.Alternatives[0].Transcript
			if text == "" {
				continue
			}
			s.frames <- frame.NewTextFrame(uuid.Nil, text, !result.IsFinal)
		}
	}
}

func (s *googleStream) Send(ctx context.Context, chunk ports.AudioChunk) error {
	return s.bidi.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: chunk.PCM},
	})
}

func (s *googleStream) Recv(ctx context.Context) (frame.TextFrame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return frame.TextFrame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return frame.TextFrame{}, ctx.Err()
	}
}

func (s *googleStream) CloseSend() error {
	return s.bidi.CloseSend()
}

func (s *googleStream) Close() error {
	s.cancel()
	return nil
}
