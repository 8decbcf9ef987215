// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tts

import (
	"context"
	"fmt"
	"io"
	"os"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// GoogleProviderName is the registry.KindTTS key this package registers
// itself under. It is an alternative to CartesiaProviderName, selected by
// name; a session wraps only the one TTS provider its config names, with no
// fallback chain behind it.
const GoogleProviderName = "google"

const googleDefaultVoice = "en-US-Chirp-HD-F"

type googlePort struct {
	client *texttospeech.Client
	logger commons.Logger
}

// NewGoogleFactory returns a registry.TTSFactory authenticating with the
// JSON key file named by env[credsFileEnv], the same
// GOOGLE_APPLICATION_CREDENTIALS-style indirection the teacher's
// internal/transformer/google.NewGoogleOption builds its option.ClientOption
// slice from.
func NewGoogleFactory(credsFileEnv string, logger commons.Logger) func(ctx context.Context, snap ports.ConfigSnapshot) (ports.TTSPort, error) {
	return func(ctx context.Context, snap ports.ConfigSnapshot) (ports.TTSPort, error) {
		var opts []option.ClientOption
		if path := os.Getenv(credsFileEnv); path != "" {
			opts = append(opts, option.WithCredentialsFile(path))
		}
		client, err := texttospeech.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("tts/google: new client: %w", err)
		}
		return &googlePort{client: client, logger: logger.With("provider", GoogleProviderName)}, nil
	}
}

func (p *googlePort) Name() string { return GoogleProviderName }

// Synthesize calls the non-streaming SynthesizeSpeech API and chunks the
// resulting audio into frame.AudioFrame-sized pieces so downstream
// consumers see the same incremental shape a truly streaming provider
// would produce.
func (p *googlePort) Synthesize(ctx context.Context, req ports.TTSRequest) (ports.TTSStream, error) {
	language := req.Language
	if language == "" {
		language = "en-US"
	}
	voice := req.Voice
	if voice == "" {
		voice = googleDefaultVoice
	}

	resp, err := p.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: req.Text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: language,
			Name:         voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SampleRateHertz: 16000,
			SpeakingRate:    rateOrDefault(req.Rate),
			Pitch:           req.Pitch,
			VolumeGainDb:    req.Volume,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tts/google: synthesize: %w", err)
	}

	return newChunkedStream(resp.AudioContent, 3200), nil
}

func rateOrDefault(rate float64) float64 {
	if rate == 0 {
		return 1.0
	}
	return rate
}

// chunkedStream replays a fully-buffered audio payload as a sequence of
// fixed-size frame.AudioFrame values over Recv, for providers (like Google's
// non-streaming TTS API) that return the whole utterance in one response.
type chunkedStream struct {
	pcm       []byte
	chunkSize int
	offset    int
}

func newChunkedStream(pcm []byte, chunkSize int) *chunkedStream {
	return &chunkedStream{pcm: pcm, chunkSize: chunkSize}
}

func (s *chunkedStream) Recv(ctx context.Context) (frame.AudioFrame, error) {
	select {
	case <-ctx.Done():
		return frame.AudioFrame{}, ctx.Err()
	default:
	}
	if s.offset >= len(s.pcm) {
		return frame.AudioFrame{}, io.EOF
	}
	end := s.offset + s.chunkSize
	if end > len(s.pcm) {
		end = len(s.pcm)
	}
	chunk := s.pcm[s.offset:end]
	s.offset = end
	return frame.NewAudioFrame(uuid.Nil, chunk, 16000, frame.ChannelBot), nil
}

func (s *chunkedStream) Close() error {
	s.offset = len(s.pcm)
	return nil
}
