// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Microsoft/cognitive-services-speech-sdk-go/audio"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/speech"
	"github.com/google/uuid"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// AzureProviderName is the registry.KindSTT key this package registers
// itself under.
const AzureProviderName = "azure"

// azurePort implements ports.STTPort over cognitive-services-speech-sdk-go's
// push-stream continuous recognizer. It is an alternative to
// DeepgramProviderName, selected by name; a session wraps only the one STT
// provider its config names, with no fallback chain behind it.
type azurePort struct {
	subscriptionKey string
	endpoint        string
	logger          commons.Logger
}

// NewAzureFactory returns a registry.STTFactory reading its subscription
// key and endpoint from the given env vars, grounded on the teacher's
// internal/transformer/azure vault lookup for the same two fields.
func NewAzureFactory(keyEnv, endpointEnv string, logger commons.Logger) func(ctx context.Context, snap ports.ConfigSnapshot) (ports.STTPort, error) {
	return func(ctx context.Context, snap ports.ConfigSnapshot) (ports.STTPort, error) {
		key := os.Getenv(keyEnv)
		endpoint := os.Getenv(endpointEnv)
		if key == "" || endpoint == "" {
			return nil, fmt.Errorf("stt/azure: %s and %s must both be set", keyEnv, endpointEnv)
		}
		return &azurePort{subscriptionKey: key, endpoint: endpoint, logger: logger.With("provider", AzureProviderName)}, nil
	}
}

func (p *azurePort) Name() string { return AzureProviderName }

func (p *azurePort) Start(ctx context.Context, opts ports.STTOptions) (ports.STTStream, error) {
	sampleRate := uint32(opts.SampleRate)
	if sampleRate == 0 {
		sampleRate = 16000
	}
	format, err := audio.GetWaveFormatPCM(sampleRate, 16, 1)
	if err != nil {
		return nil, fmt.Errorf("stt/azure: wave format: %w", err)
	}
	pushStream, err := audio.CreatePushAudioInputStreamFromFormat(format)
	if err != nil {
		return nil, fmt.Errorf("stt/azure: push stream: %w", err)
	}
	audioCfg, err := audio.NewAudioConfigFromStreamInput(pushStream)
	if err != nil {
		pushStream.Close()
		return nil, fmt.Errorf("stt/azure: audio config: %w", err)
	}
	speechCfg, err := speech.NewSpeechConfigFromEndpoint(p.endpoint, p.subscriptionKey)
	if err != nil {
		audioCfg.Close()
		pushStream.Close()
		return nil, fmt.Errorf("stt/azure: speech config: %w", err)
	}
	language := opts.Language
	if language == "" {
		language = "en-US"
	}
	speechCfg.SetSpeechRecognitionLanguage(language)

	recognizer, err := speech.NewSpeechRecognizerFromConfig(speechCfg, audioCfg)
	if err != nil {
		speechCfg.Close()
		audioCfg.Close()
		pushStream.Close()
		return nil, fmt.Errorf("stt/azure: recognizer: %w", err)
	}

	stream := &azureStream{
		logger:     p.logger,
		recognizer: recognizer,
		pushStream: pushStream,
		frames:     make(chan frame.TextFrame, 32),
		done:       make(chan struct{}),
	}

	recognizer.Recognizing(func(event speech.SpeechRecognitionEventArgs) {
		defer event.Close()
		stream.emit(event.Result.Text, true)
	})
	recognizer.Recognized(func(event speech.SpeechRecognitionEventArgs) {
		defer event.Close()
		if event.Result.Text != "" {
			stream.emit(event.Result.Text, false)
		}
	})
	recognizer.Canceled(func(event speech.SpeechRecognitionCanceledEventArgs) {
		defer event.Close()
		stream.logger.Warnw("stt/azure: recognition canceled", "reason", event.Reason)
		stream.closeDone()
	})
	recognizer.SessionStopped(func(event speech.SessionEventArgs) {
		defer event.Close()
		stream.closeDone()
	})

	if outcome := <-recognizer.StartContinuousRecognitionAsync(); outcome.Error != nil {
		recognizer.Close()
		audioCfg.Close()
		pushStream.Close()
		return nil, fmt.Errorf("stt/azure: start recognition: %w", outcome.Error)
	}
	return stream, nil
}

type azureStream struct {
	logger     commons.Logger
	recognizer *speech.SpeechRecognizer
	pushStream *audio.PushAudioInputStream

	frames chan frame.TextFrame

	closeOnce sync.Once
	done      chan struct{}
}

func (s *azureStream) emit(text string, partial bool) {
	if text == "" {
		return
	}
	select {
	case s.frames <- frame.NewTextFrame(uuid.Nil, text, partial):
	case <-s.done:
	}
}

func (s *azureStream) closeDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *azureStream) Send(ctx context.Context, chunk ports.AudioChunk) error {
	return s.pushStream.Write(chunk.PCM)
}

func (s *azureStream) Recv(ctx context.Context) (frame.TextFrame, error) {
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

func (s *azureStream) CloseSend() error {
	s.pushStream.CloseStream()
	return nil
}

func (s *azureStream) Close() error {
	s.closeDone()
	if s.recognizer == nil {
		return nil
	}
	outcome := <-s.recognizer.StopContinuousRecognitionAsync()
	s.recognizer.Close()
	s.pushStream.Close()
	if outcome.Error != nil {
		return errors.New("stt/azure: stop recognition: " + outcome.Error.Error())
	}
	return nil
}
