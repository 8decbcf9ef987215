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
	"net/http"
	"os"

	"github.com/replicate/replicate-go"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// ReplicateProviderName is the registry.KindTTS key this package registers
// itself under. It is an alternative to CartesiaProviderName and
// GoogleProviderName, selected by name; a session wraps only the one TTS
// provider its config names, with no fallback chain behind it.
const ReplicateProviderName = "replicate"

// replicateModel is a hosted TTS model version on Replicate. Pinned rather
// than read from config, since swapping models changes the Input shape
// Run expects.
const replicateModel = "lucataco/xtts-v2:684bc3855b37866c0c65add2ff39c78f3dea3f4ff103a436465326e0f438d55"

type replicatePort struct {
	client *replicate.Client
	logger commons.Logger
}

// NewReplicateFactory returns a registry.TTSFactory reading its API token
// from env[tokenEnv].
func NewReplicateFactory(tokenEnv string, logger commons.Logger) func(ctx context.Context, snap ports.ConfigSnapshot) (ports.TTSPort, error) {
	return func(ctx context.Context, snap ports.ConfigSnapshot) (ports.TTSPort, error) {
		token := os.Getenv(tokenEnv)
		if token == "" {
			return nil, fmt.Errorf("tts/replicate: %s is not set", tokenEnv)
		}
		client, err := replicate.NewClient(replicate.WithToken(token))
		if err != nil {
			return nil, fmt.Errorf("tts/replicate: new client: %w", err)
		}
		return &replicatePort{client: client, logger: logger.With("provider", ReplicateProviderName)}, nil
	}
}

func (p *replicatePort) Name() string { return ReplicateProviderName }

// Synthesize runs replicateModel to completion (Replicate's prediction API
// has no streaming-audio mode) and replays the downloaded result through
// the same chunkedStream Google's TTS adapter uses for its own
// whole-utterance response shape.
func (p *replicatePort) Synthesize(ctx context.Context, req ports.TTSRequest) (ports.TTSStream, error) {
	output, err := p.client.Run(ctx, replicateModel, replicate.PredictionInput{
		"text":     req.Text,
		"language": firstNonEmpty(req.Language, "en"),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("tts/replicate: run: %w", err)
	}

	audioURL, ok := output.(string)
	if !ok {
		return nil, fmt.Errorf("tts/replicate: unexpected output type %T", output)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("tts/replicate: build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tts/replicate: download audio: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts/replicate: read audio body: %w", err)
	}
	return newChunkedStream(pcm, 3200), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
