// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	btypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/uuid"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// BedrockProviderName is the registry.KindLLM key this package registers
// itself under. It is an alternative to OpenAIProviderName and
// AnthropicProviderName, selected by name; a session wraps only the one LLM
// provider its config names, with no fallback chain behind it.
const BedrockProviderName = "bedrock"

const bedrockDefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

type bedrockPort struct {
	client *bedrockruntime.Client
	model  string
	logger commons.Logger
}

// NewBedrockFactory returns a registry.LLMFactory for the AWS region in
// env[regionEnv] (the SDK's default region resolution when unset),
// authenticating from static keys in env[accessKeyEnv]/env[secretKeyEnv]
// when both are set, or the SDK's default credential chain otherwise.
func NewBedrockFactory(regionEnv, accessKeyEnv, secretKeyEnv string, logger commons.Logger) func(ctx context.Context, snap ports.ConfigSnapshot) (ports.LLMPort, error) {
	return func(ctx context.Context, snap ports.ConfigSnapshot) (ports.LLMPort, error) {
		var optFns []func(*awsconfig.LoadOptions) error
		if region := os.Getenv(regionEnv); region != "" {
			optFns = append(optFns, awsconfig.WithRegion(region))
		}
		if ak, sk := os.Getenv(accessKeyEnv), os.Getenv(secretKeyEnv); ak != "" && sk != "" {
			optFns = append(optFns, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(ak, sk, "")))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
		if err != nil {
			return nil, fmt.Errorf("llm/bedrock: load aws config: %w", err)
		}
		model := snap.LLMModel
		if model == "" {
			model = bedrockDefaultModel
		}
		return &bedrockPort{
			client: bedrockruntime.NewFromConfig(cfg),
			model:  model,
			logger: logger.With("provider", BedrockProviderName),
		}, nil
	}
}

func (p *bedrockPort) Name() string { return BedrockProviderName }

// bedrockMessage mirrors Anthropic's Messages API request body, the shape
// Bedrock's claude-3 models expect regardless of invocation path.
type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string            `json:"anthropic_version"`
	MaxTokens        int               `json:"max_tokens"`
	Temperature      float64           `json:"temperature,omitempty"`
	System           string            `json:"system,omitempty"`
	Messages         []bedrockMessage  `json:"messages"`
}

func (p *bedrockPort) Generate(ctx context.Context, req ports.LLMRequest) (ports.LLMStream, error) {
	var system string
	messages := make([]bedrockMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system += m.Content + "\n"
			continue
		}
		messages = append(messages, bedrockMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Temperature:      req.Temperature,
		System:           system,
		Messages:         messages,
	})
	if err != nil {
		return nil, fmt.Errorf("llm/bedrock: marshal request: %w", err)
	}

	out, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(p.model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("llm/bedrock: invoke: %w", err)
	}
	return &bedrockStream{logger: p.logger, events: out.GetStream().Events()}, nil
}

type bedrockStream struct {
	logger commons.Logger
	events <-chan btypes.ResponseStream
}

type bedrockChunk struct {
	Type  string `json:"type"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		StopReason  string `json:"stop_reason"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

func (s *bedrockStream) Recv(ctx context.Context) (frame.LLMChunk, error) {
	select {
	case event, ok := <-s.events:
		if !ok {
			return frame.LLMChunk{}, io.EOF
		}
		chunkEvent, ok := event.(*btypes.ResponseStreamMemberChunk)
		if !ok {
			return frame.NewLLMContentChunk(uuid.Nil, ""), nil
		}
		var parsed bedrockChunk
		if err := json.Unmarshal(bytes.TrimSpace(chunkEvent.Value.Bytes), &parsed); err != nil {
			return frame.LLMChunk{}, fmt.Errorf("llm/bedrock: decode chunk: %w", err)
		}
		if parsed.Type == "message_stop" || parsed.Delta.StopReason != "" {
			return frame.NewLLMTerminalChunk(uuid.Nil, mapAnthropicFinish(parsed.Delta.StopReason)), nil
		}
		if parsed.Delta.Text != "" {
			return frame.NewLLMContentChunk(uuid.Nil, parsed.Delta.Text), nil
		}
		return frame.NewLLMContentChunk(uuid.Nil, ""), nil
	case <-ctx.Done():
		return frame.LLMChunk{}, ctx.Err()
	}
}

func (s *bedrockStream) Close() error { return nil }
