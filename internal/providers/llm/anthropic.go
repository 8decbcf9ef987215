// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// AnthropicProviderName is the registry.KindLLM key this package registers
// itself under. It is an alternative to OpenAIProviderName, selected by name;
// a session wraps only the one LLM provider its config names, with no
// fallback chain behind it.
const AnthropicProviderName = "anthropic"

type anthropicPort struct {
	client anthropic.Client
	model  string
	logger commons.Logger
}

// NewAnthropicFactory returns a registry.LLMFactory reading its API key
// from env[apiKeyEnv].
func NewAnthropicFactory(apiKeyEnv string, logger commons.Logger) func(ctx context.Context, snap ports.ConfigSnapshot) (ports.LLMPort, error) {
	return func(ctx context.Context, snap ports.ConfigSnapshot) (ports.LLMPort, error) {
		key := os.Getenv(apiKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("llm/anthropic: %s is not set", apiKeyEnv)
		}
		model := snap.LLMModel
		if model == "" {
			model = string(anthropic.ModelClaudeSonnet4_5)
		}
		return &anthropicPort{
			client: anthropic.NewClient(option.WithAPIKey(key)),
			model:  model,
			logger: logger.With("provider", AnthropicProviderName),
		}, nil
	}
}

func (p *anthropicPort) Name() string { return AnthropicProviderName }

func (p *anthropicPort) Generate(ctx context.Context, req ports.LLMRequest) (ports.LLMStream, error) {
	var system string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system += m.Content + "\n"
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: rawAnthropicSchema(tool.ParamsJSON),
			},
		})
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	return &anthropicStream{stream: stream}, nil
}

func rawAnthropicSchema(paramsJSON string) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{}
	if paramsJSON == "" {
		return schema
	}
	var props map[string]interface{}
	_ = json.Unmarshal([]byte(paramsJSON), &props)
	schema.Properties = props
	return schema
}

// anthropicStream adapts anthropic-sdk-go's accumulating event stream to
// ports.LLMStream, one LLMChunk per content-block delta.
type anthropicStream struct {
	stream      *anthropic.MessageStream
	activeCallID string
	activeName   string
}

func (s *anthropicStream) Recv(ctx context.Context) (frame.LLMChunk, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				s.activeCallID = tu.ID
				s.activeName = tu.Name
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				return frame.NewLLMContentChunk(uuid.Nil, delta.Text), nil
			case anthropic.InputJSONDelta:
				return frame.NewLLMFunctionCallChunk(uuid.Nil, frame.FunctionCallDelta{
					CallID:           s.activeCallID,
					Name:             s.activeName,
					ArgumentsPartial: delta.PartialJSON,
				}), nil
			}
		case anthropic.MessageDeltaEvent:
			if variant.Delta.StopReason != "" {
				return frame.NewLLMTerminalChunk(uuid.Nil, mapAnthropicFinish(string(variant.Delta.StopReason))), nil
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return frame.LLMChunk{}, fmt.Errorf("llm/anthropic: stream: %w", err)
	}
	return frame.LLMChunk{}, io.EOF
}

func mapAnthropicFinish(reason string) frame.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return frame.FinishStop
	case "max_tokens":
		return frame.FinishLength
	case "tool_use":
		return frame.FinishToolCalls
	default:
		return frame.FinishError
	}
}

func (s *anthropicStream) Close() error {
	if s.stream == nil {
		return nil
	}
	if err := s.stream.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
