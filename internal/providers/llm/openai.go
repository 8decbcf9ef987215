// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package llm holds the concrete ports.LLMPort adapters (spec.md §4.2),
// each wrapping one vendor streaming SDK and registering itself with
// internal/registry at process init.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// OpenAIProviderName is the registry.KindLLM key this package registers
// itself under.
const OpenAIProviderName = "openai"

type openAIPort struct {
	client openai.Client
	model  string
	logger commons.Logger
}

// NewOpenAIFactory returns a registry.LLMFactory reading its API key from
// env[apiKeyEnv]. The model comes from ConfigSnapshot.LLMModel at Create
// time, not from the factory closure, since every call can pick its own.
func NewOpenAIFactory(apiKeyEnv string, logger commons.Logger) func(ctx context.Context, snap ports.ConfigSnapshot) (ports.LLMPort, error) {
	return func(ctx context.Context, snap ports.ConfigSnapshot) (ports.LLMPort, error) {
		key := os.Getenv(apiKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("llm/openai: %s is not set", apiKeyEnv)
		}
		model := snap.LLMModel
		if model == "" {
			model = openai.ChatModelGPT4o
		}
		return &openAIPort{
			client: openai.NewClient(option.WithAPIKey(key)),
			model:  model,
			logger: logger.With("provider", OpenAIProviderName),
		}, nil
	}
}

func (p *openAIPort) Name() string { return OpenAIProviderName }

func (p *openAIPort) Generate(ctx context.Context, req ports.LLMRequest) (ports.LLMStream, error) {
	params := openai.ChatCompletionNewParams{
		Model:       p.model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  rawJSONSchema(tool.ParamsJSON),
			},
		})
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	return &openAIStream{stream: stream}, nil
}

func rawJSONSchema(paramsJSON string) shared.FunctionParameters {
	if paramsJSON == "" {
		return shared.FunctionParameters{}
	}
	var schema shared.FunctionParameters
	_ = json.Unmarshal([]byte(paramsJSON), &schema)
	return schema
}

func toOpenAIMessages(msgs []ports.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// openAIStream adapts openai-go's ssestream.Stream to ports.LLMStream.
type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openAIStream) Recv(ctx context.Context) (frame.LLMChunk, error) {
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			return frame.LLMChunk{}, fmt.Errorf("llm/openai: stream: %w", err)
		}
		return frame.LLMChunk{}, io.EOF
	}
	chunk := s.stream.Current()
	if len(chunk.Choices) == 0 {
		return frame.NewLLMContentChunk(uuid.Nil, ""), nil
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		return frame.NewLLMTerminalChunk(uuid.Nil, mapOpenAIFinish(choice.FinishReason)), nil
	}
	if len(choice.Delta.ToolCalls) > 0 {
		tc := choice.Delta.ToolCalls[0]
		return frame.NewLLMFunctionCallChunk(uuid.Nil, frame.FunctionCallDelta{
			CallID:           tc.ID,
			Name:             tc.Function.Name,
			ArgumentsPartial: tc.Function.Arguments,
		}), nil
	}
	return frame.NewLLMContentChunk(uuid.Nil, choice.Delta.Content), nil
}

func mapOpenAIFinish(reason string) frame.FinishReason {
	switch reason {
	case "stop":
		return frame.FinishStop
	case "length":
		return frame.FinishLength
	case "tool_calls":
		return frame.FinishToolCalls
	default:
		return frame.FinishError
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
