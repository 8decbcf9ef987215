// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package ports defines the five provider-agnostic contracts of spec.md
// §4.2. They replace the teacher's duck-typed, per-vendor
// *Transformer interfaces (internal/transformer/*) with a fixed,
// vendor-independent seam: adding a provider means writing a factory against
// one of these interfaces, never touching core pipeline code (spec.md §9,
// "Extension (new provider) is strictly additive").
package ports

import (
	"context"

	"github.com/rapidaai/voiceorc/internal/frame"
)

// AudioChunk is a caller-owned slice of raw PCM fed into an STT session.
type AudioChunk struct {
	PCM        []byte
	SampleRate int
}

// STTStream is the handle returned by STTPort.Start. Send feeds audio in;
// Recv yields TextFrames (partial, then a final) until the stream closes.
// CloseSend half-closes the input side so the provider can flush its final
// hypothesis; Close tears the whole session down.
//
// Idempotent on cancellation: calling Close more than once, or after the
// stream has already ended naturally, must not panic or block.
type STTStream interface {
	Send(ctx context.Context, chunk AudioChunk) error
	Recv(ctx context.Context) (frame.TextFrame, error) // io.EOF-compatible error at end of stream
	CloseSend() error
	Close() error
}

// STTPort consumes audio until cancelled or the caller closes the send side,
// yielding partial frames continuously and a final frame per utterance
// (spec.md §4.2).
type STTPort interface {
	Name() string
	Start(ctx context.Context, opts STTOptions) (STTStream, error)
}

// STTOptions carries the subset of ConfigSnapshot routed to STT (spec.md
// §6: stt.provider, stt.language).
type STTOptions struct {
	Language   string
	SampleRate int
}

// Message is one turn of conversation history passed to the LLM (mirrors
// ConversationContext.Message, spec.md §3).
type Message struct {
	Role       string // system|user|assistant|tool
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a committed (non-streaming) tool invocation request as it
// appears in conversation history once an LLM turn has finished streaming.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolSchema advertises one callable tool to the LLM (spec.md §6
// tools.schema[]).
type ToolSchema struct {
	Name        string
	Description string
	ParamsJSON  string // JSON schema for arguments
}

// LLMRequest is the input to a single generate_stream call (spec.md §4.2).
type LLMRequest struct {
	Messages    []Message
	Tools       []ToolSchema
	Temperature float64
	MaxTokens   int
}

// LLMStream yields LLMChunks in order and must end with exactly one chunk
// carrying FinishReason (spec.md §4.2). Cancellation must abort within
// 100ms of the context being cancelled.
type LLMStream interface {
	Recv(ctx context.Context) (frame.LLMChunk, error)
	Close() error
}

// LLMPort generates a streaming chat completion (spec.md §4.2).
type LLMPort interface {
	Name() string
	Generate(ctx context.Context, req LLMRequest) (LLMStream, error)
}

// TTSRequest is the input to a single synthesize_stream call (spec.md
// §4.2). BackpressureHint, when true, permits the adapter to raise its
// synthesis rate by up to 1.3x (spec.md §4.9).
type TTSRequest struct {
	Text             string
	Voice            string
	Language         string
	Rate             float64
	Pitch            float64
	Volume           float64
	Style            string
	StyleDegree      float64
	BackpressureHint bool
}

// TTSStream emits audio frames at or faster than playback rate and must
// support mid-stream cancellation returning within 50ms (spec.md §4.2).
type TTSStream interface {
	Recv(ctx context.Context) (frame.AudioFrame, error)
	Close() error
}

// TTSPort synthesizes speech from text (spec.md §4.2).
type TTSPort interface {
	Name() string
	Synthesize(ctx context.Context, req TTSRequest) (TTSStream, error)
}

// ConfigRepositoryPort loads the immutable ConfigSnapshot for a call
// (spec.md §4.2); read-only, external persistence is out of scope (spec.md
// §1).
type ConfigRepositoryPort interface {
	Load(ctx context.Context, callID string) (ConfigSnapshot, error)
}

// ToolResult is the outcome of one ToolPort.Invoke call.
type ToolResult struct {
	ResultJSON string
	Err        error
}

// ToolPort invokes a named tool synchronously from the pipeline's
// perspective, subject to a per-tool timeout (spec.md §4.2, default 10s).
type ToolPort interface {
	Invoke(ctx context.Context, name string, argumentsJSON string) (ToolResult, error)
}
