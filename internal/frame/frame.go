// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package frame defines the pipeline's unit of flow (C1). Every frame is
// immutable once constructed: producers emit new frames rather than mutate
// existing ones, and every frame carries the trace_id of the turn it belongs
// to plus a monotonic timestamp for causality ordering (spec.md §3, §4.1).
package frame

import (
	"time"

	"github.com/google/uuid"
)

// Meta is embedded by every concrete frame. TraceID and TimestampNS are set
// once at construction and never mutated afterwards.
type Meta struct {
	TraceID     uuid.UUID
	TimestampNS int64
}

func newMeta(traceID uuid.UUID) Meta {
	return Meta{TraceID: traceID, TimestampNS: time.Now().UnixNano()}
}

// Frame is implemented by every concrete frame type flowing through the
// pipeline. It is intentionally minimal — most code type-switches on the
// concrete type rather than calling methods on the interface.
type Frame interface {
	Trace() uuid.UUID
	Timestamp() int64
	frameMarker()
}

func (m Meta) Trace() uuid.UUID     { return m.TraceID }
func (m Meta) Timestamp() int64     { return m.TimestampNS }
func (m Meta) frameMarker()         {}

// Channel identifies which leg of the call an AudioFrame belongs to.
type Channel int

const (
	ChannelUser Channel = iota
	ChannelBot
)

// AudioFrame carries raw little-endian 16-bit PCM (spec.md §3).
type AudioFrame struct {
	Meta
	PCM        []byte
	SampleRate int
	Channel    Channel
}

func NewAudioFrame(traceID uuid.UUID, pcm []byte, sampleRate int, ch Channel) AudioFrame {
	return AudioFrame{Meta: newMeta(traceID), PCM: pcm, SampleRate: sampleRate, Channel: ch}
}

// TextFrame is STT output (user speech transcript) or LLM output
// (assistant speech content). IsPartial frames may be superseded by a later
// TextFrame with the same TraceID.
type TextFrame struct {
	Meta
	Text      string
	IsPartial bool
}

func NewTextFrame(traceID uuid.UUID, text string, partial bool) TextFrame {
	return TextFrame{Meta: newMeta(traceID), Text: text, IsPartial: partial}
}

// UserStartedSpeaking is emitted by the VAD confirmation window once voiced
// audio has been observed for the configured minimum duration. Idempotent
// per turn — a second emission for the same trace is a caller bug, not
// something this type enforces.
type UserStartedSpeaking struct {
	Meta
}

func NewUserStartedSpeaking(traceID uuid.UUID) UserStartedSpeaking {
	return UserStartedSpeaking{Meta: newMeta(traceID)}
}

// UserStoppedSpeaking is emitted once the configured silence window has
// elapsed after voiced audio. FinalText is populated by the STT processor
// before this frame reaches the state machine (empty means the user uttered
// nothing recognizable).
type UserStoppedSpeaking struct {
	Meta
	FinalText string
}

func NewUserStoppedSpeaking(traceID uuid.UUID, finalText string) UserStoppedSpeaking {
	return UserStoppedSpeaking{Meta: newMeta(traceID), FinalText: finalText}
}

// FinishReason enumerates why an LLM stream ended (GLOSSARY).
type FinishReason string

const (
	FinishStop        FinishReason = "stop"
	FinishLength       FinishReason = "length"
	FinishToolCalls    FinishReason = "tool_calls"
	FinishError        FinishReason = "error"
	FinishInterrupted  FinishReason = "interrupted"
)

// FunctionCallDelta is one slice of a streamed tool call; Arguments accumulate
// incrementally across chunks sharing the same CallID.
type FunctionCallDelta struct {
	CallID            string
	Name              string
	ArgumentsPartial  string
}

// LLMChunk is one slice of an LLM stream (spec.md §3). Exactly one of
// Content or FunctionCall is set, except the terminal chunk which carries
// FinishReason and may carry neither.
type LLMChunk struct {
	Meta
	Content      string
	HasContent   bool
	FunctionCall *FunctionCallDelta
	FinishReason FinishReason // empty unless this is the terminal chunk
}

func NewLLMContentChunk(traceID uuid.UUID, content string) LLMChunk {
	return LLMChunk{Meta: newMeta(traceID), Content: content, HasContent: true}
}

func NewLLMFunctionCallChunk(traceID uuid.UUID, fc FunctionCallDelta) LLMChunk {
	return LLMChunk{Meta: newMeta(traceID), FunctionCall: &fc}
}

func NewLLMTerminalChunk(traceID uuid.UUID, reason FinishReason) LLMChunk {
	return LLMChunk{Meta: newMeta(traceID), FinishReason: reason}
}

// TTSEndCause explains why a bracketed utterance ended.
type TTSEndCause string

const (
	TTSEndNatural     TTSEndCause = "natural"
	TTSEndInterrupted TTSEndCause = "interrupted"
	TTSEndError       TTSEndCause = "error"
)

// TTSStart brackets the beginning of a synthesized utterance.
type TTSStart struct {
	Meta
}

func NewTTSStart(traceID uuid.UUID) TTSStart { return TTSStart{Meta: newMeta(traceID)} }

// TTSEnd brackets the end of a synthesized utterance.
type TTSEnd struct {
	Meta
	Cause            TTSEndCause
	SentencesSpoken  int // number of sentences fully emitted before Cause
}

func NewTTSEnd(traceID uuid.UUID, cause TTSEndCause, sentencesSpoken int) TTSEnd {
	return TTSEnd{Meta: newMeta(traceID), Cause: cause, SentencesSpoken: sentencesSpoken}
}

// ErrorPort identifies which port an ErrorFrame originated from.
type ErrorPort string

const (
	ErrorPortSTT    ErrorPort = "stt"
	ErrorPortLLM    ErrorPort = "llm"
	ErrorPortTTS    ErrorPort = "tts"
	ErrorPortTool   ErrorPort = "tool"
	ErrorPortConfig ErrorPort = "config"
)

// ErrorKind matches the taxonomy of spec.md §7.
type ErrorKind string

const (
	ErrorKindTransport         ErrorKind = "transport"
	ErrorKindProviderTransient ErrorKind = "provider_transient"
	ErrorKindProviderFatal     ErrorKind = "provider_fatal"
	ErrorKindProtocolViolation ErrorKind = "protocol_violation"
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindTool              ErrorKind = "tool"
	ErrorKindInternalInvariant ErrorKind = "internal_invariant"
)

// ErrorFrame is surfaced from any processor (spec.md §3, §7).
type ErrorFrame struct {
	Meta
	Port      ErrorPort
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func NewErrorFrame(traceID uuid.UUID, port ErrorPort, kind ErrorKind, retryable bool, err error) ErrorFrame {
	return ErrorFrame{Meta: newMeta(traceID), Port: port, Kind: kind, Retryable: retryable, Err: err}
}

func (e ErrorFrame) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}
