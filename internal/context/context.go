// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package context implements the context aggregator (C7): the sole owner
// and mutator of ConversationContext (spec.md §4.7, §5 "mutated only by
// the context aggregator"). Token budgeting uses
// github.com/pkoukk/tiktoken-go (a teacher dependency) to enforce
// llm.max_tokens before a request is handed to the LLM processor.
package context

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// MaxToolLoopDepth bounds the tool-calling loop (spec.md §4.7, §8).
const MaxToolLoopDepth = 5

// pendingToolCall accumulates one streamed function_call chunk's arguments
// until the terminal chunk commits it (spec.md §3 "accumulating ... under
// the running tool-call record").
type pendingToolCall struct {
	id        string
	name      string
	arguments string
}

// Aggregator owns ConversationContext (spec.md §3). All mutation happens
// through its methods; every other component that needs the history
// receives a Snapshot (value copy, spec.md §5).
type Aggregator struct {
	mu sync.Mutex

	messages    []ports.Message
	partial     string
	pendingCall *pendingToolCall
	turnCounter int

	enc *tiktoken.Tiktoken
}

// NewAggregator seeds the context with the system prompt (spec.md §3
// invariant (a): "system prefix, then user/assistant pairs").
func NewAggregator(systemPrompt string) *Aggregator {
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	a := &Aggregator{enc: enc}
	if systemPrompt != "" {
		a.messages = append(a.messages, ports.Message{Role: RoleSystem, Content: systemPrompt})
	}
	return a
}

// Snapshot is an immutable value copy of the conversation so far, safe to
// pass to the LLM processor without holding the aggregator's lock.
type Snapshot struct {
	Messages []ports.Message
}

// Snapshot returns a copy of the committed message history. The partial
// buffer is never observable here (spec.md §3 invariant (c)).
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ports.Message, len(a.messages))
	copy(out, a.messages)
	return Snapshot{Messages: out}
}

// AppendUserFinal appends the user's final transcript and returns the
// request to forward to the LLM (spec.md §4.7 "On arrival of a final user
// TextFrame"). An empty transcript is the caller's job to filter before
// calling this (spec.md §8 boundary: "Empty user utterance: no LLM call").
func (a *Aggregator) AppendUserFinal(text string, tools []ports.ToolSchema, temperature float64, maxTokens int) ports.LLMRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turnCounter++
	a.messages = append(a.messages, ports.Message{Role: RoleUser, Content: text})
	return ports.LLMRequest{
		Messages:    a.budgetedMessages(maxTokens),
		Tools:       tools,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// budgetedMessages trims the oldest non-system messages until the encoded
// token count fits maxTokens, preserving the system prompt. Called with
// the lock already held.
func (a *Aggregator) budgetedMessages(maxTokens int) []ports.Message {
	if maxTokens <= 0 || a.enc == nil {
		out := make([]ports.Message, len(a.messages))
		copy(out, a.messages)
		return out
	}
	msgs := make([]ports.Message, len(a.messages))
	copy(msgs, a.messages)

	for len(msgs) > 1 && a.countTokens(msgs) > maxTokens {
		// Drop the oldest non-system message.
		for i, m := range msgs {
			if m.Role != RoleSystem {
				msgs = append(msgs[:i], msgs[i+1:]...)
				break
			}
		}
	}
	return msgs
}

func (a *Aggregator) countTokens(msgs []ports.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(a.enc.Encode(m.Content, nil, nil))
	}
	return total
}

// OnChunk folds one streamed LLMChunk into the pending assistant turn
// (spec.md §4.7 "On each LLMChunk").
func (a *Aggregator) OnChunk(chunk frame.LLMChunk) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case chunk.HasContent:
		a.partial += chunk.Content
	case chunk.FunctionCall != nil:
		fc := chunk.FunctionCall
		if a.pendingCall == nil || a.pendingCall.id != fc.CallID {
			a.pendingCall = &pendingToolCall{id: fc.CallID, name: fc.Name}
		}
		a.pendingCall.arguments += fc.ArgumentsPartial
	}
}

// FinishOutcome tells the caller (the LLM processor / orchestrator) what
// to do after a terminal chunk has been folded.
type FinishOutcome struct {
	CommittedAssistant bool
	AssistantText      string
	NeedsToolInvoke     bool
	ToolCallID          string
	ToolCallName        string
	ToolCallArgs        string
	ForcedStop          bool // hit MaxToolLoopDepth
}

// Finish commits the turn per spec.md §4.7's terminal-chunk handling.
func (a *Aggregator) Finish(reason frame.FinishReason, toolLoopDepth int) FinishOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch reason {
	case frame.FinishStop, frame.FinishLength:
		text := a.partial
		if text != "" {
			a.messages = append(a.messages, ports.Message{Role: RoleAssistant, Content: text})
		}
		a.partial = ""
		return FinishOutcome{CommittedAssistant: text != "", AssistantText: text}

	case frame.FinishToolCalls:
		if a.pendingCall == nil {
			return FinishOutcome{}
		}
		call := a.pendingCall
		a.pendingCall = nil
		if toolLoopDepth >= MaxToolLoopDepth {
			// Force stop: commit whatever text accumulated and do not invoke.
			text := a.partial
			a.partial = ""
			if text != "" {
				a.messages = append(a.messages, ports.Message{Role: RoleAssistant, Content: text})
			}
			return FinishOutcome{ForcedStop: true, CommittedAssistant: text != "", AssistantText: text}
		}
		a.messages = append(a.messages, ports.Message{
			Role: RoleAssistant,
			ToolCalls: []ports.ToolCall{{
				ID:        call.id,
				Name:      call.name,
				Arguments: call.arguments,
			}},
		})
		a.partial = ""
		return FinishOutcome{NeedsToolInvoke: true, ToolCallID: call.id, ToolCallName: call.name, ToolCallArgs: call.arguments}

	default: // error, interrupted — handled by TruncateToSpoken instead
		return FinishOutcome{}
	}
}

// AppendToolResult appends the {role:tool} message once ToolPort.Invoke
// has returned, and builds the re-entrant LLM request (spec.md §4.7
// "tool-calling loop").
func (a *Aggregator) AppendToolResult(toolCallID, resultJSON string, tools []ports.ToolSchema, temperature float64, maxTokens int) ports.LLMRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, ports.Message{Role: RoleTool, Content: resultJSON, ToolCallID: toolCallID})
	return ports.LLMRequest{
		Messages:    a.budgetedMessages(maxTokens),
		Tools:       tools,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// TruncateToSpoken commits only the portion of assistant_partial that was
// actually spoken before an interrupt, discarding the rest (spec.md §4.7
// "On INTERRUPT that truncates mid-generation"). spokenText is supplied by
// the TTS processor, which is the only component that knows how much audio
// actually reached the transport (spec.md §4.9 step (c)).
func (a *Aggregator) TruncateToSpoken(spokenText string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.partial = ""
	a.pendingCall = nil
	if spokenText != "" {
		a.messages = append(a.messages, ports.Message{Role: RoleAssistant, Content: spokenText})
	}
}

// PartialLen exposes the current length of the uncommitted assistant
// buffer, used by the TTS processor's sentence assembler to decide whether
// there is anything left worth flushing before the stream ends.
func (a *Aggregator) PartialLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.partial)
}

// ValidateNoOpenToolCall returns an error if the last message is an
// assistant tool-call message with no corresponding tool response yet —
// guards invariant (b) of spec.md §3 from ever being violated by a bug
// elsewhere in the pipeline.
func (a *Aggregator) ValidateNoOpenToolCall() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.messages) == 0 {
		return nil
	}
	last := a.messages[len(a.messages)-1]
	if last.Role == RoleAssistant && len(last.ToolCalls) > 0 {
		return fmt.Errorf("context: assistant tool_calls message has no following tool response")
	}
	return nil
}
