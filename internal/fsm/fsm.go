// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package fsm implements the conversation state machine (C10) of spec.md
// §4.10: the exhaustive transition table over {IDLE, LISTENING, THINKING,
// SPEAKING}, serialized behind a single mutex so no two transitions ever
// observe an overlapping state (spec.md §5 "Shared-resource policy").
package fsm

import (
	"sync"
	"time"

	"github.com/rapidaai/voiceorc/internal/commons"
)

// State is one of the four conversation states of spec.md §3.
type State int

const (
	IDLE State = iota
	LISTENING
	THINKING
	SPEAKING
)

func (s State) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case LISTENING:
		return "LISTENING"
	case THINKING:
		return "THINKING"
	case SPEAKING:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// Event is one of the inputs named in spec.md §4.10's transition table.
type Event int

const (
	EventSessionStart Event = iota
	EventUserStartedSpeaking
	EventUserStoppedSpeakingNonEmpty
	EventUserStoppedSpeakingEmpty
	EventFirstTTSAudioFrame
	EventLLMFinishStopNoContent
	EventInterrupt
	EventTTSEndNatural
	EventEmergencyStop
)

func (e Event) String() string {
	switch e {
	case EventSessionStart:
		return "session_start"
	case EventUserStartedSpeaking:
		return "UserStartedSpeaking"
	case EventUserStoppedSpeakingNonEmpty:
		return "UserStoppedSpeaking(non-empty)"
	case EventUserStoppedSpeakingEmpty:
		return "UserStoppedSpeaking(empty)"
	case EventFirstTTSAudioFrame:
		return "first TTS audio frame"
	case EventLLMFinishStopNoContent:
		return "LLM finish_reason=stop, no content"
	case EventInterrupt:
		return "INTERRUPT"
	case EventTTSEndNatural:
		return "TTSEnd(natural)"
	case EventEmergencyStop:
		return "EMERGENCY_STOP"
	default:
		return "unknown"
	}
}

// Transition is one recorded state change, with a strictly increasing
// timestamp per spec.md §8 ("every transition is recorded with strictly
// increasing timestamps").
type Transition struct {
	From      State
	Event     Event
	To        State
	Timestamp time.Time
}

// Effects is the set of side effects the owning orchestrator must perform
// for a given transition; returned by Apply so the state machine itself
// stays free of pipeline-control logic (cancel LLM, cancel TTS, etc.).
type Effects struct {
	CancelLLM bool
	CancelTTS bool
}

// Machine owns the current ConversationState. Every method call is
// serialized behind mu: "all downstream effects of a transition complete
// before the next event is processed" is the caller's responsibility once
// Apply has returned the Effects to perform.
type Machine struct {
	mu     sync.Mutex
	state  State
	voiced bool // inner flag set by UserStartedSpeaking while LISTENING (no-op transition)

	history []Transition
	logger  commons.Logger
	lastTS  time.Time
}

// New constructs a Machine in IDLE.
func New(logger commons.Logger) *Machine {
	return &Machine{state: IDLE, logger: logger}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of every recorded transition, in order.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Apply advances the machine by one event and returns the effects the
// orchestrator must perform. Illegal transitions are dropped with a logged
// warning and never panic (spec.md §4.10 "never crash the session").
func (m *Machine) Apply(ev Event) Effects {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	to, eff, ok := next(from, ev, m.voiced)
	if !ok {
		m.logger.Warnw("fsm: illegal transition dropped", "from", from.String(), "event", ev.String())
		return Effects{}
	}

	if ev == EventUserStartedSpeaking && from == LISTENING {
		m.voiced = true
	}
	if to != from {
		m.voiced = false
	}

	ts := time.Now()
	if !ts.After(m.lastTS) {
		ts = m.lastTS.Add(time.Nanosecond)
	}
	m.lastTS = ts

	m.state = to
	m.history = append(m.history, Transition{From: from, Event: ev, To: to, Timestamp: ts})
	if to != from {
		m.logger.Infow("fsm: transition", "from", from.String(), "event", ev.String(), "to", to.String())
	}
	return eff
}

// next implements the exhaustive table of spec.md §4.10. ok is false for
// any (state, event) pair not named in the table — including self-loops
// the table doesn't list, e.g. UserStartedSpeaking while already SPEAKING
// is handled by the orchestrator posting INTERRUPT, not by this table.
func next(from State, ev Event, voiced bool) (State, Effects, bool) {
	if ev == EventEmergencyStop {
		return IDLE, Effects{CancelLLM: true, CancelTTS: true}, true
	}

	switch from {
	case IDLE:
		if ev == EventSessionStart {
			return LISTENING, Effects{}, true
		}
	case LISTENING:
		switch ev {
		case EventUserStartedSpeaking:
			return LISTENING, Effects{}, true // no-op; sets inner voiced flag
		case EventUserStoppedSpeakingNonEmpty:
			return THINKING, Effects{}, true
		case EventUserStoppedSpeakingEmpty:
			return LISTENING, Effects{}, true
		}
	case THINKING:
		switch ev {
		case EventFirstTTSAudioFrame:
			return SPEAKING, Effects{}, true
		case EventLLMFinishStopNoContent:
			return LISTENING, Effects{}, true
		case EventInterrupt:
			return LISTENING, Effects{CancelLLM: true}, true
		}
	case SPEAKING:
		switch ev {
		case EventTTSEndNatural:
			return LISTENING, Effects{}, true
		case EventInterrupt:
			return LISTENING, Effects{CancelLLM: true, CancelTTS: true}, true
		}
	}
	return from, Effects{}, false
}
