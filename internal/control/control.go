// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package control implements the priority control channel (C11): a
// single-slot, non-blocking signalling mechanism independent of the data
// queues between processors. It mirrors the teacher's flushAudioCh idiom
// (channel/webrtc/base_streamer.go) generalized from one fixed signal to the
// three ControlMessage kinds of spec.md §3.
package control

import (
	"github.com/google/uuid"
)

// Kind enumerates the three control signals of spec.md §3.
type Kind int

const (
	Interrupt Kind = iota
	CancelTurn
	EmergencyStop
)

func (k Kind) String() string {
	switch k {
	case Interrupt:
		return "INTERRUPT"
	case CancelTurn:
		return "CANCEL_TURN"
	case EmergencyStop:
		return "EMERGENCY_STOP"
	default:
		return "UNKNOWN"
	}
}

// Message is a control-channel signal targeting a specific turn. Stale
// messages (TraceID mismatch with the turn the consumer currently owns) are
// dropped by the consumer, not by this package.
type Message struct {
	Kind    Kind
	TraceID uuid.UUID
}

// Channel is a dedicated, single-slot signalling channel. A new signal,
// whatever its Kind, replaces an unread one rather than queuing — the consumer
// only ever cares about the most recent intent, per spec.md §4.11's
// "at-most-one pending signal" property. EMERGENCY_STOP always wins: once
// pending, lower-priority signals are dropped rather than overwriting it.
type Channel struct {
	ch chan Message
}

// New constructs a Channel. Capacity is fixed at 1 — the channel itself is
// the "slot"; see Publish for the replace-don't-block semantics.
func New() *Channel {
	return &Channel{ch: make(chan Message, 1)}
}

// Publish delivers msg to the channel without blocking the caller (spec.md
// §4.11 "non-blocking publish"). If a message is already pending:
//   - an EMERGENCY_STOP already pending is never displaced,
//   - otherwise the pending message is replaced by msg.
func (c *Channel) Publish(msg Message) {
	select {
	case c.ch <- msg:
		return
	default:
	}
	// Slot occupied: drain and possibly replace.
	select {
	case pending := <-c.ch:
		if pending.Kind == EmergencyStop && msg.Kind != EmergencyStop {
			// Put the higher-priority signal back; drop msg.
			select {
			case c.ch <- pending:
			default:
			}
			return
		}
	default:
	}
	select {
	case c.ch <- msg:
	default:
	}
}

// Recv exposes the underlying channel for use in a select alongside data
// queues; callers must prefer this case over data-queue cases to satisfy
// spec.md §4.11's "preferring control" requirement.
func (c *Channel) Recv() <-chan Message {
	return c.ch
}

// TryRecv performs a non-blocking read, used by consumers that poll between
// synchronous steps rather than selecting.
func (c *Channel) TryRecv() (Message, bool) {
	select {
	case msg := <-c.ch:
		return msg, true
	default:
		return Message{}, false
	}
}
