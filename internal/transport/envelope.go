// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package transport implements the inbound WebSocket media adapter of
// spec.md §6: small JSON envelopes carrying base64 PCM in both directions.
// The typed-envelope shape is grounded on the teacher's WSMessageType
// dispatch pattern (internal/agent/executor/llm/internal/websocket/
// websocket_executor.go); the bounded-queue, non-blocking push and
// flush-on-interrupt buffer management is grounded on
// internal/channel/webrtc/base_streamer.go's baseStreamer.
package transport

import "encoding/json"

// EventKind is the "event" discriminator of spec.md §6's media envelope.
type EventKind string

const (
	EventStart EventKind = "start"
	EventMedia EventKind = "media"
	EventStop  EventKind = "stop"
	EventMark  EventKind = "mark"
	EventClear EventKind = "clear"
)

// MediaFormat describes the audio carried by a "start" envelope.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// StartPayload is the "start" event's inner object.
type StartPayload struct {
	StreamSID   string      `json:"streamSid"`
	CallSID     string      `json:"callSid"`
	MediaFormat MediaFormat `json:"media_format"`
}

// MediaPayload is the "media" event's inner object, both directions.
// Payload is base64-encoded 16-bit little-endian PCM (spec.md §6).
type MediaPayload struct {
	Payload string `json:"payload"`
	Track   string `json:"track,omitempty"`
}

// InboundEnvelope is one JSON message received from the transport (spec.md
// §6 "inbound"). Only the fields relevant to Event are populated.
type InboundEnvelope struct {
	Event EventKind     `json:"event"`
	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
}

// OutboundEnvelope is one JSON message sent to the transport (spec.md §6
// "outbound"). Mark is a caller-chosen opaque label used to correlate
// playout completion; Clear carries no payload.
type OutboundEnvelope struct {
	Event EventKind     `json:"event"`
	Media *MediaPayload `json:"media,omitempty"`
	Mark  string        `json:"mark,omitempty"`
}

func newMediaEnvelope(payloadB64 string) OutboundEnvelope {
	return OutboundEnvelope{Event: EventMedia, Media: &MediaPayload{Payload: payloadB64}}
}

func newClearEnvelope() OutboundEnvelope {
	return OutboundEnvelope{Event: EventClear}
}

func newMarkEnvelope(mark string) OutboundEnvelope {
	return OutboundEnvelope{Event: EventMark, Mark: mark}
}

func marshalEnvelope(e OutboundEnvelope) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEnvelope(data []byte) (InboundEnvelope, error) {
	var e InboundEnvelope
	err := json.Unmarshal(data, &e)
	return e, err
}
