// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package callid generates the two identifiers spec.md threads through
// every frame and log line: a call_id naming the whole session
// (transport-level, stable for its lifetime) and per-turn trace_ids
// (spec.md §3, §8). Grounded on the teacher's callcontext.Store.Save,
// which generates a context ID with uuid.New().String() exactly once, at
// creation, never re-derived later.
package callid

import (
	"strings"

	"github.com/google/uuid"
)

// callIDPrefix makes a call_id visually distinguishable from a bare UUID
// trace_id in logs, the way the teacher's SIP call-leg IDs carry a
// provider-specific prefix (sip/infra).
const callIDPrefix = "call_"

// New generates a fresh call_id. Called at most once per inbound call, at
// transport accept time when the caller supplied no call_id that IsValid
// accepts, before orchestrator.NewSession is constructed.
func New() string {
	return callIDPrefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewTrace generates a fresh per-turn trace_id (spec.md §3 "every Frame
// carries the trace_id of the turn it belongs to").
func NewTrace() uuid.UUID {
	return uuid.New()
}

// IsValid reports whether s has the shape New() produces. Used by
// transport adapters validating a call_id supplied by an external system
// (e.g. a SIP INVITE header) before trusting it as a lookup key.
func IsValid(s string) bool {
	if !strings.HasPrefix(s, callIDPrefix) {
		return false
	}
	hex := strings.TrimPrefix(s, callIDPrefix)
	if len(hex) != 32 {
		return false
	}
	for _, r := range hex {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}
