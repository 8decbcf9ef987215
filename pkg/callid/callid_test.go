// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProducesValidCallID(t *testing.T) {
	id := New()
	assert.True(t, IsValid(id))
	assert.Len(t, id, len(callIDPrefix)+32)
}

func TestNewProducesUniqueIDs(t *testing.T) {
	assert.NotEqual(t, New(), New())
}

func TestNewTraceProducesUniqueUUIDs(t *testing.T) {
	assert.NotEqual(t, NewTrace(), NewTrace())
}

func TestIsValidRejectsMalformed(t *testing.T) {
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("not-a-call-id"))
	assert.False(t, IsValid("call_tooshort"))
	assert.False(t, IsValid("call_"+"zz0000000000000000000000000000"))
}
