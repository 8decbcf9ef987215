// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, 100*time.Millisecond)
	assert.NotNil(t, cb)
	assert.Equal(t, CircuitBreakerClosed, cb.GetState())
}

func TestCircuitBreaker_Call_Success(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, 100*time.Millisecond)
	err := cb.Call(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, CircuitBreakerClosed, cb.GetState())
}

func TestCircuitBreaker_Call_Failure_StaysClosedUnderThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, 100*time.Millisecond)
	testErr := errors.New("boom")
	err := cb.Call(func() error { return testErr })
	assert.ErrorIs(t, err, testErr)
	assert.Equal(t, CircuitBreakerClosed, cb.GetState())
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 1, 100*time.Millisecond)
	testErr := errors.New("boom")

	_ = cb.Call(func() error { return testErr })
	_ = cb.Call(func() error { return testErr })
	assert.Equal(t, CircuitBreakerClosed, cb.GetState())

	_ = cb.Call(func() error { return testErr })
	assert.Equal(t, CircuitBreakerOpen, cb.GetState())

	err := cb.Call(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestCircuitBreaker_HalfOpenThenCloses(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, 30*time.Millisecond)
	testErr := errors.New("boom")

	_ = cb.Call(func() error { return testErr })
	_ = cb.Call(func() error { return testErr })
	assert.Equal(t, CircuitBreakerOpen, cb.GetState())

	time.Sleep(40 * time.Millisecond)

	err := cb.Call(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, CircuitBreakerClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, 30*time.Millisecond)
	testErr := errors.New("boom")

	_ = cb.Call(func() error { return testErr })
	_ = cb.Call(func() error { return testErr })
	time.Sleep(40 * time.Millisecond)

	err := cb.Call(func() error { return testErr })
	assert.Error(t, err)
	assert.Equal(t, CircuitBreakerOpen, cb.GetState())
}

func TestCircuitBreaker_HalfOpenSuccessThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, 2, 30*time.Millisecond)
	testErr := errors.New("boom")

	_ = cb.Call(func() error { return testErr })
	_ = cb.Call(func() error { return testErr })
	time.Sleep(40 * time.Millisecond)

	_ = cb.Call(func() error { return nil })
	state := cb.GetState()
	assert.True(t, state == CircuitBreakerHalfOpen || state == CircuitBreakerClosed)

	_ = cb.Call(func() error { return nil })
	assert.Equal(t, CircuitBreakerClosed, cb.GetState())
}

// TestCircuitBreaker_FourthRequestRoutesToFallback exercises the testable
// property of spec.md §8: "after 3 consecutive ProviderTransient errors on
// primary, the 4th request routes to fallback without invoking primary."
func TestCircuitBreaker_FourthRequestRoutesToFallback(t *testing.T) {
	cb := NewCircuitBreaker(DefaultMaxFailures, DefaultHalfOpenMaxSuccess, DefaultResetTimeout)
	testErr := errors.New("provider transient")

	for i := 0; i < 3; i++ {
		err := cb.Call(func() error { return testErr })
		assert.Error(t, err)
	}
	assert.Equal(t, CircuitBreakerOpen, cb.GetState())

	primaryInvoked := false
	err := cb.Call(func() error {
		primaryInvoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, primaryInvoked, "primary must not be invoked while breaker is open")
}

func TestCircuitBreaker_SnapshotReflectsState(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, 30*time.Millisecond)
	testErr := errors.New("boom")

	snap := cb.Snapshot()
	assert.Equal(t, CircuitBreakerClosed, snap.State)
	assert.Equal(t, 0, snap.FailCount)

	_ = cb.Call(func() error { return testErr })
	snap = cb.Snapshot()
	assert.Equal(t, CircuitBreakerClosed, snap.State)
	assert.Equal(t, 1, snap.FailCount)

	_ = cb.Call(func() error { return testErr })
	snap = cb.Snapshot()
	assert.Equal(t, CircuitBreakerOpen, snap.State)
	assert.WithinDuration(t, time.Now(), snap.OpenedAtUTC, time.Second)
}
