// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package resilience

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voiceorc/internal/ports"
)

type fakeSTTPort struct{ name string }

func (f fakeSTTPort) Name() string { return f.name }
func (f fakeSTTPort) Start(ctx context.Context, opts ports.STTOptions) (ports.STTStream, error) {
	return nil, nil
}

func TestSTTFallbackBreakersKeyedByProviderName(t *testing.T) {
	f := NewSTTFallback(fakeSTTPort{name: "primary"}, fakeSTTPort{name: "fallback"})
	breakers := f.Breakers()
	require.Len(t, breakers, 2)
	require.Contains(t, breakers, "primary")
	require.Contains(t, breakers, "fallback")
	assert.Equal(t, CircuitBreakerClosed, breakers["primary"].GetState())
}

func TestSTTFallbackBreakerTripsReflectedInBreakers(t *testing.T) {
	f := NewSTTFallback(fakeSTTPort{name: "primary"})
	primary := f.Breakers()["primary"]
	for i := 0; i < DefaultMaxFailures; i++ {
		primary.Call(func() error { return assertBoom })
	}
	assert.Equal(t, CircuitBreakerOpen, f.Breakers()["primary"].GetState())
}

type fakeFailingSTTPort struct {
	name string
	err  error
}

func (f fakeFailingSTTPort) Name() string { return f.name }
func (f fakeFailingSTTPort) Start(ctx context.Context, opts ports.STTOptions) (ports.STTStream, error) {
	return nil, f.err
}

func TestSTTFallbackNonRetryableStartErrorDoesNotTripBreaker(t *testing.T) {
	f := NewSTTFallback(fakeFailingSTTPort{name: "primary", err: errTestFatal{}})
	for i := 0; i < DefaultMaxFailures+2; i++ {
		_, err := f.Start(context.Background(), ports.STTOptions{})
		require.Error(t, err)
	}
	primary := f.Breakers()["primary"]
	assert.Equal(t, CircuitBreakerClosed, primary.GetState())
	assert.Equal(t, 0, primary.Snapshot().FailCount)
}

func TestSTTFallbackRetryableStartErrorTripsBreaker(t *testing.T) {
	f := NewSTTFallback(fakeFailingSTTPort{name: "primary", err: errTestBoom{}})
	for i := 0; i < DefaultMaxFailures; i++ {
		_, err := f.Start(context.Background(), ports.STTOptions{})
		require.Error(t, err)
	}
	assert.Equal(t, CircuitBreakerOpen, f.Breakers()["primary"].GetState())
}

var assertBoom = errTestBoom{}

type errTestBoom struct{}

func (errTestBoom) Error() string { return "boom" }

// errTestFatal satisfies RetryableError and reports itself non-retryable, the
// "provider fatal" case the breaker must not account against (spec.md §4.4).
type errTestFatal struct{}

func (errTestFatal) Error() string   { return "fatal" }
func (errTestFatal) Retryable() bool { return false }
