// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// Default circuit breaker tuning per spec.md §4.4: trip after 3 consecutive
// failures within 60s, retry after 60s quiescence, one success to close.
const (
	DefaultMaxFailures        = 3
	DefaultHalfOpenMaxSuccess = 1
	DefaultResetTimeout       = 60 * time.Second
)

// RetryableError is implemented by provider adapter errors so the fallback
// wrapper can tell retryable (ProviderTransient) from non-retryable
// (ProviderFatal) failures per spec.md §4.4/§7.
type RetryableError interface {
	error
	Retryable() bool
}

func isRetryable(err error) bool {
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	// Unclassified errors are treated as retryable — conservative default
	// that still lets the breaker eventually trip on repeated failures
	// rather than silently never failing over.
	return true
}

type leg[P any] struct {
	name string
	port P
	cb   *CircuitBreaker
}

func newLeg[P any](name string, port P) leg[P] {
	return leg[P]{name: name, port: port, cb: NewCircuitBreaker(DefaultMaxFailures, DefaultHalfOpenMaxSuccess, DefaultResetTimeout)}
}

func legBreakers[P any](legs []leg[P]) map[string]*CircuitBreaker {
	out := make(map[string]*CircuitBreaker, len(legs))
	for _, l := range legs {
		out[l.name] = l.cb
	}
	return out
}

// selectLegs returns every leg whose breaker is not OPEN, in list order;
// callers try them first to last (spec.md §4.4 "Selection on each call").
func selectLegs[P any](legs []leg[P]) []leg[P] {
	out := make([]leg[P], 0, len(legs))
	for _, l := range legs {
		if l.cb.GetState() != CircuitBreakerOpen {
			out = append(out, l)
		}
	}
	return out
}

// ---------------------------------------------------------------------
// STTPort fallback
// ---------------------------------------------------------------------

// STTFallback wraps an ordered primary+fallback list of STTPorts. Start
// fails over transparently across legs since an STT session hasn't yielded
// output yet at construction time.
type STTFallback struct {
	legs []leg[ports.STTPort]
}

func NewSTTFallback(primary ports.STTPort, fallbacks ...ports.STTPort) *STTFallback {
	legs := []leg[ports.STTPort]{newLeg(primary.Name(), primary)}
	for _, f := range fallbacks {
		legs = append(legs, newLeg(f.Name(), f))
	}
	return &STTFallback{legs: legs}
}

func (f *STTFallback) Name() string { return "fallback(" + f.legs[0].name + ")" }

// Breakers returns each leg's circuit breaker keyed by provider name, for
// callers that persist breaker posture across reconnects (spec.md §1).
func (f *STTFallback) Breakers() map[string]*CircuitBreaker { return legBreakers(f.legs) }

func (f *STTFallback) Start(ctx context.Context, opts ports.STTOptions) (ports.STTStream, error) {
	candidates := selectLegs(f.legs)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("resilience: all STT providers circuit-open")
	}
	var lastErr error
	for _, l := range candidates {
		var stream ports.STTStream
		var startErr error
		callErr := l.cb.Call(func() error {
			stream, startErr = l.port.Start(ctx, opts)
			if startErr != nil && !isRetryable(startErr) {
				return nil
			}
			return startErr
		})
		if callErr == ErrOpen {
			lastErr = callErr
			continue
		}
		if startErr == nil {
			return stream, nil
		}
		lastErr = startErr
	}
	return nil, fmt.Errorf("resilience: all STT providers failed: %w", lastErr)
}

// ---------------------------------------------------------------------
// LLMPort fallback
// ---------------------------------------------------------------------

// LLMFallback wraps an ordered primary+fallback list of LLMPorts. Generate
// fails over to the next leg only when opening a stream fails; once a stream
// is open, every Recv error surfaces to the caller and is never retried on
// another leg — no mid-stream hot swap.
type LLMFallback struct {
	legs []leg[ports.LLMPort]
}

func NewLLMFallback(primary ports.LLMPort, fallbacks ...ports.LLMPort) *LLMFallback {
	legs := []leg[ports.LLMPort]{newLeg(primary.Name(), primary)}
	for _, f := range fallbacks {
		legs = append(legs, newLeg(f.Name(), f))
	}
	return &LLMFallback{legs: legs}
}

func (f *LLMFallback) Name() string { return "fallback(" + f.legs[0].name + ")" }

// Breakers returns each leg's circuit breaker keyed by provider name, for
// callers that persist breaker posture across reconnects (spec.md §1).
func (f *LLMFallback) Breakers() map[string]*CircuitBreaker { return legBreakers(f.legs) }

func (f *LLMFallback) Generate(ctx context.Context, req ports.LLMRequest) (ports.LLMStream, error) {
	candidates := selectLegs(f.legs)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("resilience: all LLM providers circuit-open")
	}
	var lastErr error
	for _, l := range candidates {
		var stream ports.LLMStream
		var startErr error
		callErr := l.cb.Call(func() error {
			stream, startErr = l.port.Generate(ctx, req)
			if startErr != nil && !isRetryable(startErr) {
				return nil
			}
			return startErr
		})
		if callErr == ErrOpen {
			lastErr = callErr
			continue
		}
		if startErr == nil {
			return &llmFallbackStream{stream: stream, cb: l.cb}, nil
		}
		lastErr = startErr
	}
	return nil, fmt.Errorf("resilience: all LLM providers failed: %w", lastErr)
}

// llmFallbackStream tracks whether any chunk has been yielded yet: a
// retryable error before the first chunk counts against the leg's breaker.
// Every stream error is surfaced either way, never retried on a different
// leg (no mid-stream hot swap, spec.md §4.4).
type llmFallbackStream struct {
	stream      ports.LLMStream
	cb          *CircuitBreaker
	yieldedAny  bool
}

func (s *llmFallbackStream) Recv(ctx context.Context) (frame.LLMChunk, error) {
	chunk, err := s.stream.Recv(ctx)
	if err != nil {
		if !s.yieldedAny && isRetryable(err) {
			s.cb.Call(func() error { return err })
		}
		return frame.LLMChunk{}, err
	}
	s.yieldedAny = true
	return chunk, nil
}

func (s *llmFallbackStream) Close() error { return s.stream.Close() }

// ---------------------------------------------------------------------
// TTSPort fallback
// ---------------------------------------------------------------------

// TTSFallback wraps an ordered primary+fallback list of TTSPorts, same
// no-mid-stream-hot-swap semantics as LLMFallback.
type TTSFallback struct {
	legs []leg[ports.TTSPort]
}

func NewTTSFallback(primary ports.TTSPort, fallbacks ...ports.TTSPort) *TTSFallback {
	legs := []leg[ports.TTSPort]{newLeg(primary.Name(), primary)}
	for _, f := range fallbacks {
		legs = append(legs, newLeg(f.Name(), f))
	}
	return &TTSFallback{legs: legs}
}

func (f *TTSFallback) Name() string { return "fallback(" + f.legs[0].name + ")" }

// Breakers returns each leg's circuit breaker keyed by provider name, for
// callers that persist breaker posture across reconnects (spec.md §1).
func (f *TTSFallback) Breakers() map[string]*CircuitBreaker { return legBreakers(f.legs) }

func (f *TTSFallback) Synthesize(ctx context.Context, req ports.TTSRequest) (ports.TTSStream, error) {
	candidates := selectLegs(f.legs)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("resilience: all TTS providers circuit-open")
	}
	var lastErr error
	for _, l := range candidates {
		var stream ports.TTSStream
		var startErr error
		callErr := l.cb.Call(func() error {
			stream, startErr = l.port.Synthesize(ctx, req)
			if startErr != nil && !isRetryable(startErr) {
				return nil
			}
			return startErr
		})
		if callErr == ErrOpen {
			lastErr = callErr
			continue
		}
		if startErr == nil {
			return stream, nil
		}
		lastErr = startErr
	}
	return nil, fmt.Errorf("resilience: all TTS providers failed: %w", lastErr)
}
