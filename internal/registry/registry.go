// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package registry implements the process-global provider registry (C3):
// a map from (port kind, provider name) to a factory, populated once at
// startup and consulted only during session construction — never on the
// hot path (spec.md §4.3). The factory-by-name switch pattern is grounded
// on the teacher's internal_type.BuildNormalizerPipeline and
// internal_sentence_assembler.GetLLMTextAssembler (internal/type/normalizer.go,
// internal/assembler/text/assembler.go), generalized from a fixed switch
// into an open map so new providers register without touching this file
// (spec.md §9, "Extension ... is strictly additive").
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rapidaai/voiceorc/internal/ports"
)

// Kind identifies which of the three streaming ports a factory produces.
type Kind string

const (
	KindSTT Kind = "stt"
	KindLLM Kind = "llm"
	KindTTS Kind = "tts"
)

// UnknownProviderError is returned by Create when no factory is registered
// for (kind, name).
type UnknownProviderError struct {
	Kind Kind
	Name string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("registry: unknown %s provider %q", e.Kind, e.Name)
}

// STTFactory builds an STTPort from call-scoped credentials/options.
type STTFactory func(ctx context.Context, snap ports.ConfigSnapshot) (ports.STTPort, error)

// LLMFactory builds an LLMPort from call-scoped credentials/options.
type LLMFactory func(ctx context.Context, snap ports.ConfigSnapshot) (ports.LLMPort, error)

// TTSFactory builds a TTSPort from call-scoped credentials/options.
type TTSFactory func(ctx context.Context, snap ports.ConfigSnapshot) (ports.TTSPort, error)

// Registry is read-only after startup; Register is expected to be called
// only during process init. All lookups are safe for concurrent use by
// many simultaneous call-construction goroutines.
type Registry struct {
	mu   sync.RWMutex
	stt  map[string]STTFactory
	llm  map[string]LLMFactory
	tts  map[string]TTSFactory
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		stt: make(map[string]STTFactory),
		llm: make(map[string]LLMFactory),
		tts: make(map[string]TTSFactory),
	}
}

func (r *Registry) RegisterSTT(name string, f STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = f
}

func (r *Registry) RegisterLLM(name string, f LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = f
}

func (r *Registry) RegisterTTS(name string, f TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = f
}

// CreateSTT instantiates a fresh STTPort for one call. A fresh instance per
// call prevents cross-call state bleed (vendor SDK session tokens, cached
// auth — spec.md §3 "Ownership").
func (r *Registry) CreateSTT(ctx context.Context, name string, snap ports.ConfigSnapshot) (ports.STTPort, error) {
	r.mu.RLock()
	f, ok := r.stt[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownProviderError{Kind: KindSTT, Name: name}
	}
	return f(ctx, snap)
}

func (r *Registry) CreateLLM(ctx context.Context, name string, snap ports.ConfigSnapshot) (ports.LLMPort, error) {
	r.mu.RLock()
	f, ok := r.llm[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownProviderError{Kind: KindLLM, Name: name}
	}
	return f(ctx, snap)
}

func (r *Registry) CreateTTS(ctx context.Context, name string, snap ports.ConfigSnapshot) (ports.TTSPort, error) {
	r.mu.RLock()
	f, ok := r.tts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownProviderError{Kind: KindTTS, Name: name}
	}
	return f(ctx, snap)
}
