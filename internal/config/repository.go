// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// Repository is the default ConfigRepositoryPort implementation. It wraps
// an external KV+append-only store (spec.md §1 "persistence ... treated as
// a key-value+append-only sink"); the actual storage backend is injected so
// this package never imports one directly.
type Repository struct {
	store    Store
	validate *validator.Validate
}

// Store is the narrow read interface this repository needs from whatever
// external configuration/CRM service owns call configuration. Persistence
// itself is explicitly out of scope (spec.md §1); this is the seam the
// orchestrator relies on.
type Store interface {
	LoadRaw(ctx context.Context, callID string) (RawConfig, error)
}

// RawConfig is the wire shape returned by Store — a flattened view of the
// "362-column configuration god object" the source collapses into
// ConfigSnapshot (spec.md §9 DESIGN NOTES). Unknown/internal fields beyond
// these are the dashboard's concern and are never read here.
type RawConfig struct {
	LLMProvider          string
	LLMModel             string
	LLMTemperature       float64
	LLMMaxTokens         int
	SystemPrompt         string
	FirstMessage         string
	FirstMessageMode     string
	ResponseLength       string
	Tone                 string
	Formality            string
	Pacing               string
	TTSProvider          string
	TTSVoice             string
	TTSLanguage          string
	TTSSpeed             float64
	TTSPitch             float64
	TTSVolume            float64
	TTSStyle             string
	TTSStyleDegree       float64
	BackgroundSound      string
	STTProvider          string
	STTLanguage          string
	InterruptionEnabled  bool
	InterruptionMinWords int
	VADThreshold         float64
	SilenceThresholdMS   int
	IdleTimeoutMS        int
	IdleMessage          string
	InactivityMaxRetries int
	MaxDurationS         int
	ToolsSchemaJSON      []ports.ToolSchema
	ToolTimeoutMS        int
	MCPServerURL         string
	TextNormalizers      []string
	HallucinationBlacklist []string
}

// NewRepository constructs a Repository backed by store.
func NewRepository(store Store) *Repository {
	return &Repository{store: store, validate: validator.New()}
}

// Load implements ports.ConfigRepositoryPort. applyDefaults fills the
// zero-valued fields it lists (VAD threshold, idle timeout, inactivity
// retries, max duration, tool timeout, pacing, first-message mode); other
// zero-valued fields are returned as zero. The result is validated before
// it is returned — an invalid snapshot must never reach the hot path.
func (r *Repository) Load(ctx context.Context, callID string) (ports.ConfigSnapshot, error) {
	raw, err := r.store.LoadRaw(ctx, callID)
	if err != nil {
		return ports.ConfigSnapshot{}, fmt.Errorf("config: load raw config for call %s: %w", callID, err)
	}

	snap := ports.ConfigSnapshot{
		CallID:                 callID,
		LLMProvider:            raw.LLMProvider,
		LLMModel:               raw.LLMModel,
		LLMTemperature:         raw.LLMTemperature,
		LLMMaxTokens:           raw.LLMMaxTokens,
		SystemPrompt:           raw.SystemPrompt,
		FirstMessage:           raw.FirstMessage,
		FirstMessageMode:       ports.FirstMessageMode(raw.FirstMessageMode),
		ResponseLength:         raw.ResponseLength,
		Tone:                   raw.Tone,
		Formality:              raw.Formality,
		Pacing:                 ports.Pacing(raw.Pacing),
		TTSProvider:            raw.TTSProvider,
		TTSVoice:               raw.TTSVoice,
		TTSLanguage:            raw.TTSLanguage,
		TTSSpeed:               raw.TTSSpeed,
		TTSPitch:               raw.TTSPitch,
		TTSVolume:              raw.TTSVolume,
		TTSStyle:               raw.TTSStyle,
		TTSStyleDeg:            raw.TTSStyleDegree,
		BackgroundSound:        raw.BackgroundSound,
		STTProvider:            raw.STTProvider,
		STTLanguage:            raw.STTLanguage,
		InterruptionEnabled:    raw.InterruptionEnabled,
		InterruptionMinWords:   raw.InterruptionMinWords,
		VADThreshold:           raw.VADThreshold,
		SilenceThresholdMS:     raw.SilenceThresholdMS,
		IdleTimeoutMS:          raw.IdleTimeoutMS,
		IdleMessage:            raw.IdleMessage,
		InactivityMaxRetries:   raw.InactivityMaxRetries,
		MaxDurationS:           raw.MaxDurationS,
		Tools:                  raw.ToolsSchemaJSON,
		ToolTimeoutMS:          raw.ToolTimeoutMS,
		MCPServerURL:           raw.MCPServerURL,
		TextNormalizers:        raw.TextNormalizers,
		HallucinationBlacklist: raw.HallucinationBlacklist,
	}

	applyDefaults(&snap)

	if err := r.validate.Struct(snapshotValidation{
		VADThreshold: snap.VADThreshold,
		MaxTokens:    snap.LLMMaxTokens,
	}); err != nil {
		return ports.ConfigSnapshot{}, fmt.Errorf("config: invalid snapshot for call %s: %w", callID, err)
	}
	return snap, nil
}

// snapshotValidation isolates the fields worth validator tags on; the rest
// of ConfigSnapshot is either free-form text or already enum-typed.
type snapshotValidation struct {
	VADThreshold float64 `validate:"min=0.1,max=0.9"`
	MaxTokens    int     `validate:"min=0"`
}

func applyDefaults(s *ports.ConfigSnapshot) {
	if s.VADThreshold == 0 {
		s.VADThreshold = 0.5
	}
	if s.IdleTimeoutMS == 0 {
		s.IdleTimeoutMS = 5000
	}
	if s.InactivityMaxRetries == 0 {
		s.InactivityMaxRetries = 2
	}
	if s.MaxDurationS == 0 {
		s.MaxDurationS = 600
	}
	if s.ToolTimeoutMS == 0 {
		s.ToolTimeoutMS = 10000
	}
	if s.Pacing == "" {
		s.Pacing = ports.PacingModerate
	}
	if s.FirstMessageMode == "" {
		s.FirstMessageMode = ports.FirstMessageWait
	}
}
