// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"context"
	"strings"

	"github.com/spf13/viper"
)

// EnvStore is the default Store backing Repository in this module. Real
// per-call configuration is owned by an external dashboard/CRM service
// (spec.md §1, explicitly out of scope); EnvStore fills that seam with one
// process-wide RawConfig read from VOICEORC_CALL_-prefixed environment
// variables, the same viper-and-prefix idiom bootstrap.go uses for process
// config. callID is accepted to satisfy the Store interface but otherwise
// unused — every call in a single-tenant deployment of this process gets
// the same configuration.
type EnvStore struct {
	v *viper.Viper
}

// NewEnvStore builds an EnvStore, reading defaults then VOICEORC_CALL_*
// environment overrides.
func NewEnvStore() *EnvStore {
	v := viper.New()
	v.SetEnvPrefix("VOICEORC_CALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("llm_provider", "openai")
	v.SetDefault("llm_model", "gpt-4o")
	v.SetDefault("llm_temperature", 0.7)
	v.SetDefault("llm_max_tokens", 512)
	v.SetDefault("system_prompt", "You are a helpful, concise voice assistant.")
	v.SetDefault("first_message", "Hi, how can I help you today?")
	v.SetDefault("first_message_mode", "wait")
	v.SetDefault("response_length", "short")
	v.SetDefault("tone", "friendly")
	v.SetDefault("formality", "neutral")
	v.SetDefault("pacing", "moderate")
	v.SetDefault("tts_provider", "cartesia")
	v.SetDefault("tts_voice", "default")
	v.SetDefault("tts_language", "en")
	v.SetDefault("tts_speed", 1.0)
	v.SetDefault("tts_pitch", 0.0)
	v.SetDefault("tts_volume", 1.0)
	v.SetDefault("stt_provider", "deepgram")
	v.SetDefault("stt_language", "en-US")
	v.SetDefault("interruption_enabled", true)
	v.SetDefault("interruption_min_words", 2)
	v.SetDefault("vad_threshold", 0.5)
	v.SetDefault("silence_threshold_ms", 0)
	v.SetDefault("idle_timeout_ms", 5000)
	v.SetDefault("idle_message", "Are you still there?")
	v.SetDefault("inactivity_max_retries", 2)
	v.SetDefault("max_duration_s", 600)
	v.SetDefault("tool_timeout_ms", 10000)

	return &EnvStore{v: v}
}

// LoadRaw implements Store. It ignores callID: this is a single-tenant
// default, not a per-call lookup.
func (s *EnvStore) LoadRaw(ctx context.Context, callID string) (RawConfig, error) {
	return RawConfig{
		LLMProvider:          s.v.GetString("llm_provider"),
		LLMModel:             s.v.GetString("llm_model"),
		LLMTemperature:       s.v.GetFloat64("llm_temperature"),
		LLMMaxTokens:         s.v.GetInt("llm_max_tokens"),
		SystemPrompt:         s.v.GetString("system_prompt"),
		FirstMessage:         s.v.GetString("first_message"),
		FirstMessageMode:     s.v.GetString("first_message_mode"),
		ResponseLength:       s.v.GetString("response_length"),
		Tone:                 s.v.GetString("tone"),
		Formality:            s.v.GetString("formality"),
		Pacing:               s.v.GetString("pacing"),
		TTSProvider:          s.v.GetString("tts_provider"),
		TTSVoice:             s.v.GetString("tts_voice"),
		TTSLanguage:          s.v.GetString("tts_language"),
		TTSSpeed:             s.v.GetFloat64("tts_speed"),
		TTSPitch:             s.v.GetFloat64("tts_pitch"),
		TTSVolume:            s.v.GetFloat64("tts_volume"),
		STTProvider:          s.v.GetString("stt_provider"),
		STTLanguage:          s.v.GetString("stt_language"),
		InterruptionEnabled:  s.v.GetBool("interruption_enabled"),
		InterruptionMinWords: s.v.GetInt("interruption_min_words"),
		VADThreshold:         s.v.GetFloat64("vad_threshold"),
		SilenceThresholdMS:   s.v.GetInt("silence_threshold_ms"),
		IdleTimeoutMS:        s.v.GetInt("idle_timeout_ms"),
		IdleMessage:          s.v.GetString("idle_message"),
		InactivityMaxRetries: s.v.GetInt("inactivity_max_retries"),
		MaxDurationS:         s.v.GetInt("max_duration_s"),
		ToolTimeoutMS:        s.v.GetInt("tool_timeout_ms"),
		MCPServerURL:         s.v.GetString("mcp_server_url"),
	}, nil
}
