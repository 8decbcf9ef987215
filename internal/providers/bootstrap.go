// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package providers wires every vendor adapter (internal/providers/{stt,
// llm,tts}) into a registry.Registry at process startup. Grounded on the
// teacher's registry pattern (internal/registry) generalized into a fixed
// RegisterAll call the process entrypoint makes exactly once (spec.md §4.3
// "populated once at startup").
package providers

import (
	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/providers/llm"
	"github.com/rapidaai/voiceorc/internal/providers/stt"
	"github.com/rapidaai/voiceorc/internal/providers/tts"
	"github.com/rapidaai/voiceorc/internal/registry"
)

// EnvKeys names every environment variable a provider factory reads its
// credentials from. The process entrypoint owns loading these (via
// internal/config), RegisterAll only wires the names through.
type EnvKeys struct {
	DeepgramAPIKey string
	AzureSTTKey    string
	AzureEndpoint  string
	GoogleCreds    string
	GoogleProject  string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	BedrockRegion   string
	AWSAccessKey    string
	AWSSecretKey    string

	CartesiaAPIKey  string
	ReplicateAPIKey string
}

// DefaultEnvKeys matches the teacher's convention of one UPPER_SNAKE_CASE
// env var per credential, never a shared vault blob (spec.md §1 "external
// credential storage is out of scope").
func DefaultEnvKeys() EnvKeys {
	return EnvKeys{
		DeepgramAPIKey:  "DEEPGRAM_API_KEY",
		AzureSTTKey:     "AZURE_SPEECH_KEY",
		AzureEndpoint:   "AZURE_SPEECH_ENDPOINT",
		GoogleCreds:     "GOOGLE_APPLICATION_CREDENTIALS",
		GoogleProject:   "GOOGLE_PROJECT_ID",
		OpenAIAPIKey:    "OPENAI_API_KEY",
		AnthropicAPIKey: "ANTHROPIC_API_KEY",
		BedrockRegion:   "AWS_REGION",
		AWSAccessKey:    "AWS_ACCESS_KEY_ID",
		AWSSecretKey:    "AWS_SECRET_ACCESS_KEY",
		CartesiaAPIKey:  "CARTESIA_API_KEY",
		ReplicateAPIKey: "REPLICATE_API_TOKEN",
	}
}

// RegisterAll registers every known provider factory under reg. Factories
// themselves are lazy: a missing credential only surfaces as an error from
// registry.Registry.CreateSTT/CreateLLM/CreateTTS when a call actually
// tries to use that provider, not at RegisterAll time (spec.md §4.3
// "Create... A missing or invalid credential fails the call, not the
// process").
func RegisterAll(reg *registry.Registry, keys EnvKeys, logger commons.Logger) {
	reg.RegisterSTT(stt.DeepgramProviderName, stt.NewDeepgramFactory(keys.DeepgramAPIKey, logger))
	reg.RegisterSTT(stt.AzureProviderName, stt.NewAzureFactory(keys.AzureSTTKey, keys.AzureEndpoint, logger))
	reg.RegisterSTT(stt.GoogleProviderName, stt.NewGoogleFactory(keys.GoogleCreds, keys.GoogleProject, logger))

	reg.RegisterLLM(llm.OpenAIProviderName, llm.NewOpenAIFactory(keys.OpenAIAPIKey, logger))
	reg.RegisterLLM(llm.AnthropicProviderName, llm.NewAnthropicFactory(keys.AnthropicAPIKey, logger))
	reg.RegisterLLM(llm.BedrockProviderName, llm.NewBedrockFactory(keys.BedrockRegion, keys.AWSAccessKey, keys.AWSSecretKey, logger))

	reg.RegisterTTS(tts.CartesiaProviderName, tts.NewCartesiaFactory(keys.CartesiaAPIKey, logger))
	reg.RegisterTTS(tts.GoogleProviderName, tts.NewGoogleFactory(keys.GoogleCreds, logger))
	reg.RegisterTTS(tts.ReplicateProviderName, tts.NewReplicateFactory(keys.ReplicateAPIKey, logger))
}
