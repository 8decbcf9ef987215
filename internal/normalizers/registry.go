// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package normalizers

import (
	"strings"

	"github.com/rapidaai/voiceorc/internal/commons"
)

// DefaultPipelineNames is the normalizer set ttsproc applies when a call's
// config snapshot doesn't name one explicitly.
var DefaultPipelineNames = []string{"currency", "date", "time", "number", "url", "symbol", "general", "tech", "role", "address"}

// BuildPipeline resolves a list of normalizer names (order-sensitive — each
// normalizer runs on the previous one's output) into constructed
// Normalizers, skipping and logging any name it doesn't recognize. Grounded
// on the teacher's internal/type.BuildNormalizerPipeline factory switch.
func BuildPipeline(logger commons.Logger, names []string) []Normalizer {
	built := make([]Normalizer, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(strings.ToLower(name))
		switch name {
		case "currency":
			built = append(built, NewCurrencyNormalizer(logger))
		case "date":
			built = append(built, NewDateNormalizer(logger))
		case "time":
			built = append(built, NewTimeNormalizer(logger))
		case "number", "number-to-word":
			built = append(built, NewNumberToWordNormalizer(logger))
		case "url":
			built = append(built, NewUrlNormalizer(logger))
		case "symbol":
			built = append(built, NewSymbolNormalizer(logger))
		case "address":
			built = append(built, NewAddressNormalizer(logger))
		case "tech", "tech-abbreviation":
			built = append(built, NewTechAbbreviationNormalizer(logger))
		case "role", "role-abbreviation":
			built = append(built, NewRoleAbbreviationNormalizer(logger))
		case "general", "general-abbreviation":
			built = append(built, NewGeneralAbbreviationNormalizer(logger))
		default:
			logger.Warnf("normalizer: unknown normalizer %q, skipping", name)
		}
	}
	return built
}

// Apply runs text through every normalizer in order, returning it unchanged
// if pipeline is empty.
func Apply(pipeline []Normalizer, text string) string {
	for _, n := range pipeline {
		text = n.Normalize(text)
	}
	return text
}
