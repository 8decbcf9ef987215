// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package normalizers

import (
	"regexp"
	"strings"

	"github.com/rapidaai/voiceorc/internal/commons"
)

// hostnamePattern matches a dotted hostname (example.com, api.example.com,
// www.google.com) without swallowing a following path, so the scheme and
// path are left untouched and only the host's dots become " dot ".
var hostnamePattern = regexp.MustCompile(`\b(?:[a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}\b`)

type urlNormalizer struct {
	logger commons.Logger
}

// NewUrlNormalizer spells out hostname dots as "dot" so a voice doesn't read
// "example.com" as "example point com" or swallow the period entirely.
func NewUrlNormalizer(logger commons.Logger) Normalizer {
	return &urlNormalizer{logger: logger}
}

func (n *urlNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	return hostnamePattern.ReplaceAllStringFunc(text, func(match string) string {
		return strings.ReplaceAll(match, ".", " dot ")
	})
}
