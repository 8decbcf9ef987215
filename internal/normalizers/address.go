// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package normalizers

import (
	"regexp"

	"github.com/rapidaai/voiceorc/internal/commons"
)

var addressAbbreviations = map[string]string{
	"st":   "street",
	"ave":  "avenue",
	"rd":   "road",
	"blvd": "boulevard",
	"dr":   "drive",
	"ln":   "lane",
	"ct":   "court",
	"pl":   "place",
}

type addressNormalizer struct {
	logger   commons.Logger
	patterns map[*regexp.Regexp]string
}

// NewAddressNormalizer expands common street-type abbreviations ("St",
// "Ave", "Rd") to their full words, case-insensitively and only on word
// boundaries so "First" never matches "st".
func NewAddressNormalizer(logger commons.Logger) Normalizer {
	patterns := make(map[*regexp.Regexp]string, len(addressAbbreviations))
	for abbr, full := range addressAbbreviations {
		patterns[regexp.MustCompile(`(?i)\b`+abbr+`\b`)] = full
	}
	return &addressNormalizer{logger: logger, patterns: patterns}
}

func (n *addressNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	for pattern, full := range n.patterns {
		text = pattern.ReplaceAllString(text, full)
	}
	return text
}
