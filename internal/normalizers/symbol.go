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

// symbolWords covers the punctuation and unicode symbols voice agents most
// commonly hit in assistant output: units, currency glyphs, math operators
// and copyright marks. Each replacement is padded with spaces and the final
// pass collapses the resulting whitespace, so ordering within the map
// doesn't matter.
var symbolWords = map[string]string{
	"%":  "percent",
	"&":  "and",
	"+":  "plus",
	"@":  "at",
	"#":  "hash",
	"½":  "one-half",
	"¼":  "one-quarter",
	"¾":  "three-quarters",
	"℃":  "degrees celsius",
	"℉":  "degrees fahrenheit",
	"°":  "degrees",
	"±":  "plus or minus",
	"×":  "multiplied by",
	"÷":  "divided by",
	"≈":  "approximately",
	"≠":  "not equal to",
	"≤":  "less than or equal to",
	"≥":  "greater than or equal to",
	"∞":  "infinity",
	"√":  "square root of",
	"π":  "pi",
	"£":  "pounds",
	"€":  "euros",
	"¥":  "yen",
	"₩":  "won",
	"₿":  "bitcoin",
	"™":  "trademark",
	"©":  "copyright",
	"®":  "registered trademark",
}

// symbolPattern matches any key of symbolWords; built once at init since the
// map above is fixed for the process lifetime.
var symbolPattern = buildSymbolPattern()

func buildSymbolPattern() *regexp.Regexp {
	keys := make([]string, 0, len(symbolWords))
	for k := range symbolWords {
		keys = append(keys, regexp.QuoteMeta(k))
	}
	return regexp.MustCompile(strings.Join(keys, "|"))
}

type symbolNormalizer struct {
	logger commons.Logger
}

// NewSymbolNormalizer spells out units, math operators and currency glyphs.
func NewSymbolNormalizer(logger commons.Logger) Normalizer {
	return &symbolNormalizer{logger: logger}
}

func (n *symbolNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	replaced := symbolPattern.ReplaceAllStringFunc(text, func(match string) string {
		return " " + symbolWords[match] + " "
	})
	return strings.Join(strings.Fields(replaced), " ")
}
