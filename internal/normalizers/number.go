// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package normalizers

import (
	"regexp"
	"strconv"

	numbertowords "moul.io/number-to-words"

	"github.com/rapidaai/voiceorc/internal/commons"
)

// standaloneNumberPattern matches a bare 0-99 integer on word boundaries, so
// "item1" and "2items" are left alone but "Room 5" and "42 items" convert.
// Three-or-more digit numbers are left as digits: a TTS engine already reads
// "100" correctly, and spelling out phone-number-length digit runs word by
// word reads worse than leaving them as numerals.
var standaloneNumberPattern = regexp.MustCompile(`\b([0-9]{1,2})\b`)

type numberToWordNormalizer struct {
	logger commons.Logger
}

// NewNumberToWordNormalizer spells out standalone one- and two-digit numbers.
func NewNumberToWordNormalizer(logger commons.Logger) Normalizer {
	return &numberToWordNormalizer{logger: logger}
}

func (n *numberToWordNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	return standaloneNumberPattern.ReplaceAllStringFunc(text, func(match string) string {
		v, err := strconv.ParseInt(match, 10, 64)
		if err != nil {
			return match
		}
		return numbertowords.IntegerToEnWords(v)
	})
}
