// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package normalizers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	numbertowords "moul.io/number-to-words"

	"github.com/rapidaai/voiceorc/internal/commons"
)

// currencyPattern matches a dollar amount with an explicit cents component,
// e.g. "$1,234.56". Whole-dollar amounts with no decimal ("$50") are left
// untouched — there's no way to tell "fifty dollars" from "fifty" apart
// from the leading sign, so the sign alone isn't enough to normalize.
var currencyPattern = regexp.MustCompile(`\$([0-9][0-9,]*)\.([0-9]{2})`)

type currencyNormalizer struct {
	logger commons.Logger
}

// NewCurrencyNormalizer spells out dollar amounts for TTS.
func NewCurrencyNormalizer(logger commons.Logger) Normalizer {
	return &currencyNormalizer{logger: logger}
}

func (n *currencyNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	return currencyPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := currencyPattern.FindStringSubmatch(match)
		dollars, err := strconv.ParseInt(strings.ReplaceAll(groups[1], ",", ""), 10, 64)
		if err != nil {
			n.logger.Warnf("normalizer: currency: unparseable dollar amount %q", groups[1])
			return match
		}
		cents, err := strconv.ParseInt(groups[2], 10, 64)
		if err != nil {
			return match
		}
		return fmt.Sprintf("%s dollars and %s cents", numbertowords.IntegerToEnWords(dollars), numbertowords.IntegerToEnWords(cents))
	})
}
