// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package normalizers

import (
	"fmt"
	"regexp"
	"time"

	"github.com/rapidaai/voiceorc/internal/commons"
)

var (
	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dottedDatePattern = regexp.MustCompile(`\b(\d{4})\.(\d{2})\.(\d{2})\b`)
	slashDatePattern = regexp.MustCompile(`\b(\d{2})/(\d{2})/(\d{4})\b`)
	dashDatePattern  = regexp.MustCompile(`\b(\d{2})-(\d{2})-(\d{4})\b`)
	timePattern      = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
)

type dateNormalizer struct {
	logger commons.Logger
}

// NewDateNormalizer spells out ISO, slash, dash and dotted calendar dates as
// "Month Day, Year" for TTS.
func NewDateNormalizer(logger commons.Logger) Normalizer {
	return &dateNormalizer{logger: logger}
}

func (n *dateNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	text = replaceDate(text, isoDatePattern, func(m []string) string { return spokenDate(m[1], m[2], m[3]) })
	text = replaceDate(text, dottedDatePattern, func(m []string) string { return spokenDate(m[1], m[2], m[3]) })
	text = replaceDate(text, slashDatePattern, func(m []string) string { return spokenDate(m[3], m[2], m[1]) })
	text = replaceDate(text, dashDatePattern, func(m []string) string { return spokenDate(m[3], m[2], m[1]) })
	return text
}

func replaceDate(text string, pattern *regexp.Regexp, build func(groups []string) string) string {
	return pattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := pattern.FindStringSubmatch(match)
		spoken := build(groups)
		if spoken == "" {
			return match
		}
		return spoken
	})
}

// spokenDate renders a year/month/day triple (as zero-padded strings) in
// "Month Day, Year" form, or "" if the components don't form a real date.
func spokenDate(year, month, day string) string {
	t, err := time.Parse("2006-01-02", fmt.Sprintf("%s-%s-%s", year, month, day))
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s %d, %d", t.Month().String(), t.Day(), t.Year())
}

type timeNormalizer struct {
	logger commons.Logger
}

// NewTimeNormalizer rewrites 24-hour clock times ("14:30") as 12-hour times
// with an AM/PM suffix ("2:30 PM").
func NewTimeNormalizer(logger commons.Logger) Normalizer {
	return &timeNormalizer{logger: logger}
}

func (n *timeNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	return timePattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := timePattern.FindStringSubmatch(match)
		t, err := time.Parse("15:04", fmt.Sprintf("%s:%s", groups[1], groups[2]))
		if err != nil {
			return match
		}
		return t.Format("3:04 PM")
	})
}
