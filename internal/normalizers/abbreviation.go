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

// letterNames spells out a single uppercase letter the way a person reads
// an acronym aloud ("API" -> "A P I"), rather than a NATO-alphabet style
// spelling, since that's closer to how most TTS voices already pronounce a
// single capital letter when it's isolated by spaces.
var letterNames = map[byte]string{
	'A': "A", 'B': "B", 'C': "C", 'D': "D", 'E': "E", 'F': "F", 'G': "G",
	'H': "H", 'I': "I", 'J': "J", 'K': "K", 'L': "L", 'M': "M", 'N': "N",
	'O': "O", 'P': "P", 'Q': "Q", 'R': "R", 'S': "S", 'T': "T", 'U': "U",
	'V': "V", 'W': "W", 'X': "X", 'Y': "Y", 'Z': "Z",
}

func spellLetters(acronym string) string {
	letters := make([]string, 0, len(acronym))
	for i := 0; i < len(acronym); i++ {
		if name, ok := letterNames[acronym[i]]; ok {
			letters = append(letters, name)
		}
	}
	return strings.Join(letters, " ")
}

// abbreviationSet applies a fixed name -> expansion map to whole-word,
// case-insensitive matches.
type abbreviationSet struct {
	logger   commons.Logger
	patterns []abbreviationPattern
}

type abbreviationPattern struct {
	match *regexp.Regexp
	build func(matched string) string
}

func (a *abbreviationSet) Normalize(text string) string {
	if text == "" {
		return text
	}
	for _, p := range a.patterns {
		text = p.match.ReplaceAllStringFunc(text, p.build)
	}
	return text
}

func newFixedExpansionSet(logger commons.Logger, expansions map[string]string) *abbreviationSet {
	patterns := make([]abbreviationPattern, 0, len(expansions))
	for term, expansion := range expansions {
		expansion := expansion
		patterns = append(patterns, abbreviationPattern{
			match: regexp.MustCompile(`(?i)` + wordBoundaryPattern(term)),
			build: func(string) string { return expansion },
		})
	}
	return &abbreviationSet{logger: logger, patterns: patterns}
}

// wordBoundaryPattern anchors term with \b wherever term's own edge is a
// word character, and leaves a non-word edge (e.g. the trailing "." in
// "Dr.") unanchored — \b can never match between two non-word runes, so an
// abbreviation ending in punctuation would otherwise never match when
// followed by whitespace.
func wordBoundaryPattern(term string) string {
	quoted := regexp.QuoteMeta(term)
	pattern := quoted
	if isWordByte(term[0]) {
		pattern = `\b` + pattern
	}
	if isWordByte(term[len(term)-1]) {
		pattern = pattern + `\b`
	}
	return pattern
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// techAcronyms are spelled out letter by letter; techPhrases are compound
// terms a person says as syllables rather than letters.
var techAcronyms = []string{"AI", "API", "ML", "HTML", "CSS", "SQL", "NoSQL", "VPN", "TCP", "IP", "CPU", "GPU", "CI", "CD"}

var techPhrases = map[string]string{
	"DevOps": "dev ops",
	"SaaS":   "software as a service",
	"PaaS":   "platform as a service",
}

// NewTechAbbreviationNormalizer spells out technology acronyms and terms a
// voice would otherwise try to pronounce as a word ("SQL" as "skwil").
func NewTechAbbreviationNormalizer(logger commons.Logger) Normalizer {
	patterns := make([]abbreviationPattern, 0, len(techAcronyms)+len(techPhrases))
	for _, acronym := range techAcronyms {
		acronym := acronym
		patterns = append(patterns, abbreviationPattern{
			match: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(acronym) + `\b`),
			build: func(string) string { return spellLetters(strings.ToUpper(acronym)) },
		})
	}
	for term, expansion := range techPhrases {
		expansion := expansion
		patterns = append(patterns, abbreviationPattern{
			match: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`),
			build: func(string) string { return expansion },
		})
	}
	return &abbreviationSet{logger: logger, patterns: patterns}
}

// roleAcronyms covers C-suite titles and common role shorthand, spelled out
// letter by letter.
var roleAcronyms = []string{"CEO", "CFO", "COO", "CTO", "CIO", "CMO", "VP", "HR", "PhD"}

// NewRoleAbbreviationNormalizer spells out job-title acronyms.
func NewRoleAbbreviationNormalizer(logger commons.Logger) Normalizer {
	patterns := make([]abbreviationPattern, 0, len(roleAcronyms))
	for _, acronym := range roleAcronyms {
		acronym := acronym
		patterns = append(patterns, abbreviationPattern{
			match: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(acronym) + `\b`),
			build: func(string) string { return spellLetters(strings.ToUpper(acronym)) },
		})
	}
	return &abbreviationSet{logger: logger, patterns: patterns}
}

// generalAbbreviations are everyday written shorthand that read strangely
// if left as-is: titles, Latin abbreviations and a handful of address
// shorthand a caller's assistant persona text commonly contains.
var generalAbbreviations = map[string]string{
	"Dr.":    "Doctor",
	"Mr.":    "Mister",
	"Mrs.":   "Missus",
	"Ms.":    "Miss",
	"Jr.":    "Junior",
	"Sr.":    "Senior",
	"vs.":    "versus",
	"etc.":   "etcetera",
	"i.e.":   "that is",
	"e.g.":   "for example",
	"aka":    "also known as",
	"ASAP":   "as soon as possible",
	"Ave.":   "Avenue",
	"Apt.":   "Apartment",
	"dept.":  "department",
}

// NewGeneralAbbreviationNormalizer expands everyday written abbreviations
// and titles into the words a voice should actually say.
func NewGeneralAbbreviationNormalizer(logger commons.Logger) Normalizer {
	return newFixedExpansionSet(logger, generalAbbreviations)
}
