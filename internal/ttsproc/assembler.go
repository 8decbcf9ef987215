// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package ttsproc implements the TTS processor (C9) of spec.md §4.9. The
// sentence-boundary assembler here is grounded on the teacher's
// GetLLMTextAssembler factory shape (internal/assembler/text/assembler.go):
// the teacher's concrete default-assembler body was not retrieved, so the
// boundary rule itself follows spec.md §4.9 directly.
package ttsproc

import (
	"strings"
	"unicode/utf8"
)

const maxSentenceChars = 250

// sentenceAssembler buffers streamed content chunks and yields complete
// sentences per spec.md §4.9's "Text accumulation" mode: a sentence
// boundary is a period, question mark, exclamation, or 250 characters,
// whichever comes first.
type sentenceAssembler struct {
	buf strings.Builder
}

func newSentenceAssembler() *sentenceAssembler { return &sentenceAssembler{} }

// Feed appends text and returns zero or more completed sentences.
func (a *sentenceAssembler) Feed(text string) []string {
	var out []string
	for _, r := range text {
		a.buf.WriteRune(r)
		if isSentenceBoundary(r) || utf8.RuneCountInString(a.buf.String()) >= maxSentenceChars {
			if s := strings.TrimSpace(a.buf.String()); s != "" {
				out = append(out, s)
			}
			a.buf.Reset()
		}
	}
	return out
}

// Flush yields whatever remains buffered (used when the LLM stream ends
// without a trailing boundary character).
func (a *sentenceAssembler) Flush() string {
	s := strings.TrimSpace(a.buf.String())
	a.buf.Reset()
	return s
}

func isSentenceBoundary(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}
