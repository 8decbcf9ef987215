// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package normalizers rewrites assistant text into a form a TTS voice
// pronounces correctly: "$10.50" into "ten dollars and fifty cents", "API"
// into spelled-out letters, "2024-01-15" into "January 15, 2024". Each
// normalizer does one job and composes with the rest through BuildPipeline,
// grounded on the teacher's internal/type.BuildNormalizerPipeline
// factory-by-name pattern.
package normalizers

// Normalizer rewrites one pass of TTS-bound text. Implementations must be
// safe to call on empty input and must never panic on malformed text;
// anything they don't recognize passes through unchanged.
type Normalizer interface {
	Normalize(text string) string
}
