// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audio holds PCM framing, resampling and codec helpers shared by
// the transport and telephony adapters. It is grounded on the teacher's
// internal/audio/resampler (sample-rate conversion via
// github.com/tphakala/go-audio-resampler) and internal/channel/webrtc's
// bufferAndSendInput/bufferAndSendOutput buffer-threshold pattern
// (internal/channel/webrtc/base_streamer.go), generalized away from the
// teacher's fixed Opus-frame constant into a parameterized frame size.
package audio

import (
	"github.com/tphakala/go-audio-resampler/resampler"
	"github.com/zaf/g711"
)

// Config describes one PCM stream's format.
type Config struct {
	SampleRate int
	Channels   int
}

// NewLinear16kHzMono is the orchestrator's internal working format — every
// inbound audio frame is resampled to this before reaching the VAD/STT
// stage (spec.md §6 "resampling to the STT port's required rate is the
// transport adapter's job").
func NewLinear16kHzMono() Config { return Config{SampleRate: 16000, Channels: 1} }

func NewMulaw8kHzMono() Config { return Config{SampleRate: 8000, Channels: 1} }

// Resampler converts PCM between two sample rates. A single resampler.Resampler
// instance is reused for the lifetime of one leg of one call (not shared
// across calls — spec.md §3 "Ownership").
type Resampler struct {
	r *resampler.Resampler
}

// NewResampler constructs a linear-PCM resampler. from/to are sample rates
// in Hz; both configs must describe mono 16-bit PCM (the only format
// carried by AudioFrame per spec.md §3).
func NewResampler(from, to Config) (*Resampler, error) {
	r, err := resampler.New(resampler.Config{
		InputSampleRate:  from.SampleRate,
		OutputSampleRate: to.SampleRate,
		Channels:         from.Channels,
	})
	if err != nil {
		return nil, err
	}
	return &Resampler{r: r}, nil
}

// Resample converts pcm from the Resampler's source rate to its target
// rate. If from == to it returns pcm unchanged without allocating.
func (r *Resampler) Resample(pcm []byte) ([]byte, error) {
	return r.r.Resample(pcm)
}

// MulawToLinear16 decodes G.711 µ-law (the common telephony wire format)
// into linear16 PCM.
func MulawToLinear16(mulaw []byte) []byte {
	return g711.DecodeUlaw(mulaw)
}

// Linear16ToMulaw encodes linear16 PCM into G.711 µ-law for outbound
// telephony playout.
func Linear16ToMulaw(pcm []byte) []byte {
	return g711.EncodeUlaw(pcm)
}

// FrameBytes returns the number of PCM bytes in one frame of the given
// duration at the given config (16-bit samples).
func FrameBytes(cfg Config, durationMS int) int {
	samplesPerMS := cfg.SampleRate / 1000
	return samplesPerMS * durationMS * cfg.Channels * 2
}

// Buffer accumulates PCM and yields fixed-size frames once enough data has
// arrived — the pattern the teacher calls bufferAndSendOutput
// (internal/channel/webrtc/base_streamer.go), generalized to any frame
// size instead of a hardcoded 20ms Opus frame.
type Buffer struct {
	frameSize int
	pending   []byte
}

// NewBuffer constructs a Buffer that yields frames of frameSize bytes.
func NewBuffer(frameSize int) *Buffer {
	return &Buffer{frameSize: frameSize}
}

// Write appends data and returns any complete frames now available,
// retaining the remainder internally.
func (b *Buffer) Write(data []byte) [][]byte {
	b.pending = append(b.pending, data...)
	var frames [][]byte
	for len(b.pending) >= b.frameSize {
		frame := make([]byte, b.frameSize)
		copy(frame, b.pending[:b.frameSize])
		frames = append(frames, frame)
		b.pending = b.pending[b.frameSize:]
	}
	return frames
}

// Reset discards any buffered partial frame (used on interrupt/flush).
func (b *Buffer) Reset() {
	b.pending = b.pending[:0]
}
