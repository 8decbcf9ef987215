// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// opusCodec wraps one Opus encoder and one Opus decoder for a single WebRTC
// leg, operating on little-endian 16-bit PCM byte slices rather than the
// underlying library's []int16 buffers, to match the []byte shape used
// throughout this module (frame.AudioFrame.PCM).
//
// The teacher's webrtc streamer calls an equivalent webrtc_internal.NewOpusCodec()
// constructor at every track's setup, but that wrapper's body was not part of
// the retrieved source (only its call sites and the gopkg.in/hraban/opus.v2
// dependency line survived retrieval) — this implementation is written fresh
// against hraban/opus's public Encoder/Decoder API rather than adapted from a
// teacher file.
type opusCodec struct {
	enc *opus.Encoder
	dec *opus.Decoder

	sampleRate int
	channels   int

	decodeBuf []int16
}

// newOpusCodec constructs a codec for one WebRTC leg at sampleRate and
// channels. WebRTCSession.Serve builds it at 48kHz mono, while the RTP codec
// capability advertises opus/48000/2 (RFC 7587 mandates it even for mono voice).
func newOpusCodec(sampleRate, channels int) (*opusCodec, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("transport: new opus encoder: %w", err)
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("transport: new opus decoder: %w", err)
	}
	// Sized for one 20ms frame at sampleRate/channels, the largest frame this
	// module ever decodes.
	return &opusCodec{
		enc:        enc,
		dec:        dec,
		sampleRate: sampleRate,
		channels:   channels,
		decodeBuf:  make([]int16, sampleRate/1000*20*channels),
	}, nil
}

// Decode turns one Opus RTP payload into little-endian 16-bit PCM.
func (c *opusCodec) Decode(payload []byte) ([]byte, error) {
	n, err := c.dec.Decode(payload, c.decodeBuf)
	if err != nil {
		return nil, fmt.Errorf("transport: opus decode: %w", err)
	}
	return int16ToPCM(c.decodeBuf[:n*c.channels]), nil
}

// Encode turns one frame of little-endian 16-bit PCM into an Opus payload.
// pcm must hold a whole number of samples for the codec's channel count.
func (c *opusCodec) Encode(pcm []byte) ([]byte, error) {
	samples := pcmToInt16(pcm)
	out := make([]byte, 4000) // generous upper bound for one 20ms frame
	n, err := c.enc.Encode(samples, out)
	if err != nil {
		return nil, fmt.Errorf("transport: opus encode: %w", err)
	}
	return out[:n], nil
}

func pcmToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func int16ToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
