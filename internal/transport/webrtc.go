// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// WebRTC media transport: audio flows over a Pion peer connection's Opus
// track instead of the WebSocket JSON envelope of ws.go/envelope.go. Track
// setup, the buffer-and-flush shape of the input/output paths, and the pacing
// ticker are grounded on the teacher's webrtcStreamer (internal/channel/webrtc/
// streamer.go: createPeerConnection, readRemoteAudio, bufferAndSendInput/
// Output, runOutputWriter), generalized from its gRPC-signaled,
// protobuf-framed transport onto the plain frame.AudioFrame/Interrupts()
// contract the orchestrator exposes. The Opus codec wrapper (opus.go) is
// written fresh against gopkg.in/hraban/opus.v2's public API, see its doc
// comment for why.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voiceorc/internal/audio"
	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/orchestrator"
)

// Opus/RTP constants, kept at the values the teacher's webrtc_internal
// package hardcodes (RFC 7587 mandates opus/48000/2 even for mono voice).
const (
	opusSampleRate    = 48000
	opusChannels      = 2
	opusPayloadType   = 111
	opusFrameDuration = 20 * time.Millisecond
	opusFrameBytes    = 1920 // 960 samples * 2 bytes at 48kHz mono-equivalent
	rtpBufferSize     = 1500
	maxReadErrors     = 50
)

// ICEServer mirrors the teacher's webrtc_internal.ICEServer shape.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// DefaultICEServers returns the teacher's default STUN-only configuration.
func DefaultICEServers() []ICEServer {
	return []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
}

// WebRTCSession bridges one Pion peer connection to one orchestrator.Session,
// decoding/encoding Opus at the RTP edge and resampling between 48kHz (WebRTC)
// and the orchestrator's internal 16kHz working rate (internal/audio).
type WebRTCSession struct {
	pc      *pionwebrtc.PeerConnection
	runner  Runner
	logger  commons.Logger
	callID  string

	localTrack *pionwebrtc.TrackLocalStaticSample

	mu sync.Mutex
}

// NewWebRTCSession creates a peer connection configured for a single Opus
// audio track in both directions and wires ICE/track callbacks, following
// the teacher's createPeerConnection/setupPeerEventHandlers/createLocalTrack
// split.
func NewWebRTCSession(iceServers []ICEServer, runner Runner, callID string, logger commons.Logger) (*WebRTCSession, error) {
	mediaEngine := &pionwebrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(pionwebrtc.RTPCodecParameters{
		RTPCodecCapability: pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: opusSampleRate,
			Channels:  opusChannels,
		},
		PayloadType: opusPayloadType,
	}, pionwebrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("transport: register opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := pionwebrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("transport: register interceptors: %w", err)
	}

	api := pionwebrtc.NewAPI(pionwebrtc.WithMediaEngine(mediaEngine), pionwebrtc.WithInterceptorRegistry(registry))

	pionServers := make([]pionwebrtc.ICEServer, len(iceServers))
	for i, s := range iceServers {
		pionServers[i] = pionwebrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential}
	}

	pc, err := api.NewPeerConnection(pionwebrtc.Configuration{ICEServers: pionServers})
	if err != nil {
		return nil, fmt.Errorf("transport: new peer connection: %w", err)
	}

	track, err := pionwebrtc.NewTrackLocalStaticSample(
		pionwebrtc.RTPCodecCapability{MimeType: pionwebrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: opusChannels},
		"audio", "voiceorc-audio",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("transport: new local track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("transport: add local track: %w", err)
	}

	w := &WebRTCSession{
		pc:         pc,
		runner:     runner,
		callID:     callID,
		logger:     logger.With("call_id", callID),
		localTrack: track,
	}
	return w, nil
}

// PeerConnection exposes the underlying connection for SDP offer/answer and
// ICE-candidate exchange, which this package leaves to its caller (spec.md
// §1 scopes out the signaling transport, not the media path).
func (w *WebRTCSession) PeerConnection() *pionwebrtc.PeerConnection { return w.pc }

// Serve runs the orchestrator against remoteTrack, the remote audio track
// the caller received for this connection, until the track ends, the
// orchestrator returns, or ctx is cancelled. It does not wait for a track
// itself: the caller obtains remoteTrack (e.g. from the peer connection's
// OnTrack callback) before calling it.
func (w *WebRTCSession) Serve(ctx context.Context, remoteTrack *pionwebrtc.TrackRemote) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resampler48to16, err := audio.NewResampler(audio.Config{SampleRate: opusSampleRate, Channels: 1}, audio.NewLinear16kHzMono())
	if err != nil {
		return fmt.Errorf("transport: new 48k->16k resampler: %w", err)
	}
	resampler16to48, err := audio.NewResampler(audio.NewLinear16kHzMono(), audio.Config{SampleRate: opusSampleRate, Channels: 1})
	if err != nil {
		return fmt.Errorf("transport: new 16k->48k resampler: %w", err)
	}
	// The RTP codec capability advertises Channels: opusChannels (2) per RFC
	// 7587's opus/48000/2 clock convention; the codec registration sets no
	// fmtp stereo parameter, so RFC 7587's stereo=0 default applies — actual
	// voice content is mono, so the encoder/decoder pair itself runs
	// single-channel.
	codec, err := newOpusCodec(opusSampleRate, 1)
	if err != nil {
		return err
	}

	audioIn := make(chan frame.AudioFrame, orchestrator.AudioQueueDepth)
	transportOut := make(chan frame.AudioFrame, orchestrator.TTSQueueDepth)

	g, gctx := errgroup.WithContext(ctx)
	// See the equivalent comment in ws.go's Serve: errgroup only cancels
	// gctx on a non-nil error, so every leg also cancels on a clean exit.
	g.Go(func() error {
		defer cancel()
		defer close(audioIn)
		return w.readRemoteAudio(gctx, remoteTrack, codec, resampler48to16, audioIn)
	})
	g.Go(func() error {
		defer cancel()
		return w.writeLocalAudio(gctx, codec, resampler16to48, transportOut)
	})
	g.Go(func() error {
		defer cancel()
		return w.runner.Run(gctx, audioIn, transportOut)
	})

	err = g.Wait()
	closeErr := w.runner.Close(context.Background())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return closeErr
}

// readRemoteAudio decodes inbound Opus RTP into 16kHz PCM AudioFrames,
// following the teacher's readRemoteAudio loop shape (read RTP, unmarshal,
// decode, resample, push).
func (w *WebRTCSession) readRemoteAudio(ctx context.Context, track *pionwebrtc.TrackRemote, codec *opusCodec, resampler *audio.Resampler, audioIn chan<- frame.AudioFrame) error {
	buf := make([]byte, rtpBufferSize)
	consecutiveErrors := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			consecutiveErrors++
			if consecutiveErrors >= maxReadErrors {
				return fmt.Errorf("transport: too many consecutive RTP read errors: %w", err)
			}
			continue
		}
		consecutiveErrors = 0

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			w.logger.Debugw("transport: dropped unparseable RTP packet", "error", err.Error())
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		pcm48, err := codec.Decode(pkt.Payload)
		if err != nil {
			w.logger.Debugw("transport: opus decode failed", "error", err.Error())
			continue
		}
		pcm16, err := resampler.Resample(pcm48)
		if err != nil {
			w.logger.Debugw("transport: resample failed", "error", err.Error())
			continue
		}

		af := frame.NewAudioFrame(uuid.Nil, pcm16, 16000, frame.ChannelUser)
		select {
		case audioIn <- af:
		case <-ctx.Done():
			return nil
		default:
			w.logger.Warnw("transport: audio-in queue full, dropping frame")
		}
	}
}

// writeLocalAudio resamples outbound 16kHz AudioFrames to 48kHz, Opus-encodes
// them at a 20ms pace, and writes them to the local track. A signal on
// Interrupts() discards whatever PCM is pending, mirroring the teacher's
// flushAudioCh handling in runOutputWriter.
func (w *WebRTCSession) writeLocalAudio(ctx context.Context, codec *opusCodec, resampler *audio.Resampler, transportOut <-chan frame.AudioFrame) error {
	pending := new(bytes.Buffer)
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-w.runner.Interrupts():
			pending.Reset()

		case <-ticker.C:
			if pending.Len() < opusFrameBytes {
				continue
			}
			chunk := make([]byte, opusFrameBytes)
			pending.Read(chunk)
			encoded, err := codec.Encode(chunk)
			if err != nil {
				w.logger.Debugw("transport: opus encode failed", "error", err.Error())
				continue
			}
			if err := w.localTrack.WriteSample(media.Sample{Data: encoded, Duration: opusFrameDuration}); err != nil {
				return fmt.Errorf("transport: write local track sample: %w", err)
			}

		case af, ok := <-transportOut:
			if !ok {
				return nil
			}
			pcm48, err := resampler.Resample(af.PCM)
			if err != nil {
				w.logger.Debugw("transport: resample failed", "error", err.Error())
				continue
			}
			pending.Write(pcm48)
		}
	}
}

// Close tears down the peer connection.
func (w *WebRTCSession) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pc.Close()
}
