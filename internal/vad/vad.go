// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package vad implements the dual-stage voice activity detector of spec.md
// §4.5 (C5): a frame-level speech/non-speech scorer backed by
// github.com/streamer45/silero-vad-go (a teacher dependency never wired by
// the retrieved fragment of the teacher — its own VAD file was not part of
// the retrieval, only its go.mod entry), wrapped by a confirmation-window
// state machine that suppresses single-frame false positives and debounces
// turn end.
package vad

import (
	"sync"
	"time"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/rapidaai/voiceorc/internal/commons"
)

// FrameScorer scores one audio frame into a speech probability in [0,1]
// (spec.md §4.5 stage 1). Implemented by sileroScorer in production and
// faked in tests.
type FrameScorer interface {
	Score(pcm []byte, sampleRate int) (float64, error)
	Close() error
}

type sileroScorer struct {
	detector *speech.Detector
}

// NewSileroScorer loads the Silero ONNX model referenced by modelPath.
func NewSileroScorer(modelPath string, sampleRate int) (FrameScorer, error) {
	d, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           sampleRate,
		Threshold:            0.5,
		MinSilenceDurationMs: 0, // segmentation handled by this package's confirmation window instead
		SpeechPadMs:          0,
	})
	if err != nil {
		return nil, err
	}
	return &sileroScorer{detector: d}, nil
}

func (s *sileroScorer) Score(pcm []byte, sampleRate int) (float64, error) {
	samples := pcm16ToFloat32(pcm)
	segments, err := s.detector.Detect(samples)
	if err != nil {
		return 0, err
	}
	if len(segments) > 0 {
		return 1.0, nil
	}
	return 0.0, nil
}

func (s *sileroScorer) Close() error {
	return s.detector.Destroy()
}

func pcm16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = float32(v) / 32768.0
	}
	return out
}

// Event is emitted by Detector when a confirmed speech-start or
// speech-stop transition occurs (spec.md §4.5).
type Event int

const (
	EventNone Event = iota
	EventStarted
	EventStopped
)

// Config tunes the confirmation window (spec.md §4.5, §6).
type Config struct {
	VoicedThreshold       float64       // frame is "voiced" iff speech >= this (default 0.5)
	ConfirmationWindow    time.Duration // min consecutive voiced duration before UserStartedSpeaking (default 200ms)
	SilenceThreshold      time.Duration // min consecutive non-voiced duration before UserStoppedSpeaking (default 500ms, rescaled by pacing)
	FrameDuration         time.Duration // wall-clock duration represented by one scored frame
}

// Detector implements the confirmation-window state machine layered on top
// of a FrameScorer (spec.md §4.5 stage 2). It is not safe for concurrent
// use — one Detector per call, fed serially by the VAD processor.
type Detector struct {
	mu sync.Mutex

	scorer FrameScorer
	cfg    Config

	voiced     bool // current confirmed state
	voicedRun  time.Duration
	silentRun  time.Duration
}

// NewDetector constructs a Detector. cfg zero values are replaced with
// spec.md §4.5 defaults.
func NewDetector(scorer FrameScorer, cfg Config) *Detector {
	if cfg.VoicedThreshold == 0 {
		cfg.VoicedThreshold = 0.5
	}
	if cfg.ConfirmationWindow == 0 {
		cfg.ConfirmationWindow = 200 * time.Millisecond
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = 500 * time.Millisecond
	}
	if cfg.FrameDuration == 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}
	return &Detector{scorer: scorer, cfg: cfg}
}

// Feed scores one audio frame and advances the confirmation-window state
// machine, returning the event (if any) this frame produced.
//
// If speech resumes before the silence threshold elapses the silence
// counter resets without emitting UserStoppedSpeaking (spec.md §4.5 "Turn-
// end policy").
func (d *Detector) Feed(pcm []byte, sampleRate int) (Event, error) {
	score, err := d.scorer.Score(pcm, sampleRate)
	if err != nil {
		return EventNone, err
	}
	return d.advance(score >= d.cfg.VoicedThreshold), nil
}

func (d *Detector) advance(isVoicedFrame bool) Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if isVoicedFrame {
		d.silentRun = 0
		d.voicedRun += d.cfg.FrameDuration
		if !d.voiced && d.voicedRun >= d.cfg.ConfirmationWindow {
			d.voiced = true
			return EventStarted
		}
		return EventNone
	}

	d.voicedRun = 0
	if d.voiced {
		d.silentRun += d.cfg.FrameDuration
		if d.silentRun >= d.cfg.SilenceThreshold {
			d.voiced = false
			d.silentRun = 0
			return EventStopped
		}
	}
	return EventNone
}

// SetSilenceThreshold allows the orchestrator to apply the pacing-derived
// threshold (spec.md §6, §9 Open Question #2) after construction.
func (d *Detector) SetSilenceThreshold(t time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.SilenceThreshold = t
}

// Close releases the underlying scorer (model runtime resources).
func (d *Detector) Close(logger commons.Logger) {
	if err := d.scorer.Close(); err != nil {
		logger.Warnw("vad: failed to close frame scorer", "error", err.Error())
	}
}
