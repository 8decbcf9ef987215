// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// scriptedScorer returns a fixed sequence of scores, one per Feed call.
type scriptedScorer struct {
	scores []float64
	i      int
}

func (s *scriptedScorer) Score(pcm []byte, sampleRate int) (float64, error) {
	if s.i >= len(s.scores) {
		return 0, nil
	}
	v := s.scores[s.i]
	s.i++
	return v, nil
}

func (s *scriptedScorer) Close() error { return nil }

func newTestDetector(confirmWindow, silenceThreshold time.Duration, scores []float64) *Detector {
	scorer := &scriptedScorer{scores: scores}
	return NewDetector(scorer, Config{
		VoicedThreshold:    0.5,
		ConfirmationWindow: confirmWindow,
		SilenceThreshold:   silenceThreshold,
		FrameDuration:      20 * time.Millisecond,
	})
}

func TestDetector_SuppressesSingleFrameBlip(t *testing.T) {
	// 200ms confirmation window = 10 frames of 20ms; only 1 voiced frame.
	d := newTestDetector(200*time.Millisecond, 500*time.Millisecond, []float64{0.9, 0.0, 0.0, 0.0})
	var events []Event
	for i := 0; i < 4; i++ {
		ev, err := d.Feed(nil, 16000)
		assert.NoError(t, err)
		events = append(events, ev)
	}
	for _, ev := range events {
		assert.Equal(t, EventNone, ev)
	}
}

func TestDetector_EmitsStartedAfterConfirmationWindow(t *testing.T) {
	scores := make([]float64, 10)
	for i := range scores {
		scores[i] = 0.9
	}
	d := newTestDetector(200*time.Millisecond, 500*time.Millisecond, scores)

	var last Event
	for i := 0; i < 10; i++ {
		ev, err := d.Feed(nil, 16000)
		assert.NoError(t, err)
		if ev != EventNone {
			last = ev
		}
	}
	assert.Equal(t, EventStarted, last)
}

func TestDetector_EmitsStoppedAfterSilenceWindow(t *testing.T) {
	scores := make([]float64, 10)
	for i := range scores {
		scores[i] = 0.9
	}
	// 25 frames of silence (500ms at 20ms/frame).
	for i := 0; i < 25; i++ {
		scores = append(scores, 0.0)
	}
	d := newTestDetector(200*time.Millisecond, 500*time.Millisecond, scores)

	var events []Event
	for i := 0; i < len(scores); i++ {
		ev, err := d.Feed(nil, 16000)
		assert.NoError(t, err)
		events = append(events, ev)
	}
	assert.Contains(t, events, EventStarted)
	assert.Contains(t, events, EventStopped)
}

func TestDetector_SilenceResetsOnResumedSpeech(t *testing.T) {
	scores := make([]float64, 10) // confirm speech
	for i := range scores {
		scores[i] = 0.9
	}
	scores = append(scores, 0.0, 0.0, 0.0, 0.0, 0.0) // 5 frames silence, short of 500ms (25 frames)
	scores = append(scores, 0.9, 0.9)                // speech resumes

	d := newTestDetector(200*time.Millisecond, 500*time.Millisecond, scores)
	var events []Event
	for i := 0; i < len(scores); i++ {
		ev, err := d.Feed(nil, 16000)
		assert.NoError(t, err)
		events = append(events, ev)
	}
	// Only one EventStarted (the original), no EventStopped since silence
	// never reached the threshold before speech resumed.
	startCount, stopCount := 0, 0
	for _, ev := range events {
		switch ev {
		case EventStarted:
			startCount++
		case EventStopped:
			stopCount++
		}
	}
	assert.Equal(t, 1, startCount)
	assert.Equal(t, 0, stopCount)
}
