// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ttsproc

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/control"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/normalizers"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// backpressureQueueDepth and backpressureHoldTime implement spec.md §4.9:
// "If depth >= 3 items for > 200ms, the processor sets backpressure_hint =
// true on subsequent TTS requests."
const (
	backpressureQueueDepth = 3
	backpressureHoldTime   = 200 * time.Millisecond
	holdAudioThreshold     = 500 * time.Millisecond
)

// VoiceParams carries the config-snapshot-derived synthesis parameters for
// one call (spec.md §6).
type VoiceParams struct {
	Voice       string
	Language    string
	Rate        float64
	Pitch       float64
	Volume      float64
	Style       string
	StyleDegree float64

	// Normalizers runs over assembled sentences before synthesis (e.g.
	// spelling out "$10.50" as "ten dollars and fifty cents"). Nil or empty
	// disables text normalization entirely.
	Normalizers []normalizers.Normalizer
}

// Outcome reports the spec.md §4.9(c) "how much was actually spoken" state,
// consumed by the orchestrator to truncate the context aggregator.
type Outcome struct {
	Cause            frame.TTSEndCause
	SentencesSpoken  int
	LastSpokenText   string
}

// Processor drives one ports.TTSPort across the lifetime of one assistant
// turn's content stream.
type Processor struct {
	port    ports.TTSPort
	control *control.Channel
	logger  commons.Logger
	params  VoiceParams

	queueDepth int32 // atomically updated; mirrors len(out) for the backpressure monitor
}

func New(port ports.TTSPort, ctrl *control.Channel, params VoiceParams, logger commons.Logger) *Processor {
	return &Processor{port: port, control: ctrl, params: params, logger: logger}
}

// Speak consumes content deltas from textIn (as forwarded by the LLM
// processor / context aggregator), assembles them into sentences, and
// streams synthesized audio to out, bounded by outCapacity for the
// backpressure monitor. holdAudio, if non-nil, supplies pre-recorded
// "thinking" frames (spec.md §4.9 "Hold audio"): once toolPending fires,
// they are played after holdAudioThreshold until holdAudio is closed or the
// turn ends, and textIn is not read in the meantime.
// onFirstFrame, if non-nil, is invoked once, just before the first
// synthesized audio frame of this call is pushed onto out.
func (p *Processor) Speak(ctx context.Context, traceID uuid.UUID, textIn <-chan string, toolPending <-chan struct{}, out chan<- frame.AudioFrame, holdAudio <-chan []byte, onFirstFrame func()) Outcome {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cancelled := make(chan struct{})
	go p.watchControl(traceID, cancel, cancelled)
	defer close(cancelled)

	bp := newBackpressureMonitor(out)
	go bp.run(runCtx)

	asm := newSentenceAssembler()
	sentencesSpoken := 0
	lastSpoken := ""
	firstFrameSent := false

	speakSentence := func(text string) (bool, error) {
		text = normalizers.Apply(p.params.Normalizers, text)
		req := ports.TTSRequest{
			Text: text, Voice: p.params.Voice, Language: p.params.Language,
			Rate: p.params.Rate, Pitch: p.params.Pitch, Volume: p.params.Volume,
			Style: p.params.Style, StyleDegree: p.params.StyleDegree,
			BackpressureHint: bp.hint(),
		}
		stream, err := p.port.Synthesize(runCtx, req)
		if err != nil {
			return false, err
		}
		defer stream.Close()
		for {
			af, err := stream.Recv(runCtx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return true, nil
				}
				if errors.Is(err, context.Canceled) || runCtx.Err() != nil {
					return false, nil
				}
				return false, err
			}
			select {
			case out <- af:
				if !firstFrameSent {
					firstFrameSent = true
					if onFirstFrame != nil {
						onFirstFrame()
					}
				}
			case <-runCtx.Done():
				return false, nil
			}
		}
	}

	for {
		select {
		case text, ok := <-textIn:
			if !ok {
				if rest := asm.Flush(); rest != "" {
					if done, err := speakSentence(rest); err != nil {
						return Outcome{Cause: frame.TTSEndError, SentencesSpoken: sentencesSpoken, LastSpokenText: lastSpoken}
					} else if done {
						sentencesSpoken++
						lastSpoken = rest
					}
				}
				return Outcome{Cause: frame.TTSEndNatural, SentencesSpoken: sentencesSpoken, LastSpokenText: lastSpoken}
			}
			for _, sentence := range asm.Feed(text) {
				done, err := speakSentence(sentence)
				if runCtx.Err() != nil {
					return Outcome{Cause: frame.TTSEndInterrupted, SentencesSpoken: sentencesSpoken, LastSpokenText: lastSpoken}
				}
				if err != nil {
					return Outcome{Cause: frame.TTSEndError, SentencesSpoken: sentencesSpoken, LastSpokenText: lastSpoken}
				}
				if done {
					sentencesSpoken++
					lastSpoken = sentence
				}
			}

		case <-toolPending:
			p.interleaveHold(runCtx, holdAudio, traceID, out)

		case <-runCtx.Done():
			return Outcome{Cause: frame.TTSEndInterrupted, SentencesSpoken: sentencesSpoken, LastSpokenText: lastSpoken}
		}
	}
}

// PlayHoldAudio interleaves pre-recorded "thinking" audio from the config
// snapshot's background_sound while a tool invocation is in flight (spec.md
// §4.9 "Hold audio"). The orchestrator calls this concurrently with
// ports.ToolPort.Invoke and cancels ctx once the tool call returns.
func (p *Processor) PlayHoldAudio(ctx context.Context, traceID uuid.UUID, holdAudio <-chan []byte, out chan<- frame.AudioFrame) {
	p.interleaveHold(ctx, holdAudio, traceID, out)
}

// interleaveHold plays pre-recorded "thinking" audio while a slow tool call
// is in flight, stopping as soon as the context is done (spec.md §4.9).
func (p *Processor) interleaveHold(ctx context.Context, holdAudio <-chan []byte, traceID uuid.UUID, out chan<- frame.AudioFrame) {
	if holdAudio == nil {
		return
	}
	timer := time.NewTimer(holdAudioThreshold)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}
	for {
		select {
		case pcm, ok := <-holdAudio:
			if !ok {
				return
			}
			select {
			case out <- frame.NewAudioFrame(traceID, pcm, 16000, frame.ChannelBot):
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) watchControl(traceID uuid.UUID, cancel context.CancelFunc, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg := <-p.control.Recv():
			if msg.TraceID != traceID {
				continue
			}
			if msg.Kind == control.Interrupt || msg.Kind == control.CancelTurn || msg.Kind == control.EmergencyStop {
				cancel()
				return
			}
		}
	}
}

// backpressureMonitor watches an outbound queue's depth and raises a hint
// once depth has stayed at or above backpressureQueueDepth continuously for
// backpressureHoldTime (spec.md §4.9).
type backpressureMonitor struct {
	out   chan<- frame.AudioFrame
	flag  atomic.Bool
}

func newBackpressureMonitor(out chan<- frame.AudioFrame) *backpressureMonitor {
	return &backpressureMonitor{out: out}
}

func (b *backpressureMonitor) hint() bool { return b.flag.Load() }

func (b *backpressureMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	var above time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d := len(b.out)
			if d >= backpressureQueueDepth {
				if above.IsZero() {
					above = time.Now()
				} else if time.Since(above) > backpressureHoldTime {
					b.flag.Store(true)
				}
			} else {
				above = time.Time{}
				b.flag.Store(false)
			}
		}
	}
}
