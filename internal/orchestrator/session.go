// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package orchestrator implements the per-call lifecycle (C12) of spec.md
// §4.12: session construction from the registry and fallback wrappers,
// the bounded-queue pipeline wiring between processors, an
// errgroup-supervised worker tree rooted in one cancellation scope, and
// teardown within the 500ms budget. Grounded on the teacher's
// callcontext.Store status-claim lifecycle (internal/callcontext/types.go,
// store.go), generalized from its pending/claimed/completed/failed states
// into CallSession's IDLE→active→closed lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voiceorc/internal/assembler"
	"github.com/rapidaai/voiceorc/internal/commons"
	ctxagg "github.com/rapidaai/voiceorc/internal/context"
	"github.com/rapidaai/voiceorc/internal/control"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/fsm"
	"github.com/rapidaai/voiceorc/internal/llmproc"
	"github.com/rapidaai/voiceorc/internal/normalizers"
	"github.com/rapidaai/voiceorc/internal/ports"
	"github.com/rapidaai/voiceorc/internal/registry"
	"github.com/rapidaai/voiceorc/internal/resilience"
	"github.com/rapidaai/voiceorc/internal/sttproc"
	"github.com/rapidaai/voiceorc/internal/ttsproc"
	"github.com/rapidaai/voiceorc/internal/vad"
)

// TurnSink persists one completed turn (spec.md §6 "append-only sink").
type TurnSink interface {
	AppendTurn(ctx context.Context, rec TurnRecord) error
}

// TurnRecord is one user/assistant exchange, persisted after the fact —
// never on the hot path.
type TurnRecord struct {
	CallID         string
	TraceID        uuid.UUID
	UserText       string
	AssistantText  string
	ToolCalls      int
	FinishedAt     time.Time
}

// MetricsSink receives non-blocking counters; every method must return
// immediately (spec.md §9 "never apply backpressure to the data path").
type MetricsSink interface {
	ObserveSTTTTFBMillis(ms int64)
	ObserveLLMTTFBMillis(ms int64)
	ObserveTTSTTFBMillis(ms int64)
	ObserveTurnTotalMillis(ms int64)
	IncFallbackActivation(port string)
	ObserveQueueDepth(name string, depth int)
	ObserveInterruptLatencyMillis(ms int64)
}

// BreakerCache persists each fallback leg's circuit breaker snapshot so a
// reconnecting process instance can see the prior posture (spec.md §1
// key-value sink half). Optional: a nil BreakerCache on Dependencies simply
// skips persistence, matching single-instance deployments.
type BreakerCache interface {
	PutBreakerState(ctx context.Context, callID, port string, snap resilience.Snapshot) error
}

// Dependencies are shared across every call session constructed by one
// process (spec.md §4.3 "consulted only during session construction").
type Dependencies struct {
	Registry   *registry.Registry
	ConfigRepo ports.ConfigRepositoryPort
	Tools      ports.ToolPort
	Sink       TurnSink
	Metrics    MetricsSink
	Breakers   BreakerCache
	Logger     commons.Logger
	VADScorerFactory func() (vad.FrameScorer, error)
}

// Queue depths for the bounded channels between pipeline stages (spec.md
// §5 "every inter-processor queue is bounded"). Exported so the transport
// layer sizes its audio-in/audio-out channels consistently.
const (
	AudioQueueDepth = 32
	textQueueDepth  = 16
	TTSQueueDepth   = 64
)

// Session owns every per-call resource: one FSM, one VAD detector, one
// context aggregator, and the fallback-wrapped STT/LLM/TTS processors
// (spec.md §3 "Ownership": exactly one of everything per call).
type Session struct {
	id     string
	cfg    ports.ConfigSnapshot
	deps   Dependencies
	logger commons.Logger

	fsm    *fsm.Machine
	vadDet *vad.Detector

	sttPort ports.STTPort
	llmPort ports.LLMPort
	ttsPort ports.TTSPort

	sttFallback *resilience.STTFallback
	llmFallback *resilience.LLMFallback
	ttsFallback *resilience.TTSFallback

	sttCtrl *control.Channel
	llmCtrl *control.Channel
	ttsCtrl *control.Channel

	sttProc *sttproc.Processor
	llmProc *llmproc.Processor
	ttsProc *ttsproc.Processor

	ctxAgg *ctxagg.Aggregator

	currentTrace uuid.UUID
	sttSession   *sttproc.Session

	// flushSig signals a transport adapter to drain its far-end playout
	// buffer on barge-in (spec.md §6 outbound "clear"). Single-slot,
	// non-blocking, mirroring the teacher's flushAudioCh idiom
	// (channel/webrtc/base_streamer.go).
	flushSig chan struct{}

	cancel context.CancelCauseFunc
	done   chan struct{}
}

// NewSession constructs every owned resource for one call but does not yet
// start the worker tree (spec.md §4.12 "Construction").
func NewSession(ctx context.Context, callID string, deps Dependencies) (*Session, error) {
	cfg, err := deps.ConfigRepo.Load(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load config for call %s: %w", callID, err)
	}

	logger := deps.Logger.With("call_id", callID)

	sttPort, err := deps.Registry.CreateSTT(ctx, cfg.STTProvider, cfg)
	if err != nil {
		return nil, err
	}
	llmPort, err := deps.Registry.CreateLLM(ctx, cfg.LLMProvider, cfg)
	if err != nil {
		return nil, err
	}
	ttsPort, err := deps.Registry.CreateTTS(ctx, cfg.TTSProvider, cfg)
	if err != nil {
		return nil, err
	}

	// Wrap each port in its fallback leg even with a single provider
	// configured: the circuit breaker's consecutive-failure tripping still
	// applies to the sole leg (spec.md §4.4 applies regardless of fallback
	// list length).
	stt := resilience.NewSTTFallback(sttPort)
	llm := resilience.NewLLMFallback(llmPort)
	tts := resilience.NewTTSFallback(ttsPort)

	if deps.VADScorerFactory == nil {
		return nil, errors.New("orchestrator: Dependencies.VADScorerFactory is required")
	}
	scorer, err := deps.VADScorerFactory()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: construct VAD scorer: %w", err)
	}

	detector := vad.NewDetector(scorer, vad.Config{
		VoicedThreshold:  cfg.VADThreshold,
		SilenceThreshold: time.Duration(cfg.EffectiveSilenceThresholdMS()) * time.Millisecond,
	})

	prompter, err := assembler.New()
	if err != nil {
		return nil, err
	}
	systemPrompt, err := prompter.Render(cfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: render system prompt for call %s: %w", callID, err)
	}

	s := &Session{
		id:      callID,
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		fsm:     fsm.New(logger),
		vadDet:  detector,
		sttPort: stt,
		llmPort: llm,
		ttsPort: tts,
		sttFallback: stt,
		llmFallback: llm,
		ttsFallback: tts,
		sttCtrl: control.New(),
		llmCtrl: control.New(),
		ttsCtrl: control.New(),
		ctxAgg:  ctxagg.NewAggregator(systemPrompt),
		flushSig: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	s.sttProc = sttproc.New(stt, sttproc.Config{
		Language:               cfg.STTLanguage,
		SampleRate:             16000,
		HallucinationBlacklist: cfg.HallucinationBlacklist,
		SuppressStaleFinals:    true, // Open Question #1 decision, DESIGN.md
	}, logger)
	s.llmProc = llmproc.New(llm, s.llmCtrl, logger)
	normalizerNames := cfg.TextNormalizers
	if len(normalizerNames) == 0 {
		normalizerNames = normalizers.DefaultPipelineNames
	}
	s.ttsProc = ttsproc.New(tts, s.ttsCtrl, ttsproc.VoiceParams{
		Voice: cfg.TTSVoice, Language: cfg.TTSLanguage, Rate: cfg.TTSSpeed,
		Pitch: cfg.TTSPitch, Volume: cfg.TTSVolume, Style: cfg.TTSStyle, StyleDegree: cfg.TTSStyleDeg,
		Normalizers: normalizers.BuildPipeline(logger, normalizerNames),
	}, logger)

	return s, nil
}


// publishControl fans out one control event to every active processor's own
// channel (each control.Channel is single-consumer by design, see
// internal/control). It does not touch the FSM; callers apply the matching
// fsm event themselves.
func (s *Session) publishControl(kind control.Kind, traceID uuid.UUID) {
	msg := control.Message{Kind: kind, TraceID: traceID}
	s.sttCtrl.Publish(msg)
	s.llmCtrl.Publish(msg)
	s.ttsCtrl.Publish(msg)
}

// Run drives the call for its lifetime: audio in, VAD, turn execution, idle
// timeout, and max-duration enforcement, all under one errgroup rooted in
// ctx (spec.md §4.12 "Concurrency model ... single cancellation scope").
func (s *Session) Run(ctx context.Context, audioIn <-chan frame.AudioFrame, transportOut chan<- frame.AudioFrame) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	s.cancel = cancel
	defer close(s.done)

	g, gctx := errgroup.WithContext(runCtx)

	if s.cfg.MaxDurationS > 0 {
		g.Go(func() error {
			timer := time.NewTimer(time.Duration(s.cfg.MaxDurationS) * time.Second)
			defer timer.Stop()
			select {
			case <-timer.C:
				s.emergencyStop("max_duration exceeded")
				return nil
			case <-gctx.Done():
				return nil
			}
		})
	}

	idleTimeout := time.Duration(s.cfg.IdleTimeoutMS) * time.Millisecond
	idleRetries := 0

	s.fsm.Apply(fsm.EventSessionStart)
	if s.cfg.FirstMessageMode == ports.FirstMessageSpeakFirst && s.cfg.FirstMessage != "" {
		g.Go(func() error {
			s.speakBootstrapMessage(gctx, transportOut)
			return nil
		})
	}

	g.Go(func() error {
		idleTimer := time.NewTimer(idleTimeout)
		defer idleTimer.Stop()
		for {
			select {
			case af, ok := <-audioIn:
				if !ok {
					return nil
				}
				if idleTimeout > 0 {
					if !idleTimer.Stop() {
						<-idleTimer.C
					}
					idleTimer.Reset(idleTimeout)
				}
				s.handleAudioFrame(gctx, af, transportOut)
			case <-idleTimer.C:
				idleRetries++
				if idleRetries > s.cfg.InactivityMaxRetries {
					s.emergencyStop("idle timeout retries exhausted")
					return nil
				}
				s.speakIdleMessage(gctx, transportOut)
				idleTimer.Reset(idleTimeout)
			case <-gctx.Done():
				return nil
			}
		}
	})

	err := g.Wait()
	if errors.Is(context.Cause(runCtx), errEmergencyStop) {
		return nil
	}
	return err
}

var errEmergencyStop = errors.New("orchestrator: emergency stop")

func (s *Session) emergencyStop(reason string) {
	s.logger.Warnw("orchestrator: emergency stop", "reason", reason)
	s.publishControl(control.EmergencyStop, s.currentTrace)
	s.fsm.Apply(fsm.EventEmergencyStop)
	if s.cancel != nil {
		s.cancel(errEmergencyStop)
	}
}

// handleAudioFrame is the VAD-driven entry point for every inbound
// AudioFrame (spec.md §4.5/§4.6/§4.11).
func (s *Session) handleAudioFrame(ctx context.Context, af frame.AudioFrame, transportOut chan<- frame.AudioFrame) {
	state := s.fsm.State()

	ev, err := s.vadDet.Feed(af.PCM, af.SampleRate)
	if err != nil {
		s.logger.Warnw("vad: scoring error", "error", err.Error())
		return
	}

	switch ev {
	case vad.EventStarted:
		if state == fsm.SPEAKING || state == fsm.THINKING {
			if !s.cfg.InterruptionEnabled {
				return
			}
			s.bargeIn(ctx, transportOut)
			return
		}
		s.fsm.Apply(fsm.EventUserStartedSpeaking)
		if s.sttSession == nil {
			s.startSTTTurn(ctx, uuid.New())
		}

	case vad.EventStopped:
		if s.sttSession == nil {
			s.fsm.Apply(fsm.EventUserStoppedSpeakingEmpty)
			return
		}
		final := s.sttProc.CloseAndAwaitFinal(ctx, s.sttSession)
		trace := s.currentTrace
		s.sttSession = nil
		if final == "" {
			s.fsm.Apply(fsm.EventUserStoppedSpeakingEmpty)
			return
		}
		s.fsm.Apply(fsm.EventUserStoppedSpeakingNonEmpty)
		go s.runTurn(ctx, trace, final, transportOut)
	}

	if s.sttSession != nil {
		_ = s.sttSession.Feed(ctx, af)
	}
}

func (s *Session) bargeIn(ctx context.Context, transportOut chan<- frame.AudioFrame) {
	trace := s.currentTrace
	s.fsm.Apply(fsm.EventInterrupt)
	s.publishControl(control.Interrupt, trace)
	select {
	case s.flushSig <- struct{}{}:
	default:
	}
	s.startSTTTurn(ctx, uuid.New())
}

// Interrupts exposes the barge-in flush signal so a transport adapter can
// emit an outbound "clear" event to drain the far end's playout buffer
// (spec.md §6).
func (s *Session) Interrupts() <-chan struct{} {
	return s.flushSig
}

func (s *Session) startSTTTurn(ctx context.Context, trace uuid.UUID) {
	s.currentTrace = trace
	sess, err := s.sttProc.StartTurn(ctx, trace)
	if err != nil {
		s.logger.Errorw("sttproc: start turn failed", "error", err.Error())
		return
	}
	s.sttSession = sess
}

// runTurn executes one full THINKING→SPEAKING cycle including the bounded
// tool-calling loop (spec.md §4.7, §4.8, §4.9).
func (s *Session) runTurn(ctx context.Context, trace uuid.UUID, userText string, transportOut chan<- frame.AudioFrame) {
	start := time.Now()
	req := s.ctxAgg.AppendUserFinal(userText, s.cfg.Tools, s.cfg.LLMTemperature, s.cfg.LLMMaxTokens)

	// firstFrame fires EventFirstTTSAudioFrame (THINKING -> SPEAKING) at most
	// once across every pass of this turn's tool-calling loop; later passes
	// in the same turn reuse the same Once so a second tool-calling round
	// that also speaks doesn't re-apply an event the state machine would
	// just drop as illegal.
	var firstFrame sync.Once

	depth := 0
	for {
		outcome, ttsOutcome, err := s.runOneLLMPass(ctx, trace, req, depth, transportOut, &firstFrame)
		if err != nil {
			s.logger.Errorw("llmproc: pass failed", "error", err.Error())
			s.fsm.Apply(fsm.EventLLMFinishStopNoContent)
			return
		}
		if outcome.ForcedStop {
			s.fsm.Apply(fsm.EventLLMFinishStopNoContent)
			break
		}
		if outcome.NeedsToolInvoke {
			depth++
			result, err := s.invokeToolWithHoldAudio(ctx, trace, outcome.ToolCallName, outcome.ToolCallArgs, transportOut)
			resultJSON := result.ResultJSON
			if err != nil || result.Err != nil {
				resultJSON = fmt.Sprintf(`{"ok":false,"error":%q}`, errString(err, result.Err))
			}
			req = s.ctxAgg.AppendToolResult(outcome.ToolCallID, resultJSON, s.cfg.Tools, s.cfg.LLMTemperature, s.cfg.LLMMaxTokens)
			continue
		}
		if !outcome.CommittedAssistant {
			s.fsm.Apply(fsm.EventLLMFinishStopNoContent)
			break
		}
		if ttsOutcome.Cause == frame.TTSEndNatural {
			s.fsm.Apply(fsm.EventTTSEndNatural)
		}
		break
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveTurnTotalMillis(time.Since(start).Milliseconds())
	}
	if s.deps.Sink != nil {
		_ = s.deps.Sink.AppendTurn(ctx, TurnRecord{CallID: s.id, TraceID: trace, UserText: userText, FinishedAt: time.Now()})
	}
}

// invokeToolWithHoldAudio runs one tool call and, if it is still running
// past holdAudioThreshold, interleaves background_sound audio through the
// TTS processor until it returns (spec.md §4.9 "Hold audio").
func (s *Session) invokeToolWithHoldAudio(ctx context.Context, trace uuid.UUID, name, argsJSON string, transportOut chan<- frame.AudioFrame) (ports.ToolResult, error) {
	holdCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.BackgroundSound != "" {
		go s.ttsProc.PlayHoldAudio(holdCtx, trace, loopedHoldAudio(holdCtx, s.cfg.BackgroundSound), transportOut)
	}

	return s.deps.Tools.Invoke(ctx, name, argsJSON)
}

// loopedHoldAudio yields fixed-size silence-shaped PCM chunks standing in
// for the pre-recorded background_sound clip named by soundName, until ctx
// is cancelled. The orchestrator does not own audio-asset storage (spec.md
// §1 persistence is out of scope); a real deployment wires soundName to a
// clip loaded by the transport/telephony layer.
func loopedHoldAudio(ctx context.Context, soundName string) <-chan []byte {
	out := make(chan []byte)
	const frameBytes = 640 // 20ms of 16kHz mono 16-bit PCM
	go func() {
		defer close(out)
		silence := make([]byte, frameBytes)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- silence:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func errString(a, b error) string {
	if a != nil {
		return a.Error()
	}
	if b != nil {
		return b.Error()
	}
	return "unknown tool error"
}

// runOneLLMPass drives a single LLM generate_stream call through to its
// terminal chunk, folding chunks into the context aggregator and, for
// content chunks, forwarding text to the TTS processor (spec.md §4.8's
// "forwards chunks downstream as they arrive").
func (s *Session) runOneLLMPass(ctx context.Context, trace uuid.UUID, req ports.LLMRequest, toolLoopDepth int, transportOut chan<- frame.AudioFrame, firstFrame *sync.Once) (ctxagg.FinishOutcome, ttsproc.Outcome, error) {
	chunks := make(chan frame.LLMChunk, textQueueDepth)
	textOut := make(chan string, textQueueDepth)

	var ttsOutcome ttsproc.Outcome
	ttsDone := make(chan struct{})
	go func() {
		defer close(ttsDone)
		onFirstFrame := func() { firstFrame.Do(func() { s.fsm.Apply(fsm.EventFirstTTSAudioFrame) }) }
		ttsOutcome = s.ttsProc.Speak(ctx, trace, textOut, nil, transportOut, nil, onFirstFrame)
	}()

	done := make(chan struct{})
	var outcome ctxagg.FinishOutcome
	go func() {
		defer close(done)
		textClosed := false
		for chunk := range chunks {
			s.ctxAgg.OnChunk(chunk)
			if chunk.HasContent {
				select {
				case textOut <- chunk.Content:
				case <-ctx.Done():
				}
			}
			if chunk.FinishReason != "" {
				switch chunk.FinishReason {
				case frame.FinishInterrupted:
					// textOut must be closed before waiting on ttsDone: Speak
					// only returns once its input channel is drained and
					// closed, and LastSpokenText is only meaningful once
					// Speak has actually returned.
					if !textClosed {
						close(textOut)
						textClosed = true
					}
					<-ttsDone
					s.ctxAgg.TruncateToSpoken(ttsOutcome.LastSpokenText)
				default:
					outcome = s.ctxAgg.Finish(chunk.FinishReason, toolLoopDepth)
				}
			}
		}
		if !textClosed {
			close(textOut)
		}
	}()

	err := s.llmProc.Run(ctx, trace, req, chunks)
	close(chunks)
	<-done
	<-ttsDone
	return outcome, ttsOutcome, err
}

func (s *Session) speakBootstrapMessage(ctx context.Context, transportOut chan<- frame.AudioFrame) {
	trace := uuid.New()
	textOut := make(chan string, 1)
	textOut <- s.cfg.FirstMessage
	close(textOut)
	s.ttsProc.Speak(ctx, trace, textOut, nil, transportOut, nil, nil)
}

func (s *Session) speakIdleMessage(ctx context.Context, transportOut chan<- frame.AudioFrame) {
	if s.cfg.IdleMessage == "" {
		return
	}
	trace := uuid.New()
	textOut := make(chan string, 1)
	textOut <- s.cfg.IdleMessage
	close(textOut)
	s.ttsProc.Speak(ctx, trace, textOut, nil, transportOut, nil, nil)
}

// Close tears the session down within spec.md §4.12's 500ms budget,
// aggregating every component's teardown error with go-multierror rather
// than stopping at the first failure.
func (s *Session) Close(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel(errors.New("orchestrator: session closed"))
	}

	teardownCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	var result *multierror.Error
	if err := s.sttProc.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("sttproc close: %w", err))
	}
	if s.vadDet != nil {
		s.vadDet.Close(s.logger)
	}

	select {
	case <-s.done:
	case <-teardownCtx.Done():
		result = multierror.Append(result, errors.New("orchestrator: teardown exceeded 500ms budget"))
	}

	s.persistBreakerState(teardownCtx)

	if result != nil {
		return result.ErrorOrNil()
	}
	return nil
}

// persistBreakerState writes every fallback leg's breaker snapshot to
// deps.Breakers, best-effort — a failed write here never fails teardown,
// it only means a reconnect sees a fresh CLOSED breaker instead of the
// real last-known posture.
func (s *Session) persistBreakerState(ctx context.Context) {
	if s.deps.Breakers == nil {
		return
	}
	for name, cb := range s.sttFallback.Breakers() {
		if err := s.deps.Breakers.PutBreakerState(ctx, s.id, "stt:"+name, cb.Snapshot()); err != nil {
			s.logger.Warnw("orchestrator: persist stt breaker state failed", "provider", name, "error", err.Error())
		}
	}
	for name, cb := range s.llmFallback.Breakers() {
		if err := s.deps.Breakers.PutBreakerState(ctx, s.id, "llm:"+name, cb.Snapshot()); err != nil {
			s.logger.Warnw("orchestrator: persist llm breaker state failed", "provider", name, "error", err.Error())
		}
	}
	for name, cb := range s.ttsFallback.Breakers() {
		if err := s.deps.Breakers.PutBreakerState(ctx, s.id, "tts:"+name, cb.Snapshot()); err != nil {
			s.logger.Warnw("orchestrator: persist tts breaker state failed", "provider", name, "error", err.Error())
		}
	}
}
