// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package orchestrator

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/fsm"
	"github.com/rapidaai/voiceorc/internal/ports"
	"github.com/rapidaai/voiceorc/internal/registry"
	"github.com/rapidaai/voiceorc/internal/vad"
)

// ---------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------

// fakeScorer drains a scripted queue of speech-probability scores, one per
// Feed call, so tests can drive the VAD confirmation window deterministically.
type fakeScorer struct {
	mu     sync.Mutex
	scores []float64
}

func (f *fakeScorer) Score(pcm []byte, sampleRate int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scores) == 0 {
		return 0, nil
	}
	s := f.scores[0]
	f.scores = f.scores[1:]
	return s, nil
}

func (f *fakeScorer) Close() error { return nil }

func pushScores(s *fakeScorer, scores ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, scores...)
}

type fakeSTTStream struct {
	mu        sync.Mutex
	queue     []frame.TextFrame
	closeSend bool
	closed    bool
}

func (s *fakeSTTStream) push(tf frame.TextFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, tf)
}

func (s *fakeSTTStream) Send(ctx context.Context, chunk ports.AudioChunk) error { return nil }

func (s *fakeSTTStream) Recv(ctx context.Context) (frame.TextFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return frame.TextFrame{}, io.EOF
	}
	tf := s.queue[0]
	s.queue = s.queue[1:]
	return tf, nil
}

func (s *fakeSTTStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeSend = true
	return nil
}

func (s *fakeSTTStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeSTTPort struct {
	mu      sync.Mutex
	streams []*fakeSTTStream
	next    int
}

func (p *fakeSTTPort) Name() string { return "fake-stt" }

func (p *fakeSTTPort) Start(ctx context.Context, opts ports.STTOptions) (ports.STTStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.streams[p.next]
	p.next++
	return s, nil
}

type fakeLLMStream struct {
	mu     sync.Mutex
	chunks []frame.LLMChunk
	delay  time.Duration
}

func (s *fakeLLMStream) Recv(ctx context.Context) (frame.LLMChunk, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return frame.LLMChunk{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return frame.LLMChunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *fakeLLMStream) Close() error { return nil }

type fakeLLMPort struct {
	stream *fakeLLMStream
}

func (p *fakeLLMPort) Name() string { return "fake-llm" }
func (p *fakeLLMPort) Generate(ctx context.Context, req ports.LLMRequest) (ports.LLMStream, error) {
	return p.stream, nil
}

type fakeTTSStream struct {
	mu     sync.Mutex
	frames []frame.AudioFrame
}

func (s *fakeTTSStream) Recv(ctx context.Context) (frame.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return frame.AudioFrame{}, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *fakeTTSStream) Close() error { return nil }

type fakeTTSPort struct {
	mu       sync.Mutex
	requests []ports.TTSRequest
}

func (p *fakeTTSPort) Name() string { return "fake-tts" }
func (p *fakeTTSPort) Synthesize(ctx context.Context, req ports.TTSRequest) (ports.TTSStream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return &fakeTTSStream{frames: []frame.AudioFrame{
		frame.NewAudioFrame(uuid.New(), []byte{0, 0, 0, 0}, 16000, frame.ChannelBot),
	}}, nil
}

type fakeConfigRepo struct {
	cfg ports.ConfigSnapshot
}

func (r *fakeConfigRepo) Load(ctx context.Context, callID string) (ports.ConfigSnapshot, error) {
	return r.cfg, nil
}

type fakeToolPort struct{}

func (fakeToolPort) Invoke(ctx context.Context, name string, argumentsJSON string) (ports.ToolResult, error) {
	return ports.ToolResult{ResultJSON: `{"ok":true}`}, nil
}

type fakeTurnSink struct {
	mu      sync.Mutex
	records []TurnRecord
	sig     chan struct{}
}

func newFakeTurnSink() *fakeTurnSink { return &fakeTurnSink{sig: make(chan struct{}, 8)} }

func (s *fakeTurnSink) AppendTurn(ctx context.Context, rec TurnRecord) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	select {
	case s.sig <- struct{}{}:
	default:
	}
	return nil
}

type fakeMetricsSink struct{}

func (fakeMetricsSink) ObserveSTTTTFBMillis(ms int64)          {}
func (fakeMetricsSink) ObserveLLMTTFBMillis(ms int64)          {}
func (fakeMetricsSink) ObserveTTSTTFBMillis(ms int64)          {}
func (fakeMetricsSink) ObserveTurnTotalMillis(ms int64)        {}
func (fakeMetricsSink) IncFallbackActivation(port string)      {}
func (fakeMetricsSink) ObserveQueueDepth(name string, d int)   {}
func (fakeMetricsSink) ObserveInterruptLatencyMillis(ms int64) {}

// ---------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------

func baseConfig() ports.ConfigSnapshot {
	return ports.ConfigSnapshot{
		CallID:               "call-1",
		LLMProvider:          "fake",
		STTProvider:          "fake",
		TTSProvider:          "fake",
		SystemPrompt:         "you are a helpful assistant",
		IdleTimeoutMS:        60_000,
		InactivityMaxRetries: 5,
		VADThreshold:         0.5,
		InterruptionEnabled:  true,
	}
}

func newTestDeps(t *testing.T, cfg ports.ConfigSnapshot, scorer *fakeScorer, stt *fakeSTTPort, llm *fakeLLMPort, tts *fakeTTSPort, sink TurnSink) Dependencies {
	t.Helper()
	reg := registry.New()
	reg.RegisterSTT("fake", func(ctx context.Context, snap ports.ConfigSnapshot) (ports.STTPort, error) { return stt, nil })
	reg.RegisterLLM("fake", func(ctx context.Context, snap ports.ConfigSnapshot) (ports.LLMPort, error) { return llm, nil })
	reg.RegisterTTS("fake", func(ctx context.Context, snap ports.ConfigSnapshot) (ports.TTSPort, error) { return tts, nil })

	return Dependencies{
		Registry:   reg,
		ConfigRepo: &fakeConfigRepo{cfg: cfg},
		Tools:      fakeToolPort{},
		Sink:       sink,
		Metrics:    fakeMetricsSink{},
		Logger:     commons.NewNop(),
		VADScorerFactory: func() (vad.FrameScorer, error) { return scorer, nil },
	}
}

func silentAudioFrame() frame.AudioFrame {
	return frame.NewAudioFrame(uuid.New(), make([]byte, 640), 16000, frame.ChannelUser)
}

// ---------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------

func TestNewSessionConstructsPipeline(t *testing.T) {
	scorer := &fakeScorer{}
	stt := &fakeSTTPort{streams: []*fakeSTTStream{{}}}
	llm := &fakeLLMPort{stream: &fakeLLMStream{}}
	tts := &fakeTTSPort{}

	deps := newTestDeps(t, baseConfig(), scorer, stt, llm, tts, newFakeTurnSink())
	sess, err := NewSession(context.Background(), "call-1", deps)
	require.NoError(t, err)
	assert.Equal(t, fsm.IDLE, sess.fsm.State())
	assert.NotNil(t, sess.ctxAgg)
}

func TestNewSessionRequiresVADScorerFactory(t *testing.T) {
	cfg := baseConfig()
	reg := registry.New()
	reg.RegisterSTT("fake", func(ctx context.Context, snap ports.ConfigSnapshot) (ports.STTPort, error) {
		return &fakeSTTPort{streams: []*fakeSTTStream{{}}}, nil
	})
	reg.RegisterLLM("fake", func(ctx context.Context, snap ports.ConfigSnapshot) (ports.LLMPort, error) {
		return &fakeLLMPort{stream: &fakeLLMStream{}}, nil
	})
	reg.RegisterTTS("fake", func(ctx context.Context, snap ports.ConfigSnapshot) (ports.TTSPort, error) {
		return &fakeTTSPort{}, nil
	})
	deps := Dependencies{Registry: reg, ConfigRepo: &fakeConfigRepo{cfg: cfg}, Tools: fakeToolPort{}, Logger: commons.NewNop()}

	_, err := NewSession(context.Background(), "call-1", deps)
	assert.Error(t, err)
}

func TestRunSpeaksBootstrapMessageThenIdles(t *testing.T) {
	cfg := baseConfig()
	cfg.FirstMessageMode = ports.FirstMessageSpeakFirst
	cfg.FirstMessage = "hello there"

	scorer := &fakeScorer{}
	stt := &fakeSTTPort{streams: []*fakeSTTStream{{}}}
	llm := &fakeLLMPort{stream: &fakeLLMStream{}}
	tts := &fakeTTSPort{}

	deps := newTestDeps(t, cfg, scorer, stt, llm, tts, newFakeTurnSink())
	sess, err := NewSession(context.Background(), "call-1", deps)
	require.NoError(t, err)

	audioIn := make(chan frame.AudioFrame)
	transportOut := make(chan frame.AudioFrame, 16)
	close(audioIn)

	runErr := sess.Run(context.Background(), audioIn, transportOut)
	require.NoError(t, runErr)

	select {
	case <-transportOut:
	default:
		t.Fatal("expected at least one synthesized audio frame from the bootstrap message")
	}
	assert.Len(t, tts.requests, 1)
	assert.Equal(t, "hello there", tts.requests[0].Text)
}

func TestFullTurnHappyPath(t *testing.T) {
	cfg := baseConfig()
	cfg.SilenceThresholdMS = 40 // 2 frames at 20ms each

	scorer := &fakeScorer{}
	sttStream := &fakeSTTStream{}
	sttStream.push(frame.NewTextFrame(uuid.New(), "hello world", false))
	stt := &fakeSTTPort{streams: []*fakeSTTStream{sttStream}}

	trace := uuid.New()
	llmStream := &fakeLLMStream{chunks: []frame.LLMChunk{
		frame.NewLLMContentChunk(trace, "hi "),
		frame.NewLLMContentChunk(trace, "there."),
		frame.NewLLMTerminalChunk(trace, frame.FinishStop),
	}}
	llm := &fakeLLMPort{stream: llmStream}
	tts := &fakeTTSPort{}
	sink := newFakeTurnSink()

	deps := newTestDeps(t, cfg, scorer, stt, llm, tts, sink)
	sess, err := NewSession(context.Background(), "call-1", deps)
	require.NoError(t, err)

	audioIn := make(chan frame.AudioFrame)
	transportOut := make(chan frame.AudioFrame, 64)

	runDone := make(chan error, 1)
	go func() { runDone <- sess.Run(context.Background(), audioIn, transportOut) }()

	// 10 voiced frames confirm UserStartedSpeaking (ConfirmationWindow default
	// 200ms / 20ms frames). A few more voiced frames simulate ongoing speech,
	// then 2 silent frames confirm UserStoppedSpeaking (SilenceThresholdMS=40ms).
	pushScores(scorer, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0)
	for i := 0; i < 14; i++ {
		audioIn <- silentAudioFrame()
	}

	select {
	case <-sink.sig:
	case <-time.After(2 * time.Second):
		t.Fatal("turn was never appended to the sink")
	}

	close(audioIn)
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after audioIn closed")
	}

	sink.mu.Lock()
	require.Len(t, sink.records, 1)
	assert.Equal(t, "hello world", sink.records[0].UserText)
	sink.mu.Unlock()

	assert.NotEmpty(t, tts.requests)
	assert.Equal(t, "hi there.", tts.requests[0].Text)

	// A committed, uninterrupted turn must round-trip through SPEAKING and
	// land back on LISTENING, not get stuck in THINKING.
	assert.Equal(t, fsm.LISTENING, sess.fsm.State())
}

func TestBargeInPublishesInterruptAndOpensFreshSTTSession(t *testing.T) {
	cfg := baseConfig()

	scorer := &fakeScorer{}
	stt := &fakeSTTPort{streams: []*fakeSTTStream{{}, {}}}
	llm := &fakeLLMPort{stream: &fakeLLMStream{}}
	tts := &fakeTTSPort{}

	deps := newTestDeps(t, cfg, scorer, stt, llm, tts, newFakeTurnSink())
	sess, err := NewSession(context.Background(), "call-1", deps)
	require.NoError(t, err)

	sess.fsm.Apply(fsm.EventSessionStart)
	sess.fsm.Apply(fsm.EventUserStartedSpeaking)
	sess.fsm.Apply(fsm.EventUserStoppedSpeakingNonEmpty)
	require.Equal(t, fsm.THINKING, sess.fsm.State())

	oldTrace := uuid.New()
	sess.currentTrace = oldTrace

	transportOut := make(chan frame.AudioFrame, 4)
	sess.bargeIn(context.Background(), transportOut)

	assert.Equal(t, fsm.LISTENING, sess.fsm.State())
	assert.NotEqual(t, oldTrace, sess.currentTrace)
	require.NotNil(t, sess.sttSession)

	select {
	case msg := <-sess.llmCtrl.Recv():
		assert.Equal(t, oldTrace, msg.TraceID)
	default:
		t.Fatal("expected an INTERRUPT control message for the in-flight turn")
	}
}
