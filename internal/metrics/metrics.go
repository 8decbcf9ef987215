// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package metrics implements the non-blocking counter tap spec.md §9/§13
// push out of the orchestrator's hot path: one process-wide Tap, shared
// across every call session via orchestrator.Dependencies.Metrics, recording
// TTFB/turn-latency histograms, fallback activation counts, per-queue depth
// gauges and interrupt latency. Counters are atomic; the only lock a
// producer takes is a short per-histogram mutex around the sample reservoir.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rapidaai/voiceorc/internal/commons"
)

// histogram is a running aggregate: atomic count and sum, plus a bounded
// reservoir of the most recent samples for percentile reporting, guarded by
// mu. Sized
// small enough that Snapshot's copy is cheap and the reservoir never grows
// unbounded under sustained load.
type histogram struct {
	count   atomic.Int64
	sum     atomic.Int64
	mu      sync.Mutex
	samples []int64
}

const histogramReservoirSize = 256

func (h *histogram) observe(v int64) {
	n := h.count.Add(1)
	h.sum.Add(v)

	h.mu.Lock()
	if len(h.samples) < histogramReservoirSize {
		h.samples = append(h.samples, v)
	} else {
		// Sample n (1-based) overwrites sample n-256, the oldest one kept.
		h.samples[int((n-1)%histogramReservoirSize)] = v
	}
	h.mu.Unlock()
}

// HistogramSnapshot is a point-in-time read of a histogram's aggregate
// state, safe to copy and hand to a reporting goroutine.
type HistogramSnapshot struct {
	Count int64
	Sum   int64
	Mean  float64
	P50   int64
	P95   int64
}

func (h *histogram) snapshot() HistogramSnapshot {
	count := h.count.Load()
	sum := h.sum.Load()
	snap := HistogramSnapshot{Count: count, Sum: sum}
	if count > 0 {
		snap.Mean = float64(sum) / float64(count)
	}

	h.mu.Lock()
	samples := append([]int64(nil), h.samples...)
	h.mu.Unlock()

	if len(samples) == 0 {
		return snap
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	snap.P50 = percentile(samples, 0.50)
	snap.P95 = percentile(samples, 0.95)
	return snap
}

func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// Tap implements orchestrator.MetricsSink with process-wide, lock-light
// counters. Every Observe/Inc call is safe to invoke from the hot path: the
// slow path (sorting samples for percentiles) only runs under Snapshot,
// which is called by a reporting goroutine, never by a call session.
type Tap struct {
	logger commons.Logger

	sttTTFB      histogram
	llmTTFB      histogram
	ttsTTFB      histogram
	turnTotal    histogram
	interruptLat histogram

	fallbacks sync.Map // port string -> *atomic.Int64
	queues    sync.Map // queue name string -> *atomic.Int64
}

// NewTap constructs a Tap. logger is used only for Snapshot-triggered
// reporting, never on the Observe/Inc hot path.
func NewTap(logger commons.Logger) *Tap {
	return &Tap{logger: logger}
}

func (t *Tap) ObserveSTTTTFBMillis(ms int64)      { t.sttTTFB.observe(ms) }
func (t *Tap) ObserveLLMTTFBMillis(ms int64)      { t.llmTTFB.observe(ms) }
func (t *Tap) ObserveTTSTTFBMillis(ms int64)      { t.ttsTTFB.observe(ms) }
func (t *Tap) ObserveTurnTotalMillis(ms int64)    { t.turnTotal.observe(ms) }
func (t *Tap) ObserveInterruptLatencyMillis(ms int64) { t.interruptLat.observe(ms) }

// IncFallbackActivation increments the activation count for port, the name
// of the fallback leg that was just invoked (spec.md §8 "fallback_activations
// counted per provider").
func (t *Tap) IncFallbackActivation(port string) {
	counter := t.counterFor(&t.fallbacks, port)
	counter.Add(1)
}

// ObserveQueueDepth records the current depth of the named inter-processor
// queue as a gauge, overwriting the previous value (spec.md §5 bounded
// queues; §13 "queue_depth" is sampled, not summed).
func (t *Tap) ObserveQueueDepth(name string, depth int) {
	counter := t.counterFor(&t.queues, name)
	counter.Store(int64(depth))
}

func (t *Tap) counterFor(m *sync.Map, key string) *atomic.Int64 {
	if v, ok := m.Load(key); ok {
		return v.(*atomic.Int64)
	}
	counter := &atomic.Int64{}
	actual, _ := m.LoadOrStore(key, counter)
	return actual.(*atomic.Int64)
}

// Snapshot is a full, point-in-time read of every counter the Tap holds.
// Intended for a periodic reporter or a debug HTTP handler, never for the
// call hot path.
type Snapshot struct {
	STTTTFBMillis      HistogramSnapshot
	LLMTTFBMillis      HistogramSnapshot
	TTSTTFBMillis      HistogramSnapshot
	TurnTotalMillis    HistogramSnapshot
	InterruptLatencyMillis HistogramSnapshot
	FallbackActivations map[string]int64
	QueueDepths         map[string]int64
}

func (t *Tap) Snapshot() Snapshot {
	snap := Snapshot{
		STTTTFBMillis:          t.sttTTFB.snapshot(),
		LLMTTFBMillis:          t.llmTTFB.snapshot(),
		TTSTTFBMillis:          t.ttsTTFB.snapshot(),
		TurnTotalMillis:        t.turnTotal.snapshot(),
		InterruptLatencyMillis: t.interruptLat.snapshot(),
		FallbackActivations:    map[string]int64{},
		QueueDepths:            map[string]int64{},
	}
	t.fallbacks.Range(func(k, v any) bool {
		snap.FallbackActivations[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	t.queues.Range(func(k, v any) bool {
		snap.QueueDepths[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return snap
}

// LogSnapshot writes the current Snapshot as one structured log line. Meant
// to be called on a timer by the process entrypoint, not per-call.
func (t *Tap) LogSnapshot() {
	snap := t.Snapshot()
	t.logger.Infow("metrics: snapshot",
		"stt_ttfb_ms_p50", snap.STTTTFBMillis.P50,
		"stt_ttfb_ms_p95", snap.STTTTFBMillis.P95,
		"llm_ttfb_ms_p50", snap.LLMTTFBMillis.P50,
		"llm_ttfb_ms_p95", snap.LLMTTFBMillis.P95,
		"tts_ttfb_ms_p50", snap.TTSTTFBMillis.P50,
		"tts_ttfb_ms_p95", snap.TTSTTFBMillis.P95,
		"turn_total_ms_p50", snap.TurnTotalMillis.P50,
		"turn_total_ms_p95", snap.TurnTotalMillis.P95,
		"interrupt_latency_ms_p50", snap.InterruptLatencyMillis.P50,
		"fallback_activations", snap.FallbackActivations,
		"queue_depths", snap.QueueDepths,
	)
}
