// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voiceorc/internal/commons"
)

func TestTapObserveTTFBHistograms(t *testing.T) {
	tap := NewTap(commons.NewNop())

	tap.ObserveSTTTTFBMillis(100)
	tap.ObserveSTTTTFBMillis(200)
	tap.ObserveSTTTTFBMillis(300)

	snap := tap.Snapshot()
	assert.Equal(t, int64(3), snap.STTTTFBMillis.Count)
	assert.Equal(t, int64(600), snap.STTTTFBMillis.Sum)
	assert.Equal(t, float64(200), snap.STTTTFBMillis.Mean)
}

func TestTapIncFallbackActivationPerPort(t *testing.T) {
	tap := NewTap(commons.NewNop())

	tap.IncFallbackActivation("deepgram")
	tap.IncFallbackActivation("deepgram")
	tap.IncFallbackActivation("google-stt")

	snap := tap.Snapshot()
	require.Len(t, snap.FallbackActivations, 2)
	assert.Equal(t, int64(2), snap.FallbackActivations["deepgram"])
	assert.Equal(t, int64(1), snap.FallbackActivations["google-stt"])
}

func TestTapObserveQueueDepthOverwritesGauge(t *testing.T) {
	tap := NewTap(commons.NewNop())

	tap.ObserveQueueDepth("audio-in", 5)
	tap.ObserveQueueDepth("audio-in", 12)

	snap := tap.Snapshot()
	assert.Equal(t, int64(12), snap.QueueDepths["audio-in"])
}

func TestTapConcurrentObserveIsRaceFree(t *testing.T) {
	tap := NewTap(commons.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tap.ObserveSTTTTFBMillis(int64(n))
			tap.IncFallbackActivation("deepgram")
			tap.ObserveQueueDepth("audio-in", n)
		}(i)
	}
	wg.Wait()

	snap := tap.Snapshot()
	assert.Equal(t, int64(50), snap.STTTTFBMillis.Count)
	assert.Equal(t, int64(50), snap.FallbackActivations["deepgram"])
}

func TestTapSnapshotEmptyHistogramHasZeroMean(t *testing.T) {
	tap := NewTap(commons.NewNop())
	snap := tap.Snapshot()
	assert.Equal(t, int64(0), snap.LLMTTFBMillis.Count)
	assert.Equal(t, float64(0), snap.LLMTTFBMillis.Mean)
}
