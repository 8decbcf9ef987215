// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/resilience"
)

func TestSessionCachePutAndGetBreakerState(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewSessionCache(client, commons.NewNop())

	snap := resilience.Snapshot{State: resilience.CircuitBreakerOpen, FailCount: 3, OpenedAtUTC: time.Unix(1700000000, 0).UTC()}
	value := "1|3|1700000000"

	mock.ExpectSet(breakerKey("call-1", "stt"), value, sessionCacheTTL).SetVal("OK")
	err := cache.PutBreakerState(context.Background(), "call-1", "stt", snap)
	require.NoError(t, err)

	mock.ExpectGet(breakerKey("call-1", "stt")).SetVal(value)
	got, ok, err := cache.GetBreakerState(context.Background(), "call-1", "stt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap, got)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCacheGetBreakerStateMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewSessionCache(client, commons.NewNop())

	mock.ExpectGet(breakerKey("call-2", "tts")).RedisNil()
	_, ok, err := cache.GetBreakerState(context.Background(), "call-2", "tts")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionCacheGetBreakerStateMalformedDiscarded(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewSessionCache(client, commons.NewNop())

	mock.ExpectGet(breakerKey("call-3", "llm")).SetVal("not-a-valid-snapshot")
	_, ok, err := cache.GetBreakerState(context.Background(), "call-3", "llm")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionCacheGetBreakerStateError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewSessionCache(client, commons.NewNop())

	mock.ExpectGet(breakerKey("call-4", "llm")).SetErr(errors.New("connection refused"))
	_, ok, err := cache.GetBreakerState(context.Background(), "call-4", "llm")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestSessionCacheClearBreakerState(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewSessionCache(client, commons.NewNop())

	mock.ExpectDel(breakerKey("call-5", "stt")).SetVal(1)
	err := cache.ClearBreakerState(context.Background(), "call-5", "stt")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCacheNilClientIsNoop(t *testing.T) {
	cache := NewSessionCache(nil, commons.NewNop())

	require.NoError(t, cache.PutBreakerState(context.Background(), "call-6", "stt", resilience.Snapshot{}))
	_, ok, err := cache.GetBreakerState(context.Background(), "call-6", "stt")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, cache.ClearBreakerState(context.Background(), "call-6", "stt"))
}
