// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/resilience"
)

// sessionCacheTTL bounds how long a reconnect can resume a breaker snapshot
// before it's treated as stale and a fresh CLOSED breaker is assumed —
// matches the teacher's RTPPortAllocator's use of a bounded TTL key for
// crash-recovery state rather than a key that lives forever.
const sessionCacheTTL = 10 * time.Minute

// SessionCache gives a second process instance enough state to resume a
// call's circuit-breaker posture after a reconnect (spec.md §1 "treated as
// a key-value+append-only sink"; this is the key-value half). Grounded on
// sip/infra.RTPPortAllocator's go-redis/v9 client-nil-guard and
// context-timeout idioms.
type SessionCache struct {
	client *redis.Client
	logger commons.Logger
}

// NewSessionCache wraps client. A nil client is accepted so a process can
// run with cross-instance resume disabled (single-instance deployments);
// every method degrades to a no-op/miss in that case rather than panicking.
func NewSessionCache(client *redis.Client, logger commons.Logger) *SessionCache {
	return &SessionCache{client: client, logger: logger}
}

func breakerKey(callID, port string) string {
	return fmt.Sprintf("voiceorc:breaker:%s:%s", callID, port)
}

// PutBreakerState records the current snapshot of one port's breaker for
// callID, expiring after sessionCacheTTL.
func (c *SessionCache) PutBreakerState(ctx context.Context, callID, port string, snap resilience.Snapshot) error {
	if c.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	value := fmt.Sprintf("%d|%d|%d", int(snap.State), snap.FailCount, snap.OpenedAtUTC.Unix())
	if err := c.client.Set(ctx, breakerKey(callID, port), value, sessionCacheTTL).Err(); err != nil {
		return fmt.Errorf("sink: put breaker state for call %s port %s: %w", callID, port, err)
	}
	return nil
}

// GetBreakerState returns the last recorded snapshot for callID/port, and
// false if none exists or it has expired.
func (c *SessionCache) GetBreakerState(ctx context.Context, callID, port string) (resilience.Snapshot, bool, error) {
	if c.client == nil {
		return resilience.Snapshot{}, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, breakerKey(callID, port)).Result()
	if err == redis.Nil {
		return resilience.Snapshot{}, false, nil
	}
	if err != nil {
		return resilience.Snapshot{}, false, fmt.Errorf("sink: get breaker state for call %s port %s: %w", callID, port, err)
	}

	snap, err := parseBreakerSnapshot(raw)
	if err != nil {
		c.logger.Warnw("sink: discarding malformed breaker snapshot", "call_id", callID, "port", port, "error", err.Error())
		return resilience.Snapshot{}, false, nil
	}
	return snap, true, nil
}

func parseBreakerSnapshot(raw string) (resilience.Snapshot, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != 3 {
		return resilience.Snapshot{}, fmt.Errorf("malformed snapshot %q", raw)
	}
	stateVal, err := strconv.Atoi(parts[0])
	if err != nil {
		return resilience.Snapshot{}, err
	}
	failCount, err := strconv.Atoi(parts[1])
	if err != nil {
		return resilience.Snapshot{}, err
	}
	openedAtUnix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return resilience.Snapshot{}, err
	}
	return resilience.Snapshot{
		State:       resilience.State(stateVal),
		FailCount:   failCount,
		OpenedAtUTC: time.Unix(openedAtUnix, 0).UTC(),
	}, nil
}

// ClearBreakerState removes the cached breaker snapshot for one callID/port
// pair. Session teardown does not call it; snapshots left in place expire
// after sessionCacheTTL.
func (c *SessionCache) ClearBreakerState(ctx context.Context, callID, port string) error {
	if c.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Del(ctx, breakerKey(callID, port)).Err(); err != nil {
		return fmt.Errorf("sink: clear breaker state for call %s port %s: %w", callID, port, err)
	}
	return nil
}
