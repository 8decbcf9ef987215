// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package sttproc implements the STT processor (C6) of spec.md §4.6: it
// keeps one STTPort session open for the duration of a user turn, routes
// inbound audio into it, and forwards emitted text frames downstream. On an
// eager re-session (barge-in) the previous stream is closed in the
// background, and each session's frames are pumped by its own goroutine.
package sttproc

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// Config tunes the processor per spec.md §4.6 and §6.
type Config struct {
	Language               string
	SampleRate             int
	FinalWaitTimeout       time.Duration // bounded wait for the final frame after CloseSend (default 1s)
	HallucinationBlacklist []string
	SuppressStaleFinals    bool // Open Question #1 decision, DESIGN.md
}

// Processor owns the STT session lifecycle for one call.
type Processor struct {
	port ports.STTPort
	cfg  Config
	logger commons.Logger

	mu          sync.Mutex
	current     ports.STTStream
	currentTrace uuid.UUID
}

func New(port ports.STTPort, cfg Config, logger commons.Logger) *Processor {
	if cfg.FinalWaitTimeout == 0 {
		cfg.FinalWaitTimeout = time.Second
	}
	return &Processor{port: port, cfg: cfg, logger: logger}
}

// Session is a single open turn's STT pipe: feed audio in via Feed, read
// text frames out via Out.
type Session struct {
	stream  ports.STTStream
	traceID uuid.UUID
	out     chan frame.TextFrame
	errc    chan error
}

// StartTurn opens a fresh STT session for traceID (spec.md §4.6 "Maintains
// an open streaming session ... for the duration of a user turn"). If a
// prior session for an older trace is still open and SuppressStaleFinals is
// set, its output is discarded (Open Question #1, DESIGN.md).
func (p *Processor) StartTurn(ctx context.Context, traceID uuid.UUID) (*Session, error) {
	stream, err := p.port.Start(ctx, ports.STTOptions{Language: p.cfg.Language, SampleRate: p.cfg.SampleRate})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	prev := p.current
	p.current = stream
	p.currentTrace = traceID
	p.mu.Unlock()

	if prev != nil && p.cfg.SuppressStaleFinals {
		go func() { _ = prev.Close() }()
	}

	sess := &Session{stream: stream, traceID: traceID, out: make(chan frame.TextFrame, 8), errc: make(chan error, 1)}
	go p.pump(ctx, sess)
	return sess, nil
}

func (p *Processor) pump(ctx context.Context, sess *Session) {
	defer close(sess.out)
	for {
		tf, err := sess.stream.Recv(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case sess.errc <- err:
				default:
				}
			}
			return
		}

		p.mu.Lock()
		isCurrent := p.currentTrace == sess.traceID
		p.mu.Unlock()
		if !isCurrent && p.cfg.SuppressStaleFinals {
			continue // stale trace: discarded per Open Question #1 decision
		}

		if !tf.IsPartial && p.isBlacklisted(tf.Text) {
			p.logger.Infow("sttproc: dropped hallucinated final", "text", tf.Text)
			continue
		}
		// Re-key onto the session's trace: adapters emit frames without one.
		tf = frame.NewTextFrame(sess.traceID, tf.Text, tf.IsPartial)
		sess.out <- tf
	}
}

func (p *Processor) isBlacklisted(text string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(text))
	for _, b := range p.cfg.HallucinationBlacklist {
		if trimmed == strings.ToLower(strings.TrimSpace(b)) {
			return true
		}
	}
	return false
}

// Out yields text frames emitted during the turn, all stamped with
// sess.traceID (spec.md §8 "every TextFrame it emits has trace_id = t").
func (s *Session) Out() <-chan frame.TextFrame { return s.out }

// Feed routes one inbound AudioFrame into the open session.
func (s *Session) Feed(ctx context.Context, af frame.AudioFrame) error {
	return s.stream.Send(ctx, ports.AudioChunk{PCM: af.PCM, SampleRate: af.SampleRate})
}

// CloseAndAwaitFinal implements spec.md §4.6's UserStoppedSpeaking handler:
// close the input side, wait (bounded) for the final frame, then tear the
// session down. Returns the final transcript text (possibly empty).
func (p *Processor) CloseAndAwaitFinal(ctx context.Context, sess *Session) string {
	_ = sess.stream.CloseSend()

	timeout := time.NewTimer(p.cfg.FinalWaitTimeout)
	defer timeout.Stop()

	final := ""
	for {
		select {
		case tf, ok := <-sess.out:
			if !ok {
				return final
			}
			if !tf.IsPartial {
				final = tf.Text
			}
		case <-timeout.C:
			_ = sess.stream.Close()
			return final
		case <-ctx.Done():
			_ = sess.stream.Close()
			return final
		}
	}
}

// Close tears the session down immediately (used on emergency stop /
// transport close). Idempotent per spec.md §4.2's STTPort contract.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return p.current.Close()
}
