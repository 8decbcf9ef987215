// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package llmproc implements the LLM processor (C8) of spec.md §4.8: it
// turns one ports.LLMRequest into a cancellable chunk stream, forwarding
// chunks downstream without batching, and reacts to the control channel so
// an INTERRUPT or CANCEL_TURN matching the in-flight trace aborts the
// stream within spec.md's 100ms bound.
package llmproc

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/control"
	"github.com/rapidaai/voiceorc/internal/frame"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// Processor drives one ports.LLMPort.
type Processor struct {
	port    ports.LLMPort
	control *control.Channel
	logger  commons.Logger
}

func New(port ports.LLMPort, ctrl *control.Channel, logger commons.Logger) *Processor {
	return &Processor{port: port, control: ctrl, logger: logger}
}

// Run executes one generate_stream call and forwards every chunk (including
// the terminal one) onto out. It returns when the stream ends naturally,
// the context is cancelled, or a matching control message arrives.
//
// Spec.md §4.8: "On INTERRUPT or CANCEL_TURN whose trace_id matches the
// LLM processor's current trace_id: cancel the stream immediately ... the
// terminal chunk it emits carries finish_reason=interrupted."
func (p *Processor) Run(ctx context.Context, traceID uuid.UUID, req ports.LLMRequest, out chan<- frame.LLMChunk) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := p.port.Generate(runCtx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go p.watchControl(traceID, cancel, watchDone)

	for {
		chunk, err := stream.Recv(runCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) || runCtx.Err() != nil {
				out <- frame.NewLLMTerminalChunk(traceID, frame.FinishInterrupted)
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			out <- frame.NewLLMTerminalChunk(traceID, frame.FinishError)
			return err
		}

		select {
		case out <- chunk:
		case <-runCtx.Done():
			out <- frame.NewLLMTerminalChunk(traceID, frame.FinishInterrupted)
			return nil
		}

		if chunk.FinishReason != "" {
			return nil
		}
	}
}

// watchControl cancels the run as soon as an INTERRUPT/CANCEL_TURN for this
// trace arrives, or the caller signals the run has already ended via done.
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
