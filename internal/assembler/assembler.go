// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package assembler renders the per-call system prompt injected into
// ConversationContext (spec.md §4.7), templating tone/formality/pacing
// directives around the operator-authored base prompt with
// github.com/flosch/pongo2/v6 rather than ad hoc string concatenation.
package assembler

import (
	"fmt"

	"github.com/flosch/pongo2/v6"

	"github.com/rapidaai/voiceorc/internal/ports"
)

const promptTemplate = `{{ system_prompt }}
{% if response_length %}Keep responses {{ response_length }}.
{% endif %}{% if tone %}Use a {{ tone }} tone.
{% endif %}{% if formality %}Be {{ formality }}.
{% endif %}{% if pacing %}Speak at a {{ pacing }} pace.
{% endif %}`

// PromptAssembler renders ConfigSnapshot fields into one system prompt.
// New compiles the template with pongo2.FromString on each call and Render
// only substitutes context values afterwards; orchestrator.NewSession builds
// one per call.
type PromptAssembler struct {
	tpl *pongo2.Template
}

// New compiles the prompt template. The template is a package constant, so
// a non-nil error here indicates a bug in promptTemplate itself, not bad
// per-call input.
func New() (*PromptAssembler, error) {
	tpl, err := pongo2.FromString(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("assembler: compile prompt template: %w", err)
	}
	return &PromptAssembler{tpl: tpl}, nil
}

// Render produces the final system prompt for one call (spec.md §6 "tone,
// formality, pacing" injected alongside the operator's base SystemPrompt).
func (p *PromptAssembler) Render(cfg ports.ConfigSnapshot) (string, error) {
	out, err := p.tpl.Execute(pongo2.Context{
		"system_prompt":   cfg.SystemPrompt,
		"response_length": cfg.ResponseLength,
		"tone":            cfg.Tone,
		"formality":       cfg.Formality,
		"pacing":          string(cfg.Pacing),
	})
	if err != nil {
		return "", fmt.Errorf("assembler: render system prompt: %w", err)
	}
	return out, nil
}
