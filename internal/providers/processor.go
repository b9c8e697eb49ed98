package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/skillpress/skillpress/internal/stage"
	"github.com/skillpress/skillpress/internal/unit"
)

// StageProcessor adapts a Provider to the executor's per-stage
// processing contract: it renders the stage's prompt template around
// the unit text and returns the raw completion.
type StageProcessor struct {
	Provider Provider
	Limiter  *RateLimiter
}

// NewStageProcessor wraps a provider with optional rate limiting.
func NewStageProcessor(p Provider, limiter *RateLimiter) *StageProcessor {
	return &StageProcessor{Provider: p, Limiter: limiter}
}

// Process renders the prompt and invokes the provider.
func (s *StageProcessor) Process(ctx context.Context, u unit.Unit, cfg stage.Config) (string, error) {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return "", stage.Transient(err)
		}
	}

	prompt := u.RawText
	if tpl := strings.TrimSpace(cfg.PromptTemplate); tpl != "" {
		prompt = fmt.Sprintf(tpl, u.RawText)
	}

	resp, err := s.Provider.Process(ctx, &Request{
		System: cfg.SystemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
