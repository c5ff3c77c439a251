package interview

import (
	"context"
	"log/slog"

	"interview-agent/internal/domain"
)

// Criticizer steers the questioner using the evaluator's feedback.
type Criticizer struct {
	agent
}

func newCriticizer(prior []domain.ChatMessage, cfg AgentConfig, retry RetryPolicy, logger *slog.Logger) (*Criticizer, error) {
	a, err := newAgent("criticizer", criticizerPersona, prior, cfg, retry, logger)
	if err != nil {
		return nil, err
	}
	return &Criticizer{agent: a}, nil
}

// Generate critiques a draft question. A ContinueSentinel evaluation asks for a topic pivot.
func (c *Criticizer) Generate(ctx context.Context, question, evaluation string) (string, error) {
	if IsContinue(evaluation) {
		return c.exchange(ctx, pivotCritiquePrompt(question))
	}
	return c.exchange(ctx, questionCritiquePrompt(question, evaluation))
}
