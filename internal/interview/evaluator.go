package interview

import (
	"context"
	"log/slog"
	"strings"

	"interview-agent/internal/domain"
)

// Evaluator maintains the running impression of the interviewee.
type Evaluator struct {
	agent
	evaluation string
}

func newEvaluator(prior []domain.ChatMessage, evaluation string, cfg AgentConfig, retry RetryPolicy, logger *slog.Logger) (*Evaluator, error) {
	a, err := newAgent("evaluator", evaluatorPersona, prior, cfg, retry, logger)
	if err != nil {
		return nil, err
	}
	e := &Evaluator{agent: a}
	if err := e.ReplaceEvaluation(evaluation); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateEvaluation rewrites the evaluation from the prior one and the window of recent answers.
func (e *Evaluator) UpdateEvaluation(ctx context.Context, window string) error {
	text, err := e.exchange(ctx, updateEvaluationPrompt(window, e.evaluation))
	if err != nil {
		return err
	}
	e.evaluation = text
	return nil
}

// Generate critiques the current evaluation, returning one improvement or ContinueSentinel.
func (e *Evaluator) Generate(ctx context.Context) (string, error) {
	return e.exchange(ctx, evaluationCritiquePrompt(e.evaluation))
}

func (e *Evaluator) Evaluation() string {
	return e.evaluation
}

// ReplaceEvaluation restores a checkpointed evaluation.
func (e *Evaluator) ReplaceEvaluation(text string) error {
	if strings.TrimSpace(text) == "" {
		return invalid("evaluation", "must not be empty")
	}
	e.evaluation = text
	return nil
}
