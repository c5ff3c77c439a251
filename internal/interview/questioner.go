package interview

import (
	"context"
	"log/slog"
	"strings"

	"interview-agent/internal/domain"
)

// Questioner asks the interview questions.
type Questioner struct {
	agent
}

func newQuestioner(prior []domain.ChatMessage, cfg AgentConfig, retry RetryPolicy, logger *slog.Logger) (*Questioner, error) {
	a, err := newAgent("questioner", questionerPersona, prior, cfg, retry, logger)
	if err != nil {
		return nil, err
	}
	return &Questioner{agent: a}, nil
}

// Generate produces the next question. With no response it opens the interview
// with the fixed greeting. Without a critique it drafts a broadening follow-up.
// With a critique it rewords the last drafted question.
func (q *Questioner) Generate(ctx context.Context, response, critique string) (string, error) {
	if IsStart(response) {
		return q.Open(response), nil
	}
	if strings.TrimSpace(critique) == "" {
		return q.exchange(ctx, draftQuestionPrompt(response))
	}
	return q.exchange(ctx, rewordQuestionPrompt(response, q.lastQuestion(), critique))
}

// Open records the start input and returns the fixed greeting.
func (q *Questioner) Open(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		input = StartSentinel
	}
	_ = q.log.Append(domain.RoleHuman, input)
	_ = q.log.Append(domain.RoleAssistant, Greeting)
	return Greeting
}

func (q *Questioner) lastQuestion() string {
	entries := q.log.entries
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role.Wire() == "assistant" {
			return entries[i].Content
		}
	}
	return ""
}
