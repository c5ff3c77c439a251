package interview

import (
	"context"
	"log/slog"

	"interview-agent/internal/domain"
)

// AgentConfig wires one agent to its generation provider.
type AgentConfig struct {
	Generator Generator
	Params    domain.GenerationParams
	// Breaker is shared across sessions using the same provider. Nil disables it.
	Breaker *Breaker
}

// agent couples an exchange log with a guarded generation caller.
type agent struct {
	log    *ExchangeLog
	caller *caller
}

func newAgent(name, persona string, prior []domain.ChatMessage, cfg AgentConfig, retry RetryPolicy, logger *slog.Logger) (agent, error) {
	log, err := NewExchangeLog(persona, prior)
	if err != nil {
		return agent{}, err
	}
	return agent{
		log: log,
		caller: &caller{
			agent:   name,
			gen:     cfg.Generator,
			params:  cfg.Params,
			retry:   retry,
			breaker: cfg.Breaker,
			logger:  logger,
		},
	}, nil
}

// exchange sends the log plus prompt and records both sides only when the call succeeds.
func (a *agent) exchange(ctx context.Context, prompt string) (string, error) {
	text, err := a.caller.call(ctx, a.log.withPrompt(prompt))
	if err != nil {
		return "", err
	}
	_ = a.log.Append(domain.RoleHuman, prompt)
	_ = a.log.Append(domain.RoleAssistant, text)
	return text, nil
}

// Log returns a copy of the agent's exchange log.
func (a *agent) Log() []domain.ChatMessage {
	return a.log.Entries()
}
