package interview

import (
	"fmt"
	"slices"

	"interview-agent/internal/domain"
)

// ExchangeLog is one agent's private, append-only prompting context.
type ExchangeLog struct {
	entries []domain.ChatMessage
}

// NewExchangeLog rehydrates a log from prior entries. The persona is seeded as
// the first system message only when there are no prior entries.
func NewExchangeLog(persona string, prior []domain.ChatMessage) (*ExchangeLog, error) {
	for i, m := range prior {
		if !m.Role.Valid() {
			return nil, invalid(fmt.Sprintf("log entry %d role", i), fmt.Sprintf("unknown role %q", m.Role))
		}
	}
	l := &ExchangeLog{entries: slices.Clone(prior)}
	if len(l.entries) == 0 {
		if err := l.Append(domain.RoleSystem, persona); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Append adds one entry. An unknown role leaves the log untouched.
func (l *ExchangeLog) Append(role domain.Role, content string) error {
	if !role.Valid() {
		return invalid("role", fmt.Sprintf("unknown role %q", role))
	}
	l.entries = append(l.entries, domain.ChatMessage{Role: role, Content: content})
	return nil
}

// AppendRaw validates a raw role tag before appending.
func (l *ExchangeLog) AppendRaw(role, content string) error {
	r, err := domain.ParseRole(role)
	if err != nil {
		return invalid("role", err.Error())
	}
	return l.Append(r, content)
}

func (l *ExchangeLog) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the log.
func (l *ExchangeLog) Entries() []domain.ChatMessage {
	return slices.Clone(l.entries)
}

// withPrompt returns the log followed by a pending human prompt, without mutating the log.
func (l *ExchangeLog) withPrompt(prompt string) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(l.entries)+1)
	out = append(out, l.entries...)
	return append(out, domain.ChatMessage{Role: domain.RoleHuman, Content: prompt})
}
