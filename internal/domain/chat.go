package domain

import (
	"fmt"
	"time"
)

// Role tags a message in an agent's exchange log.
type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleAI        Role = "ai"
	RoleUser      Role = "user"
)

// Valid reports whether r is one of the closed set of exchange roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleHuman, RoleAssistant, RoleAI, RoleUser:
		return true
	}
	return false
}

// Wire maps the role onto the three roles chat providers understand.
func (r Role) Wire() string {
	switch r {
	case RoleHuman, RoleUser:
		return "user"
	case RoleAssistant, RoleAI:
		return "assistant"
	default:
		return "system"
	}
}

// ParseRole converts a raw tag into a Role, rejecting anything outside the enumeration.
func ParseRole(raw string) (Role, error) {
	r := Role(raw)
	if !r.Valid() {
		return "", fmt.Errorf("domain: unknown role %q", raw)
	}
	return r, nil
}

// ChatMessage is the provider-agnostic chat message shape used by the agents
// and LLM integrations.
type ChatMessage struct {
	Role    Role   `json:"role" cbor:"1,keyasint"`
	Content string `json:"content" cbor:"2,keyasint"`
}

// GenerationParams are the per-call knobs passed to a text generation provider.
type GenerationParams struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}
