package interview

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"interview-agent/internal/domain"
)

type fakeGenerator struct {
	mu    sync.Mutex
	name  string
	calls [][]domain.ChatMessage
	reply func(call int, msgs []domain.ChatMessage) (string, error)
}

func newFakeGenerator(name string) *fakeGenerator {
	return &fakeGenerator{name: name}
}

func (f *fakeGenerator) Generate(_ context.Context, msgs []domain.ChatMessage, _ domain.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]domain.ChatMessage(nil), msgs...))
	if f.reply != nil {
		return f.reply(len(f.calls), msgs)
	}
	return fmt.Sprintf("%s reply %d", f.name, len(msgs)), nil
}

func (f *fakeGenerator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// lastPrompt is the pending prompt of the most recent call.
func (f *fakeGenerator) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	msgs := f.calls[len(f.calls)-1]
	return msgs[len(msgs)-1].Content
}

func (f *fakeGenerator) prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, msgs := range f.calls {
		out = append(out, msgs[len(msgs)-1].Content)
	}
	return out
}

type statusErr struct {
	code int
}

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

type agents struct {
	questioner *fakeGenerator
	evaluator  *fakeGenerator
	criticizer *fakeGenerator
}

func newAgents() agents {
	return agents{
		questioner: newFakeGenerator("questioner"),
		evaluator:  newFakeGenerator("evaluator"),
		criticizer: newFakeGenerator("criticizer"),
	}
}

func (a agents) total() int {
	return a.questioner.count() + a.evaluator.count() + a.criticizer.count()
}

func testConfig(a agents, budget int) Config {
	params := domain.GenerationParams{Temperature: 1, MaxTokens: 1024}
	return Config{
		Threshold:  3,
		TurnBudget: budget,
		Questioner: AgentConfig{Generator: a.questioner, Params: params},
		Evaluator:  AgentConfig{Generator: a.evaluator, Params: params},
		Criticizer: AgentConfig{Generator: a.criticizer, Params: params},
		Retry:      RetryPolicy{Sleep: noSleep},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestOrchestrator(t *testing.T, a agents, budget int) *Orchestrator {
	t.Helper()
	o, err := New(testConfig(a, budget), nil)
	require.NoError(t, err)
	return o
}

func isUpdatePrompt(p string) bool {
	return strings.HasPrefix(p, "Here are the latest responses from the user:")
}
