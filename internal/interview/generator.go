package interview

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"interview-agent/internal/domain"
)

// Generator is the text generation boundary shared by all agents.
type Generator interface {
	Generate(ctx context.Context, messages []domain.ChatMessage, params domain.GenerationParams) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, messages []domain.ChatMessage, params domain.GenerationParams) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, messages []domain.ChatMessage, params domain.GenerationParams) (string, error) {
	return f(ctx, messages, params)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Classify maps a provider error onto a FailureKind.
func Classify(err error) FailureKind {
	var gen *GenerationError
	if errors.As(err, &gen) {
		return gen.Kind
	}
	if errors.Is(err, ErrCircuitOpen) {
		return FailureCircuitOpen
	}
	if errors.Is(err, domain.ErrInvalidCredential) {
		return FailureInvalidCredential
	}
	if errors.Is(err, domain.ErrMalformedResponse) {
		return FailureMalformedResponse
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	var status httpStatusCoder
	if errors.As(err, &status) {
		switch code := status.HTTPStatusCode(); {
		case code == http.StatusTooManyRequests || code == 529:
			return FailureRateLimited
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return FailureInvalidCredential
		case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
			return FailureTimeout
		}
	}
	return FailureUpstream
}

// retryable reports whether another attempt could succeed.
func retryable(err error, kind FailureKind) bool {
	switch kind {
	case FailureInvalidCredential, FailureCircuitOpen:
		return false
	case FailureUpstream:
		var status httpStatusCoder
		if errors.As(err, &status) {
			code := status.HTTPStatusCode()
			return code >= 500
		}
		return true
	}
	return true
}

// RetryPolicy bounds the attempts made for one agent call.
type RetryPolicy struct {
	// Backoff is the delay before the second attempt; it doubles on each further attempt.
	Backoff time.Duration
	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// caller runs one agent's generation calls through the breaker and retry budget.
type caller struct {
	agent   string
	gen     Generator
	params  domain.GenerationParams
	retry   RetryPolicy
	breaker *Breaker
	logger  *slog.Logger
}

func (c *caller) call(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	attempts := c.params.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	var lastKind FailureKind
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := c.retry.Backoff * time.Duration(1<<(attempt-1))
			if err := c.retry.sleep(ctx, backoff); err != nil {
				return "", &GenerationError{Agent: c.agent, Kind: FailureTimeout, Attempts: attempt, Err: err}
			}
		}
		if err := c.breaker.Allow(); err != nil {
			return "", &GenerationError{Agent: c.agent, Kind: FailureCircuitOpen, Attempts: attempt, Err: err}
		}

		text, err := c.once(ctx, messages)
		if err == nil {
			c.breaker.Success()
			return text, nil
		}
		lastErr = err
		lastKind = Classify(err)
		// Cancellation by the caller is not counted against the provider.
		if ctx.Err() != nil {
			return "", &GenerationError{Agent: c.agent, Kind: lastKind, Attempts: attempt + 1, Err: err}
		}
		c.breaker.Failure()

		if !retryable(err, lastKind) {
			return "", &GenerationError{Agent: c.agent, Kind: lastKind, Attempts: attempt + 1, Err: err}
		}
		c.logger.Warn("generation attempt failed, retrying",
			"agent", c.agent,
			"attempt", attempt+1,
			"kind", string(lastKind),
			"err", err,
		)
	}
	return "", &GenerationError{Agent: c.agent, Kind: lastKind, Attempts: attempts, Err: lastErr}
}

func (c *caller) once(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	if c.params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.params.Timeout)
		defer cancel()
	}
	text, err := c.gen.Generate(ctx, messages, c.params)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.Join(domain.ErrMalformedResponse, errors.New("empty completion"))
	}
	return text, nil
}
