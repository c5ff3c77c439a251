package interview

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker is refusing calls.
var ErrCircuitOpen = errors.New("interview: circuit open")

// Breaker opens after a run of consecutive failures and lets a single trial
// call through once the cooldown has elapsed. It is safe for concurrent use and
// is meant to be shared by every session talking to the same provider.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	failures int
	openedAt time.Time
	trial    bool
}

// NewBreaker returns a breaker; a non-positive threshold disables it.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (b *Breaker) Allow() error {
	if b == nil || b.threshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return nil
	}
	if b.trial || b.now().Sub(b.openedAt) < b.cooldown {
		return ErrCircuitOpen
	}
	b.trial = true
	return nil
}

func (b *Breaker) Success() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trial = false
}

func (b *Breaker) Failure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.trial = false
	if b.failures >= b.threshold {
		b.openedAt = b.now()
	}
}

// Open reports whether the breaker is currently refusing calls.
func (b *Breaker) Open() bool {
	if b == nil || b.threshold <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.threshold && (b.trial || b.now().Sub(b.openedAt) < b.cooldown)
}
