package interview

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(2, 30*time.Second)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Allow())
	b.Failure()
	require.NoError(t, b.Allow())
	b.Failure()
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	require.True(t, b.Open())

	now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	b.Success()
	require.False(t, b.Open())
	require.NoError(t, b.Allow())
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }

	b.Failure()
	now = now.Add(2 * time.Second)
	require.NoError(t, b.Allow())
	b.Failure()
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_NilAndDisabled(t *testing.T) {
	var b *Breaker
	require.NoError(t, b.Allow())
	b.Failure()
	b.Success()
	require.False(t, b.Open())

	disabled := NewBreaker(0, time.Second)
	disabled.Failure()
	require.NoError(t, disabled.Allow())
}
