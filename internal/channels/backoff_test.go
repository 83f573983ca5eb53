package channels

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompute_FirstAttemptIsInitial(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 1000, MaxMs: 30_000, Factor: 2, Jitter: 0}
	d := Compute(policy, 1)
	require.Equal(t, time.Second, d)
}

func TestCompute_DoublesPerAttemptNoJitter(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 1000, MaxMs: 30_000, Factor: 2, Jitter: 0}

	require.Equal(t, 1000*time.Millisecond, Compute(policy, 1))
	require.Equal(t, 2000*time.Millisecond, Compute(policy, 2))
	require.Equal(t, 4000*time.Millisecond, Compute(policy, 3))
	require.Equal(t, 8000*time.Millisecond, Compute(policy, 4))
}

func TestCompute_CapsAtMax(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 1000, MaxMs: 5000, Factor: 2, Jitter: 0}
	d := Compute(policy, 10)
	require.Equal(t, 5000*time.Millisecond, d)
}

func TestCompute_TreatsSubOneAttemptAsOne(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 1000, MaxMs: 30_000, Factor: 2, Jitter: 0}
	require.Equal(t, Compute(policy, 1), Compute(policy, 0))
	require.Equal(t, Compute(policy, 1), Compute(policy, -5))
}

func TestCompute_JitterStaysWithinBounds(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 1000, MaxMs: 30_000, Factor: 2, Jitter: 0.2}

	for i := 0; i < 50; i++ {
		d := Compute(policy, 3) // base 4000ms
		require.GreaterOrEqual(t, d, 3200*time.Millisecond)
		require.LessOrEqual(t, d, 4800*time.Millisecond)
	}
}

func TestDefaultBackoffPolicy_Shape(t *testing.T) {
	require.Equal(t, 1000.0, DefaultBackoffPolicy.InitialMs)
	require.Equal(t, 30_000.0, DefaultBackoffPolicy.MaxMs)
	require.Equal(t, 2.0, DefaultBackoffPolicy.Factor)
	require.Equal(t, 0.2, DefaultBackoffPolicy.Jitter)
}

func TestSleepWithAbort_ReturnsAfterDuration(t *testing.T) {
	err := SleepWithAbort(context.Background(), 5*time.Millisecond)
	require.NoError(t, err)
}

func TestSleepWithAbort_ReturnsCtxErrOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWithAbort(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
