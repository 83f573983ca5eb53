package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxRequests: 3, Window: time.Minute})

	require.True(t, rl.Check("alice"))
	require.True(t, rl.Check("alice"))
	require.True(t, rl.Check("alice"))
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxRequests: 2, Window: time.Minute})

	require.True(t, rl.Check("bob"))
	require.True(t, rl.Check("bob"))
	require.False(t, rl.Check("bob"))
	require.False(t, rl.Check("bob"))
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxRequests: 1, Window: time.Minute})

	require.True(t, rl.Check("alice"))
	require.False(t, rl.Check("alice"))
	require.True(t, rl.Check("bob"))
}

func TestRateLimiter_WindowResetsAllowsAgain(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxRequests: 1, Window: 10 * time.Millisecond})

	require.True(t, rl.Check("carol"))
	require.False(t, rl.Check("carol"))

	time.Sleep(20 * time.Millisecond)
	require.True(t, rl.Check("carol"))
}

func TestRateLimiter_BlockDurationExtendsDenialPastWindow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		MaxRequests:   1,
		Window:        5 * time.Millisecond,
		BlockDuration: 50 * time.Millisecond,
	})

	require.True(t, rl.Check("dave"))
	require.False(t, rl.Check("dave")) // trips BlockDuration

	time.Sleep(10 * time.Millisecond) // window alone would have reset by now
	require.False(t, rl.Check("dave"))

	time.Sleep(60 * time.Millisecond)
	require.True(t, rl.Check("dave"))
}

func TestRateLimiter_DefaultsAppliedForZeroFields(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})
	require.Equal(t, 30, rl.cfg.MaxRequests)
	require.Equal(t, 60*time.Second, rl.cfg.Window)
	require.Equal(t, 4096, rl.cfg.MaxTrackedKeys)
}

func TestRateLimiter_EvictsWhenAtCapacity(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxRequests: 5, Window: time.Millisecond, MaxTrackedKeys: 2})

	require.True(t, rl.Check("k1"))
	time.Sleep(2 * time.Millisecond) // let k1's window expire so it's evictable
	require.True(t, rl.Check("k2"))
	require.True(t, rl.Check("k3")) // forces eviction since we're at MaxTrackedKeys

	rl.mu.Lock()
	n := len(rl.entries)
	rl.mu.Unlock()
	require.LessOrEqual(t, n, 2)
}
