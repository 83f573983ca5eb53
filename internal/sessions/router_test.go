package sessions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouter_ResolveSession(t *testing.T) {
	mgr := NewManager("")
	rt := NewRouter(mgr)

	res := rt.ResolveSession(ResolveInput{
		AgentID: "default",
		Channel: "telegram",
		Kind:    PeerDirect,
		ChatID:  "123",
		DMScope: "per-channel-peer",
	})

	require.Equal(t, "agent:default:telegram:direct:123", res.Key)
	require.NotNil(t, res.Session)
	require.True(t, res.IsNewSession)
	require.False(t, res.SystemSent)
	require.NotEmpty(t, res.Session.SessionID)
}

func TestRouter_ResolveSession_SessionIDStableAcrossCalls(t *testing.T) {
	mgr := NewManager("")
	rt := NewRouter(mgr)

	in := ResolveInput{
		AgentID: "default", Channel: "telegram", Kind: PeerDirect, ChatID: "123", DMScope: "per-channel-peer",
	}

	first := rt.ResolveSession(in)
	require.True(t, first.IsNewSession)

	second := rt.ResolveSession(in)
	require.False(t, second.IsNewSession)
	require.Equal(t, first.Key, second.Key)
	require.Equal(t, first.Session.SessionID, second.Session.SessionID)
}

func TestRouter_ResolveSession_SystemSentReflectsManagerState(t *testing.T) {
	mgr := NewManager("")
	rt := NewRouter(mgr)

	in := ResolveInput{
		AgentID: "default", Channel: "telegram", Kind: PeerDirect, ChatID: "123", DMScope: "per-channel-peer",
	}

	res := rt.ResolveSession(in)
	require.False(t, res.SystemSent)

	require.True(t, mgr.MarkSystemSent(res.Key))

	res2 := rt.ResolveSession(in)
	require.True(t, res2.SystemSent)
}

func TestRouter_WithSessionLock_SerializesSameKey(t *testing.T) {
	mgr := NewManager("")
	rt := NewRouter(mgr)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := rt.WithSessionLock(context.Background(), ResolveInput{
				AgentID: "default",
				Channel: "telegram",
				Kind:    PeerDirect,
				ChatID:  "123",
				DMScope: "per-channel-peer",
			}, func(ctx context.Context, res ResolveResult) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Len(t, order, 10)
}

func TestRouter_WithSessionLock_DistinctKeysUnblocked(t *testing.T) {
	mgr := NewManager("")
	rt := NewRouter(mgr)

	key1, err1 := rt.WithSessionLock(context.Background(), ResolveInput{
		AgentID: "default", Channel: "telegram", Kind: PeerDirect, ChatID: "1", DMScope: "per-channel-peer",
	}, func(ctx context.Context, res ResolveResult) error { return nil })
	key2, err2 := rt.WithSessionLock(context.Background(), ResolveInput{
		AgentID: "default", Channel: "telegram", Kind: PeerDirect, ChatID: "2", DMScope: "per-channel-peer",
	}, func(ctx context.Context, res ResolveResult) error { return nil })

	require.NoError(t, err1)
	require.NoError(t, err2)
	require.NotEqual(t, key1, key2)
}
