package sessions

import (
	"context"
	"sync"
)

// ResolveInput bundles everything resolveSession needs to derive a canonical session
// key and hand back the durable Session for it, so a transport adapter (or the cmd
// gateway consumer) never builds the key itself.
type ResolveInput struct {
	AgentID   string
	Channel   string
	Kind      PeerKind
	ChatID    string
	Scope     string // "global" or "per-sender"
	DMScope   string // "main", "per-peer", "per-channel-peer", "per-account-channel-peer"
	MainKey   string
	AccountID string // multi-account id, only consulted for dmScope="per-account-channel-peer"
}

// Router ties session-key construction (key.go) to the in-memory/durable Manager and
// enforces per-key FIFO ordering: two inbound events for the same session key are
// processed one at a time, in arrival order, even if dispatched from different
// goroutines — mirroring internal/channels/manager.go's per-run tracking (sync.Map
// keyed by an identifier) but keyed by session key and guarding a critical section
// instead of just recording metadata.
type Router struct {
	manager *Manager
	queues  sync.Map // session key string -> *sessionQueue
}

type sessionQueue struct {
	mu sync.Mutex
}

// NewRouter builds a Router over an existing session Manager.
func NewRouter(manager *Manager) *Router {
	return &Router{manager: manager}
}

// ResolveResult is what ResolveSession hands back: the canonical key, the durable
// session entry for it, whether this call created the session, and whether its system
// (welcome) message still needs to be sent.
type ResolveResult struct {
	Key           string
	Session       *Session
	IsNewSession  bool
	SystemSent    bool
}

// ResolveSession computes the canonical session key for in and returns the durable
// Session for it (created if absent), along with isNewSession/systemSent bookkeeping so
// a caller can decide whether to greet the user or replay history silently.
func (rt *Router) ResolveSession(in ResolveInput) ResolveResult {
	key := BuildScopedSessionKey(in.AgentID, in.Channel, in.Kind, in.ChatID, in.Scope, in.DMScope, in.MainKey, in.AccountID)
	session, isNew := rt.manager.GetOrCreateWithNew(key)
	return ResolveResult{Key: key, Session: session, IsNewSession: isNew, SystemSent: session.SystemSent}
}

// WithSessionLock resolves the session for in, then runs fn while holding that session
// key's exclusive lock — so two concurrent inbound events addressed to the same
// conversation (e.g. a fast double-send) are applied to the session one at a time, in
// the order they acquire the lock. Returns the resolved session key for the caller's
// own bookkeeping (logging, metrics).
func (rt *Router) WithSessionLock(ctx context.Context, in ResolveInput, fn func(ctx context.Context, res ResolveResult) error) (string, error) {
	res := rt.ResolveSession(in)

	queueAny, _ := rt.queues.LoadOrStore(res.Key, &sessionQueue{})
	queue := queueAny.(*sessionQueue)

	queue.mu.Lock()
	defer queue.mu.Unlock()

	select {
	case <-ctx.Done():
		return res.Key, ctx.Err()
	default:
	}

	return res.Key, fn(ctx, res)
}
