package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentgw/internal/providers"
	"github.com/nextlevelbuilder/agentgw/internal/security"
)

// Tool is the contract every built-in and MCP-backed tool implements (the tool
// contract). Execute must be re-entrant: the same tool may be invoked concurrently with
// different call-ids on different sessions.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// AsyncCallback delivers a deferred result for tools that started async work
// (Result.Async == true) once that work completes.
type AsyncCallback func(ctx context.Context, result *Result)

// BeforeHookResult is what a before_tool_call hook may return.
type BeforeHookResult struct {
	Block       bool
	BlockReason string
	Params      map[string]interface{} // non-nil: rewritten params seen by later steps
}

// BeforeHook runs before a tool executes. Hooks run in registration order; the first to
// set Block short-circuits dispatch.
type BeforeHook func(ctx context.Context, toolName string, params map[string]interface{}) *BeforeHookResult

// AfterHook runs after a tool executes (or errors). Fire-and-forget: its return value,
// if any, never affects the dispatch result. err is the raw execution error (if the
// tool panicked or Result.Err was set); result is the normalized Result.
type AfterHook func(ctx context.Context, toolName string, params map[string]interface{}, result *Result, err error, duration time.Duration)

// ToProviderDef converts a registered Tool into the wire schema sent to the model.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// Registry holds the set of available tools and implements the C5 dispatch pipeline:
// pre-hook, security pre-check (dangerous-command detection + exec rate limiting),
// execute, error containment, post-hook (fire-and-forget), return. Grounded on the
// ordered-evaluation shape of tools/policy.go's PolicyEngine and the inline dispatch
// loop.go built around (parallel goroutines + deterministic per-call-id execution),
// now factored into a standalone, reusable pipeline.
type Registry struct {
	mu           sync.RWMutex
	tools        map[string]Tool
	beforeHooks  []BeforeHook
	afterHooks   []AfterHook
	detector     *security.Detector
	execLimiter  *security.RateLimiter
	audit        security.AuditFunc
	executed     sync.Map // call-id string -> struct{}: at-most-once guard
}

// NewRegistry creates an empty registry. Dangerous-command detection uses
// security.DefaultRules unless overridden via SetDetector; the exec rate limiter
// defaults to 10 executions per 10s per session-key with a 30s block on overflow.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		detector: security.NewDetector(nil),
		execLimiter: security.NewRateLimiter(security.RateLimiterConfig{
			MaxRequests:   10,
			Window:        10 * time.Second,
			BlockDuration: 30 * time.Second,
		}),
		audit: func(context.Context, security.AuditRecord) {},
	}
}

// SetDetector overrides the dangerous-command detector.
func (r *Registry) SetDetector(d *security.Detector) { r.detector = d }

// SetExecRateLimiter overrides the exec rate limiter.
func (r *Registry) SetExecRateLimiter(rl *security.RateLimiter) { r.execLimiter = rl }

// SetAudit overrides the audit sink used for dangerous_command_blocked / rate_limited events.
func (r *Registry) SetAudit(fn security.AuditFunc) {
	if fn != nil {
		r.audit = fn
	}
}

// Register adds a tool, keyed by its normalized name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// RegisterAlias maps an alternative name to a canonical registered tool name.
func (r *Registry) RegisterAlias(alias, canonical string) {
	toolAliases[alias] = canonical
}

// Get returns the tool registered under name (resolving aliases), if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[r.normalize(name)]
	return t, ok
}

// List returns all registered tool names (canonical, not aliases).
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// ProviderDefs returns wire-schema definitions for every registered tool, unfiltered.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToProviderDef(t))
	}
	return defs
}

// RegisterBeforeHook adds a before_tool_call hook, run in registration order.
func (r *Registry) RegisterBeforeHook(h BeforeHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeHooks = append(r.beforeHooks, h)
}

// RegisterAfterHook adds an after_tool_call hook, run in registration order.
func (r *Registry) RegisterAfterHook(h AfterHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterHooks = append(r.afterHooks, h)
}

func (r *Registry) normalize(name string) string {
	return resolveAlias(name)
}

// ExecuteWithContext runs the full C5 dispatch pipeline for one model-emitted tool call.
// callID identifies this specific invocation; the registry guarantees at-most-one
// execution per callID even if a caller retries the same call-id. onUpdate, if non-nil,
// is threaded through to the tool for progress reporting and is not relied upon for
// correctness (the tool contract).
func (r *Registry) ExecuteWithContext(
	ctx context.Context,
	toolName string,
	args map[string]interface{},
	channel, chatID, peerKind, sessionKey string,
	onUpdate AsyncCallback,
) *Result {
	return r.dispatch(ctx, toolName, "", args, channel, chatID, peerKind, sessionKey, onUpdate)
}

// Execute is ExecuteWithContext for callers (e.g. the subagent tool loop in
// subagent_exec.go) that already carry channel/chatID/peerKind/sessionKey on ctx via
// WithToolChannel/WithToolChatID/WithToolPeerKind rather than threading them as
// explicit parameters through an outer loop.
func (r *Registry) Execute(ctx context.Context, toolName string, args map[string]interface{}) *Result {
	return r.ExecuteWithContext(ctx, toolName, args,
		ToolChannelFromCtx(ctx), ToolChatIDFromCtx(ctx), ToolPeerKindFromCtx(ctx), ToolSandboxKeyFromCtx(ctx), nil)
}

// Dispatch is ExecuteWithContext plus an explicit call-id for at-most-once enforcement.
func (r *Registry) Dispatch(
	ctx context.Context,
	callID, toolName string,
	args map[string]interface{},
	channel, chatID, peerKind, sessionKey string,
	onUpdate AsyncCallback,
) *Result {
	return r.dispatch(ctx, toolName, callID, args, channel, chatID, peerKind, sessionKey, onUpdate)
}

func (r *Registry) dispatch(
	ctx context.Context,
	toolName, callID string,
	args map[string]interface{},
	channel, chatID, peerKind, sessionKey string,
	onUpdate AsyncCallback,
) *Result {
	normalized := r.normalize(toolName)

	if callID != "" {
		if _, already := r.executed.LoadOrStore(callID, struct{}{}); already {
			return &Result{ForLLM: fmt.Sprintf("tool call %s already executed", callID), IsError: true}
		}
	}

	// Step 1: pre-hooks.
	r.mu.RLock()
	before := append([]BeforeHook(nil), r.beforeHooks...)
	r.mu.RUnlock()

	for _, hook := range before {
		res := hook(ctx, normalized, args)
		if res == nil {
			continue
		}
		if res.Block {
			return &Result{ForLLM: res.BlockReason, IsError: true}
		}
		if res.Params != nil {
			args = res.Params
		}
	}

	// Step 2: security pre-check.
	if normalized == "exec" {
		if cmd, _ := args["command"].(string); cmd != "" {
			if match := r.detector.Detect(cmd); match != nil {
				r.audit(ctx, security.AuditRecord{Type: "dangerous_command_blocked", Path: cmd, Op: "exec", Blocked: true})
				msg := match.Explanation
				if match.Suggestion != "" {
					msg = msg + " — suggestion: " + match.Suggestion
				}
				return &Result{ForLLM: msg, IsError: true}
			}
		}
		limiterKey := sessionKey
		if limiterKey == "" {
			limiterKey = chatID
		}
		if r.execLimiter != nil && !r.execLimiter.Check(limiterKey) {
			return &Result{ForLLM: "exec rate limit exceeded, try again shortly", IsError: true}
		}
	}

	tool, ok := r.Get(normalized)
	if !ok {
		return &Result{ForLLM: fmt.Sprintf("unknown tool %q", toolName), IsError: true}
	}

	ctx = WithToolChannel(ctx, channel)
	ctx = WithToolChatID(ctx, chatID)
	ctx = WithToolPeerKind(ctx, peerKind)
	if onUpdate != nil {
		ctx = WithToolAsyncCB(ctx, onUpdate)
	}

	// Step 3 + 4: execute with error containment. Execute never itself panics in the
	// built-in tools, but a misbehaving MCP-backed tool might; recover converts that
	// into a normal error result rather than crashing the turn, UNLESS ctx was
	// cancelled — cancellation must unwind the turn, never return partial success.
	start := time.Now()
	result := r.safeExecute(ctx, tool, args)
	duration := time.Since(start)

	if result.IsError {
		slog.Debug("tool execution error", "tool", normalized, "error", result.ForLLM)
	}

	// Step 5: post-hooks, fire-and-forget.
	r.mu.RLock()
	after := append([]AfterHook(nil), r.afterHooks...)
	r.mu.RUnlock()
	for _, hook := range after {
		func() {
			defer func() { _ = recover() }()
			hook(ctx, normalized, args, result, result.Err, duration)
		}()
	}

	return result
}

func (r *Registry) safeExecute(ctx context.Context, tool Tool, args map[string]interface{}) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			if ctx.Err() != nil {
				panic(rec) // cancellation must unwind the turn, never be swallowed
			}
			result = &Result{ForLLM: fmt.Sprintf("tool panicked: %v", rec), IsError: true}
		}
	}()
	result = tool.Execute(ctx, args)
	if result == nil {
		result = &Result{ForLLM: "tool returned no result", IsError: true}
	}
	return result
}

// WithToolAgentKey injects the owning agent's key into ctx for tool-level resolution
// (managed mode: multiple agents share one tool registry).
func WithToolAgentKey(ctx context.Context, agentKey string) context.Context {
	return context.WithValue(ctx, ctxAgentKey, agentKey)
}

// ToolAgentKeyFromCtx reads the agent key injected by WithToolAgentKey.
func ToolAgentKeyFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxAgentKey).(string)
	return v
}

const ctxAgentKey toolContextKey = "tool_agent_key"
