package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name    string
	execute func(ctx context.Context, args map[string]interface{}) *Result
}

func (f *fakeTool) Name() string                             { return f.name }
func (f *fakeTool) Description() string                       { return "fake" }
func (f *fakeTool) Parameters() map[string]interface{}        { return map[string]interface{}{} }
func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return f.execute(ctx, args)
}

func TestDispatch_ErrorContainment(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "boom", execute: func(ctx context.Context, args map[string]interface{}) *Result {
		panic("kaboom")
	}})

	result := r.ExecuteWithContext(context.Background(), "boom", nil, "telegram", "chat1", "direct", "sess1", nil)
	require.True(t, result.IsError)
	require.Contains(t, result.ForLLM, "panicked")
}

func TestDispatch_AtMostOncePerCallID(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register(&fakeTool{name: "count", execute: func(ctx context.Context, args map[string]interface{}) *Result {
		calls++
		return NewResult("ok")
	}})

	result1 := r.Dispatch(context.Background(), "call-1", "count", nil, "telegram", "chat1", "direct", "sess1", nil)
	result2 := r.Dispatch(context.Background(), "call-1", "count", nil, "telegram", "chat1", "direct", "sess1", nil)

	require.False(t, result1.IsError)
	require.True(t, result2.IsError)
	require.Equal(t, 1, calls)
}

func TestDispatch_BeforeHookBlocks(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "noop", execute: func(ctx context.Context, args map[string]interface{}) *Result {
		return NewResult("should not run")
	}})
	r.RegisterBeforeHook(func(ctx context.Context, toolName string, params map[string]interface{}) *BeforeHookResult {
		return &BeforeHookResult{Block: true, BlockReason: "denied by policy"}
	})

	result := r.ExecuteWithContext(context.Background(), "noop", nil, "telegram", "chat1", "direct", "sess1", nil)
	require.True(t, result.IsError)
	require.Equal(t, "denied by policy", result.ForLLM)
}

func TestDispatch_BeforeHookRewritesParams(t *testing.T) {
	r := NewRegistry()
	var seen map[string]interface{}
	r.Register(&fakeTool{name: "echo", execute: func(ctx context.Context, args map[string]interface{}) *Result {
		seen = args
		return NewResult("ok")
	}})
	r.RegisterBeforeHook(func(ctx context.Context, toolName string, params map[string]interface{}) *BeforeHookResult {
		return &BeforeHookResult{Params: map[string]interface{}{"rewritten": true}}
	})

	r.ExecuteWithContext(context.Background(), "echo", map[string]interface{}{"original": true}, "telegram", "chat1", "direct", "sess1", nil)
	require.Equal(t, map[string]interface{}{"rewritten": true}, seen)
}

func TestDispatch_DangerousCommandBlocked(t *testing.T) {
	r := NewRegistry()
	executed := false
	r.Register(&fakeTool{name: "exec", execute: func(ctx context.Context, args map[string]interface{}) *Result {
		executed = true
		return NewResult("ran")
	}})

	result := r.ExecuteWithContext(context.Background(), "exec",
		map[string]interface{}{"command": "rm -rf / --no-preserve-root"},
		"telegram", "chat1", "direct", "sess1", nil)

	require.True(t, result.IsError)
	require.False(t, executed)
}

func TestDispatch_PostHookObservesRewrittenParams(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "echo", execute: func(ctx context.Context, args map[string]interface{}) *Result {
		return NewResult("ok")
	}})
	r.RegisterBeforeHook(func(ctx context.Context, toolName string, params map[string]interface{}) *BeforeHookResult {
		return &BeforeHookResult{Params: map[string]interface{}{"rewritten": true}}
	})
	var postParams map[string]interface{}
	r.RegisterAfterHook(func(ctx context.Context, toolName string, params map[string]interface{}, result *Result, err error, duration time.Duration) {
		postParams = params
	})

	result := r.ExecuteWithContext(context.Background(), "echo", map[string]interface{}{"original": true}, "telegram", "chat1", "direct", "sess1", nil)
	require.False(t, result.IsError)
	require.Equal(t, map[string]interface{}{"rewritten": true}, postParams)
}
