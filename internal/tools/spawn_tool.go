package tools

import (
	"context"
	"fmt"
)

// SpawnTool is the "spawn" tool: fire-and-forget ephemeral subagent dispatch. The agent
// gets a confirmation string back immediately; the subagent's actual result is announced
// later via AnnounceQueue/FormatBatchedAnnounce.
type SpawnTool struct {
	mgr            *SubagentManager
	defaultAgentID string
	baseDepth      int
}

// NewSpawnTool builds the "spawn" tool. defaultAgentID/baseDepth seed ParentID/Depth when
// the calling context carries none (e.g. a top-level agent rather than a nested subagent).
func NewSpawnTool(mgr *SubagentManager, defaultAgentID string, baseDepth int) *SpawnTool {
	return &SpawnTool{mgr: mgr, defaultAgentID: defaultAgentID, baseDepth: baseDepth}
}

func (t *SpawnTool) Name() string        { return "spawn" }
func (t *SpawnTool) Description() string { return "Spawn a background subagent to work on a task asynchronously. Returns immediately; results are announced when the subagent finishes." }

func (t *SpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task":  map[string]interface{}{"type": "string", "description": "The task for the subagent to perform"},
			"label": map[string]interface{}{"type": "string", "description": "Short human-readable label for this subagent"},
			"model": map[string]interface{}{"type": "string", "description": "Optional model override for this subagent"},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	task, _ := args["task"].(string)
	if task == "" {
		return ErrorResult("task is required")
	}
	label, _ := args["label"].(string)
	model, _ := args["model"].(string)

	parentID := ToolAgentKeyFromCtx(ctx)
	if parentID == "" {
		parentID = t.defaultAgentID
	}
	channel := ToolChannelFromCtx(ctx)
	chatID := ToolChatIDFromCtx(ctx)
	peerKind := ToolPeerKindFromCtx(ctx)

	msg, err := t.mgr.Spawn(ctx, parentID, t.baseDepth, task, label, model, channel, chatID, peerKind, ToolAsyncCBFromCtx(ctx))
	if err != nil {
		return ErrorResult(fmt.Sprintf("spawn failed: %v", err))
	}
	return NewResult(msg)
}

// SubagentTool is the "subagent" tool: synchronous ephemeral subagent dispatch. The
// calling agent blocks until the subagent completes and gets its result inline, for
// tasks whose answer is needed before the agent can continue.
type SubagentTool struct {
	mgr            *SubagentManager
	defaultAgentID string
	baseDepth      int
}

// NewSubagentTool builds the "subagent" tool.
func NewSubagentTool(mgr *SubagentManager, defaultAgentID string, baseDepth int) *SubagentTool {
	return &SubagentTool{mgr: mgr, defaultAgentID: defaultAgentID, baseDepth: baseDepth}
}

func (t *SubagentTool) Name() string        { return "subagent" }
func (t *SubagentTool) Description() string { return "Run a subagent synchronously and wait for its result before continuing." }

func (t *SubagentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task":  map[string]interface{}{"type": "string", "description": "The task for the subagent to perform"},
			"label": map[string]interface{}{"type": "string", "description": "Short human-readable label for this subagent"},
		},
		"required": []string{"task"},
	}
}

func (t *SubagentTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	task, _ := args["task"].(string)
	if task == "" {
		return ErrorResult("task is required")
	}
	label, _ := args["label"].(string)

	parentID := ToolAgentKeyFromCtx(ctx)
	if parentID == "" {
		parentID = t.defaultAgentID
	}
	channel := ToolChannelFromCtx(ctx)
	chatID := ToolChatIDFromCtx(ctx)

	result, iterations, err := t.mgr.RunSync(ctx, parentID, t.baseDepth, task, label, channel, chatID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("subagent failed after %d iterations: %v", iterations, err))
	}
	return NewResult(result)
}
