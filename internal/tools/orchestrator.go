package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/agentgw/internal/router"
)

// Orchestrator is the single entry point for sub-agent delegation: it fronts
// both named/persistent delegation (DelegateManager, for long-lived agent-to-agent links)
// and ephemeral/unnamed spawn (SubagentManager, ad-hoc task fan-out), and — when a Router
// is attached — lets the fast query router pick the model an ephemeral subagent runs on
// instead of always inheriting the parent's model or a fixed override.
//
// Kept as two distinct underlying managers rather than one merged type: named delegation
// persists cross-session agent links (store.TeamStore/AgentLinkData) that ephemeral
// subagents have no concept of, and collapsing them would force one manager to carry the
// other's irrelevant state. The Orchestrator is the seam the rest of the codebase talks
// to; callers no longer need to know which manager a given delegation style lives in.
type Orchestrator struct {
	delegate *DelegateManager
	subagent *SubagentManager
	router   *router.Router
}

// NewOrchestrator builds an Orchestrator over existing delegate/subagent managers.
// Either may be nil if that delegation style isn't configured for this deployment.
func NewOrchestrator(delegate *DelegateManager, subagent *SubagentManager) *Orchestrator {
	return &Orchestrator{delegate: delegate, subagent: subagent}
}

// SetRouter attaches the smart query router used to pick an ephemeral subagent's model
// on the fly from the task description, instead of a fixed config.SubagentConfig.Model
// override. Optional — SpawnEphemeral falls back to modelOverride/inherit when unset.
func (o *Orchestrator) SetRouter(rt *router.Router) {
	o.router = rt
}

// Delegate runs a named, persistent delegation to a linked agent.
func (o *Orchestrator) Delegate(ctx context.Context, opts DelegateOpts) (*DelegateResult, error) {
	if o.delegate == nil {
		return nil, fmt.Errorf("delegation is not configured for this deployment")
	}
	return o.delegate.Delegate(ctx, opts)
}

// DelegateAsync runs a named delegation without blocking for the result.
func (o *Orchestrator) DelegateAsync(ctx context.Context, opts DelegateOpts) (*DelegateResult, error) {
	if o.delegate == nil {
		return nil, fmt.Errorf("delegation is not configured for this deployment")
	}
	return o.delegate.DelegateAsync(ctx, opts)
}

// SpawnEphemeral spawns an unnamed subagent for task. If modelOverride is empty and a
// Router is attached, the router picks a model tier from task's content (e.g. a
// "refactor"/"bug" query routes to TIER3_COMPLEX) and that tier's model is used instead
// of the subagent system's configured default.
func (o *Orchestrator) SpawnEphemeral(
	ctx context.Context,
	parentID string,
	depth int,
	task, label, modelOverride string,
	channel, chatID, peerKind string,
	callback AsyncCallback,
) (string, error) {
	if o.subagent == nil {
		return "", fmt.Errorf("ephemeral subagent spawn is not configured for this deployment")
	}

	if modelOverride == "" && o.router != nil {
		result := o.router.Route(ctx, task)
		if result.Model != "" {
			modelOverride = result.Model
		}
	}

	return o.subagent.Spawn(ctx, parentID, depth, task, label, modelOverride, channel, chatID, peerKind, callback)
}

// CountRunningForParent reports the number of running ephemeral subagents for parentID.
// Named delegations aren't counted here — they're tracked as agent links, not tasks.
func (o *Orchestrator) CountRunningForParent(parentID string) int {
	if o.subagent == nil {
		return 0
	}
	return o.subagent.CountRunningForParent(parentID)
}
