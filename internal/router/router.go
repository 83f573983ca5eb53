// Package router implements the smart query router: it picks which model
// tier should handle an inbound query before the agent runtime is ever invoked, tracks
// per-model daily usage, and falls back within a tier when a model is at its quota.
//
// Rule shape and ordered-evaluation style mirror internal/tools/policy.go's PolicyEngine:
// a fixed pipeline of stages, each narrowing or short-circuiting the prior stage's result.
package router

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Tier is a coarse model capability/cost bucket.
type Tier string

const (
	Tier0Trivial  Tier = "TIER0_TRIVIAL"
	Tier1Simple   Tier = "TIER1_SIMPLE"
	Tier2Standard Tier = "TIER2_STANDARD"
	Tier3Complex  Tier = "TIER3_COMPLEX"
	TierOverride  Tier = "OVERRIDE"
)

// TierDescriptor binds a tier to its primary model and an ordered fallback chain, used
// when the primary is at its daily quota.
type TierDescriptor struct {
	Tier     Tier
	Model    string
	Fallback []string
}

// Rule is one entry in the P1 ordered rule list.
type Rule struct {
	Name         string
	Pattern      *regexp.Regexp // optional; word-boundary anchored if WordBoundary is set
	WordBoundary bool
	MaxLength    int // 0 = no bound
	MinLength    int // 0 = no bound
	TierResult   Tier
	Skip         bool
	DirectAnswer string
}

// matches reports whether the rule fires for query (already trimmed, original case).
// wordBoundary, if non-nil, is the pre-compiled \b-wrapped variant of r.Pattern (looked
// up by the caller, since the cache lives on Router rather than here).
func (r Rule) matches(query string, wordBoundary *regexp.Regexp) bool {
	if r.Pattern != nil {
		pattern := r.Pattern
		if r.WordBoundary && wordBoundary != nil {
			pattern = wordBoundary
		}
		if pattern.MatchString(query) {
			return true
		}
	}
	n := len([]rune(query))
	if r.MaxLength > 0 && n <= r.MaxLength {
		return true
	}
	if r.MinLength > 0 && n >= r.MinLength {
		return true
	}
	return false
}

// Category is a P2 keyword-detection bucket (cheaper and less precise than a P1 rule).
type Category struct {
	Name     string
	Keywords []string // matched with word boundaries, case-insensitive
	Tier     Tier
}

// LLMRouterFunc is the P3 fallback: an LLM call that classifies ambiguous queries.
// Implementations must return quickly and never panic; errors are logged and swallowed.
type LLMRouterFunc func(ctx context.Context, query string) (tier Tier, ack string, err error)

// PrefixOverride maps one P0 literal query prefix to a forced model ID. Kept as an
// ordered slice (not a map) so that when two prefixes both match the same query, the
// one that wins is always the first configured, not whichever Go's map iteration
// happens to yield that run.
type PrefixOverride struct {
	Prefix string
	Model  string
}

// Config wires everything the router pipeline needs. Zero-value Config is usable but
// routes everything to Tier2Standard via P-default.
type Config struct {
	PrefixOverrides []PrefixOverride // e.g. "!flash" -> model ID, "sonnet:" -> model ID; first match wins
	Rules           []Rule           // P1, evaluated in order, first match wins
	Categories      []Category       // P2, evaluated in order, first match wins
	LLMRouter       LLMRouterFunc    // P3, optional
	Tiers           map[Tier]TierDescriptor
	DailyLimit      map[string]int  // per-model daily cap; absent = unlimited
	EditInPlace     map[string]bool // platform -> supports in-place ack edits
}

// RouterResult is the outcome of routing a single query.
type RouterResult struct {
	Tier         Tier
	Model        string
	CleanQuery   string
	Source       string // e.g. "prefix", "rule:<name>", "category:<name>", "llm", "default:no-match"
	Skip         bool
	DirectAnswer string
	Ack          string
	UsedFallback bool
	Error        string // e.g. "quota_exceeded_no_fallback"
}

// Router evaluates the P0-P3 pipeline and tracks per-model daily usage.
type Router struct {
	cfg              Config
	tracker          *UsageTracker
	wordBoundaryFor  map[*regexp.Regexp]*regexp.Regexp // caches \b-wrapped rule pattern variants
}

// NewRouter builds a Router from cfg, pre-compiling word-boundary rule variants.
func NewRouter(cfg Config, tracker *UsageTracker) *Router {
	rt := &Router{cfg: cfg, tracker: tracker, wordBoundaryFor: make(map[*regexp.Regexp]*regexp.Regexp)}
	for _, r := range cfg.Rules {
		if r.Pattern != nil && r.WordBoundary {
			if _, ok := rt.wordBoundaryFor[r.Pattern]; !ok {
				if wb, err := regexp.Compile(`\b(?:` + r.Pattern.String() + `)\b`); err == nil {
					rt.wordBoundaryFor[r.Pattern] = wb
				}
			}
		}
	}
	return rt
}

// CleanupPrompt strips a matched P0 prefix override from query, trimming surrounding
// whitespace. Exposed standalone since callers may want the cleaned text before routing.
func (rt *Router) CleanupPrompt(query string) string {
	q := strings.TrimSpace(query)
	lower := strings.ToLower(q)
	for _, po := range rt.cfg.PrefixOverrides {
		if strings.HasPrefix(lower, strings.ToLower(po.Prefix)) {
			return strings.TrimSpace(q[len(po.Prefix):])
		}
	}
	return q
}

// Route runs the P0->P3 pipeline and returns the selected tier/model plus bookkeeping.
func (rt *Router) Route(ctx context.Context, query string) RouterResult {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)

	// P0: prefix override, first configured match wins
	for _, po := range rt.cfg.PrefixOverrides {
		if strings.HasPrefix(lower, strings.ToLower(po.Prefix)) {
			clean := strings.TrimSpace(trimmed[len(po.Prefix):])
			return rt.finalizeOverride(po.Model, clean)
		}
	}

	// P1: ordered rules
	for _, r := range rt.cfg.Rules {
		if r.matches(trimmed, rt.wordBoundaryFor[r.Pattern]) {
			if r.Skip {
				return RouterResult{Tier: r.TierResult, CleanQuery: trimmed, Source: "rule:" + r.Name, Skip: true}
			}
			result := rt.createResult(r.TierResult, trimmed, "rule:"+r.Name)
			if r.DirectAnswer != "" {
				result.DirectAnswer = r.DirectAnswer
			}
			return result
		}
	}

	// P2: category keyword detection
	for _, c := range rt.cfg.Categories {
		for _, kw := range c.Keywords {
			if matchWord(lower, strings.ToLower(kw)) {
				return rt.createResult(c.Tier, trimmed, "category:"+c.Name)
			}
		}
	}

	// P3: LLM router fallback
	if rt.cfg.LLMRouter != nil {
		tier, ack, err := rt.cfg.LLMRouter(ctx, trimmed)
		if err != nil {
			slog.Warn("llm router fallback failed, using default tier", "error", err)
		} else if tier != "" {
			result := rt.createResult(tier, trimmed, "llm")
			result.Ack = ack
			return result
		}
	}

	// P-default
	return rt.createResult(Tier2Standard, trimmed, "default:no-match")
}

func matchWord(haystackLower, wordLower string) bool {
	idx := 0
	for {
		pos := strings.Index(haystackLower[idx:], wordLower)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(wordLower)
		beforeOK := start == 0 || !isWordByte(haystackLower[start-1])
		afterOK := end == len(haystackLower) || !isWordByte(haystackLower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// finalizeOverride handles P0: the forced model bypasses tier selection but still goes
// through quota/fallback against the generic TIER3 fallback chain.
func (rt *Router) finalizeOverride(model, cleanQuery string) RouterResult {
	limit, hasLimit := rt.cfg.DailyLimit[model]
	if !hasLimit || rt.tracker.IncrementAndCheck(model, limit) {
		return RouterResult{Tier: TierOverride, Model: model, CleanQuery: cleanQuery, Source: "prefix"}
	}

	desc, ok := rt.cfg.Tiers[Tier3Complex]
	if !ok {
		return RouterResult{Tier: TierOverride, CleanQuery: cleanQuery, Source: "prefix", Error: "quota_exceeded_no_fallback"}
	}
	for _, fallback := range desc.Fallback {
		fbLimit, hasFbLimit := rt.cfg.DailyLimit[fallback]
		if !hasFbLimit || rt.tracker.IncrementAndCheck(fallback, fbLimit) {
			return RouterResult{Tier: TierOverride, Model: fallback, CleanQuery: cleanQuery, Source: "prefix", UsedFallback: true}
		}
	}
	return RouterResult{Tier: TierOverride, CleanQuery: cleanQuery, Source: "prefix", Error: "quota_exceeded_no_fallback"}
}

// createResult resolves tier -> model with quota/fallback walk (shared by P1-P-default).
func (rt *Router) createResult(tier Tier, cleanQuery, source string) RouterResult {
	desc, ok := rt.cfg.Tiers[tier]
	if !ok {
		return RouterResult{Tier: tier, CleanQuery: cleanQuery, Source: source, Error: "quota_exceeded_no_fallback"}
	}

	limit, hasLimit := rt.cfg.DailyLimit[desc.Model]
	if !hasLimit || rt.tracker.IncrementAndCheck(desc.Model, limit) {
		return RouterResult{Tier: tier, Model: desc.Model, CleanQuery: cleanQuery, Source: source}
	}

	for _, fallback := range desc.Fallback {
		fbLimit, hasFbLimit := rt.cfg.DailyLimit[fallback]
		if !hasFbLimit || rt.tracker.IncrementAndCheck(fallback, fbLimit) {
			return RouterResult{Tier: tier, Model: fallback, CleanQuery: cleanQuery, Source: source, UsedFallback: true}
		}
	}

	return RouterResult{Tier: tier, CleanQuery: cleanQuery, Source: source, Error: "quota_exceeded_no_fallback"}
}

// SupportsEditInPlace reports whether platform supports editing a sent ack message
// in place (vs. posting a separate follow-up message).
func (rt *Router) SupportsEditInPlace(platform string) bool {
	return rt.cfg.EditInPlace[platform]
}
