// Package policyindex compiles declared and built-in policies into an
// immutable, hook-kind- and agent-id-keyed lookup structure, the same
// compile-once/atomic-swap discipline as a hot-reloadable policy service,
// generalized from a flat rule list into multi-policy scope indices.
package policyindex

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/governed/governor/internal/adapter/outbound/condition"
	"github.com/governed/governor/internal/domain/policy"
)

const unscopedAgentKey = "*"

// Index is the derived, read-only-after-build lookup structure. Never
// mutated in place; Reload swaps in a new *Index wholesale.
type Index struct {
	ByHook  map[policy.HookKind][]policy.Policy
	ByAgent map[string][]policy.Policy

	TimeWindows map[string]policy.TimeWindow
	Regex       *condition.RegexCache

	PolicyCount int
}

// Provider publishes Index snapshots for lock-free concurrent reads,
// mirroring an atomic.Value-backed compiled-rules snapshot pattern.
type Provider struct {
	snapshot atomic.Value // stores *Index
	store    policy.Store
	builtins BuiltinConfig
	windows  map[string]policy.TimeWindow
	onWarn   func(source string, err error)
}

// NewProvider compiles an initial Index from store and publishes it.
func NewProvider(ctx context.Context, store policy.Store, windows map[string]policy.TimeWindow, builtins BuiltinConfig, onWarn func(string, error)) (*Provider, error) {
	p := &Provider{store: store, builtins: builtins, windows: windows, onWarn: onWarn}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Load returns the currently published Index. Lock-free on the hot path.
func (p *Provider) Load() *Index {
	return p.snapshot.Load().(*Index)
}

// Reload recompiles from the store and publishes a new Index, replacing
// the old one wholesale. Concurrent Reload calls are the caller's
// responsibility to serialize; concurrent Load calls are always safe.
func (p *Provider) Reload(ctx context.Context) error {
	declared, err := p.store.GetAllPolicies(ctx)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}

	merged := mergeBuiltins(declared, buildBuiltins(p.builtins))

	regexCache := condition.NewRegexCache(p.onWarn)
	validateRegexSources(merged, regexCache)

	idx := &Index{
		ByHook:      make(map[policy.HookKind][]policy.Policy),
		ByAgent:     make(map[string][]policy.Policy),
		TimeWindows: p.windows,
		Regex:       regexCache,
		PolicyCount: len(merged),
	}
	buildScopeIndex(idx, merged)

	p.snapshot.Store(idx)
	return nil
}

// mergeBuiltins de-duplicates built-in and declared policies by id;
// declared policies win on a collision.
func mergeBuiltins(declared []policy.Policy, builtins []policy.Policy) []policy.Policy {
	declaredIDs := make(map[string]bool, len(declared))
	for _, p := range declared {
		declaredIDs[p.ID] = true
	}

	out := make([]policy.Policy, 0, len(declared)+len(builtins))
	out = append(out, declared...)
	for _, b := range builtins {
		if !declaredIDs[b.ID] {
			out = append(out, b)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// buildScopeIndex inserts p into idx.ByHook and idx.ByAgent in the merged
// order, with insertion order preserved within each bucket.
func buildScopeIndex(idx *Index, policies []policy.Policy) {
	allHooks := []policy.HookKind{
		policy.HookBeforeToolCall, policy.HookMessageSending,
		policy.HookBeforeAgentStart, policy.HookSessionStart,
	}

	for _, p := range policies {
		hooks := p.Scope.Hooks
		if len(hooks) == 0 {
			hooks = allHooks
		}
		for _, h := range hooks {
			idx.ByHook[h] = append(idx.ByHook[h], p)
		}

		agents := p.Scope.AgentsInclude
		if len(agents) == 0 {
			idx.ByAgent[unscopedAgentKey] = append(idx.ByAgent[unscopedAgentKey], p)
			continue
		}
		for _, a := range agents {
			idx.ByAgent[a] = append(idx.ByAgent[a], p)
		}
	}
}

// validateRegexSources walks every condition recursively and pre-warms the
// regex cache for every "matches" matcher and message/history regex, so a
// bad pattern is logged once at compile time rather than at first match.
func validateRegexSources(policies []policy.Policy, cache *condition.RegexCache) {
	for _, p := range policies {
		for _, r := range p.Rules {
			for _, c := range r.Conditions {
				warmConditionRegexes(c, cache)
			}
		}
	}
}

func warmConditionRegexes(c policy.Condition, cache *condition.RegexCache) {
	switch c.Kind {
	case policy.ConditionKindTool:
		if c.Tool == nil {
			return
		}
		for _, m := range c.Tool.Params {
			if m.Op == policy.ParamMatches && m.Value != "" {
				cache.Get(m.Value)
			}
		}
	case policy.ConditionKindContext:
		if c.Context == nil {
			return
		}
		if c.Context.HistoryRegex != "" {
			cache.Get(c.Context.HistoryRegex)
		}
		if c.Context.MessageRegex != "" {
			cache.Get(c.Context.MessageRegex)
		}
	case policy.ConditionKindComposite:
		for _, sub := range c.CompositeAny {
			warmConditionRegexes(sub, cache)
		}
	case policy.ConditionKindNegation:
		if c.Inner != nil {
			warmConditionRegexes(*c.Inner, cache)
		}
	}
}
