package policyindex

import (
	"context"
	"sort"

	"github.com/governed/governor/internal/adapter/outbound/condition"
	"github.com/governed/governor/internal/domain/policy"
)

const defaultAllowReason = "Allowed by governance policy"
const noMatchReason = "No matching policies"
const defaultDenyReason = "Denied by governance policy"

// Evaluator resolves the effective policy set for a context, orders it by
// priority and specificity, evaluates each policy's rules in declared
// order, and aggregates contributions under deny-wins. It implements
// policy.Evaluator.
type Evaluator struct {
	Policies  *Provider
	Frequency condition.FrequencyCounter
}

// New constructs an Evaluator over a policy Provider and frequency counter.
func New(policies *Provider, freq condition.FrequencyCounter) *Evaluator {
	return &Evaluator{Policies: policies, Frequency: freq}
}

// Evaluate implements policy.Evaluator. risk must already be computed for
// evalCtx; it is threaded through deps for the risk condition kind.
func (e *Evaluator) Evaluate(ctx context.Context, evalCtx policy.EvaluationContext, risk policy.RiskAssessment) (policy.Verdict, error) {
	idx := e.Policies.Load()

	candidates := effectivePolicies(idx, evalCtx)

	deps := condition.Deps{
		Regex:       idx.Regex,
		TimeWindows: idx.TimeWindows,
		Frequency:   e.Frequency,
		Risk:        risk,
	}

	var contributions []policy.MatchedEffect
	for _, p := range candidates {
		if eff, ruleID, ok := evaluatePolicy(p, evalCtx, deps); ok {
			contributions = append(contributions, policy.MatchedEffect{
				PolicyID: p.ID, RuleID: ruleID, Effect: eff,
			})
		}
	}

	return aggregate(contributions, evalCtx.Trust, risk), nil
}

// effectivePolicies computes the union of index.by_hook[ctx.hook],
// index.by_agent[ctx.agent_id], and index.by_agent["*"], de-duplicated by
// id, filtered by exclude list/channel whitelist/enabled, then ordered by
// priority descending and specificity.
func effectivePolicies(idx *Index, ctx policy.EvaluationContext) []policy.Policy {
	seen := make(map[string]bool)
	var union []policy.Policy

	add := func(ps []policy.Policy) {
		for _, p := range ps {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			union = append(union, p)
		}
	}
	add(idx.ByHook[ctx.Hook])
	add(idx.ByAgent[ctx.AgentID])
	add(idx.ByAgent[unscopedAgentKey])

	filtered := union[:0]
	for _, p := range union {
		if !p.Enabled {
			continue
		}
		if excludesAgent(p.Scope, ctx.AgentID) {
			continue
		}
		if !channelAllowed(p.Scope, ctx.Channel) {
			continue
		}
		filtered = append(filtered, p)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		pi, pj := filtered[i], filtered[j]
		if pi.Priority != pj.Priority {
			return pi.Priority > pj.Priority
		}
		return specificity(pi.Scope) > specificity(pj.Scope)
	})

	return filtered
}

func excludesAgent(s policy.Scope, agentID string) bool {
	for _, a := range s.AgentsExclude {
		if a == agentID {
			return true
		}
	}
	return false
}

func channelAllowed(s policy.Scope, channel string) bool {
	if len(s.Channels) == 0 {
		return true
	}
	for _, c := range s.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// specificity scores a scope: agents +10, channels +5, hooks +3. Used only
// as a tie-breaker when priorities are equal.
func specificity(s policy.Scope) int {
	score := 0
	if len(s.AgentsInclude) > 0 {
		score += 10
	}
	if len(s.Channels) > 0 {
		score += 5
	}
	if len(s.Hooks) > 0 {
		score += 3
	}
	return score
}

// evaluatePolicy iterates a policy's rules in declared order, applying
// trust-tier gates then AND-evaluating conditions. The first satisfied
// rule is the policy's sole contribution.
func evaluatePolicy(p policy.Policy, ctx policy.EvaluationContext, deps condition.Deps) (policy.Effect, string, bool) {
	for _, r := range p.Rules {
		if r.MinTrust != nil && !policy.TierAtLeast(ctx.Trust.Tier, *r.MinTrust) {
			continue
		}
		if r.MaxTrust != nil && !policy.TierAtMost(ctx.Trust.Tier, *r.MaxTrust) {
			continue
		}
		if condition.MatchAll(r.Conditions, ctx, deps) {
			return r.Effect, r.ID, true
		}
	}
	return policy.Effect{}, "", false
}

// aggregate combines contributions under deny-wins: deny beats escalate
// beats allow. Audit-kind contributions never alter the action.
func aggregate(contributions []policy.MatchedEffect, trust policy.TrustSnapshot, risk policy.RiskAssessment) policy.Verdict {
	v := policy.Verdict{
		MatchedPolicies: contributions,
		Trust:           trust,
		Risk:            risk,
	}

	var firstDeny, firstEscalate *policy.MatchedEffect

	for i := range contributions {
		c := &contributions[i]
		switch c.Effect.Kind {
		case policy.EffectDeny:
			if firstDeny == nil {
				firstDeny = c
			}
		case policy.EffectEscalate:
			if firstEscalate == nil {
				firstEscalate = c
			}
		}
	}

	switch {
	case firstDeny != nil:
		v.Action = policy.ActionDeny
		v.Reason = firstDeny.Effect.Reason
		if v.Reason == "" {
			v.Reason = defaultDenyReason
		}
	case firstEscalate != nil:
		v.Action = policy.ActionEscalate
		v.Reason = firstEscalate.Effect.Reason
		v.EscalateTarget = firstEscalate.Effect.Target
		v.EscalateTimeout = firstEscalate.Effect.Timeout
	case len(contributions) > 0:
		v.Action = policy.ActionAllow
		v.Reason = defaultAllowReason
	default:
		v.Action = policy.ActionAllow
		v.Reason = noMatchReason
	}

	return v
}
