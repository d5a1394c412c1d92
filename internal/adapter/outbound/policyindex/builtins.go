package policyindex

import (
	"github.com/governed/governor/internal/domain/policy"
)

// BuiltinConfig toggles and parameterizes the four built-in policy
// templates, the same parameterized-default-rule idea used by comparable gateway
// default outbound blocklist, generalized from domain/CIDR targets to
// time windows, path globs, and tier gates.
type BuiltinConfig struct {
	NightMode           *NightModeParams
	CredentialGuard     *CredentialGuardParams
	ProductionSafeguard *ProductionSafeguardParams
	RateLimiter         *RateLimiterParams
}

type NightModeParams struct {
	After  string
	Before string
}

type CredentialGuardParams struct {
	PathGlobs []string
}

type ProductionSafeguardParams struct {
	Channels []string
	MinTrust policy.Tier
}

type RateLimiterParams struct {
	Threshold     int
	WindowSeconds int
}

func defaultNightMode() NightModeParams {
	return NightModeParams{After: "23:00", Before: "08:00"}
}

func defaultCredentialGuard() CredentialGuardParams {
	return CredentialGuardParams{PathGlobs: []string{"*.env", "*/.env", "*secret*", "*credential*"}}
}

func defaultProductionSafeguard() ProductionSafeguardParams {
	return ProductionSafeguardParams{Channels: []string{"production"}, MinTrust: policy.TierTrusted}
}

func defaultRateLimiter() RateLimiterParams {
	return RateLimiterParams{Threshold: 20, WindowSeconds: 60}
}

// buildBuiltins generates one policy for each non-nil parameter block in
// cfg, using the block's values as given; a nil block leaves that template
// out. The built-in defaults come from DefaultBuiltinConfig, not from here.
func buildBuiltins(cfg BuiltinConfig) []policy.Policy {
	var out []policy.Policy

	if cfg.NightMode != nil {
		p := *cfg.NightMode
		out = append(out, nightModePolicy(p))
	}
	if cfg.CredentialGuard != nil {
		p := *cfg.CredentialGuard
		out = append(out, credentialGuardPolicy(p))
	}
	if cfg.ProductionSafeguard != nil {
		p := *cfg.ProductionSafeguard
		out = append(out, productionSafeguardPolicy(p))
	}
	if cfg.RateLimiter != nil {
		p := *cfg.RateLimiter
		out = append(out, rateLimiterPolicy(p))
	}
	return out
}

// DefaultBuiltinConfig enables all four templates with their built-in defaults,
// mirroring a fresh installation's default posture.
func DefaultBuiltinConfig() BuiltinConfig {
	nm := defaultNightMode()
	cg := defaultCredentialGuard()
	ps := defaultProductionSafeguard()
	rl := defaultRateLimiter()
	return BuiltinConfig{
		NightMode:           &nm,
		CredentialGuard:     &cg,
		ProductionSafeguard: &ps,
		RateLimiter:         &rl,
	}
}

func nightModePolicy(p NightModeParams) policy.Policy {
	return policy.Policy{
		ID:       "builtin-night-mode",
		Version:  "1.0.0",
		Name:     "Night Mode",
		Priority: 50,
		Enabled:  true,
		Rules: []policy.Rule{
			{
				ID: "builtin-night-mode-deny",
				Conditions: []policy.Condition{
					{Kind: policy.ConditionKindTime, Time: &policy.TimeCondition{
						Inline: &policy.TimeWindow{After: p.After, Before: p.Before},
					}},
				},
				Effect: policy.Effect{Kind: policy.EffectDeny, Reason: "tool calls are restricted during night-mode hours"},
			},
		},
	}
}

func credentialGuardPolicy(p CredentialGuardParams) policy.Policy {
	var anyGlob []policy.Condition
	for _, g := range p.PathGlobs {
		anyGlob = append(anyGlob, policy.Condition{
			Kind: policy.ConditionKindTool,
			Tool: &policy.ToolCondition{
				Params: map[string]policy.ParamMatcher{
					"path": {Op: policy.ParamMatches, Value: globLikeRegex(g)},
				},
			},
		})
	}
	conds := []policy.Condition{
		{Kind: policy.ConditionKindComposite, CompositeAny: anyGlob},
	}
	return policy.Policy{
		ID:       "builtin-credential-guard",
		Version:  "1.0.0",
		Name:     "Credential Guard",
		Priority: 90,
		Enabled:  true,
		Rules: []policy.Rule{
			{
				ID:         "builtin-credential-guard-deny",
				Conditions: conds,
				Effect:     policy.Effect{Kind: policy.EffectDeny, Reason: "access to credential-bearing paths is blocked by default policy"},
			},
		},
	}
}

func productionSafeguardPolicy(p ProductionSafeguardParams) policy.Policy {
	return policy.Policy{
		ID:       "builtin-production-safeguard",
		Version:  "1.0.0",
		Name:     "Production Safeguard",
		Priority: 80,
		Enabled:  true,
		Scope:    policy.Scope{Channels: p.Channels},
		Rules: []policy.Rule{
			{
				ID: "builtin-production-safeguard-deny",
				Conditions: []policy.Condition{
					{Kind: policy.ConditionKindContext, Context: &policy.ContextCondition{Channels: p.Channels}},
					{Kind: policy.ConditionKindAgent, Agent: &policy.AgentCondition{Tiers: tiersBelow(p.MinTrust)}},
				},
				Effect: policy.Effect{Kind: policy.EffectDeny, Reason: "production channel actions require trusted tier or above"},
			},
		},
	}
}

// tierOrdered lists every tier in the fixed five-band order.
var tierOrdered = []policy.Tier{
	policy.TierUntrusted, policy.TierRestricted, policy.TierStandard,
	policy.TierTrusted, policy.TierPrivileged,
}

// tiersBelow returns every tier strictly below min in the fixed order.
func tiersBelow(min policy.Tier) []policy.Tier {
	var out []policy.Tier
	for _, t := range tierOrdered {
		if policy.TierAtLeast(min, t) && t != min {
			out = append(out, t)
		}
	}
	return out
}

func rateLimiterPolicy(p RateLimiterParams) policy.Policy {
	return policy.Policy{
		ID:       "builtin-rate-limiter",
		Version:  "1.0.0",
		Name:     "Rate Limiter",
		Priority: 40,
		Enabled:  true,
		Rules: []policy.Rule{
			{
				ID: "builtin-rate-limiter-deny",
				Conditions: []policy.Condition{
					{Kind: policy.ConditionKindFrequency, Frequency: &policy.FrequencyCondition{
						Threshold:     p.Threshold,
						WindowSeconds: p.WindowSeconds,
						Scope:         policy.FrequencyScopeAgent,
					}},
				},
				Effect: policy.Effect{Kind: policy.EffectDeny, Reason: "action rate limit exceeded"},
			},
		},
	}
}

// globLikeRegex turns a simple "*"-glob into an unanchored, case-insensitive
// regex source suitable for a ParamMatches matcher, since path matchers need
// substring-position freedom a fully-anchored glob_to_regex output doesn't give.
func globLikeRegex(glob string) string {
	b := []byte("(?i)")
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		if c == '*' {
			b = append(b, '.', '*')
			continue
		}
		if isRegexMeta(c) {
			b = append(b, '\\')
		}
		b = append(b, c)
	}
	return string(b)
}

func isRegexMeta(c byte) bool {
	switch c {
	case '.', '+', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
		return true
	}
	return false
}
