package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/governed/governor/internal/domain/policy"
)

// weekdayNames maps the YAML day names accepted in a time window to
// time.Weekday, matching the names Go's time package already prints.
var weekdayNames = map[string]time.Weekday{
	"Sunday":    time.Sunday,
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
}

// ToDomain converts the declared policy set into domain policies, resolving
// any windowRef against the named windows map. A rule referencing an unknown
// window name is an error: a YAML typo here should fail config load, not
// silently evaluate to "never matches".
func ToDomain(policies []PolicyConfig, windows map[string]TimeWindowConfig) ([]policy.Policy, error) {
	out := make([]policy.Policy, 0, len(policies))
	for _, pc := range policies {
		p, err := pc.toDomain(windows)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", pc.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (pc PolicyConfig) toDomain(windows map[string]TimeWindowConfig) (policy.Policy, error) {
	enabled := true
	if pc.Enabled != nil {
		enabled = *pc.Enabled
	}

	rules := make([]policy.Rule, 0, len(pc.Rules))
	for _, rc := range pc.Rules {
		r, err := rc.toDomain(windows)
		if err != nil {
			return policy.Policy{}, fmt.Errorf("rule %q: %w", rc.ID, err)
		}
		rules = append(rules, r)
	}

	hooks := make([]policy.HookKind, 0, len(pc.Scope.Hooks))
	for _, h := range pc.Scope.Hooks {
		hooks = append(hooks, policy.HookKind(h))
	}

	return policy.Policy{
		ID:       pc.ID,
		Version:  pc.Version,
		Name:     pc.Name,
		Priority: pc.Priority,
		Enabled:  enabled,
		Scope: policy.Scope{
			AgentsInclude: pc.Scope.Agents,
			AgentsExclude: pc.Scope.ExcludeAgents,
			Channels:      pc.Scope.Channels,
			Hooks:         hooks,
		},
		Rules: rules,
	}, nil
}

func (rc RuleConfig) toDomain(windows map[string]TimeWindowConfig) (policy.Rule, error) {
	conds := make([]policy.Condition, 0, len(rc.Conditions))
	for _, cc := range rc.Conditions {
		c, err := cc.toDomain(windows)
		if err != nil {
			return policy.Rule{}, err
		}
		conds = append(conds, c)
	}

	effect, err := rc.Effect.toDomain()
	if err != nil {
		return policy.Rule{}, fmt.Errorf("effect: %w", err)
	}

	r := policy.Rule{
		ID:         rc.ID,
		Conditions: conds,
		Effect:     effect,
	}
	if rc.MinTrust != "" {
		t := policy.Tier(rc.MinTrust)
		r.MinTrust = &t
	}
	if rc.MaxTrust != "" {
		t := policy.Tier(rc.MaxTrust)
		r.MaxTrust = &t
	}
	return r, nil
}

// toDomain dispatches on whichever single field of cc is populated. Exactly
// one variant must be set; zero or more than one is a config error.
func (cc ConditionConfig) toDomain(windows map[string]TimeWindowConfig) (policy.Condition, error) {
	set := 0
	var out policy.Condition

	if cc.Tool != nil {
		set++
		out = policy.Condition{Kind: policy.ConditionKindTool, Tool: cc.Tool.toDomain()}
	}
	if cc.Time != nil {
		set++
		tc, err := cc.Time.toDomain(windows)
		if err != nil {
			return policy.Condition{}, err
		}
		out = policy.Condition{Kind: policy.ConditionKindTime, Time: tc}
	}
	if cc.Agent != nil {
		set++
		out = policy.Condition{Kind: policy.ConditionKindAgent, Agent: cc.Agent.toDomain()}
	}
	if cc.Context != nil {
		set++
		out = policy.Condition{Kind: policy.ConditionKindContext, Context: cc.Context.toDomain()}
	}
	if cc.Risk != nil {
		set++
		out = policy.Condition{Kind: policy.ConditionKindRisk, Risk: &policy.RiskCondition{
			MinLevel: policy.RiskLevel(cc.Risk.MinLevel),
			MaxLevel: policy.RiskLevel(cc.Risk.MaxLevel),
		}}
	}
	if cc.Frequency != nil {
		set++
		out = policy.Condition{Kind: policy.ConditionKindFrequency, Frequency: &policy.FrequencyCondition{
			Threshold:     cc.Frequency.Threshold,
			WindowSeconds: cc.Frequency.WindowSeconds,
			Scope:         policy.FrequencyScope(cc.Frequency.Scope),
		}}
	}
	if len(cc.Any) > 0 {
		set++
		sub := make([]policy.Condition, 0, len(cc.Any))
		for _, inner := range cc.Any {
			d, err := inner.toDomain(windows)
			if err != nil {
				return policy.Condition{}, err
			}
			sub = append(sub, d)
		}
		out = policy.Condition{Kind: policy.ConditionKindComposite, CompositeAny: sub}
	}
	if cc.Not != nil {
		set++
		inner, err := cc.Not.toDomain(windows)
		if err != nil {
			return policy.Condition{}, err
		}
		out = policy.Condition{Kind: policy.ConditionKindNegation, Inner: &inner}
	}

	if set != 1 {
		return policy.Condition{}, fmt.Errorf("condition must set exactly one kind, got %d", set)
	}
	return out, nil
}

func (tc *ToolConditionConfig) toDomain() *policy.ToolCondition {
	params := make(map[string]policy.ParamMatcher, len(tc.Params))
	for k, m := range tc.Params {
		params[k] = policy.ParamMatcher{
			Op:     policy.ParamOp(m.Op),
			Value:  m.Value,
			Values: m.Values,
		}
	}

	out := &policy.ToolCondition{Params: params}
	switch {
	case len(tc.Name) == 0:
	case strings.Contains(tc.Name, ","):
		out.NameAnyOf = splitCSV(tc.Name)
	case strings.Contains(tc.Name, "*"):
		out.NameGlob = tc.Name
	default:
		out.NameExact = tc.Name
	}
	return out
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (tc *TimeConditionConfig) toDomain(windows map[string]TimeWindowConfig) (*policy.TimeCondition, error) {
	if tc.Inline != nil {
		w, err := tc.Inline.toDomain()
		if err != nil {
			return nil, err
		}
		return &policy.TimeCondition{Inline: w}, nil
	}
	if tc.WindowRef != "" {
		if _, ok := windows[tc.WindowRef]; !ok {
			return nil, fmt.Errorf("time condition references unknown window %q", tc.WindowRef)
		}
		return &policy.TimeCondition{WindowRef: tc.WindowRef}, nil
	}
	return nil, fmt.Errorf("time condition needs windowRef or inline")
}

func (w TimeWindowConfig) toDomain() (*policy.TimeWindow, error) {
	if w.After == "" || w.Before == "" {
		return nil, fmt.Errorf("time window needs after and before")
	}
	days := make([]time.Weekday, 0, len(w.Days))
	for _, d := range w.Days {
		wd, ok := weekdayNames[d]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", d)
		}
		days = append(days, wd)
	}
	return &policy.TimeWindow{After: w.After, Before: w.Before, Days: days}, nil
}

// ResolvedWindows converts every named window in the config into the domain
// shape, so the evaluator can resolve a windowRef without re-parsing YAML.
func ResolvedWindows(windows map[string]TimeWindowConfig) (map[string]policy.TimeWindow, error) {
	out := make(map[string]policy.TimeWindow, len(windows))
	for name, w := range windows {
		d, err := w.toDomain()
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", name, err)
		}
		out[name] = *d
	}
	return out, nil
}

func (ac *AgentConditionConfig) toDomain() *policy.AgentCondition {
	out := &policy.AgentCondition{ScoreMin: ac.ScoreMin, ScoreMax: ac.ScoreMax}
	switch {
	case len(ac.ID) == 0:
	case strings.Contains(ac.ID, ","):
		out.IDAnyOf = splitCSV(ac.ID)
	case strings.Contains(ac.ID, "*"):
		out.IDGlob = ac.ID
	default:
		out.IDExact = ac.ID
	}
	for _, t := range ac.Tiers {
		out.Tiers = append(out.Tiers, policy.Tier(t))
	}
	return out
}

func (cc *ContextConditionConfig) toDomain() *policy.ContextCondition {
	return &policy.ContextCondition{
		HistorySubstr:  cc.HistorySubstr,
		HistoryRegex:   cc.HistoryRegex,
		MessageSubstr:  cc.MessageSubstr,
		MessageRegex:   cc.MessageRegex,
		MetadataKey:    cc.MetadataKey,
		Channels:       cc.Channels,
		SessionKeyGlob: cc.SessionKeyGlob,
	}
}

func (ec EffectConfig) toDomain() (policy.Effect, error) {
	e := policy.Effect{
		Kind:      policy.EffectKind(ec.Kind),
		Reason:    ec.Reason,
		Target:    ec.Target,
		Verbosity: ec.Verbosity,
	}
	if ec.FallbackAction != "" {
		e.FallbackAction = policy.EffectKind(ec.FallbackAction)
	}
	if ec.TimeoutSeconds > 0 {
		e.Timeout = time.Duration(ec.TimeoutSeconds) * time.Second
	}
	if e.Kind == policy.EffectEscalate && e.Target == "" {
		return policy.Effect{}, fmt.Errorf("escalate effect requires target")
	}
	return e, nil
}
