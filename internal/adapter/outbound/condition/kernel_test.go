package condition

import (
	"testing"
	"time"

	"github.com/governed/governor/internal/domain/policy"
)

func baseCtx() policy.EvaluationContext {
	return policy.EvaluationContext{
		AgentID:  "forge",
		ToolName: "exec",
		ToolParams: map[string]any{
			"command": "ls -la",
			"host":    "sandbox",
		},
		Time:  policy.TimeContext{MinuteOfDay: 3*60 + 15, Weekday: time.Tuesday},
		Trust: policy.TrustSnapshot{Score: 60, Tier: policy.TierTrusted},
	}
}

func newDeps() Deps {
	return Deps{Regex: NewRegexCache(nil)}
}

func TestMatchTool(t *testing.T) {
	ctx := baseCtx()
	deps := newDeps()

	tests := []struct {
		name string
		cond policy.ToolCondition
		want bool
	}{
		{"exact match", policy.ToolCondition{NameExact: "exec"}, true},
		{"exact mismatch", policy.ToolCondition{NameExact: "read"}, false},
		{"glob match", policy.ToolCondition{NameGlob: "ex*"}, true},
		{"any-of match", policy.ToolCondition{NameAnyOf: []string{"read", "exec"}}, true},
		{
			"param equals",
			policy.ToolCondition{NameExact: "exec", Params: map[string]policy.ParamMatcher{
				"host": {Op: policy.ParamEquals, Value: "sandbox"},
			}},
			true,
		},
		{
			"param missing key",
			policy.ToolCondition{NameExact: "exec", Params: map[string]policy.ParamMatcher{
				"missing": {Op: policy.ParamEquals, Value: "x"},
			}},
			false,
		},
		{
			"param contains",
			policy.ToolCondition{NameExact: "exec", Params: map[string]policy.ParamMatcher{
				"command": {Op: policy.ParamContains, Value: "-la"},
			}},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := tt.cond
			got := Match(policy.Condition{Kind: policy.ConditionKindTool, Tool: &cond}, ctx, deps)
			if got != tt.want {
				t.Errorf("Match(tool) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchTimeMidnightWrap(t *testing.T) {
	deps := newDeps()
	nightMode := policy.TimeCondition{Inline: &policy.TimeWindow{After: "23:00", Before: "08:00"}}

	ctx := baseCtx()
	ctx.Time.MinuteOfDay = 3 * 60 // 03:00, inside the wrap
	if !Match(policy.Condition{Kind: policy.ConditionKindTime, Time: &nightMode}, ctx, deps) {
		t.Error("expected 03:00 to be inside 23:00-08:00 window")
	}

	ctx.Time.MinuteOfDay = 12 * 60 // noon, outside the wrap
	if Match(policy.Condition{Kind: policy.ConditionKindTime, Time: &nightMode}, ctx, deps) {
		t.Error("expected 12:00 to be outside 23:00-08:00 window")
	}
}

func TestMatchAgentTierGate(t *testing.T) {
	deps := newDeps()
	ctx := baseCtx()
	ctx.Trust = policy.TrustSnapshot{Score: 30, Tier: policy.TierRestricted}

	cond := policy.AgentCondition{Tiers: []policy.Tier{policy.TierTrusted, policy.TierPrivileged}}
	if Match(policy.Condition{Kind: policy.ConditionKindAgent, Agent: &cond}, ctx, deps) {
		t.Error("restricted agent should not match a trusted/privileged tier set")
	}
}

func TestMatchNegation(t *testing.T) {
	deps := newDeps()
	ctx := baseCtx()
	inner := policy.Condition{Kind: policy.ConditionKindTool, Tool: &policy.ToolCondition{NameExact: "exec"}}
	negated := policy.Condition{Kind: policy.ConditionKindNegation, Inner: &inner}
	if Match(negated, ctx, deps) {
		t.Error("negation of a true inner condition should be false")
	}
}

func TestMatchCompositeAny(t *testing.T) {
	deps := newDeps()
	ctx := baseCtx()
	any := []policy.Condition{
		{Kind: policy.ConditionKindTool, Tool: &policy.ToolCondition{NameExact: "read"}},
		{Kind: policy.ConditionKindTool, Tool: &policy.ToolCondition{NameExact: "exec"}},
	}
	if !Match(policy.Condition{Kind: policy.ConditionKindComposite, CompositeAny: any}, ctx, deps) {
		t.Error("composite any should match when the second sub-condition holds")
	}
}

func TestMatchMissingFieldYieldsFalse(t *testing.T) {
	deps := newDeps()
	ctx := baseCtx()
	ctx.MessageContent = ""
	cond := policy.ContextCondition{MessageSubstr: "anything"}
	if Match(policy.Condition{Kind: policy.ConditionKindContext, Context: &cond}, ctx, deps) {
		t.Error("a missing message field should never match a substring condition")
	}
}

func TestRegexCacheUnsafePatternNeverMatches(t *testing.T) {
	var warnCount int
	cache := NewRegexCache(func(source string, err error) { warnCount++ })

	longPattern := make([]byte, 600)
	for i := range longPattern {
		longPattern[i] = 'a'
	}

	_, ok := cache.Get(string(longPattern))
	if ok {
		t.Fatal("overlong pattern should be rejected")
	}
	_, ok = cache.Get(string(longPattern))
	if ok {
		t.Fatal("overlong pattern should stay rejected on second lookup")
	}
	if warnCount != 1 {
		t.Errorf("expected exactly one warning, got %d", warnCount)
	}
}

func TestRegexCacheIdenticalObjectAcrossCalls(t *testing.T) {
	cache := NewRegexCache(nil)
	a, ok := cache.Get(`^foo.*$`)
	if !ok {
		t.Fatal("expected valid pattern to compile")
	}
	b, _ := cache.Get(`^foo.*$`)
	if a != b {
		t.Error("expected identical compiled object across calls")
	}
}

func TestMatchAllShortCircuits(t *testing.T) {
	deps := newDeps()
	ctx := baseCtx()
	conds := []policy.Condition{
		{Kind: policy.ConditionKindTool, Tool: &policy.ToolCondition{NameExact: "exec"}},
		{Kind: policy.ConditionKindTool, Tool: &policy.ToolCondition{NameExact: "read"}},
	}
	if MatchAll(conds, ctx, deps) {
		t.Error("AND-combination should fail when any condition is false")
	}
}
