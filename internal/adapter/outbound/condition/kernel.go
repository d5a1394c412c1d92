package condition

import (
	"strconv"
	"strings"
	"time"

	"github.com/governed/governor/internal/domain/policy"
	"github.com/governed/governor/internal/util"
)

// FrequencyCounter is the narrow interface the frequency condition needs;
// satisfied by internal/adapter/outbound/frequency.Counter.
type FrequencyCounter interface {
	Count(windowSeconds int, scope policy.FrequencyScope, agentID, sessionKey string) int
}

// Deps carries everything a condition kind needs beyond the context itself:
// the shared regex cache, named time windows, the frequency counter, and
// the risk assessment computed earlier in the same evaluation.
type Deps struct {
	Regex       *RegexCache
	TimeWindows map[string]policy.TimeWindow
	Frequency   FrequencyCounter
	Risk        policy.RiskAssessment
}

// Match dispatches a condition to its per-kind matcher via a type switch,
// the table-driven discipline the kernel is built around. A missing
// context field referenced by a condition yields false, never an error.
func Match(cond policy.Condition, ctx policy.EvaluationContext, deps Deps) bool {
	switch cond.Kind {
	case policy.ConditionKindTool:
		return matchTool(cond.Tool, ctx, deps)
	case policy.ConditionKindTime:
		return matchTime(cond.Time, ctx, deps)
	case policy.ConditionKindAgent:
		return matchAgent(cond.Agent, ctx)
	case policy.ConditionKindContext:
		return matchContext(cond.Context, ctx, deps)
	case policy.ConditionKindRisk:
		return matchRisk(cond.Risk, deps)
	case policy.ConditionKindFrequency:
		return matchFrequency(cond.Frequency, ctx, deps)
	case policy.ConditionKindComposite:
		return matchAny(cond.CompositeAny, ctx, deps)
	case policy.ConditionKindNegation:
		if cond.Inner == nil {
			return false
		}
		return !Match(*cond.Inner, ctx, deps)
	default:
		return false
	}
}

// MatchAll evaluates a rule's AND-combined condition list, short-circuiting
// on the first false.
func MatchAll(conds []policy.Condition, ctx policy.EvaluationContext, deps Deps) bool {
	for _, c := range conds {
		if !Match(c, ctx, deps) {
			return false
		}
	}
	return true
}

// matchAny implements composite "any": OR over sub-conditions, short-
// circuiting on the first true.
func matchAny(conds []policy.Condition, ctx policy.EvaluationContext, deps Deps) bool {
	for _, c := range conds {
		if Match(c, ctx, deps) {
			return true
		}
	}
	return false
}

func matchTool(c *policy.ToolCondition, ctx policy.EvaluationContext, deps Deps) bool {
	if c == nil {
		return false
	}
	if !matchToolName(c, ctx.ToolName) {
		return false
	}
	for key, m := range c.Params {
		v, present := ctx.ToolParams[key]
		if !present {
			return false
		}
		if !matchParam(m, v, deps) {
			return false
		}
	}
	return true
}

func matchToolName(c *policy.ToolCondition, name string) bool {
	switch {
	case c.NameExact != "":
		return name == c.NameExact
	case c.NameGlob != "":
		return util.GlobToRegex(c.NameGlob).MatchString(name)
	case len(c.NameAnyOf) > 0:
		for _, n := range c.NameAnyOf {
			if n == name {
				return true
			}
		}
		return false
	default:
		return true // unconstrained name matcher matches any tool
	}
}

// matchParam compares a tool parameter value against a matcher. Values are
// string-coerced except ParamEquals, which is strict, and ParamIn, which
// requires element-wise string equality against the configured set.
func matchParam(m policy.ParamMatcher, v any, deps Deps) bool {
	switch m.Op {
	case policy.ParamEquals:
		return equalsStrict(v, m.Value)
	case policy.ParamContains:
		return strings.Contains(coerceString(v), m.Value)
	case policy.ParamStartsWith:
		return strings.HasPrefix(coerceString(v), m.Value)
	case policy.ParamIn:
		s := coerceString(v)
		for _, candidate := range m.Values {
			if candidate == s {
				return true
			}
		}
		return false
	case policy.ParamMatches:
		re, ok := deps.Regex.Get(m.Value)
		if !ok {
			return false
		}
		return re.MatchString(coerceString(v))
	default:
		return false
	}
}

func equalsStrict(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return t == want
	case bool:
		b, err := strconv.ParseBool(want)
		return err == nil && t == b
	default:
		return coerceString(v) == want
	}
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return ""
	}
}

func matchTime(c *policy.TimeCondition, ctx policy.EvaluationContext, deps Deps) bool {
	if c == nil {
		return false
	}
	window := c.Inline
	if window == nil && c.WindowRef != "" {
		if w, ok := deps.TimeWindows[c.WindowRef]; ok {
			window = &w
		}
	}
	if window == nil {
		return false
	}
	if len(window.Days) > 0 && !containsWeekday(window.Days, ctx.Time.Weekday) {
		return false
	}
	after := util.ParseTimeMinutes(window.After)
	before := util.ParseTimeMinutes(window.Before)
	if after < 0 || before < 0 {
		return false
	}
	return util.InTimeRange(ctx.Time.MinuteOfDay, after, before)
}

func containsWeekday(days []time.Weekday, day time.Weekday) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

func matchAgent(c *policy.AgentCondition, ctx policy.EvaluationContext) bool {
	if c == nil {
		return false
	}
	if !matchAgentID(c, ctx.AgentID) {
		return false
	}
	if len(c.Tiers) > 0 && !containsTier(c.Tiers, ctx.Trust.Tier) {
		return false
	}
	if c.ScoreMin != nil && ctx.Trust.Score < *c.ScoreMin {
		return false
	}
	if c.ScoreMax != nil && ctx.Trust.Score > *c.ScoreMax {
		return false
	}
	return true
}

func matchAgentID(c *policy.AgentCondition, id string) bool {
	switch {
	case c.IDExact != "":
		return id == c.IDExact
	case c.IDGlob != "":
		return util.GlobToRegex(c.IDGlob).MatchString(id)
	case len(c.IDAnyOf) > 0:
		for _, candidate := range c.IDAnyOf {
			if candidate == id {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func containsTier(tiers []policy.Tier, t policy.Tier) bool {
	for _, candidate := range tiers {
		if candidate == t {
			return true
		}
	}
	return false
}

func matchContext(c *policy.ContextCondition, ctx policy.EvaluationContext, deps Deps) bool {
	if c == nil {
		return false
	}
	if c.HistorySubstr != "" && !historyContains(ctx.History, c.HistorySubstr) {
		return false
	}
	if c.HistoryRegex != "" && !historyMatches(ctx.History, c.HistoryRegex, deps) {
		return false
	}
	if c.MessageSubstr != "" && !strings.Contains(ctx.MessageContent, c.MessageSubstr) {
		return false
	}
	if c.MessageRegex != "" {
		re, ok := deps.Regex.Get(c.MessageRegex)
		if !ok || !re.MatchString(ctx.MessageContent) {
			return false
		}
	}
	if c.MetadataKey != "" {
		if _, present := ctx.Metadata[c.MetadataKey]; !present {
			return false
		}
	}
	if len(c.Channels) > 0 && !containsString(c.Channels, ctx.Channel) {
		return false
	}
	if c.SessionKeyGlob != "" && !util.GlobToRegex(c.SessionKeyGlob).MatchString(ctx.SessionKey) {
		return false
	}
	return true
}

func historyContains(history []string, substr string) bool {
	for _, h := range history {
		if strings.Contains(h, substr) {
			return true
		}
	}
	return false
}

func historyMatches(history []string, source string, deps Deps) bool {
	re, ok := deps.Regex.Get(source)
	if !ok {
		return false
	}
	for _, h := range history {
		if re.MatchString(h) {
			return true
		}
	}
	return false
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func matchRisk(c *policy.RiskCondition, deps Deps) bool {
	if c == nil {
		return false
	}
	return policy.RiskLevelAtLeast(deps.Risk.Level, c.MinLevel) &&
		policy.RiskLevelAtMost(deps.Risk.Level, c.MaxLevel)
}

func matchFrequency(c *policy.FrequencyCondition, ctx policy.EvaluationContext, deps Deps) bool {
	if c == nil || deps.Frequency == nil {
		return false
	}
	count := deps.Frequency.Count(c.WindowSeconds, c.Scope, ctx.AgentID, ctx.SessionKey)
	return count >= c.Threshold
}
