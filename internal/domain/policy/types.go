// Package policy contains the domain types for governance policy evaluation:
// declarative policies and rules, the closed condition-kind taxonomy, and
// the verdicts they produce.
package policy

import "time"

// HookKind names one of the four synchronous extension points the host
// runtime calls into before an agent action takes effect.
type HookKind string

const (
	HookBeforeToolCall   HookKind = "before_tool_call"
	HookMessageSending   HookKind = "message_sending"
	HookBeforeAgentStart HookKind = "before_agent_start"
	HookSessionStart     HookKind = "session_start"
)

// RiskLevel is the ordered band a numeric risk score falls into.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskOrder gives the total order low<medium<high<critical used by range conditions.
var riskOrder = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

// RiskLevelAtLeast reports whether a is ordered at or above b.
func RiskLevelAtLeast(a, b RiskLevel) bool { return riskOrder[a] >= riskOrder[b] }

// RiskLevelAtMost reports whether a is ordered at or below b.
func RiskLevelAtMost(a, b RiskLevel) bool { return riskOrder[a] <= riskOrder[b] }

// RiskLevelFromScore bands a clamped 0-100 score into its discrete level.
func RiskLevelFromScore(score int) RiskLevel {
	switch {
	case score <= 25:
		return RiskLow
	case score <= 50:
		return RiskMedium
	case score <= 75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// Tier is the five-band classification of trust score used for rule gating.
type Tier string

const (
	TierUntrusted  Tier = "untrusted"
	TierRestricted Tier = "restricted"
	TierStandard   Tier = "standard"
	TierTrusted    Tier = "trusted"
	TierPrivileged Tier = "privileged"
)

// tierOrder fixes the total order untrusted<restricted<standard<trusted<privileged.
var tierOrder = map[Tier]int{
	TierUntrusted:  0,
	TierRestricted: 1,
	TierStandard:   2,
	TierTrusted:    3,
	TierPrivileged: 4,
}

// TierAtLeast reports whether a is ordered at or above b in the fixed tier order.
func TierAtLeast(a, b Tier) bool { return tierOrder[a] >= tierOrder[b] }

// TierAtMost reports whether a is ordered at or below b in the fixed tier order.
func TierAtMost(a, b Tier) bool { return tierOrder[a] <= tierOrder[b] }

// TierFromScore bands a clamped 0-100 trust score into its tier.
func TierFromScore(score int) Tier {
	switch {
	case score >= 80:
		return TierPrivileged
	case score >= 60:
		return TierTrusted
	case score >= 40:
		return TierStandard
	case score >= 20:
		return TierRestricted
	default:
		return TierUntrusted
	}
}

// FrequencyScope names which dimension a frequency condition counts over.
type FrequencyScope string

const (
	FrequencyScopeAgent   FrequencyScope = "agent"
	FrequencyScopeSession FrequencyScope = "session"
	FrequencyScopeGlobal  FrequencyScope = "global"
)

// ParamOp is one of the matchers a tool condition can apply to a parameter value.
type ParamOp string

const (
	ParamEquals     ParamOp = "equals"
	ParamContains   ParamOp = "contains"
	ParamMatches    ParamOp = "matches"
	ParamStartsWith ParamOp = "startsWith"
	ParamIn         ParamOp = "in"
)

// ParamMatcher matches one tool parameter by key against an operator and value.
type ParamMatcher struct {
	Op     ParamOp
	Value  string
	Values []string // used by ParamIn
}

// ToolCondition matches the tool name (exact, glob, or any of a list) and,
// optionally, a set of per-parameter matchers (all must hold).
type ToolCondition struct {
	NameExact string
	NameGlob  string
	NameAnyOf []string
	Params    map[string]ParamMatcher
}

// TimeWindow is an inline or named time-of-day window. After>Before denotes
// a midnight wrap; After==Before matches only at that exact minute.
type TimeWindow struct {
	After  string // "HH:MM"
	Before string // "HH:MM"
	Days   []time.Weekday
}

// TimeCondition references a named window or carries one inline.
type TimeCondition struct {
	WindowRef string
	Inline    *TimeWindow
}

// AgentCondition matches the acting agent's id, tier membership, and score range.
type AgentCondition struct {
	IDExact  string
	IDGlob   string
	IDAnyOf  []string
	Tiers    []Tier
	ScoreMin *int
	ScoreMax *int
}

// ContextCondition inspects conversation history, message content, metadata,
// channel, and session key.
type ContextCondition struct {
	HistorySubstr  string
	HistoryRegex   string
	MessageSubstr  string
	MessageRegex   string
	MetadataKey    string
	Channels       []string
	SessionKeyGlob string
}

// RiskCondition matches an inclusive band range over the ordered risk levels.
type RiskCondition struct {
	MinLevel RiskLevel
	MaxLevel RiskLevel
}

// FrequencyCondition matches when the recent count meets or exceeds Threshold.
type FrequencyCondition struct {
	Threshold     int
	WindowSeconds int
	Scope         FrequencyScope
}

// ConditionKind is the closed, fixed taxonomy of condition kinds. Adding a
// kind is an internal change to the kernel, not a user extension point.
type ConditionKind string

const (
	ConditionKindTool      ConditionKind = "tool"
	ConditionKindTime      ConditionKind = "time"
	ConditionKindAgent     ConditionKind = "agent"
	ConditionKindContext   ConditionKind = "context"
	ConditionKindRisk      ConditionKind = "risk"
	ConditionKindFrequency ConditionKind = "frequency"
	ConditionKindComposite ConditionKind = "composite" // OR (any) over sub-conditions
	ConditionKindNegation  ConditionKind = "negation"  // NOT of one sub-condition
)

// Condition is a tagged variant: exactly one of the kind-specific fields is
// populated, matching Kind. The kernel dispatches on Kind with a type switch
// rather than polymorphism.
type Condition struct {
	Kind ConditionKind

	Tool      *ToolCondition
	Time      *TimeCondition
	Agent     *AgentCondition
	Context   *ContextCondition
	Risk      *RiskCondition
	Frequency *FrequencyCondition

	// Composite ("any"): OR over sub-conditions, short-circuits on first true.
	CompositeAny []Condition

	// Negation ("not"): evaluates Inner and inverts the result.
	Inner *Condition
}

// EffectKind is the disposition a matched rule contributes.
type EffectKind string

const (
	EffectAllow    EffectKind = "allow"
	EffectDeny     EffectKind = "deny"
	EffectEscalate EffectKind = "escalate"
	EffectAudit    EffectKind = "audit" // observational only, never blocks
)

// Effect is the outcome a rule produces when its conditions hold.
type Effect struct {
	Kind EffectKind `json:"kind"`

	// Deny
	Reason string `json:"reason,omitempty"`

	// Escalate
	Target         string        `json:"target,omitempty"`
	FallbackAction EffectKind    `json:"fallback_action,omitempty"` // EffectAllow or EffectDeny, applied on timeout
	Timeout        time.Duration `json:"timeout,omitempty"`

	// Audit
	Verbosity string `json:"verbosity,omitempty"` // minimal|standard|verbose
}

// Rule carries an ordered, AND-combined condition list, an effect, and
// optional trust-tier gates. The first rule in a policy whose conditions
// all hold and whose gates permit produces the policy's contribution.
type Rule struct {
	ID         string
	Conditions []Condition
	Effect     Effect
	MinTrust   *Tier
	MaxTrust   *Tier
}

// Scope restricts a policy's applicability. An empty/absent set means "any".
type Scope struct {
	AgentsInclude []string
	AgentsExclude []string
	Channels      []string
	Hooks         []HookKind
}

// Policy is identified by a stable string id and carries an ordered rule list.
type Policy struct {
	ID       string
	Version  string
	Name     string
	Priority int
	Enabled  bool
	Scope    Scope
	Rules    []Rule
}

// TrustSnapshot is the small, copyable view of an agent's trust carried on
// an EvaluationContext and a Verdict.
type TrustSnapshot struct {
	Score int  `json:"score"`
	Tier  Tier `json:"tier"`
}

// TimeContext carries the wall-clock components evaluated in the engine's
// configured timezone, computed once per evaluation.
type TimeContext struct {
	Hour        int          `json:"hour"`
	Minute      int          `json:"minute"`
	Weekday     time.Weekday `json:"weekday"`
	Date        string       `json:"date"` // YYYY-MM-DD
	Zone        string       `json:"zone"`
	MinuteOfDay int          `json:"minute_of_day"`
}

// EvaluationContext is immutable per call. It carries everything a
// condition, the risk assessor, or the evaluator needs.
type EvaluationContext struct {
	Hook       HookKind `json:"hook"`
	AgentID    string   `json:"agent_id"`
	SessionKey string   `json:"session_key,omitempty"`
	Channel    string   `json:"channel,omitempty"`

	ToolName   string         `json:"tool_name,omitempty"`
	ToolParams map[string]any `json:"tool_params,omitempty"`

	MessageContent   string `json:"message_content,omitempty"`
	MessageAddressee string `json:"message_addressee,omitempty"`

	Time        TimeContext `json:"time"`
	MonotonicUs int64       `json:"-"`

	Trust TrustSnapshot `json:"trust"`

	History  []string          `json:"history,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MatchedEffect records one policy's contribution to a verdict.
type MatchedEffect struct {
	PolicyID string `json:"policy_id"`
	RuleID   string `json:"rule_id"`
	Effect   Effect `json:"effect"`
}

// RiskAssessment is the five-factor weighted score and its discrete band.
type RiskAssessment struct {
	Score   int         `json:"score"`
	Level   RiskLevel   `json:"level"`
	Factors RiskFactors `json:"factors"`
}

// RiskFactors breaks the total score down by contributing factor weight.
type RiskFactors struct {
	ToolSensitivity int `json:"tool_sensitivity"`
	TimeOfDay       int `json:"time_of_day"`
	TrustDeficit    int `json:"trust_deficit"`
	Frequency       int `json:"frequency"`
	TargetScope     int `json:"target_scope"`
}

// Action is the verdict's final disposition.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionDeny     Action = "deny"
	ActionEscalate Action = "escalate"
)

// Verdict is the outcome returned to the host for one evaluation.
type Verdict struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`

	Risk  RiskAssessment `json:"risk"`
	Trust TrustSnapshot  `json:"trust"`

	MatchedPolicies []MatchedEffect `json:"matched_policies"`

	EscalateTarget  string        `json:"escalate_target,omitempty"`
	EscalateTimeout time.Duration `json:"escalate_timeout,omitempty"`

	EvaluationUs int64 `json:"evaluation_us"`
}
