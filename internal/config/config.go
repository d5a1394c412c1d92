// Package config provides configuration types for the governance engine.
//
// The schema covers the engine's own configuration surface: the master
// switch, timezone, fail mode, the declared policy set, named time
// windows, trust scoring, audit persistence, tool risk overrides,
// built-in policy templates, and performance budgets. It intentionally
// excludes anything the host gateway owns: hook dispatch wiring, the
// approval UI, and LLM-backed intent evaluation are configured by the
// host, not here.
package config

import (
	"github.com/governed/governor/internal/domain/trust"
)

// GovernorConfig is the top-level configuration for the governance engine.
type GovernorConfig struct {
	// Enabled is the master switch; false turns Evaluate into a no-op allow.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Timezone is the IANA zone name driving TimeContext computation.
	Timezone string `yaml:"timezone" mapstructure:"timezone" validate:"omitempty"`

	// FailMode governs the verdict substituted when evaluation errors:
	// "open" allows, "closed" denies.
	FailMode string `yaml:"failMode" mapstructure:"failMode" validate:"omitempty,oneof=open closed"`

	// Workspace is the directory governance state is persisted under
	// ({workspace}/trust.json, {workspace}/audit/...).
	Workspace string `yaml:"workspace" mapstructure:"workspace" validate:"omitempty"`

	// Policies is the declared policy set, merged with any enabled
	// built-in templates at compile time (declared policies win on a
	// colliding id).
	Policies []PolicyConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`

	// TimeWindows names reusable inline time windows referenced by a
	// time condition's windowRef.
	TimeWindows map[string]TimeWindowConfig `yaml:"timeWindows" mapstructure:"timeWindows"`

	Trust TrustConfig `yaml:"trust" mapstructure:"trust"`
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// ToolRiskOverrides supersedes the built-in tool sensitivity table
	// entry by entry; tools absent from both fall back to the assessor's
	// unknown-tool default.
	ToolRiskOverrides map[string]int `yaml:"toolRiskOverrides" mapstructure:"toolRiskOverrides" validate:"omitempty,dive,min=0,max=100"`

	BuiltinPolicies BuiltinPoliciesConfig `yaml:"builtinPolicies" mapstructure:"builtinPolicies"`
	Performance     PerformanceConfig     `yaml:"performance" mapstructure:"performance"`
}

// TimeWindowConfig is the YAML shape of a named time window.
type TimeWindowConfig struct {
	After  string   `yaml:"after" mapstructure:"after" validate:"required"`
	Before string   `yaml:"before" mapstructure:"before" validate:"required"`
	Days   []string `yaml:"days" mapstructure:"days" validate:"omitempty,dive,oneof=Sunday Monday Tuesday Wednesday Thursday Friday Saturday"`
}

// TrustConfig configures the trust manager.
type TrustConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Defaults maps agent id to its starting score; "*" is the fallback
	// for any agent id not listed explicitly.
	Defaults map[string]int `yaml:"defaults" mapstructure:"defaults" validate:"omitempty,dive,min=0,max=100"`

	PersistIntervalSeconds int `yaml:"persistIntervalSeconds" mapstructure:"persistIntervalSeconds" validate:"omitempty,min=1"`

	Decay TrustDecayConfig `yaml:"decay" mapstructure:"decay"`

	// Weights partially overrides the score formula's default weights;
	// any zero-valued field keeps the built-in default.
	Weights TrustWeightsConfig `yaml:"weights" mapstructure:"weights"`

	MaxHistoryPerAgent int `yaml:"maxHistoryPerAgent" mapstructure:"maxHistoryPerAgent" validate:"omitempty,min=1"`
}

// TrustDecayConfig configures score decay for inactive agents.
type TrustDecayConfig struct {
	Enabled        bool    `yaml:"enabled" mapstructure:"enabled"`
	InactivityDays int     `yaml:"inactivityDays" mapstructure:"inactivityDays" validate:"omitempty,min=1"`
	Rate           float64 `yaml:"rate" mapstructure:"rate" validate:"omitempty,gt=0,lte=1"`
}

// TrustWeightsConfig is the YAML-overridable subset of trust.Weights.
// A zero value means "use the built-in default for this field".
type TrustWeightsConfig struct {
	AgePerDay               float64 `yaml:"agePerDay" mapstructure:"agePerDay"`
	AgeMax                  float64 `yaml:"ageMax" mapstructure:"ageMax"`
	SuccessPerAction        float64 `yaml:"successPerAction" mapstructure:"successPerAction"`
	SuccessMax              float64 `yaml:"successMax" mapstructure:"successMax"`
	ViolationPenalty        float64 `yaml:"violationPenalty" mapstructure:"violationPenalty"`
	ApprovedEscalationBonus float64 `yaml:"approvedEscalationBonus" mapstructure:"approvedEscalationBonus"`
	DeniedEscalationPenalty float64 `yaml:"deniedEscalationPenalty" mapstructure:"deniedEscalationPenalty"`
	CleanStreakPerDay       float64 `yaml:"cleanStreakPerDay" mapstructure:"cleanStreakPerDay"`
	CleanStreakMax          float64 `yaml:"cleanStreakMax" mapstructure:"cleanStreakMax"`
}

// ResolveWeights merges w over trust.DefaultWeights(), keeping the
// default for any field left at zero.
func (w TrustWeightsConfig) ResolveWeights() trust.Weights {
	d := trust.DefaultWeights()
	merge := func(override, fallback float64) float64 {
		if override == 0 {
			return fallback
		}
		return override
	}
	return trust.Weights{
		AgePerDay:               merge(w.AgePerDay, d.AgePerDay),
		AgeMax:                  merge(w.AgeMax, d.AgeMax),
		SuccessPerAction:        merge(w.SuccessPerAction, d.SuccessPerAction),
		SuccessMax:              merge(w.SuccessMax, d.SuccessMax),
		ViolationPenalty:        merge(w.ViolationPenalty, d.ViolationPenalty),
		ApprovedEscalationBonus: merge(w.ApprovedEscalationBonus, d.ApprovedEscalationBonus),
		DeniedEscalationPenalty: merge(w.DeniedEscalationPenalty, d.DeniedEscalationPenalty),
		CleanStreakPerDay:       merge(w.CleanStreakPerDay, d.CleanStreakPerDay),
		CleanStreakMax:          merge(w.CleanStreakMax, d.CleanStreakMax),
	}
}

// AuditConfig configures the audit log.
type AuditConfig struct {
	Enabled         bool     `yaml:"enabled" mapstructure:"enabled"`
	RetentionDays   int      `yaml:"retentionDays" mapstructure:"retentionDays" validate:"omitempty,min=1"`
	VerifyOnStartup bool     `yaml:"verifyOnStartup" mapstructure:"verifyOnStartup"`
	RedactPatterns  []string `yaml:"redactPatterns" mapstructure:"redactPatterns"`
	Level           string   `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=minimal standard verbose"`
}

// BuiltinPoliciesConfig toggles the four parameterized built-in policy
// templates. A nil pointer leaves the template disabled.
type BuiltinPoliciesConfig struct {
	NightMode           *NightModeConfig           `yaml:"nightMode" mapstructure:"nightMode"`
	CredentialGuard     *CredentialGuardConfig     `yaml:"credentialGuard" mapstructure:"credentialGuard"`
	ProductionSafeguard *ProductionSafeguardConfig `yaml:"productionSafeguard" mapstructure:"productionSafeguard"`
	RateLimiter         *RateLimiterConfig         `yaml:"rateLimiter" mapstructure:"rateLimiter"`
}

type NightModeConfig struct {
	After  string `yaml:"after" mapstructure:"after"`
	Before string `yaml:"before" mapstructure:"before"`
}

type CredentialGuardConfig struct {
	PathGlobs []string `yaml:"pathGlobs" mapstructure:"pathGlobs"`
}

type ProductionSafeguardConfig struct {
	Channels []string `yaml:"channels" mapstructure:"channels"`
	MinTrust string   `yaml:"minTrust" mapstructure:"minTrust" validate:"omitempty,tier"`
}

type RateLimiterConfig struct {
	Threshold     int `yaml:"threshold" mapstructure:"threshold" validate:"omitempty,min=1"`
	WindowSeconds int `yaml:"windowSeconds" mapstructure:"windowSeconds" validate:"omitempty,min=1"`
}

// PerformanceConfig configures evaluation budgets and buffer sizes.
type PerformanceConfig struct {
	MaxEvalUs           int64 `yaml:"maxEvalUs" mapstructure:"maxEvalUs" validate:"omitempty,min=1"`
	MaxContextMessages  int   `yaml:"maxContextMessages" mapstructure:"maxContextMessages" validate:"omitempty,min=1"`
	FrequencyBufferSize int   `yaml:"frequencyBufferSize" mapstructure:"frequencyBufferSize" validate:"omitempty,min=1"`
}

// PolicyConfig is the YAML shape of a declarative policy. ToDomain
// converts it to the immutable policy.Policy the index compiles from.
type PolicyConfig struct {
	ID       string       `yaml:"id" mapstructure:"id" validate:"required"`
	Version  string       `yaml:"version" mapstructure:"version"`
	Name     string       `yaml:"name" mapstructure:"name" validate:"required"`
	Priority int          `yaml:"priority" mapstructure:"priority"`
	Enabled  *bool        `yaml:"enabled" mapstructure:"enabled"`
	Scope    ScopeConfig  `yaml:"scope" mapstructure:"scope"`
	Rules    []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"required,min=1,dive"`
}

type ScopeConfig struct {
	Agents        []string `yaml:"agents" mapstructure:"agents"`
	ExcludeAgents []string `yaml:"excludeAgents" mapstructure:"excludeAgents"`
	Channels      []string `yaml:"channels" mapstructure:"channels"`
	Hooks         []string `yaml:"hooks" mapstructure:"hooks" validate:"omitempty,dive,oneof=before_tool_call message_sending before_agent_start session_start"`
}

type RuleConfig struct {
	ID         string            `yaml:"id" mapstructure:"id" validate:"required"`
	Conditions []ConditionConfig `yaml:"conditions" mapstructure:"conditions" validate:"omitempty,dive"`
	Effect     EffectConfig      `yaml:"effect" mapstructure:"effect" validate:"required"`
	MinTrust   string            `yaml:"minTrust" mapstructure:"minTrust" validate:"omitempty,tier"`
	MaxTrust   string            `yaml:"maxTrust" mapstructure:"maxTrust" validate:"omitempty,tier"`
}

// ConditionConfig mirrors policy.Condition's tagged-variant shape in a
// YAML-friendly form: exactly one of the kind fields should be set.
type ConditionConfig struct {
	Tool      *ToolConditionConfig      `yaml:"tool" mapstructure:"tool"`
	Time      *TimeConditionConfig      `yaml:"time" mapstructure:"time"`
	Agent     *AgentConditionConfig     `yaml:"agent" mapstructure:"agent"`
	Context   *ContextConditionConfig   `yaml:"context" mapstructure:"context"`
	Risk      *RiskConditionConfig      `yaml:"risk" mapstructure:"risk"`
	Frequency *FrequencyConditionConfig `yaml:"frequency" mapstructure:"frequency"`
	Any       []ConditionConfig         `yaml:"any" mapstructure:"any"`
	Not       *ConditionConfig          `yaml:"not" mapstructure:"not"`
}

type ToolConditionConfig struct {
	Name   string                        `yaml:"name" mapstructure:"name"`
	Params map[string]ParamMatcherConfig `yaml:"params" mapstructure:"params"`
}

type ParamMatcherConfig struct {
	Op     string   `yaml:"op" mapstructure:"op" validate:"required,oneof=equals contains matches startsWith in"`
	Value  string   `yaml:"value" mapstructure:"value"`
	Values []string `yaml:"values" mapstructure:"values"`
}

type TimeConditionConfig struct {
	WindowRef string            `yaml:"windowRef" mapstructure:"windowRef"`
	Inline    *TimeWindowConfig `yaml:"inline" mapstructure:"inline"`
}

type AgentConditionConfig struct {
	ID       string   `yaml:"id" mapstructure:"id"`
	Tiers    []string `yaml:"tiers" mapstructure:"tiers" validate:"omitempty,dive,tier"`
	ScoreMin *int     `yaml:"scoreMin" mapstructure:"scoreMin"`
	ScoreMax *int     `yaml:"scoreMax" mapstructure:"scoreMax"`
}

type ContextConditionConfig struct {
	HistorySubstr  string   `yaml:"historySubstr" mapstructure:"historySubstr"`
	HistoryRegex   string   `yaml:"historyRegex" mapstructure:"historyRegex"`
	MessageSubstr  string   `yaml:"messageSubstr" mapstructure:"messageSubstr"`
	MessageRegex   string   `yaml:"messageRegex" mapstructure:"messageRegex"`
	MetadataKey    string   `yaml:"metadataKey" mapstructure:"metadataKey"`
	Channels       []string `yaml:"channels" mapstructure:"channels"`
	SessionKeyGlob string   `yaml:"sessionKeyGlob" mapstructure:"sessionKeyGlob"`
}

type RiskConditionConfig struct {
	MinLevel string `yaml:"minLevel" mapstructure:"minLevel" validate:"omitempty,oneof=low medium high critical"`
	MaxLevel string `yaml:"maxLevel" mapstructure:"maxLevel" validate:"omitempty,oneof=low medium high critical"`
}

type FrequencyConditionConfig struct {
	Threshold     int    `yaml:"threshold" mapstructure:"threshold" validate:"required_with=Scope,min=1"`
	WindowSeconds int    `yaml:"windowSeconds" mapstructure:"windowSeconds"`
	Scope         string `yaml:"scope" mapstructure:"scope" validate:"omitempty,oneof=agent session global"`
}

// EffectConfig is the YAML shape of a rule's effect.
type EffectConfig struct {
	Kind           string `yaml:"kind" mapstructure:"kind" validate:"required,oneof=allow deny escalate audit"`
	Reason         string `yaml:"reason" mapstructure:"reason"`
	Target         string `yaml:"target" mapstructure:"target"`
	FallbackAction string `yaml:"fallbackAction" mapstructure:"fallbackAction" validate:"omitempty,oneof=allow deny"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" mapstructure:"timeoutSeconds"`
	Verbosity      string `yaml:"verbosity" mapstructure:"verbosity" validate:"omitempty,oneof=minimal standard verbose"`
}

// SetDefaults fills in every field the YAML left at its zero value with a
// safe production default. Called after Viper unmarshal and before
// validation, so required-looking fields are satisfied by default when the
// operator supplies a minimal config.
func (c *GovernorConfig) SetDefaults() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.FailMode == "" {
		c.FailMode = "open"
	}
	if c.Workspace == "" {
		c.Workspace = ".governor"
	}

	if c.Trust.PersistIntervalSeconds == 0 {
		c.Trust.PersistIntervalSeconds = 30
	}
	if c.Trust.MaxHistoryPerAgent == 0 {
		c.Trust.MaxHistoryPerAgent = 100
	}
	if c.Trust.Decay.InactivityDays == 0 {
		c.Trust.Decay.InactivityDays = 14
	}
	if c.Trust.Decay.Rate == 0 {
		c.Trust.Decay.Rate = 0.02
	}

	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 90
	}
	if c.Audit.Level == "" {
		c.Audit.Level = "standard"
	}

	if c.Performance.MaxEvalUs == 0 {
		c.Performance.MaxEvalUs = 5000
	}
	if c.Performance.MaxContextMessages == 0 {
		c.Performance.MaxContextMessages = 20
	}
	if c.Performance.FrequencyBufferSize == 0 {
		c.Performance.FrequencyBufferSize = 1000
	}

	if c.BuiltinPolicies.RateLimiter != nil {
		if c.BuiltinPolicies.RateLimiter.Threshold == 0 {
			c.BuiltinPolicies.RateLimiter.Threshold = 20
		}
		if c.BuiltinPolicies.RateLimiter.WindowSeconds == 0 {
			c.BuiltinPolicies.RateLimiter.WindowSeconds = 60
		}
	}
	if c.BuiltinPolicies.NightMode != nil {
		if c.BuiltinPolicies.NightMode.After == "" {
			c.BuiltinPolicies.NightMode.After = "23:00"
		}
		if c.BuiltinPolicies.NightMode.Before == "" {
			c.BuiltinPolicies.NightMode.Before = "08:00"
		}
	}
	if c.BuiltinPolicies.ProductionSafeguard != nil && c.BuiltinPolicies.ProductionSafeguard.MinTrust == "" {
		c.BuiltinPolicies.ProductionSafeguard.MinTrust = "trusted"
	}
}
