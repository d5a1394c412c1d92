// Package riskassessor computes the five-factor weighted risk score, the
// same pattern-table-then-lookup discipline as internal/domain/tool's
// name classifier generalized from a four-band name scan into a weighted
// sum over named tool scores, off-hours, trust deficit, frequency, and
// external-target detection.
package riskassessor

import (
	"math"

	"github.com/governed/governor/internal/domain/policy"
)

const (
	weightToolSensitivity = 30
	weightTimeOfDay       = 15
	weightTrustDeficit    = 20
	weightFrequency       = 15
	weightTargetScope     = 20

	defaultToolScore = 30

	frequencyWindowSeconds = 60
	frequencySaturation    = 20
)

// builtinToolScores is the default lookup table for tool sensitivity,
// generalized from the classifier's priority pattern buckets into a
// named, graded 0-100 score per known tool.
var builtinToolScores = map[string]int{
	"gateway":        95,
	"elevated":       95,
	"cron":           90,
	"exec":           70,
	"write":          65,
	"edit":           60,
	"sessions_send":  50,
	"sessions_spawn": 45,
	"browser":        40,
	"message":        40,
	"web_fetch":      20,
	"web_search":     15,
	"canvas":         15,
	"read":           10,
	"image":          10,
}

const memoryPrefix = "memory_"
const memoryScore = 5

// FrequencyCounter is the narrow interface the frequency factor reads from.
type FrequencyCounter interface {
	Count(windowSeconds int, scope policy.FrequencyScope, agentID, sessionKey string) int
}

// Assessor computes RiskAssessment values. Overrides supersede the
// built-in table; an unknown tool defaults to defaultToolScore.
type Assessor struct {
	Overrides map[string]int
	Frequency FrequencyCounter
}

// New creates an Assessor. overrides may be nil.
func New(overrides map[string]int, freq FrequencyCounter) *Assessor {
	return &Assessor{Overrides: overrides, Frequency: freq}
}

// Assess computes the weighted score and band for one evaluation context.
func (a *Assessor) Assess(ctx policy.EvaluationContext) policy.RiskAssessment {
	factors := policy.RiskFactors{
		ToolSensitivity: a.toolSensitivity(ctx.ToolName),
		TimeOfDay:       timeOfDay(ctx.Time.Hour),
		TrustDeficit:    trustDeficit(ctx.Trust.Score),
		Frequency:       a.frequency(ctx),
		TargetScope:     targetScope(ctx),
	}

	total := factors.ToolSensitivity + factors.TimeOfDay + factors.TrustDeficit +
		factors.Frequency + factors.TargetScope
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	return policy.RiskAssessment{
		Score:   total,
		Level:   policy.RiskLevelFromScore(total),
		Factors: factors,
	}
}

func (a *Assessor) toolSensitivity(tool string) int {
	score := a.lookupToolScore(tool)
	return round(float64(score) / 100 * weightToolSensitivity)
}

func (a *Assessor) lookupToolScore(tool string) int {
	if a.Overrides != nil {
		if v, ok := a.Overrides[tool]; ok {
			return v
		}
	}
	if v, ok := builtinToolScores[tool]; ok {
		return v
	}
	if len(tool) > len(memoryPrefix) && tool[:len(memoryPrefix)] == memoryPrefix {
		return memoryScore
	}
	return defaultToolScore
}

func timeOfDay(hour int) int {
	if hour < 8 || hour >= 23 {
		return weightTimeOfDay
	}
	return 0
}

func trustDeficit(score int) int {
	return round(float64(100-score) / 100 * weightTrustDeficit)
}

func (a *Assessor) frequency(ctx policy.EvaluationContext) int {
	if a.Frequency == nil {
		return 0
	}
	count := a.Frequency.Count(frequencyWindowSeconds, policy.FrequencyScopeAgent, ctx.AgentID, ctx.SessionKey)
	ratio := float64(count) / frequencySaturation
	if ratio > 1 {
		ratio = 1
	}
	return round(ratio * weightFrequency)
}

func targetScope(ctx policy.EvaluationContext) int {
	if ctx.MessageAddressee != "" {
		return weightTargetScope
	}
	if host, ok := ctx.ToolParams["host"].(string); ok && host != "sandbox" {
		return weightTargetScope
	}
	if elevated, ok := ctx.ToolParams["elevated"].(bool); ok && elevated {
		return weightTargetScope
	}
	return 0
}

func round(v float64) int {
	return int(math.Round(v))
}
