// Package trust contains the domain types for per-agent trust scoring:
// the score/tier state each agent accrues from success, violation, and
// escalation signals, and the versioned envelope it is persisted under.
package trust

import (
	"time"

	"github.com/governed/governor/internal/domain/policy"
)

// Tier re-exports the five-band trust classification so callers outside
// the policy package do not need to import it just to name a band.
type Tier = policy.Tier

const (
	Untrusted  = policy.TierUntrusted
	Restricted = policy.TierRestricted
	Standard   = policy.TierStandard
	Trusted    = policy.TierTrusted
	Privileged = policy.TierPrivileged
)

// HistoryEvent is one ring-limited entry in an agent's trust history.
type HistoryEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Delta     float64   `json:"delta"`
	Reason    string    `json:"reason"`
}

// AgentTrust is the per-agent trust record.
type AgentTrust struct {
	AgentID string `json:"agent_id"`

	Score int  `json:"score"`
	Tier  Tier `json:"tier"`

	SuccessCount        int     `json:"success_count"`
	ViolationCount      int     `json:"violation_count"`
	ApprovedEscalations int     `json:"approved_escalations"`
	DeniedEscalations   int     `json:"denied_escalations"`
	AgeDays             int     `json:"age_days"`
	CleanStreakDays     int     `json:"clean_streak_days"`
	ManualAdjustment    float64 `json:"manual_adjustment"`

	History []HistoryEvent `json:"history,omitempty"`

	CreatedAt       time.Time `json:"created_at"`
	LastEvaluatedAt time.Time `json:"last_evaluated_at"`

	// LockedTier, when non-nil, overrides the derived tier.
	LockedTier *Tier `json:"locked_tier,omitempty"`
	// Floor, when non-nil, clamps the score from below.
	Floor *int `json:"floor,omitempty"`
}

// EffectiveTier returns the locked tier when set, else the tier derived
// from score. Invariant 2: tier derivation is a pure function of score
// except when a lock is set.
func (a AgentTrust) EffectiveTier() Tier {
	if a.LockedTier != nil {
		return *a.LockedTier
	}
	return policy.TierFromScore(a.Score)
}

// Snapshot produces the small copyable view carried on evaluation contexts.
func (a AgentTrust) Snapshot() policy.TrustSnapshot {
	return policy.TrustSnapshot{Score: a.Score, Tier: a.EffectiveTier()}
}

// Store is the versioned envelope persisted as trust.json. Version 1.
type Store struct {
	Version int                   `json:"version"`
	Updated time.Time             `json:"updated"`
	Agents  map[string]AgentTrust `json:"agents"`
}

// Weights configures the score formula's per-signal contribution.
type Weights struct {
	AgePerDay               float64
	AgeMax                  float64
	SuccessPerAction        float64
	SuccessMax              float64
	ViolationPenalty        float64
	ApprovedEscalationBonus float64
	DeniedEscalationPenalty float64
	CleanStreakPerDay       float64
	CleanStreakMax          float64
}

// DefaultWeights matches the formula's documented defaults.
func DefaultWeights() Weights {
	return Weights{
		AgePerDay:               0.5,
		AgeMax:                  20,
		SuccessPerAction:        0.1,
		SuccessMax:              30,
		ViolationPenalty:        -2,
		ApprovedEscalationBonus: 0.5,
		DeniedEscalationPenalty: -3,
		CleanStreakPerDay:       0.3,
		CleanStreakMax:          20,
	}
}

// DecayConfig governs score decay for agents inactive past a threshold.
type DecayConfig struct {
	Enabled        bool
	InactivityDays int
	Rate           float64
}
