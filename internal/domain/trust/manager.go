package trust

import "context"

// Manager is the interface the engine orchestrator drives; the file-backed
// implementation lives in internal/adapter/outbound/trust.
type Manager interface {
	GetAgentTrust(agentID string) AgentTrust
	RecordSuccess(agentID string)
	RecordViolation(agentID string)
	RecordEscalation(agentID string, approved bool)
	SetScore(agentID string, score int) error
	LockTier(agentID string, tier Tier) error
	UnlockTier(agentID string) error
	SetFloor(agentID string, floor int) error
	ResetHistory(agentID string) error

	// Start loads the store from disk (applying decay) and begins the
	// persistence timer. Stop flushes a final save and stops the timer.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Snapshot returns a copy of the full store, for status/debug surfaces.
	Snapshot() Store
}
