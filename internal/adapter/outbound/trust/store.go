// Package trust implements the file-backed trust manager: per-agent score
// aggregation, tier derivation, decay on load, and atomic persistence
// (mutex, flock, backup, write-tmp-fsync-rename).
package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/governed/governor/internal/adapter/outbound/filelock"
	"github.com/governed/governor/internal/domain/policy"
	"github.com/governed/governor/internal/domain/trust"
)

const defaultMaxHistoryPerAgent = 100

// Manager is the file-backed trust.Manager. A dirty flag gates periodic
// persistence; Stop always flushes regardless of the flag.
type Manager struct {
	mu         sync.Mutex
	path       string
	store      trust.Store
	weights    trust.Weights
	decay      trust.DecayConfig
	defaults   map[string]int
	maxHistory int

	dirty bool

	persistInterval time.Duration
	stopCh          chan struct{}
	doneCh          chan struct{}

	clock func() time.Time
}

// Config configures a Manager.
type Config struct {
	Path            string
	Weights         trust.Weights
	Decay           trust.DecayConfig
	Defaults        map[string]int
	MaxHistory      int
	PersistInterval time.Duration
}

// New creates a Manager that persists to cfg.Path. Load the existing store
// (if any) and apply decay before Start is called by reading directly.
func New(cfg Config) *Manager {
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistoryPerAgent
	}
	weights := cfg.Weights
	if weights == (trust.Weights{}) {
		weights = trust.DefaultWeights()
	}
	return &Manager{
		path:            cfg.Path,
		weights:         weights,
		decay:           cfg.Decay,
		defaults:        cfg.Defaults,
		maxHistory:      maxHistory,
		persistInterval: cfg.PersistInterval,
		store:           trust.Store{Version: 1, Agents: make(map[string]trust.AgentTrust)},
		clock:           time.Now,
	}
}

// Start loads the persisted store (renaming a corrupt file aside and
// starting empty on parse failure), applies decay, and begins the
// periodic persistence timer.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if err := m.loadLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.applyDecayLocked()
	m.mu.Unlock()

	if m.persistInterval > 0 {
		m.stopCh = make(chan struct{})
		m.doneCh = make(chan struct{})
		go m.persistLoop()
	}
	return nil
}

// Stop halts the persistence timer and flushes a final time.
func (m *Manager) Stop(ctx context.Context) error {
	if m.stopCh != nil {
		close(m.stopCh)
		<-m.doneCh
	}
	return m.Flush()
}

func (m *Manager) persistLoop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Flush persists the store if dirty. The store is snapshotted under the
// mutex and serialized without it, so persistence never blocks evaluation.
func (m *Manager) Flush() error {
	m.mu.Lock()
	if !m.dirty {
		m.mu.Unlock()
		return nil
	}
	agents := make(map[string]trust.AgentTrust, len(m.store.Agents))
	for k, v := range m.store.Agents {
		agents[k] = v
	}
	store := trust.Store{Version: m.store.Version, Agents: agents}
	m.dirty = false
	m.mu.Unlock()

	store.Updated = m.clock().UTC()
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trust store: %w", err)
	}
	data = append(data, '\n')

	err = filelock.WithLock(m.path, func() error {
		filelock.BackupIfExists(m.path)
		return filelock.WriteAtomic(m.path, data)
	})
	if err != nil {
		// The snapshot never reached disk; re-mark dirty so the next
		// flush cycle retries.
		m.mu.Lock()
		m.dirty = true
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) loadLocked() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read trust store: %w", err)
	}

	var s trust.Store
	if jsonErr := json.Unmarshal(data, &s); jsonErr != nil {
		corruptPath := fmt.Sprintf("%s.corrupt-%d", m.path, m.clock().Unix())
		_ = os.Rename(m.path, corruptPath)
		return nil
	}
	if s.Agents == nil {
		s.Agents = make(map[string]trust.AgentTrust)
	}
	m.store = s
	return nil
}

// applyDecayLocked multiplies a score by decay.Rate once per full
// inactivity period elapsed since LastEvaluatedAt, clamped to the floor.
func (m *Manager) applyDecayLocked() {
	if !m.decay.Enabled || m.decay.InactivityDays <= 0 {
		return
	}
	now := m.clock()
	for id, a := range m.store.Agents {
		if a.LastEvaluatedAt.IsZero() {
			continue
		}
		inactiveDays := int(now.Sub(a.LastEvaluatedAt).Hours() / 24)
		if inactiveDays < m.decay.InactivityDays {
			continue
		}
		periods := inactiveDays / m.decay.InactivityDays
		floor := 0
		if a.Floor != nil {
			floor = *a.Floor
		}
		score := float64(a.Score)
		for i := 0; i < periods; i++ {
			score *= m.decay.Rate
		}
		a.Score = clampScore(int(math.Round(score)), floor)
		a.Tier = a.EffectiveTier()
		m.store.Agents[id] = a
		m.dirty = true
	}
}

// GetAgentTrust returns the stored record, or a newly-initialized one
// using the configured defaults map (exact id, then "*", then 0).
func (m *Manager) GetAgentTrust(id string) trust.AgentTrust {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrInitLocked(id)
}

func (m *Manager) getOrInitLocked(id string) trust.AgentTrust {
	if a, ok := m.store.Agents[id]; ok {
		return a
	}
	score := m.defaultScore(id)
	now := m.clock()
	a := trust.AgentTrust{
		AgentID:         id,
		Score:           score,
		Tier:            policy.TierFromScore(score),
		CreatedAt:       now,
		LastEvaluatedAt: now,
	}
	m.store.Agents[id] = a
	m.dirty = true
	return a
}

func (m *Manager) defaultScore(id string) int {
	if m.defaults != nil {
		if v, ok := m.defaults[id]; ok {
			return v
		}
		if v, ok := m.defaults["*"]; ok {
			return v
		}
	}
	return 0
}

// RecordSuccess increments success_count and clean_streak_days, appends a
// positive-delta history event, and recomputes score/tier.
func (m *Manager) RecordSuccess(id string) {
	m.mutate(id, func(a *trust.AgentTrust) {
		a.SuccessCount++
		a.CleanStreakDays++
		a.History = appendHistory(a.History, m.maxHistory, trust.HistoryEvent{
			Timestamp: m.clock(), Delta: 1, Reason: "success",
		})
	})
}

// RecordViolation increments violation_count, zeroes the clean streak,
// appends a negative-delta history event, and recomputes score/tier.
func (m *Manager) RecordViolation(id string) {
	m.mutate(id, func(a *trust.AgentTrust) {
		a.ViolationCount++
		a.CleanStreakDays = 0
		a.History = appendHistory(a.History, m.maxHistory, trust.HistoryEvent{
			Timestamp: m.clock(), Delta: -1, Reason: "violation",
		})
	})
}

// RecordEscalation adjusts the approved/denied escalation counters.
func (m *Manager) RecordEscalation(id string, approved bool) {
	m.mutate(id, func(a *trust.AgentTrust) {
		reason := "escalation_denied"
		delta := -1.0
		if approved {
			a.ApprovedEscalations++
			reason = "escalation_approved"
			delta = 1
		} else {
			a.DeniedEscalations++
		}
		a.History = appendHistory(a.History, m.maxHistory, trust.HistoryEvent{
			Timestamp: m.clock(), Delta: delta, Reason: reason,
		})
	})
}

// SetScore clamps s to [max(floor,0),100] and records the difference as a
// manual adjustment so the score formula remains self-consistent.
func (m *Manager) SetScore(id string, s int) error {
	return m.mutate(id, func(a *trust.AgentTrust) {
		floor := 0
		if a.Floor != nil {
			floor = *a.Floor
		}
		clamped := clampScore(s, floor)
		a.ManualAdjustment += float64(clamped - computeRawScore(*a, m.weights))
	})
}

// LockTier overrides tier derivation with t.
func (m *Manager) LockTier(id string, t policy.Tier) error {
	return m.mutate(id, func(a *trust.AgentTrust) { a.LockedTier = &t })
}

// UnlockTier removes a tier lock, reverting to derived tier.
func (m *Manager) UnlockTier(id string) error {
	return m.mutate(id, func(a *trust.AgentTrust) { a.LockedTier = nil })
}

// SetFloor sets the score's lower clamp bound.
func (m *Manager) SetFloor(id string, floor int) error {
	return m.mutate(id, func(a *trust.AgentTrust) { a.Floor = &floor })
}

// ResetHistory empties the history ring but preserves cumulative counters.
func (m *Manager) ResetHistory(id string) error {
	return m.mutate(id, func(a *trust.AgentTrust) { a.History = nil })
}

// Snapshot returns a copy of the current store, safe for serialization by
// the caller without further locking.
func (m *Manager) Snapshot() trust.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	agents := make(map[string]trust.AgentTrust, len(m.store.Agents))
	for k, v := range m.store.Agents {
		agents[k] = v
	}
	return trust.Store{Version: m.store.Version, Updated: m.store.Updated, Agents: agents}
}

// mutate applies fn to the agent's record under the lock, refreshes the
// age signal, then recomputes score and tier from the formula (unless fn
// directly set ManualAdjustment deltas, which the formula already accounts
// for) and marks the store dirty.
func (m *Manager) mutate(id string, fn func(a *trust.AgentTrust)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.getOrInitLocked(id)
	fn(&a)
	now := m.clock()
	a.LastEvaluatedAt = now
	a.AgeDays = ageDays(a.CreatedAt, now)

	floor := 0
	if a.Floor != nil {
		floor = *a.Floor
	}
	a.Score = clampScore(computeRawScore(a, m.weights), floor)
	a.Tier = a.EffectiveTier()

	m.store.Agents[id] = a
	m.dirty = true
	return nil
}

// ageDays derives the age signal from how long the agent has existed.
// Records loaded from an older store without a creation timestamp stay at
// zero rather than accruing age from the Unix epoch.
func ageDays(createdAt, now time.Time) int {
	if createdAt.IsZero() || now.Before(createdAt) {
		return 0
	}
	return int(now.Sub(createdAt).Hours() / 24)
}

func appendHistory(history []trust.HistoryEvent, max int, ev trust.HistoryEvent) []trust.HistoryEvent {
	history = append(history, ev)
	if len(history) > max {
		history = history[len(history)-max:]
	}
	return history
}

// computeRawScore implements the weighted trust score formula.
func computeRawScore(a trust.AgentTrust, w trust.Weights) int {
	raw := math.Min(float64(a.AgeDays)*w.AgePerDay, w.AgeMax)
	raw += math.Min(float64(a.SuccessCount)*w.SuccessPerAction, w.SuccessMax)
	raw += float64(a.ViolationCount) * w.ViolationPenalty
	raw += float64(a.ApprovedEscalations) * w.ApprovedEscalationBonus
	raw += float64(a.DeniedEscalations) * w.DeniedEscalationPenalty
	raw += math.Min(float64(a.CleanStreakDays)*w.CleanStreakPerDay, w.CleanStreakMax)
	raw += float64(a.ManualAdjustment)
	return int(math.Round(raw))
}

func clampScore(score, floor int) int {
	if floor < 0 {
		floor = 0
	}
	if score < floor {
		return floor
	}
	if score > 100 {
		return 100
	}
	return score
}

// sortedAgentIDs is used by tests and diagnostics needing deterministic
// iteration order over the store's agent map.
func sortedAgentIDs(agents map[string]trust.AgentTrust) []string {
	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
