package trust

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/governed/governor/internal/domain/policy"
	domaintrust "github.com/governed/governor/internal/domain/trust"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trust.json")
	m := New(Config{Path: path})
	return m, path
}

func TestManagerGetAgentTrustInitializesDefault(t *testing.T) {
	m, _ := newTestManager(t)
	at := m.GetAgentTrust("forge")
	if at.AgentID != "forge" {
		t.Errorf("AgentID = %q, want forge", at.AgentID)
	}
	if at.Score != 0 {
		t.Errorf("initial Score = %d, want 0", at.Score)
	}
	if at.Tier != policy.TierUntrusted {
		t.Errorf("initial Tier = %q, want untrusted", at.Tier)
	}
}

func TestManagerDefaultsFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")
	m := New(Config{Path: path, Defaults: map[string]int{"forge": 40, "*": 10}})

	if got := m.GetAgentTrust("forge").Score; got != 40 {
		t.Errorf("exact-match default = %d, want 40", got)
	}
	if got := m.GetAgentTrust("other").Score; got != 10 {
		t.Errorf("wildcard default = %d, want 10", got)
	}
}

func TestManagerRecordSuccessRaisesScore(t *testing.T) {
	m, _ := newTestManager(t)
	m.GetAgentTrust("forge")
	for i := 0; i < 5; i++ {
		m.RecordSuccess("forge")
	}
	at := m.GetAgentTrust("forge")
	if at.SuccessCount != 5 {
		t.Errorf("SuccessCount = %d, want 5", at.SuccessCount)
	}
	if at.Score <= 0 {
		t.Errorf("Score after 5 successes = %d, want > 0", at.Score)
	}
	if len(at.History) != 5 {
		t.Errorf("History length = %d, want 5", len(at.History))
	}
}

func TestManagerRecordViolationResetsCleanStreakAndLowersScore(t *testing.T) {
	m, _ := newTestManager(t)
	for i := 0; i < 3; i++ {
		m.RecordSuccess("forge")
	}
	before := m.GetAgentTrust("forge").Score

	m.RecordViolation("forge")
	at := m.GetAgentTrust("forge")

	if at.CleanStreakDays != 0 {
		t.Errorf("CleanStreakDays after violation = %d, want 0", at.CleanStreakDays)
	}
	if at.ViolationCount != 1 {
		t.Errorf("ViolationCount = %d, want 1", at.ViolationCount)
	}
	if at.Score >= before {
		t.Errorf("Score after violation = %d, want less than pre-violation score %d", at.Score, before)
	}
}

func TestManagerRecordEscalation(t *testing.T) {
	m, _ := newTestManager(t)
	m.RecordEscalation("forge", true)
	at := m.GetAgentTrust("forge")
	if at.ApprovedEscalations != 1 {
		t.Errorf("ApprovedEscalations = %d, want 1", at.ApprovedEscalations)
	}

	m.RecordEscalation("forge", false)
	at = m.GetAgentTrust("forge")
	if at.DeniedEscalations != 1 {
		t.Errorf("DeniedEscalations = %d, want 1", at.DeniedEscalations)
	}
}

func TestManagerSetScoreClampsToFloor(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.SetFloor("forge", 25); err != nil {
		t.Fatalf("SetFloor: %v", err)
	}
	if err := m.SetScore("forge", 5); err != nil {
		t.Fatalf("SetScore: %v", err)
	}
	if got := m.GetAgentTrust("forge").Score; got != 25 {
		t.Errorf("Score after SetScore below floor = %d, want 25 (clamped)", got)
	}
}

func TestManagerSetScoreClampsToCeiling(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.SetScore("forge", 500); err != nil {
		t.Fatalf("SetScore: %v", err)
	}
	if got := m.GetAgentTrust("forge").Score; got != 100 {
		t.Errorf("Score after SetScore above ceiling = %d, want 100 (clamped)", got)
	}
}

func TestManagerLockAndUnlockTier(t *testing.T) {
	m, _ := newTestManager(t)
	m.GetAgentTrust("forge")

	if err := m.LockTier("forge", policy.TierPrivileged); err != nil {
		t.Fatalf("LockTier: %v", err)
	}
	if got := m.GetAgentTrust("forge").Tier; got != policy.TierPrivileged {
		t.Errorf("locked Tier = %q, want privileged", got)
	}

	if err := m.UnlockTier("forge"); err != nil {
		t.Fatalf("UnlockTier: %v", err)
	}
	if got := m.GetAgentTrust("forge").Tier; got != policy.TierUntrusted {
		t.Errorf("Tier after unlock = %q, want untrusted (score still 0)", got)
	}
}

func TestManagerResetHistoryPreservesCounters(t *testing.T) {
	m, _ := newTestManager(t)
	m.RecordSuccess("forge")
	m.RecordSuccess("forge")

	if err := m.ResetHistory("forge"); err != nil {
		t.Fatalf("ResetHistory: %v", err)
	}
	at := m.GetAgentTrust("forge")
	if len(at.History) != 0 {
		t.Errorf("History after reset = %d entries, want 0", len(at.History))
	}
	if at.SuccessCount != 2 {
		t.Errorf("SuccessCount after history reset = %d, want 2 (preserved)", at.SuccessCount)
	}
}

func TestManagerHistoryRingCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")
	m := New(Config{Path: path, MaxHistory: 3})
	for i := 0; i < 10; i++ {
		m.RecordSuccess("forge")
	}
	if got := len(m.GetAgentTrust("forge").History); got != 3 {
		t.Errorf("History length = %d, want 3 (capped)", got)
	}
}

func TestManagerFlushAndReload(t *testing.T) {
	m, path := newTestManager(t)
	m.RecordSuccess("forge")
	m.RecordSuccess("forge")

	if err := m.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("trust.json not written: %v", err)
	}

	reloaded := New(Config{Path: path})
	ctx := context.Background()
	if err := reloaded.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = reloaded.Stop(ctx) }()

	at := reloaded.GetAgentTrust("forge")
	if at.SuccessCount != 2 {
		t.Errorf("reloaded SuccessCount = %d, want 2", at.SuccessCount)
	}
}

func TestManagerFlushIsNoOpWhenNotDirty(t *testing.T) {
	m, path := newTestManager(t)
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush on clean store: %v", err)
	}
	if _, err := os.Stat(path); err == nil {
		t.Errorf("Flush on clean store should not create %s", path)
	}
}

func TestManagerStartRenamesCorruptFileAside(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	m := New(Config{Path: path})
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = m.Stop(ctx) }()

	at := m.GetAgentTrust("forge")
	if at.Score != 0 {
		t.Errorf("Score after starting over a corrupt file = %d, want 0 (fresh store)", at.Score)
	}

	matches, _ := filepath.Glob(path + ".corrupt-*")
	if len(matches) != 1 {
		t.Errorf("corrupt file renames found = %d, want 1", len(matches))
	}
}

func TestManagerSnapshotIsIndependentCopy(t *testing.T) {
	m, _ := newTestManager(t)
	m.RecordSuccess("forge")

	snap := m.Snapshot()
	if len(snap.Agents) != 1 {
		t.Fatalf("Snapshot Agents = %d, want 1", len(snap.Agents))
	}

	m.RecordSuccess("other")
	if len(snap.Agents) != 1 {
		t.Errorf("earlier snapshot mutated after later RecordSuccess: Agents = %d, want 1", len(snap.Agents))
	}
}

func TestManagerAgeAccruesFromCreation(t *testing.T) {
	m, _ := newTestManager(t)
	m.GetAgentTrust("forge")

	m.mu.Lock()
	a := m.store.Agents["forge"]
	a.CreatedAt = time.Now().Add(-10 * 24 * time.Hour)
	m.store.Agents["forge"] = a
	m.mu.Unlock()

	m.RecordSuccess("forge")
	at := m.GetAgentTrust("forge")
	if at.AgeDays != 10 {
		t.Errorf("AgeDays = %d, want 10", at.AgeDays)
	}
	// 10 days * 0.5/day = 5 age points, plus one success and one streak day.
	if at.Score < 5 {
		t.Errorf("Score = %d, want at least 5 from the age signal", at.Score)
	}
}

func TestManagerAgeContributionIsCapped(t *testing.T) {
	m, _ := newTestManager(t)
	m.GetAgentTrust("forge")

	m.mu.Lock()
	a := m.store.Agents["forge"]
	a.CreatedAt = time.Now().Add(-365 * 24 * time.Hour)
	m.store.Agents["forge"] = a
	m.mu.Unlock()

	m.RecordSuccess("forge")
	at := m.GetAgentTrust("forge")
	// ageMax caps the age contribution at 20 regardless of actual age;
	// one success adds 0.1 and one streak day 0.3, rounding to 20.
	if at.Score > 21 {
		t.Errorf("Score = %d, age contribution should be capped at ageMax", at.Score)
	}
	if at.AgeDays != 365 {
		t.Errorf("AgeDays = %d, want 365", at.AgeDays)
	}
}

func TestManagerDecayAppliesAfterInactivity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")
	m := New(Config{Path: path})
	for i := 0; i < 20; i++ {
		m.RecordSuccess("forge")
	}
	before := m.GetAgentTrust("forge").Score

	past := time.Now().Add(-30 * 24 * time.Hour)
	m.mu.Lock()
	a := m.store.Agents["forge"]
	a.LastEvaluatedAt = past
	m.store.Agents["forge"] = a
	m.mu.Unlock()

	m.decay = domaintrust.DecayConfig{Enabled: true, InactivityDays: 10, Rate: 0.5}
	m.mu.Lock()
	m.applyDecayLocked()
	m.mu.Unlock()

	after := m.GetAgentTrust("forge").Score
	if after >= before {
		t.Errorf("Score after decay = %d, want less than pre-decay score %d", after, before)
	}
}

func TestSortedAgentIDs(t *testing.T) {
	agents := map[string]domaintrust.AgentTrust{
		"charlie": {}, "alpha": {}, "bravo": {},
	}
	got := sortedAgentIDs(agents)
	want := []string{"alpha", "bravo", "charlie"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sortedAgentIDs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
