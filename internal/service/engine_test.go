package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"go.uber.org/goleak"

	domainaudit "github.com/governed/governor/internal/domain/audit"
	"github.com/governed/governor/internal/domain/policy"
	"github.com/governed/governor/internal/domain/trust"
)

// fakeEvaluator returns a fixed verdict or error, recording the last
// EvaluationContext and RiskAssessment it was called with.
type fakeEvaluator struct {
	verdict  policy.Verdict
	err      error
	lastCtx  policy.EvaluationContext
	lastRisk policy.RiskAssessment
	calls    int
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, evalCtx policy.EvaluationContext, risk policy.RiskAssessment) (policy.Verdict, error) {
	f.calls++
	f.lastCtx = evalCtx
	f.lastRisk = risk
	return f.verdict, f.err
}

type fakeRiskAssessor struct{ assessment policy.RiskAssessment }

func (f *fakeRiskAssessor) Assess(evalCtx policy.EvaluationContext) policy.RiskAssessment {
	return f.assessment
}

type fakeFrequency struct {
	records []string
	cleared bool
}

func (f *fakeFrequency) Record(agentID, sessionKey, toolName string) {
	f.records = append(f.records, agentID+"/"+sessionKey+"/"+toolName)
}

func (f *fakeFrequency) Clear() { f.cleared = true }

// fakeTrustManager is a minimal in-memory trust.Manager double.
type fakeTrustManager struct {
	agents     map[string]trust.AgentTrust
	started    bool
	stopped    bool
	startErr   error
	stopErr    error
	successes  int
	violations int
}

func newFakeTrustManager() *fakeTrustManager {
	return &fakeTrustManager{agents: make(map[string]trust.AgentTrust)}
}

func (f *fakeTrustManager) GetAgentTrust(agentID string) trust.AgentTrust {
	if a, ok := f.agents[agentID]; ok {
		return a
	}
	return trust.AgentTrust{AgentID: agentID, Tier: policy.TierUntrusted}
}

func (f *fakeTrustManager) RecordSuccess(agentID string)                   { f.successes++ }
func (f *fakeTrustManager) RecordViolation(agentID string)                 { f.violations++ }
func (f *fakeTrustManager) RecordEscalation(agentID string, approved bool) {}
func (f *fakeTrustManager) SetScore(agentID string, score int) error {
	a := f.agents[agentID]
	a.Score = score
	f.agents[agentID] = a
	return nil
}
func (f *fakeTrustManager) LockTier(agentID string, tier trust.Tier) error { return nil }
func (f *fakeTrustManager) UnlockTier(agentID string) error                { return nil }
func (f *fakeTrustManager) SetFloor(agentID string, floor int) error       { return nil }
func (f *fakeTrustManager) ResetHistory(agentID string) error              { return nil }
func (f *fakeTrustManager) Start(ctx context.Context) error                { f.started = true; return f.startErr }
func (f *fakeTrustManager) Stop(ctx context.Context) error                 { f.stopped = true; return f.stopErr }
func (f *fakeTrustManager) Snapshot() trust.Store {
	return trust.Store{Version: 1, Agents: f.agents}
}

// fakeAuditStore records appended records without touching disk.
type fakeAuditStore struct {
	records   []domainaudit.AuditRecord
	flushed   int
	appendErr error
}

func (f *fakeAuditStore) Append(ctx context.Context, rec domainaudit.AuditRecord) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.records = append(f.records, rec)
	return nil
}
func (f *fakeAuditStore) Flush(ctx context.Context) error { f.flushed++; return nil }
func (f *fakeAuditStore) Head() domainaudit.ChainHead     { return domainaudit.ChainHead{} }
func (f *fakeAuditStore) VerifyChain(ctx context.Context) (int64, error) {
	return 0, nil
}
func (f *fakeAuditStore) Query(ctx context.Context, filter domainaudit.Filter) ([]domainaudit.AuditRecord, error) {
	return f.records, nil
}
func (f *fakeAuditStore) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngineDisabledAlwaysAllows(t *testing.T) {
	defer goleak.VerifyNone(t)

	eng := New(Config{Enabled: false}, Deps{Logger: testLogger()})
	verdict := eng.Evaluate(context.Background(), policy.EvaluationContext{AgentID: "forge"})
	if verdict.Action != policy.ActionAllow {
		t.Errorf("Action = %q, want allow", verdict.Action)
	}
}

func TestEngineEvaluateHappyPath(t *testing.T) {
	defer goleak.VerifyNone(t)

	evaluator := &fakeEvaluator{verdict: policy.Verdict{Action: policy.ActionAllow}}
	risk := &fakeRiskAssessor{assessment: policy.RiskAssessment{Score: 10, Level: policy.RiskLow}}
	freq := &fakeFrequency{}
	trustMgr := newFakeTrustManager()

	eng := New(Config{Enabled: true, TrustEnabled: true}, Deps{
		Evaluator: evaluator,
		Risk:      risk,
		Trust:     trustMgr,
		Frequency: freq,
		Logger:    testLogger(),
	})

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		if err := eng.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	if !trustMgr.started {
		t.Error("Start did not start the trust manager")
	}
	if !freq.cleared {
		t.Error("Start did not clear the frequency counter")
	}

	verdict := eng.Evaluate(ctx, policy.EvaluationContext{AgentID: "forge", SessionKey: "s1", ToolName: "exec"})
	if verdict.Action != policy.ActionAllow {
		t.Errorf("Action = %q, want allow", verdict.Action)
	}
	if verdict.EvaluationUs < 0 {
		t.Error("EvaluationUs should never be negative")
	}
	if evaluator.calls != 1 {
		t.Errorf("evaluator.calls = %d, want 1", evaluator.calls)
	}
	if len(freq.records) != 1 {
		t.Errorf("frequency records = %d, want 1", len(freq.records))
	}

	status := eng.GetStatus()
	if status.Stats.Total != 1 || status.Stats.AllowCount != 1 {
		t.Errorf("Stats = %+v, want Total=1 AllowCount=1", status.Stats)
	}
}

func TestEngineFailOpenOnEvaluatorError(t *testing.T) {
	defer goleak.VerifyNone(t)

	evaluator := &fakeEvaluator{err: errors.New("boom")}
	eng := New(Config{Enabled: true, FailMode: FailModeOpen}, Deps{
		Evaluator: evaluator,
		Logger:    testLogger(),
	})

	verdict := eng.Evaluate(context.Background(), policy.EvaluationContext{AgentID: "forge"})
	if verdict.Action != policy.ActionAllow {
		t.Errorf("Action = %q, want allow (fail-open)", verdict.Action)
	}

	status := eng.GetStatus()
	if status.Stats.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", status.Stats.ErrorCount)
	}
}

func TestEngineFailClosedOnEvaluatorError(t *testing.T) {
	defer goleak.VerifyNone(t)

	evaluator := &fakeEvaluator{err: errors.New("boom")}
	eng := New(Config{Enabled: true, FailMode: FailModeClosed}, Deps{
		Evaluator: evaluator,
		Logger:    testLogger(),
	})

	verdict := eng.Evaluate(context.Background(), policy.EvaluationContext{AgentID: "forge"})
	if verdict.Action != policy.ActionDeny {
		t.Errorf("Action = %q, want deny (fail-closed)", verdict.Action)
	}
}

func TestEngineNoEvaluatorConfiguredFailsOpen(t *testing.T) {
	defer goleak.VerifyNone(t)

	eng := New(Config{Enabled: true, FailMode: FailModeOpen}, Deps{Logger: testLogger()})
	verdict := eng.Evaluate(context.Background(), policy.EvaluationContext{AgentID: "forge"})
	if verdict.Action != policy.ActionAllow {
		t.Errorf("Action = %q, want allow", verdict.Action)
	}
}

func TestEngineRecoversFromPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	eng := New(Config{Enabled: true, FailMode: FailModeClosed}, Deps{
		Evaluator: panicEvaluator{},
		Logger:    testLogger(),
	})

	verdict := eng.Evaluate(context.Background(), policy.EvaluationContext{AgentID: "forge"})
	if verdict.Action != policy.ActionDeny {
		t.Errorf("Action after panic = %q, want deny (fail-closed)", verdict.Action)
	}
}

type panicEvaluator struct{}

func (panicEvaluator) Evaluate(ctx context.Context, evalCtx policy.EvaluationContext, risk policy.RiskAssessment) (policy.Verdict, error) {
	panic("simulated collaborator panic")
}

func TestEngineEmitsAuditRecord(t *testing.T) {
	defer goleak.VerifyNone(t)

	evaluator := &fakeEvaluator{verdict: policy.Verdict{Action: policy.ActionDeny}}
	auditStore := &fakeAuditStore{}

	eng := New(Config{Enabled: true, AuditEnabled: true, AuditLevel: "standard"}, Deps{
		Evaluator: evaluator,
		Audit:     auditStore,
		Logger:    testLogger(),
	})

	eng.Evaluate(context.Background(), policy.EvaluationContext{AgentID: "forge", Hook: policy.HookBeforeToolCall, ToolName: "exec"})

	if len(auditStore.records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(auditStore.records))
	}
	rec := auditStore.records[0]
	if rec.Verdict != policy.ActionDeny {
		t.Errorf("record Verdict = %q, want deny", rec.Verdict)
	}
	if rec.AgentID != "forge" {
		t.Errorf("record AgentID = %q, want forge", rec.AgentID)
	}
}

func TestEngineNoAuditWhenDisabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	evaluator := &fakeEvaluator{verdict: policy.Verdict{Action: policy.ActionAllow}}
	auditStore := &fakeAuditStore{}

	eng := New(Config{Enabled: true, AuditEnabled: false}, Deps{
		Evaluator: evaluator,
		Audit:     auditStore,
		Logger:    testLogger(),
	})

	eng.Evaluate(context.Background(), policy.EvaluationContext{AgentID: "forge"})
	if len(auditStore.records) != 0 {
		t.Errorf("audit records = %d, want 0 when AuditEnabled is false", len(auditStore.records))
	}
}

func TestEngineRegisterSubAgentReplacesAgentID(t *testing.T) {
	defer goleak.VerifyNone(t)

	evaluator := &fakeEvaluator{verdict: policy.Verdict{Action: policy.ActionAllow}}
	eng := New(Config{Enabled: true}, Deps{Evaluator: evaluator, Logger: testLogger()})

	eng.RegisterSubAgent("agent:forge:main", "agent:forge:sub1")

	eng.Evaluate(context.Background(), policy.EvaluationContext{
		AgentID: "forge-sub1", SessionKey: "agent:forge:sub1", ToolName: "exec",
	})

	if evaluator.lastCtx.AgentID != "forge" {
		t.Errorf("enriched AgentID = %q, want forge (from parent session key)", evaluator.lastCtx.AgentID)
	}
	if evaluator.lastCtx.Metadata["sub_agent_of"] != "forge-sub1" {
		t.Errorf("Metadata[sub_agent_of] = %q, want forge-sub1", evaluator.lastCtx.Metadata["sub_agent_of"])
	}
}

func TestEngineRecordOutcomeFeedsTrustManager(t *testing.T) {
	defer goleak.VerifyNone(t)

	trustMgr := newFakeTrustManager()
	eng := New(Config{Enabled: true, TrustEnabled: true}, Deps{Trust: trustMgr, Logger: testLogger()})

	eng.RecordOutcome("forge", "exec", true)
	if trustMgr.successes != 1 {
		t.Errorf("successes = %d, want 1", trustMgr.successes)
	}

	eng.RecordOutcome("forge", "exec", false)
	if trustMgr.violations != 1 {
		t.Errorf("violations = %d, want 1", trustMgr.violations)
	}
}

func TestEngineGetAndSetTrust(t *testing.T) {
	defer goleak.VerifyNone(t)

	trustMgr := newFakeTrustManager()
	eng := New(Config{Enabled: true, TrustEnabled: true}, Deps{Trust: trustMgr, Logger: testLogger()})

	if err := eng.SetTrust("forge", 80); err != nil {
		t.Fatalf("SetTrust: %v", err)
	}
	if got := eng.GetAgentTrust("forge").Score; got != 80 {
		t.Errorf("Score = %d, want 80", got)
	}

	snap := eng.GetTrustSnapshot()
	if len(snap.Agents) != 1 {
		t.Errorf("Snapshot Agents = %d, want 1", len(snap.Agents))
	}
}

func TestEngineStartStopWithoutTrustOrAudit(t *testing.T) {
	defer goleak.VerifyNone(t)

	eng := New(Config{Enabled: true}, Deps{Logger: testLogger()})
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
