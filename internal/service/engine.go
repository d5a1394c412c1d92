// Package service wires the domain ports and outbound adapters into the
// engine orchestrator: the single object a host embeds to get evaluate,
// start/stop lifecycle, trust/status introspection, and statistics.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	domainaudit "github.com/governed/governor/internal/domain/audit"
	"github.com/governed/governor/internal/domain/policy"
	"github.com/governed/governor/internal/domain/trust"
	"github.com/governed/governor/internal/util"
)

const (
	FailModeOpen   = "open"
	FailModeClosed = "closed"

	defaultMaxEvalUs = 5000

	// ActionErrorFallback is the audit-only verdict recorded when the error
	// guard substitutes a fail-mode verdict for a failed evaluation. It is
	// never returned to the host as a policy.Action.
	ActionErrorFallback policy.Action = "error_fallback"
)

// RiskAssessor is the narrow interface the engine drives; satisfied by
// internal/adapter/outbound/riskassessor.Assessor.
type RiskAssessor interface {
	Assess(ctx policy.EvaluationContext) policy.RiskAssessment
}

// FrequencyRecorder is the narrow interface the engine records occurrences
// through; satisfied by internal/adapter/outbound/frequency.Counter.
type FrequencyRecorder interface {
	Record(agentID, sessionKey, toolName string)
}

// Metrics is the optional observability port the engine reports through.
// A nil Metrics is a safe no-op; the Prometheus implementation lives in
// internal/adapter/inbound/http.
type Metrics interface {
	ObserveEvaluation(action policy.Action, evaluationUs int64)
	SetPolicyCount(n int)
	SetTrustScore(agentID string, score int)
}

// Config governs the error guard, timezone, and audit verbosity. It
// mirrors the configuration surface's engine-level options.
type Config struct {
	Enabled  bool
	Timezone string
	FailMode string // "open" or "closed"

	MaxEvalUs int64 // budget warn threshold; 0 uses the default

	AuditEnabled bool
	AuditLevel   string // "minimal", "standard", "verbose"

	TrustEnabled bool
}

// Stats aggregates running evaluation counters and the mean evaluation
// time in microseconds, updated after every Evaluate call.
type Stats struct {
	Total         int64
	AllowCount    int64
	DenyCount     int64
	EscalateCount int64
	ErrorCount    int64
	MeanEvalUs    float64
}

// Status is the shape returned by GetStatus.
type Status struct {
	Enabled      bool
	PolicyCount  int
	TrustEnabled bool
	AuditEnabled bool
	FailMode     string
	Stats        Stats
}

// Engine owns every subsystem: the policy index/evaluator, the risk
// assessor, the trust manager, the frequency counter, and the audit
// store. It is the single object a host embeds.
type Engine struct {
	cfg Config

	evaluator   policy.Evaluator
	risk        RiskAssessor
	trustMgr    trust.Manager
	frequency   FrequencyRecorder
	auditLog    domainaudit.Store
	redactor    *domainaudit.Redactor
	metrics     Metrics
	logger      *slog.Logger
	policyCount func() int

	subAgentsMu sync.RWMutex
	subAgents   map[string]string // child session key -> parent session key

	statsMu sync.Mutex
	stats   Stats
}

// Deps carries every collaborator New needs. A nil Logger falls back to
// slog.Default. Evaluate, Start, Stop and RecordOutcome skip the step of a
// nil Trust, Frequency, Risk, Audit, Redactor or Metrics, and GetStatus
// reports 0 policies for a nil PolicyCount; a nil Evaluator makes every
// enabled Evaluate return the fail-mode verdict.
type Deps struct {
	Evaluator policy.Evaluator
	Risk      RiskAssessor
	Trust     trust.Manager
	Frequency FrequencyRecorder
	Audit     domainaudit.Store
	Redactor  *domainaudit.Redactor
	Metrics   Metrics
	Logger    *slog.Logger

	// PolicyCount reports the currently published policy count for the
	// status surface; typically bound to (*policyindex.Provider).Load()
	// .PolicyCount by the caller wiring the engine together.
	PolicyCount func() int
}

// New constructs an Engine. cfg.MaxEvalUs<=0 is replaced with the default.
func New(cfg Config, deps Deps) *Engine {
	if cfg.MaxEvalUs <= 0 {
		cfg.MaxEvalUs = defaultMaxEvalUs
	}
	if cfg.FailMode != FailModeClosed {
		cfg.FailMode = FailModeOpen
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:         cfg,
		evaluator:   deps.Evaluator,
		risk:        deps.Risk,
		trustMgr:    deps.Trust,
		frequency:   deps.Frequency,
		auditLog:    deps.Audit,
		redactor:    deps.Redactor,
		metrics:     deps.Metrics,
		logger:      logger,
		policyCount: deps.PolicyCount,
		subAgents:   make(map[string]string),
	}
}

// Start loads trust (applying decay), begins the trust persistence timer,
// and clears the frequency ring. The audit store's chain head load and
// optional startup verification already happened in its own constructor.
func (e *Engine) Start(ctx context.Context) error {
	if e.trustMgr != nil {
		if err := e.trustMgr.Start(ctx); err != nil {
			return fmt.Errorf("start trust manager: %w", err)
		}
	}
	if c, ok := e.frequency.(interface{ Clear() }); ok {
		c.Clear()
	}
	return nil
}

// Stop stops the trust persistence timer, flushing a final time, and
// flushes any buffered audit records. It does not close the audit store;
// the owner that constructed it is responsible for Close.
func (e *Engine) Stop(ctx context.Context) error {
	var errs []error
	if e.trustMgr != nil {
		if err := e.trustMgr.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop trust manager: %w", err))
		}
	}
	if e.auditLog != nil {
		if err := e.auditLog.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush audit log: %w", err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// RegisterSubAgent records that childSessionKey's agent inherits
// parentSessionKey's agent id and trust for policy matching purposes.
func (e *Engine) RegisterSubAgent(parentSessionKey, childSessionKey string) {
	e.subAgentsMu.Lock()
	defer e.subAgentsMu.Unlock()
	e.subAgents[childSessionKey] = parentSessionKey
}

// RecordOutcome reports a completed tool call's success or failure to the
// trust manager, feeding the score formula's success/violation signals.
func (e *Engine) RecordOutcome(agentID, toolName string, success bool) {
	if e.trustMgr == nil {
		return
	}
	if success {
		e.trustMgr.RecordSuccess(agentID)
	} else {
		e.trustMgr.RecordViolation(agentID)
	}
	if e.metrics != nil {
		e.metrics.SetTrustScore(agentID, e.trustMgr.GetAgentTrust(agentID).Score)
	}
}

// Evaluate runs the full pipeline: cross-agent enrichment, frequency
// recording, risk assessment, policy evaluation, verdict assembly, and
// audit emission. It never returns an error to the caller: any failure
// anywhere in the pipeline is caught by the broad error guard and turned
// into a fail-mode verdict, so a host can always act on the result.
func (e *Engine) Evaluate(ctx context.Context, evalCtx policy.EvaluationContext) policy.Verdict {
	if !e.cfg.Enabled {
		return policy.Verdict{Action: policy.ActionAllow, Reason: "governance engine disabled", Trust: evalCtx.Trust}
	}

	start := util.NowUs()

	verdict, evalErr := e.tryEvaluate(ctx, evalCtx)
	elapsed := util.NowUs() - start

	if evalErr != nil {
		e.logger.Error("evaluation failed, returning fail-mode verdict",
			"error", evalErr, "fail_mode", e.cfg.FailMode, "agent_id", evalCtx.AgentID)
		verdict = e.fallbackVerdict(evalCtx, elapsed)
		e.recordStats(ActionErrorFallback, elapsed)
		e.emitAudit(ctx, evalCtx, verdict, ActionErrorFallback)
		return verdict
	}

	verdict.EvaluationUs = elapsed
	if elapsed > e.cfg.MaxEvalUs {
		e.logger.Warn("evaluation exceeded budget", "evaluation_us", elapsed, "max_us", e.cfg.MaxEvalUs)
	}

	e.recordStats(verdict.Action, elapsed)
	e.emitAudit(ctx, evalCtx, verdict, verdict.Action)
	return verdict
}

// tryEvaluate runs the pipeline proper and recovers from any panic raised
// by a collaborator, converting it to an error so Evaluate's guard always
// sees a plain return rather than an unwound goroutine.
func (e *Engine) tryEvaluate(ctx context.Context, evalCtx policy.EvaluationContext) (verdict policy.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during evaluation: %v", r)
		}
	}()

	enriched := e.enrichCrossAgent(evalCtx)

	if e.trustMgr != nil {
		enriched.Trust = e.trustMgr.GetAgentTrust(enriched.AgentID).Snapshot()
	}

	if e.frequency != nil {
		e.frequency.Record(enriched.AgentID, enriched.SessionKey, enriched.ToolName)
	}

	var risk policy.RiskAssessment
	if e.risk != nil {
		risk = e.risk.Assess(enriched)
	}

	if e.evaluator == nil {
		return policy.Verdict{}, fmt.Errorf("no evaluator configured")
	}
	return e.evaluator.Evaluate(ctx, enriched, risk)
}

// enrichCrossAgent substitutes a registered sub-agent's effective agent id
// with its parent's, so policies scoped to the parent's agent id also
// govern the sub-agent's actions. The original session key is preserved.
func (e *Engine) enrichCrossAgent(evalCtx policy.EvaluationContext) policy.EvaluationContext {
	e.subAgentsMu.RLock()
	parentKey, ok := e.subAgents[evalCtx.SessionKey]
	e.subAgentsMu.RUnlock()
	if !ok {
		return evalCtx
	}
	parentAgentID := util.ExtractAgentID(parentKey, evalCtx.AgentID)
	if evalCtx.Metadata == nil {
		evalCtx.Metadata = make(map[string]string, 1)
	} else {
		md := make(map[string]string, len(evalCtx.Metadata)+1)
		for k, v := range evalCtx.Metadata {
			md[k] = v
		}
		evalCtx.Metadata = md
	}
	evalCtx.Metadata["sub_agent_of"] = evalCtx.AgentID
	evalCtx.AgentID = parentAgentID
	return evalCtx
}

// fallbackVerdict builds the engine-generated verdict used when the error
// guard fires: allow under fail_mode=open, deny under fail_mode=closed.
func (e *Engine) fallbackVerdict(evalCtx policy.EvaluationContext, elapsed int64) policy.Verdict {
	action := policy.ActionAllow
	reason := "governance engine error: failing open, allowing by default"
	if e.cfg.FailMode == FailModeClosed {
		action = policy.ActionDeny
		reason = "governance engine error: failing closed, denying by default"
	}
	return policy.Verdict{
		Action:       action,
		Reason:       reason,
		Trust:        evalCtx.Trust,
		EvaluationUs: elapsed,
	}
}

func (e *Engine) recordStats(verdictKind policy.Action, elapsed int64) {
	e.statsMu.Lock()
	e.stats.Total++
	switch verdictKind {
	case policy.ActionAllow:
		e.stats.AllowCount++
	case policy.ActionDeny:
		e.stats.DenyCount++
	case policy.ActionEscalate:
		e.stats.EscalateCount++
	case ActionErrorFallback:
		e.stats.ErrorCount++
	}
	n := float64(e.stats.Total)
	e.stats.MeanEvalUs += (float64(elapsed) - e.stats.MeanEvalUs) / n
	e.statsMu.Unlock()

	if e.metrics != nil {
		e.metrics.ObserveEvaluation(verdictKind, elapsed)
	}
}

// emitAudit builds and appends an AuditRecord when auditing is enabled.
// recordedAction lets the error path record "error_fallback" distinctly
// from the verdict's own allow/deny/escalate action.
func (e *Engine) emitAudit(ctx context.Context, evalCtx policy.EvaluationContext, verdict policy.Verdict, recordedAction policy.Action) {
	if !e.cfg.AuditEnabled || e.auditLog == nil {
		return
	}

	redacted := evalCtx
	if e.redactor != nil {
		redacted = e.redactor.Redact(evalCtx)
	}

	now := time.Now().UTC()
	rec := domainaudit.AuditRecord{
		ID:                 uuid.NewString(),
		WallMs:             now.UnixMilli(),
		Timestamp:          now,
		Verdict:            recordedAction,
		AgentID:            evalCtx.AgentID,
		Hook:               evalCtx.Hook,
		Tool:               evalCtx.ToolName,
		Context:            redacted,
		Trust:              verdict.Trust,
		Risk:               verdict.Risk,
		Matched:            verdict.MatchedPolicies,
		EvaluationUs:       verdict.EvaluationUs,
		ComplianceControls: complianceControls(e.cfg.AuditLevel, verdict.Risk),
	}

	if err := e.auditLog.Append(ctx, rec); err != nil {
		e.logger.Error("audit append failed", "error", err)
	}
}

// complianceControls maps a verdict's risk level to SOC-2-style control
// identifiers, attached only at "standard" and "verbose" audit levels.
func complianceControls(level string, risk policy.RiskAssessment) []string {
	if level == "" || level == "minimal" {
		return nil
	}
	switch {
	case policy.RiskLevelAtLeast(risk.Level, policy.RiskCritical):
		return []string{"CC6.1", "CC7.2", "CC7.3"}
	case policy.RiskLevelAtLeast(risk.Level, policy.RiskHigh):
		return []string{"CC6.1", "CC7.2"}
	default:
		return nil
	}
}

// GetStatus returns the engine's current configuration summary and stats.
func (e *Engine) GetStatus() Status {
	e.statsMu.Lock()
	stats := e.stats
	e.statsMu.Unlock()

	count := 0
	if e.policyCount != nil {
		count = e.policyCount()
	}

	return Status{
		Enabled:      e.cfg.Enabled,
		PolicyCount:  count,
		TrustEnabled: e.cfg.TrustEnabled,
		AuditEnabled: e.cfg.AuditEnabled,
		FailMode:     e.cfg.FailMode,
		Stats:        stats,
	}
}

// GetAgentTrust returns one agent's trust record.
func (e *Engine) GetAgentTrust(agentID string) trust.AgentTrust {
	return e.trustMgr.GetAgentTrust(agentID)
}

// GetTrustSnapshot returns the whole trust store, for status/debug surfaces.
func (e *Engine) GetTrustSnapshot() trust.Store {
	return e.trustMgr.Snapshot()
}

// SetTrust applies a clamped manual override to one agent's score.
func (e *Engine) SetTrust(agentID string, score int) error {
	return e.trustMgr.SetScore(agentID, score)
}
