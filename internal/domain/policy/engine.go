package policy

import "context"

// Evaluator resolves the effective policies for an EvaluationContext and
// produces a Verdict under deny-wins aggregation. risk is computed by the
// orchestrator before evaluation so the risk condition kind can read it.
type Evaluator interface {
	Evaluate(ctx context.Context, evalCtx EvaluationContext, risk RiskAssessment) (Verdict, error)
}

// Store supplies the declared policy set the index is compiled from.
// Unlike a CRUD-backed store, policies are normally sourced once from
// configuration; Reload re-reads the same source (config hot-reload or
// declared-policy mutation in tests).
type Store interface {
	GetAllPolicies(ctx context.Context) ([]Policy, error)
}
