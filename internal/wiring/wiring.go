// Package wiring assembles the governance engine from a loaded
// GovernorConfig. The offline evaluate/validate commands and the
// long-running serve command all build through the one function here so
// the dependency graph cannot drift between entry points.
package wiring

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/governed/governor/internal/adapter/inbound/http"
	"github.com/governed/governor/internal/adapter/outbound/audit"
	"github.com/governed/governor/internal/adapter/outbound/frequency"
	"github.com/governed/governor/internal/adapter/outbound/memory"
	"github.com/governed/governor/internal/adapter/outbound/policyindex"
	"github.com/governed/governor/internal/adapter/outbound/riskassessor"
	trustadapter "github.com/governed/governor/internal/adapter/outbound/trust"
	"github.com/governed/governor/internal/config"
	domainaudit "github.com/governed/governor/internal/domain/audit"
	"github.com/governed/governor/internal/domain/trust"
	"github.com/governed/governor/internal/service"
)

// Built carries the assembled engine plus the collaborators a long-running
// host (the serve command) needs direct handles to for health checks and
// shutdown, beyond what service.Engine itself exposes.
type Built struct {
	Engine      *service.Engine
	PolicyIndex *policyindex.Provider
	Audit       domainaudit.Store // nil when audit.enabled is false
}

// Build wires every outbound adapter and the service.Engine orchestrator
// from cfg: the frequency counter and risk assessor feed the evaluator and
// the engine; the policy index and trust manager are published once and
// read lock-free thereafter.
func Build(ctx context.Context, cfg *config.GovernorConfig, logger *slog.Logger, reg prometheus.Registerer) (*Built, error) {
	if logger == nil {
		logger = slog.Default()
	}

	declared, err := config.ToDomain(cfg.Policies, cfg.TimeWindows)
	if err != nil {
		return nil, fmt.Errorf("convert declared policies: %w", err)
	}
	windows, err := config.ResolvedWindows(cfg.TimeWindows)
	if err != nil {
		return nil, fmt.Errorf("resolve time windows: %w", err)
	}

	store := memory.NewPolicyStore()
	store.ReplaceAll(declared)

	freqCapacity := cfg.Performance.FrequencyBufferSize
	freqCounter := frequency.New(freqCapacity)

	builtins := builtinConfigFrom(cfg.BuiltinPolicies)

	onWarn := func(source string, regexErr error) {
		logger.Warn("policy regex rejected, condition will never match", "pattern", source, "error", regexErr)
	}
	idxProvider, err := policyindex.NewProvider(ctx, store, windows, builtins, onWarn)
	if err != nil {
		return nil, fmt.Errorf("compile policy index: %w", err)
	}

	evaluator := policyindex.New(idxProvider, freqCounter)
	risk := riskassessor.New(cfg.ToolRiskOverrides, freqCounter)

	var trustMgr *trustadapter.Manager
	if cfg.Trust.Enabled {
		trustMgr = trustadapter.New(trustadapter.Config{
			Path:            filepath.Join(cfg.Workspace, "trust.json"),
			Weights:         cfg.Trust.Weights.ResolveWeights(),
			Decay:           decayFrom(cfg.Trust.Decay),
			Defaults:        cfg.Trust.Defaults,
			MaxHistory:      cfg.Trust.MaxHistoryPerAgent,
			PersistInterval: secondsToDuration(cfg.Trust.PersistIntervalSeconds),
		})
	}

	var auditStore domainaudit.Store
	var redactor *domainaudit.Redactor
	if cfg.Audit.Enabled {
		fs, err := audit.NewFileStore(audit.FileStoreConfig{
			Dir:             filepath.Join(cfg.Workspace, "audit"),
			RetentionDays:   cfg.Audit.RetentionDays,
			VerifyOnStartup: cfg.Audit.VerifyOnStartup,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		auditStore = fs
		redactor = domainaudit.NewRedactor(cfg.Audit.RedactPatterns)
	}

	var metrics service.Metrics
	if reg != nil {
		m := httpadapter.NewMetrics(reg)
		m.SetPolicyCount(idxProvider.Load().PolicyCount)
		metrics = m
	}

	engineCfg := service.Config{
		Enabled:      cfg.Enabled,
		Timezone:     cfg.Timezone,
		FailMode:     cfg.FailMode,
		MaxEvalUs:    cfg.Performance.MaxEvalUs,
		AuditEnabled: cfg.Audit.Enabled,
		AuditLevel:   cfg.Audit.Level,
		TrustEnabled: cfg.Trust.Enabled,
	}

	// trustDep stays a true nil trust.Manager when trust is disabled,
	// rather than a non-nil interface wrapping a nil *trustadapter.Manager
	// — the engine's "e.trustMgr != nil" checks depend on that distinction.
	var trustDep trust.Manager
	if trustMgr != nil {
		trustDep = trustMgr
	}

	eng := service.New(engineCfg, service.Deps{
		Evaluator: evaluator,
		Risk:      risk,
		Trust:     trustDep,
		Frequency: freqCounter,
		Audit:     auditStore,
		Redactor:  redactor,
		Metrics:   metrics,
		Logger:    logger,
		PolicyCount: func() int {
			return idxProvider.Load().PolicyCount
		},
	})

	return &Built{Engine: eng, PolicyIndex: idxProvider, Audit: auditStore}, nil
}

// builtinConfigFrom translates the YAML-facing builtin toggle struct into
// policyindex.BuiltinConfig, copying each enabled block's fields as given.
// It fills no defaults itself; a zero-valued field stays zero unless
// GovernorConfig.SetDefaults already filled it.
func builtinConfigFrom(c config.BuiltinPoliciesConfig) policyindex.BuiltinConfig {
	var out policyindex.BuiltinConfig
	if c.NightMode != nil {
		p := policyindex.NightModeParams{After: c.NightMode.After, Before: c.NightMode.Before}
		out.NightMode = &p
	}
	if c.CredentialGuard != nil {
		p := policyindex.CredentialGuardParams{PathGlobs: c.CredentialGuard.PathGlobs}
		out.CredentialGuard = &p
	}
	if c.ProductionSafeguard != nil {
		p := policyindex.ProductionSafeguardParams{
			Channels: c.ProductionSafeguard.Channels,
			MinTrust: trust.Tier(c.ProductionSafeguard.MinTrust),
		}
		out.ProductionSafeguard = &p
	}
	if c.RateLimiter != nil {
		p := policyindex.RateLimiterParams{
			Threshold:     c.RateLimiter.Threshold,
			WindowSeconds: c.RateLimiter.WindowSeconds,
		}
		out.RateLimiter = &p
	}
	return out
}

func decayFrom(c config.TrustDecayConfig) trust.DecayConfig {
	return trust.DecayConfig{Enabled: c.Enabled, InactivityDays: c.InactivityDays, Rate: c.Rate}
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
