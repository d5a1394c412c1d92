package policyindex

import (
	"context"
	"testing"

	"github.com/governed/governor/internal/domain/policy"
)

type stubStore struct{ policies []policy.Policy }

func (s stubStore) GetAllPolicies(ctx context.Context) ([]policy.Policy, error) {
	return s.policies, nil
}

func TestBuildScopeIndexUnscopedGoesEverywhere(t *testing.T) {
	store := stubStore{policies: []policy.Policy{
		{ID: "p1", Enabled: true},
	}}
	p, err := NewProvider(context.Background(), store, nil, BuiltinConfig{}, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	idx := p.Load()
	if len(idx.ByHook[policy.HookBeforeToolCall]) != 1 {
		t.Errorf("unscoped policy should appear in before_tool_call bucket")
	}
	if len(idx.ByAgent[unscopedAgentKey]) != 1 {
		t.Errorf("unscoped policy should appear in the '*' agent bucket")
	}
}

func TestBuildScopeIndexScopedAgent(t *testing.T) {
	store := stubStore{policies: []policy.Policy{
		{ID: "p1", Enabled: true, Scope: policy.Scope{AgentsInclude: []string{"forge"}}},
	}}
	p, _ := NewProvider(context.Background(), store, nil, BuiltinConfig{}, nil)
	idx := p.Load()
	if len(idx.ByAgent["forge"]) != 1 {
		t.Errorf("scoped policy should appear under its agent id")
	}
	if len(idx.ByAgent[unscopedAgentKey]) != 0 {
		t.Errorf("scoped policy should not appear in the '*' bucket")
	}
}

func TestMergeBuiltinsDeclaredWins(t *testing.T) {
	declared := []policy.Policy{{ID: "builtin-night-mode", Name: "overridden"}}
	builtins := buildBuiltins(DefaultBuiltinConfig())
	merged := mergeBuiltins(declared, builtins)

	var nightMode *policy.Policy
	for i := range merged {
		if merged[i].ID == "builtin-night-mode" {
			nightMode = &merged[i]
		}
	}
	if nightMode == nil {
		t.Fatal("expected builtin-night-mode to be present")
	}
	if nightMode.Name != "overridden" {
		t.Errorf("declared policy should win over the built-in with the same id, got name %q", nightMode.Name)
	}
}

func TestDefaultBuiltinsProduceFourPolicies(t *testing.T) {
	got := buildBuiltins(DefaultBuiltinConfig())
	if len(got) != 4 {
		t.Errorf("expected 4 built-in policies, got %d", len(got))
	}
}

func TestTiersBelow(t *testing.T) {
	got := tiersBelow(policy.TierTrusted)
	want := []policy.Tier{policy.TierUntrusted, policy.TierRestricted, policy.TierStandard}
	if len(got) != len(want) {
		t.Fatalf("tiersBelow(trusted) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tiersBelow(trusted)[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReloadReplacesWholesale(t *testing.T) {
	store := &mutableStore{policies: []policy.Policy{{ID: "p1", Enabled: true}}}
	p, _ := NewProvider(context.Background(), store, nil, BuiltinConfig{}, nil)
	first := p.Load()

	store.policies = []policy.Policy{{ID: "p1"}, {ID: "p2"}}
	if err := p.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	second := p.Load()

	if first == second {
		t.Error("Reload should publish a new Index instance, not mutate the old one")
	}
	if second.PolicyCount != 2 {
		t.Errorf("PolicyCount after reload = %d, want 2", second.PolicyCount)
	}
}

type mutableStore struct{ policies []policy.Policy }

func (s *mutableStore) GetAllPolicies(ctx context.Context) ([]policy.Policy, error) {
	return s.policies, nil
}
