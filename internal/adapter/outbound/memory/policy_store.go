// Package memory provides in-memory implementations of outbound ports.
// The declarative policy set is normally sourced once from the YAML
// configuration bundle (internal/config) and handed to this store; it is
// never written back to disk.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/governed/governor/internal/domain/policy"
)

// PolicyStore implements policy.Store with an in-memory, id-keyed map.
// Thread-safe for concurrent reads and replacement; the policy index
// Provider calls GetAllPolicies once at startup and again on Reload.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]policy.Policy
}

// NewPolicyStore creates an empty in-memory policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{policies: make(map[string]policy.Policy)}
}

// AddPolicy inserts or overwrites one policy.
func (s *PolicyStore) AddPolicy(p policy.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = p
}

// ReplaceAll discards every previously stored policy and installs ps in
// its place, the shape a config hot-reload uses to swap the declared set.
func (s *PolicyStore) ReplaceAll(ps []policy.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = make(map[string]policy.Policy, len(ps))
	for _, p := range ps {
		s.policies[p.ID] = p
	}
}

// GetAllPolicies returns every declared policy, enabled or not (the
// evaluator skips disabled policies when it resolves the effective set), in a
// deterministic id-sorted order so compilation output is stable across
// reloads of the same declared set.
func (s *PolicyStore) GetAllPolicies(ctx context.Context) ([]policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.policies))
	for id := range s.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]policy.Policy, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.policies[id])
	}
	return out, nil
}

// Compile-time interface verification.
var _ policy.Store = (*PolicyStore)(nil)
