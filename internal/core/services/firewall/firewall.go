// Package firewall evaluates priority-ordered domain.Rule sets against
// parsed frames under a whitelist or blacklist policy.
package firewall

import (
	"sort"
	"sync"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
)

// Firewall holds a priority-ordered rule set and a default Policy. Check
// never fails: it is pure evaluation against in-memory state.
type Firewall struct {
	mu     sync.RWMutex
	rules  []domain.Rule
	policy domain.Policy
}

// New constructs a Firewall with the given policy and no rules.
func New(policy domain.Policy) *Firewall {
	return &Firewall{policy: policy}
}

// AddRule inserts a rule and re-sorts by descending priority after every
// insert.
func (f *Firewall) AddRule(r domain.Rule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, r)
	sort.SliceStable(f.rules, func(i, j int) bool {
		return f.rules[i].Priority > f.rules[j].Priority
	})
}

// Rules returns a snapshot of the current rule set, highest priority first.
func (f *Firewall) Rules() []domain.Rule {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.Rule, len(f.rules))
	copy(out, f.rules)
	return out
}

// Check reports whether frame passes the firewall. This is deliberately
// "any rule matches" combined with Policy, NOT highest-priority-match-wins:
// priority only affects rule ordering/observability, not conflict
// resolution between disagreeing rules.
func (f *Firewall) Check(frame domain.ParsedFrame) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	matched := false
	for _, r := range f.rules {
		if r.Filter.Matches(frame) {
			matched = true
			break
		}
	}

	switch f.policy {
	case domain.PolicyWhitelist:
		return matched
	case domain.PolicyBlacklist:
		return !matched
	default:
		return false
	}
}
