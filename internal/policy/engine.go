// Package policy maps request paths to rate-limit rules.
package policy

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrInvalidPolicy = errors.New("invalid policy")

// Matcher defines criteria to apply a policy
type Matcher struct {
	Method string `json:"method,omitempty"` // "*" or specific
	Path   string `json:"path" validate:"required,startswith=/"`
}

// Rules defines what to enforce. A zero RateLimit defers to the global policy.
type Rules struct {
	RateLimit     int  `json:"rate_limit" validate:"min=0"`
	WindowSeconds int  `json:"window_seconds" validate:"min=0,max=86400"`
	Exempt        bool `json:"exempt"`
}

func (r Rules) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Policy is a named set of rules
type Policy struct {
	ID      string  `json:"id" validate:"required,max=64"`
	Matcher Matcher `json:"matcher"`
	Rules   Rules   `json:"rules"`
}

// Engine evaluates requests against policies
type Engine struct {
	mu       sync.RWMutex
	policies []Policy
}

// NewEngine seeds the engine with built-in policies. An invalid seed set is a
// programming error and panics; runtime updates go through LoadPolicies.
func NewEngine(policies ...Policy) *Engine {
	e := &Engine{}
	if len(policies) > 0 {
		if err := e.LoadPolicies(policies); err != nil {
			panic(fmt.Sprintf("policy: invalid seed policies: %v", err))
		}
	}
	return e
}

// DefaultPolicies keeps probes and scrapes out of the global limiter.
func DefaultPolicies() []Policy {
	return []Policy{
		{ID: "health", Matcher: Matcher{Path: "/health"}, Rules: Rules{Exempt: true}},
		{ID: "ready", Matcher: Matcher{Path: "/ready"}, Rules: Rules{Exempt: true}},
		{ID: "metrics", Matcher: Matcher{Method: http.MethodGet, Path: "/metrics"}, Rules: Rules{Exempt: true}},
	}
}

// LoadPolicies replaces the current set. Policies are ordered by descending
// path length so the most specific prefix wins; ties keep their given order.
func (e *Engine) LoadPolicies(newPolicies []Policy) error {
	seen := make(map[string]struct{}, len(newPolicies))
	for _, p := range newPolicies {
		if p.ID == "" || !strings.HasPrefix(p.Matcher.Path, "/") {
			return fmt.Errorf("%w: %q needs an id and an absolute path", ErrInvalidPolicy, p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidPolicy, p.ID)
		}
		if p.Rules.RateLimit > 0 && p.Rules.WindowSeconds <= 0 {
			return fmt.Errorf("%w: %q sets a limit without a window", ErrInvalidPolicy, p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	sorted := make([]Policy, len(newPolicies))
	copy(sorted, newPolicies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Matcher.Path) > len(sorted[j].Matcher.Path)
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = sorted
	return nil
}

// Policies returns a copy of the active set in evaluation order.
func (e *Engine) Policies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, len(e.policies))
	copy(out, e.policies)
	return out
}

// Evaluate finds the first matching policy, or nil.
func (e *Engine) Evaluate(r *http.Request) *Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for i := range e.policies {
		if match(e.policies[i].Matcher, r) {
			p := e.policies[i]
			return &p
		}
	}
	return nil
}

func match(m Matcher, r *http.Request) bool {
	if m.Method != "" && m.Method != "*" && !strings.EqualFold(m.Method, r.Method) {
		return false
	}
	return strings.HasPrefix(r.URL.Path, m.Path)
}
