// Package signature matches feature vectors against named rules.
package signature

import (
	"Go2NetSentinel/internal/model"
	"fmt"
	"sort"
)

// Predicate decides whether a feature vector matches a rule.
type Predicate func(fv model.FeatureVector) bool

// Rule is a named signature. When must be a pure function of its input.
type Rule struct {
	ID          string
	Description string
	Severity    model.Severity
	When        Predicate
}

// Matcher evaluates a fixed rule set. It is safe for concurrent use.
type Matcher struct {
	rules []Rule
}

// NewMatcher creates a matcher over the given rules. Rules are kept sorted by id
// so the result order never depends on registration order.
func NewMatcher(rules ...Rule) (*Matcher, error) {
	seen := make(map[string]struct{}, len(rules))
	sorted := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("signature rule without id")
		}
		if r.When == nil {
			return nil, fmt.Errorf("signature rule '%s' has no predicate", r.ID)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("duplicate signature rule id: '%s'", r.ID)
		}
		seen[r.ID] = struct{}{}
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Matcher{rules: sorted}, nil
}

// Match returns one signature event for every rule the vector satisfies.
// The result is empty when nothing matches.
func (m *Matcher) Match(fv model.FeatureVector) []model.ThreatEvent {
	var matches []model.ThreatEvent
	for _, r := range m.rules {
		if !r.When(fv) {
			continue
		}
		matches = append(matches, model.ThreatEvent{
			Kind:        model.KindSignature,
			RuleID:      r.ID,
			Description: r.Description,
			Severity:    r.Severity,
			Confidence:  1.0,
			Features:    fv,
		})
	}
	return matches
}

// Rules returns the ids of the loaded rules in evaluation order.
func (m *Matcher) Rules() []string {
	ids := make([]string, len(m.rules))
	for i, r := range m.rules {
		ids[i] = r.ID
	}
	return ids
}
