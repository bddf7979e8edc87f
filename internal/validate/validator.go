// Package validate tracks which rules the observed events of one state have
// satisfied. A Validator is seeded from a compiled rule map, mutated by one
// consumption loop, and read for the completion decision and the results
// report.
package validate

import (
	"errors"
	"fmt"

	"drill/internal/rules"
	"drill/pkg/logging"
)

// ErrNoRules marks an event for an attribute nobody cares about. Expected
// traffic, callers log it at debug and move on.
var ErrNoRules = errors.New("no rules defined for attribute")

// failureEntry is one rule currently in failed status. The label keys
// removal when the rule later matches; the detail is what reports show, for
// combinators the failing child rather than the whole rule.
type failureEntry struct {
	label  string
	detail string
}

// Validator owns the pass/fail tracking of one state. Not safe for
// concurrent use; exactly one loop drives it.
type Validator struct {
	rules *rules.RuleMap

	passed      map[string][]string
	passedOrder []string
	failed      map[string][]failureEntry
	failedOrder []string
}

// New seeds tracking from the rule map. Fail rules start passed because
// their attribute must never fire; advisory rules are not tracked at all;
// every other rule starts failed and must match to move.
func New(ruleMap *rules.RuleMap) *Validator {
	v := &Validator{
		rules:  ruleMap,
		passed: make(map[string][]string),
		failed: make(map[string][]failureEntry),
	}
	for _, attribute := range ruleMap.Attributes() {
		ruleList, _ := ruleMap.Get(attribute)
		for i := range ruleList {
			rule := &ruleList[i]
			switch {
			case rule.Advisory:
			case rule.Kind == rules.KindFail:
				v.markPassed(attribute, rule.Label)
			default:
				v.markFailed(attribute, rule.Label, rule.Label)
			}
		}
	}
	return v
}

// Validate evaluates the attribute's rules in configured order against the
// value. The first matching rule moves to passed and wins for this event;
// every rule tried before it is recorded as failed. Returns whether any
// rule matched.
func (v *Validator) Validate(attribute, value string) (bool, error) {
	ruleList, ok := v.rules.Get(attribute)
	if !ok {
		logging.Debug("Validator", "No validation rules for attribute: %s", attribute)
		return false, fmt.Errorf("%w: %s", ErrNoRules, attribute)
	}

	logging.Debug("Validator", "Validating attribute: %s, value: %s", attribute, value)
	for i := range ruleList {
		rule := &ruleList[i]
		outcome := rule.Evaluate(value)
		if outcome.Matched {
			if !rule.Advisory {
				v.markPassed(attribute, rule.Label)
			}
			logging.Debug("Validator", "Attribute %s matched rule: %s", attribute, rule.Label)
			return true, nil
		}
		if !rule.Advisory {
			detail := rule.Label
			if outcome.FailedLabel != "" {
				detail = outcome.FailedLabel
			}
			v.markFailed(attribute, rule.Label, detail)
		}
	}
	return false, nil
}

// Satisfied reports whether every required rule is currently passed.
func (v *Validator) Satisfied() bool {
	return len(v.failed) == 0
}

// Unmatched returns the rules still failed, one "attribute: detail" line
// per rule in tracking order.
func (v *Validator) Unmatched() []string {
	var out []string
	for _, attribute := range v.failedOrder {
		for _, entry := range v.failed[attribute] {
			out = append(out, attribute+": "+entry.detail)
		}
	}
	return out
}

func (v *Validator) markPassed(attribute, label string) {
	labels, tracked := v.passed[attribute]
	if !tracked {
		v.passedOrder = append(v.passedOrder, attribute)
	}
	if !containsLabel(labels, label) {
		v.passed[attribute] = append(labels, label)
	}

	entries, inFailed := v.failed[attribute]
	if !inFailed {
		return
	}
	for i, entry := range entries {
		if entry.label == label {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(v.failed, attribute)
		v.failedOrder = removeString(v.failedOrder, attribute)
		return
	}
	v.failed[attribute] = entries
}

func (v *Validator) markFailed(attribute, label, detail string) {
	entries, tracked := v.failed[attribute]
	if !tracked {
		v.failedOrder = append(v.failedOrder, attribute)
	}
	for _, entry := range entries {
		if entry.label == label {
			return
		}
	}
	v.failed[attribute] = append(entries, failureEntry{label: label, detail: detail})
	if labels, inPassed := v.passed[attribute]; inPassed {
		v.passed[attribute] = removeString(labels, label)
	}
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func removeString(values []string, value string) []string {
	for i, v := range values {
		if v == value {
			return append(values[:i], values[i+1:]...)
		}
	}
	return values
}
