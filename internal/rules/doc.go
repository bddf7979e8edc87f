// Package rules compiles validation triggers into evaluable rules.
//
// A trigger binds an attribute name to one or more conditions. Compilation
// happens once, at the configuration boundary: condition names resolve to a
// closed set of rule kinds, patterns and expressions are compiled, and
// parameter mistakes surface as errors before a test runs. Unknown
// condition names are configuration errors (ErrUnknownCondition), not
// predicates that silently never fire.
//
// Conditions and their aliases:
//
//   - fire, pass: matches any event on the attribute
//   - never_fire, fail: an event on the attribute is a violation
//   - pattern, regex: regular expression anchored at the start of the value
//   - range, within_range: numeric bounds check
//   - code: sandboxed expression over the value
//   - json: per-field conditions applied to a JSON object value
//   - all, all_pass / any, any_pass: combinators over nested conditions
//
// A may_ prefix marks a condition advisory: it evaluates like any other
// rule but its outcome never decides state completion.
//
// Evaluation itself is pure. Whether an attribute that must never fire has
// fired is tracked by the consumer of these rules, not here.
package rules
