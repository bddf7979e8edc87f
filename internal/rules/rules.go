package rules

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"drill/pkg/logging"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Kind identifies the behavior of a compiled rule. The set is closed: the
// evaluator is a switch over Kind, and condition names are resolved to a Kind
// only at the configuration boundary (see Compile).
type Kind int

const (
	// KindPass always matches.
	KindPass Kind = iota
	// KindFail never matches. The validator seeds these as already passed;
	// an observed event for the attribute is what moves them to failed.
	KindFail
	// KindPattern matches a regular expression anchored at the start of the
	// value.
	KindPattern
	// KindRange matches numeric values within [minimum, maximum].
	KindRange
	// KindCode runs a sandboxed expression over the value.
	KindCode
	// KindJSON parses the value as JSON and checks nested conditions per key.
	KindJSON
	// KindAll matches when every child matches, reporting the first failing
	// child otherwise.
	KindAll
	// KindAny matches when at least one child matches.
	KindAny
)

// String returns the canonical condition name for the kind.
func (k Kind) String() string {
	switch k {
	case KindPass:
		return "pass"
	case KindFail:
		return "never_fire"
	case KindPattern:
		return "pattern"
	case KindRange:
		return "range"
	case KindCode:
		return "code"
	case KindJSON:
		return "json"
	case KindAll:
		return "all"
	case KindAny:
		return "any"
	default:
		return "unknown"
	}
}

// Outcome is the result of evaluating a rule against a value.
//
// FailedLabel is only set when an all combinator short-circuited; it names
// the child that failed ("all: <child label>") so reports can show which
// sub-rule broke the chain rather than just the combinator itself.
type Outcome struct {
	Matched     bool
	FailedLabel string
}

// Rule is a compiled predicate over a single observed value. Rules are built
// by Compile and are immutable afterwards; Evaluate is pure and safe for
// concurrent use.
type Rule struct {
	Kind  Kind
	Label string
	// Advisory rules (declared with a may_ prefix) are evaluated but never
	// tracked as required.
	Advisory bool

	pattern  *regexp.Regexp
	min, max float64
	program  *vm.Program
	fields   []fieldCheck
	children []Rule
}

// fieldCheck holds the compiled sub-rules for one key of a json rule.
type fieldCheck struct {
	key   string
	rules []Rule
}

// Evaluate judges the value against the rule.
func (r Rule) Evaluate(value string) Outcome {
	switch r.Kind {
	case KindPass:
		return Outcome{Matched: true}
	case KindFail:
		return Outcome{}
	case KindPattern:
		if r.pattern.MatchString(value) {
			logging.Debug("Rules", "Pattern matched: %s", r.pattern.String())
			return Outcome{Matched: true}
		}
		logging.Debug("Rules", "Pattern did not match: %s", r.pattern.String())
		return Outcome{}
	case KindRange:
		return Outcome{Matched: r.inRange(value)}
	case KindCode:
		return Outcome{Matched: r.runProgram(value)}
	case KindJSON:
		return Outcome{Matched: r.evalJSON(value)}
	case KindAll:
		for _, child := range r.children {
			out := child.Evaluate(value)
			if !out.Matched {
				logging.Debug("Rules", "'all' rule failed on: %s", child.Label)
				if out.FailedLabel != "" {
					// A nested all already names the leaf that failed.
					return out
				}
				return Outcome{FailedLabel: "all: " + child.Label}
			}
		}
		return Outcome{Matched: true}
	case KindAny:
		for _, child := range r.children {
			if child.Evaluate(value).Matched {
				logging.Debug("Rules", "'any' rule passed on: %s", child.Label)
				return Outcome{Matched: true}
			}
		}
		logging.Debug("Rules", "'any' rule failed.")
		return Outcome{}
	default:
		return Outcome{}
	}
}

// inRange parses the numeric portion of the value and checks containment.
// Values of the form "label:123" carry the number after the last colon.
// Non-numeric input is a non-match, never an error.
func (r Rule) inRange(value string) bool {
	s := value
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		logging.Debug("Rules", "Value is not a valid number: %s", value)
		return false
	}
	return r.min <= x && x <= r.max
}

// runProgram executes the sandboxed code rule. The expression sees the
// observed value as "value"; any runtime error is a non-match.
func (r Rule) runProgram(value string) bool {
	out, err := expr.Run(r.program, map[string]interface{}{"value": value})
	if err != nil {
		logging.Error("Rules", err, "Error executing code rule")
		return false
	}
	result, ok := out.(bool)
	if !ok {
		logging.Debug("Rules", "Code rule returned non-boolean: %v", out)
		return false
	}
	return result
}

// evalJSON parses the value and checks every configured key.
func (r Rule) evalJSON(value string) bool {
	obj, ok := decodeJSON(value)
	if !ok {
		return false
	}
	return r.evalJSONObject(obj)
}

func (r Rule) evalJSONObject(obj map[string]interface{}) bool {
	for _, fc := range r.fields {
		v, present := obj[fc.key]
		if !present {
			logging.Debug("Rules", "Key %q not found in JSON object", fc.key)
			return false
		}
		for _, sub := range fc.rules {
			if sub.Kind == KindJSON {
				// Hand the parsed subtree straight to the nested rule so the
				// payload is not re-encoded on the way down.
				child, isObj := v.(map[string]interface{})
				if !isObj || !sub.evalJSONObject(child) {
					logging.Debug("Rules", "Nested json rule failed for key %q", fc.key)
					return false
				}
				continue
			}
			if !sub.Evaluate(fmt.Sprintf("%v", v)).Matched {
				logging.Debug("Rules", "Condition %q failed for key %q", sub.Label, fc.key)
				return false
			}
		}
	}
	return true
}

// decodeJSON parses raw event text into a JSON object. Input that is not
// valid UTF-8 is widened byte-for-byte first so binary protocol fields
// survive parsing; octet wrappers are then re-encoded to Base64 for
// structural comparison.
func decodeJSON(value string) (map[string]interface{}, bool) {
	raw := value
	if !utf8.ValidString(raw) {
		raw = widenLatin1(raw)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		logging.Debug("Rules", "Failed to parse JSON: %v", err)
		return nil, false
	}

	if err := encodeOctets(obj); err != nil {
		logging.Debug("Rules", "Failed to sanitize JSON: %v", err)
		return nil, false
	}
	return obj, true
}

// encodeOctets walks the parsed document and replaces the value of every
// {"type":"octets","value":...} wrapper with its Base64 encoding.
func encodeOctets(v interface{}) error {
	switch node := v.(type) {
	case map[string]interface{}:
		if t, _ := node["type"].(string); t == "octets" {
			if raw, present := node["value"]; present {
				s, isString := raw.(string)
				if !isString {
					logging.Debug("Rules", "Unexpected octets value type: %T", raw)
					return nil
				}
				b, err := narrowLatin1(s)
				if err != nil {
					return err
				}
				node["value"] = base64.StdEncoding.EncodeToString(b)
				return nil
			}
		}
		for _, child := range node {
			if err := encodeOctets(child); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, item := range node {
			if err := encodeOctets(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// widenLatin1 maps each byte to the rune of the same value, producing valid
// UTF-8 that preserves the original byte sequence.
func widenLatin1(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		b.WriteRune(rune(s[i]))
	}
	return b.String()
}

// narrowLatin1 reverses widenLatin1. Runes above 0xFF cannot represent a raw
// byte and are an error.
func narrowLatin1(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return nil, fmt.Errorf("octets value contains non-byte rune %q", r)
		}
		out = append(out, byte(r))
	}
	return out, nil
}
