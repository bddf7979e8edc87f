package rules

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"gopkg.in/yaml.v3"
)

// ErrUnknownCondition is returned when a condition name in configuration does
// not resolve to any rule kind. A typo'd condition is a configuration error,
// not a predicate that silently never fires.
var ErrUnknownCondition = errors.New("unknown condition")

// kindByName resolves condition names (and their aliases) at the
// configuration boundary. Names are matched case-insensitively after
// stripping an advisory may_ prefix.
var kindByName = map[string]Kind{
	"pass":         KindPass,
	"fire":         KindPass,
	"fail":         KindFail,
	"never_fire":   KindFail,
	"pattern":      KindPattern,
	"regex":        KindPattern,
	"range":        KindRange,
	"within_range": KindRange,
	"code":         KindCode,
	"json":         KindJSON,
	"all":          KindAll,
	"all_pass":     KindAll,
	"any":          KindAny,
	"any_pass":     KindAny,
}

// RuleMap holds the compiled rules for every attribute of one state,
// preserving the attribute order from configuration.
type RuleMap struct {
	attrs []string
	rules map[string][]Rule
}

// Attributes returns the attribute names in configuration order. The slice
// is shared; callers must not mutate it.
func (m *RuleMap) Attributes() []string {
	return m.attrs
}

// Get returns the ordered rules for an attribute.
func (m *RuleMap) Get(attr string) ([]Rule, bool) {
	r, ok := m.rules[attr]
	return r, ok
}

// Empty reports whether no rules are configured at all.
func (m *RuleMap) Empty() bool {
	return len(m.rules) == 0
}

func (m *RuleMap) add(attr string, r Rule) {
	if _, exists := m.rules[attr]; !exists {
		m.attrs = append(m.attrs, attr)
	}
	m.rules[attr] = append(m.rules[attr], r)
}

// CompileTriggers builds a RuleMap from the verify.triggers configuration: a
// list of single-key mappings {attribute: {condition: params, ...}}. Rule
// order within an attribute follows the document, which matters because
// validation is first-match-wins.
func CompileTriggers(triggers []yaml.Node) (*RuleMap, error) {
	m := &RuleMap{rules: make(map[string][]Rule)}
	for i := range triggers {
		attrPairs, err := mappingPairs(&triggers[i])
		if err != nil {
			return nil, fmt.Errorf("trigger %d: %w", i, err)
		}
		for _, attr := range attrPairs {
			condPairs, err := mappingPairs(attr.value)
			if err != nil {
				return nil, fmt.Errorf("trigger %q: %w", attr.key, err)
			}
			for _, cond := range condPairs {
				rule, err := Compile(cond.key, cond.value)
				if err != nil {
					return nil, fmt.Errorf("trigger %q: %w", attr.key, err)
				}
				m.add(attr.key, rule)
			}
		}
	}
	return m, nil
}

// Compile builds a single rule from a condition name and its parameter node.
// Combinator children and json sub-conditions are compiled recursively, so
// every unknown condition anywhere in the document surfaces here.
func Compile(condition string, params *yaml.Node) (Rule, error) {
	name := strings.ToLower(condition)
	lookup := strings.TrimPrefix(name, "may_")

	kind, known := kindByName[lookup]
	if !known {
		return Rule{}, fmt.Errorf("%w: %s", ErrUnknownCondition, condition)
	}

	r := Rule{Kind: kind, Advisory: strings.HasPrefix(name, "may_")}

	switch kind {
	case KindPass, KindFail:
		p, err := decodeParams(params)
		if err != nil {
			return Rule{}, fmt.Errorf("condition %s: %w", condition, err)
		}
		r.Label = leafLabel(name, p)

	case KindPattern:
		p, err := decodeParams(params)
		if err != nil {
			return Rule{}, fmt.Errorf("condition %s: %w", condition, err)
		}
		raw, ok := p["reg_pattern"].(string)
		if !ok {
			return Rule{}, fmt.Errorf("condition %s requires a reg_pattern parameter", condition)
		}
		// Anchor at the start of the value without forcing a full match.
		re, err := regexp.Compile(`\A(?:` + raw + `)`)
		if err != nil {
			return Rule{}, fmt.Errorf("condition %s: invalid pattern %q: %w", condition, raw, err)
		}
		r.pattern = re
		r.Label = leafLabel(name, p)

	case KindRange:
		p, err := decodeParams(params)
		if err != nil {
			return Rule{}, fmt.Errorf("condition %s: %w", condition, err)
		}
		min, err := floatParam(p, "minimum")
		if err != nil {
			return Rule{}, fmt.Errorf("condition %s: %w", condition, err)
		}
		max, err := floatParam(p, "maximum")
		if err != nil {
			return Rule{}, fmt.Errorf("condition %s: %w", condition, err)
		}
		r.min, r.max = min, max
		r.Label = leafLabel(name, p)

	case KindCode:
		p, err := decodeParams(params)
		if err != nil {
			return Rule{}, fmt.Errorf("condition %s: %w", condition, err)
		}
		block, ok := p["block"].(string)
		if !ok {
			return Rule{}, fmt.Errorf("condition %s requires a block parameter", condition)
		}
		program, err := expr.Compile(block,
			expr.Env(map[string]interface{}{"value": ""}),
			expr.AsBool(),
		)
		if err != nil {
			return Rule{}, fmt.Errorf("condition %s: invalid expression: %w", condition, err)
		}
		r.program = program
		r.Label = name + ": code block"

	case KindJSON:
		pairs, err := mappingPairs(params)
		if err != nil {
			return Rule{}, fmt.Errorf("condition %s: %w", condition, err)
		}
		for _, field := range pairs {
			condPairs, err := mappingPairs(field.value)
			if err != nil {
				return Rule{}, fmt.Errorf("condition %s, key %q: %w", condition, field.key, err)
			}
			fc := fieldCheck{key: field.key}
			for _, sub := range condPairs {
				child, err := Compile(sub.key, sub.value)
				if err != nil {
					return Rule{}, fmt.Errorf("condition %s, key %q: %w", condition, field.key, err)
				}
				fc.rules = append(fc.rules, child)
			}
			r.fields = append(r.fields, fc)
		}
		p, err := decodeParams(params)
		if err != nil {
			return Rule{}, fmt.Errorf("condition %s: %w", condition, err)
		}
		r.Label = leafLabel(name, p)

	case KindAll, KindAny:
		pairs, err := mappingPairs(params)
		if err != nil {
			return Rule{}, fmt.Errorf("condition %s: %w", condition, err)
		}
		labels := make([]string, 0, len(pairs))
		for _, sub := range pairs {
			child, err := Compile(sub.key, sub.value)
			if err != nil {
				return Rule{}, fmt.Errorf("condition %s: %w", condition, err)
			}
			r.children = append(r.children, child)
			labels = append(labels, child.Label)
		}
		r.Label = name + ": " + strings.Join(labels, ", ")
	}

	return r, nil
}

// nodePair is one key/value entry of a YAML mapping, in document order.
type nodePair struct {
	key   string
	value *yaml.Node
}

// mappingPairs returns the entries of a mapping node in document order. A nil
// or null node is an empty mapping.
func mappingPairs(node *yaml.Node) ([]nodePair, error) {
	node = deref(node)
	if node == nil || node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, got %s", nodeKindName(node.Kind))
	}
	pairs := make([]nodePair, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		pairs = append(pairs, nodePair{
			key:   node.Content[i].Value,
			value: node.Content[i+1],
		})
	}
	return pairs, nil
}

// deref follows alias nodes so anchors behave like inline content.
func deref(node *yaml.Node) *yaml.Node {
	for node != nil && node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	return node
}

func nodeKindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

// decodeParams decodes a parameter node into a plain map. A nil or null node
// decodes to an empty map so conditions like "fire:" need no parameters.
func decodeParams(node *yaml.Node) (map[string]interface{}, error) {
	node = deref(node)
	if node == nil || node.Tag == "!!null" {
		return map[string]interface{}{}, nil
	}
	var p map[string]interface{}
	if err := node.Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	return p, nil
}

// leafLabel renders the stable human-readable label for a rule:
// "<condition>: k=v, ..." over the parameters in sorted key order, or the
// bare condition name when there are none.
func leafLabel(condition string, params map[string]interface{}) string {
	if len(params) == 0 {
		return condition
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return condition + ": " + strings.Join(parts, ", ")
}

// floatParam reads a numeric parameter that YAML may have decoded as int,
// float, or string.
func floatParam(params map[string]interface{}, key string) (float64, error) {
	v, present := params[key]
	if !present {
		return 0, fmt.Errorf("missing %s parameter", key)
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		x, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%s is not numeric: %q", key, n)
		}
		return x, nil
	default:
		return 0, fmt.Errorf("%s is not numeric: %v", key, v)
	}
}
