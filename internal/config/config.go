package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"drill/internal/actions"
	"drill/internal/rules"
	"drill/pkg/logging"
)

const (
	// DefaultTestTimeout bounds a whole test when the definition is silent.
	DefaultTestTimeout = 40 * time.Second
	// DefaultStateTimeout bounds one state when its verify block is silent.
	DefaultStateTimeout = 15 * time.Second
)

// Test is one loaded test definition, named after its file and the compose
// project it drives.
type Test struct {
	Name       string
	Source     string
	Timeout    time.Duration
	StateOrder string
	States     []State
}

// State holds everything one state needs: resolved actions and a compiled
// rule map, plus its own deadline.
type State struct {
	Name        string
	Description string
	Timeout     time.Duration
	Actions     []actions.Action
	Rules       *rules.RuleMap
}

type rawTest struct {
	Timeout    *float64  `yaml:"timeout"`
	StateOrder string    `yaml:"state_order"`
	States     yaml.Node `yaml:"states"`
}

type rawState struct {
	Description string    `yaml:"description"`
	Host        yaml.Node `yaml:"host"`
	Verify      rawVerify `yaml:"verify"`
}

type rawVerify struct {
	Timeout  *float64    `yaml:"timeout"`
	Triggers []yaml.Node `yaml:"triggers"`
}

type rawHost struct {
	Actions []yaml.Node `yaml:"actions"`
}

// Load parses one test definition file. The test name combines the file
// stem with the compose project so concurrently running tests never share
// container names or listener destinations.
func Load(path, project string) (*Test, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + "-" + project
	test, err := Parse(data, name)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	test.Source = path
	return test, nil
}

// LoadDir loads every *.yml/*.yaml test definition in a directory. Invalid
// definitions are reported and skipped so one bad test cannot sink its
// siblings.
func LoadDir(dir, project string) ([]*Test, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var tests []*Test
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		test, err := Load(filepath.Join(dir, entry.Name()), project)
		if err != nil {
			logging.Error("Config", err, "Skipping invalid test configuration")
			continue
		}
		tests = append(tests, test)
	}
	return tests, nil
}

// Parse builds a test from raw definition bytes under the given name.
func Parse(data []byte, name string) (*Test, error) {
	var raw rawTest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	test := &Test{
		Name:       name,
		Timeout:    DefaultTestTimeout,
		StateOrder: "sequence",
	}
	if raw.Timeout != nil {
		test.Timeout = secondsToDuration(*raw.Timeout)
	}
	if raw.StateOrder != "" {
		test.StateOrder = raw.StateOrder
	}

	statePairs, err := mappingPairs(&raw.States)
	if err != nil {
		return nil, fmt.Errorf("states: %w", err)
	}
	for _, pair := range statePairs {
		state, err := parseState(pair.key, pair.value, name)
		if err != nil {
			return nil, fmt.Errorf("state %q: %w", pair.key, err)
		}
		test.States = append(test.States, state)
	}
	return test, nil
}

func parseState(name string, node *yaml.Node, testName string) (State, error) {
	var raw rawState
	if err := node.Decode(&raw); err != nil {
		return State{}, err
	}

	state := State{
		Name:        name,
		Description: raw.Description,
		Timeout:     DefaultStateTimeout,
	}
	if raw.Verify.Timeout != nil {
		state.Timeout = secondsToDuration(*raw.Verify.Timeout)
	}

	ruleMap, err := rules.CompileTriggers(raw.Verify.Triggers)
	if err != nil {
		return State{}, err
	}
	state.Rules = ruleMap

	hostPairs, err := mappingPairs(&raw.Host)
	if err != nil {
		return State{}, fmt.Errorf("host: %w", err)
	}
	for _, host := range hostPairs {
		var hostCfg rawHost
		if err := host.value.Decode(&hostCfg); err != nil {
			return State{}, fmt.Errorf("host %q: %w", host.key, err)
		}
		env := actions.Env{
			TestName: testName,
			Source:   fmt.Sprintf("%s-%s-1", testName, host.key),
		}
		for i := range hostCfg.Actions {
			action, err := parseAction(&hostCfg.Actions[i], env)
			if err != nil {
				return State{}, fmt.Errorf("host %q: %w", host.key, err)
			}
			if action != nil {
				state.Actions = append(state.Actions, action)
			}
		}
	}
	return state, nil
}

// parseAction resolves one {action_name: params} entry. Unknown actions are
// warned about and dropped; any other build failure is a configuration
// error.
func parseAction(node *yaml.Node, env actions.Env) (actions.Action, error) {
	pairs, err := mappingPairs(node)
	if err != nil {
		return nil, fmt.Errorf("actions: %w", err)
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	name := pairs[0].key
	params, err := decodeParams(pairs[0].value)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", name, err)
	}

	action, err := actions.Build(name, env, params)
	if errors.Is(err, actions.ErrUnknownAction) {
		logging.Warn("Config", "Unknown action: %s", name)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return action, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

type nodePair struct {
	key   string
	value *yaml.Node
}

// mappingPairs walks a mapping node's entries in document order, following
// aliases. Absent or null nodes yield no pairs.
func mappingPairs(node *yaml.Node) ([]nodePair, error) {
	node = deref(node)
	if node == nil || node.Kind == 0 {
		return nil, nil
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, got %s", nodeKindName(node.Kind))
	}
	pairs := make([]nodePair, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		pairs = append(pairs, nodePair{
			key:   node.Content[i].Value,
			value: deref(node.Content[i+1]),
		})
	}
	return pairs, nil
}

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
	}
	return "unknown"
}

func decodeParams(node *yaml.Node) (map[string]interface{}, error) {
	if node == nil || node.Kind == 0 {
		return map[string]interface{}{}, nil
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return map[string]interface{}{}, nil
	}
	params := map[string]interface{}{}
	if err := node.Decode(&params); err != nil {
		return nil, err
	}
	return params, nil
}
