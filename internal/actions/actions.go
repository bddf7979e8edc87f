// Package actions executes the host-side steps of a state: commands inside
// containers, network fault injection, and protocol request senders. Actions
// are resolved by name at configuration load time and run concurrently under
// the owning state's context.
package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownAction marks a name no registered action answers to.
	// Callers warn and skip rather than fail the test.
	ErrUnknownAction = errors.New("unknown action")

	// ErrMissingTarget marks an action that needs a target parameter the
	// configuration did not provide.
	ErrMissingTarget = errors.New("action requires a target parameter")
)

// Env carries the computed identifiers injected into actions at build time.
// Source is the full container name of the host declaring the action.
type Env struct {
	TestName string
	Source   string
}

// containerName expands a short service name to the full per-test container
// name used by the compose project.
func (e Env) containerName(service string) string {
	return e.TestName + "-" + service + "-1"
}

// Action is one executable host-side step.
type Action interface {
	Name() string
	Run(ctx context.Context) error
}

type builderFunc func(env Env, params map[string]interface{}) (Action, error)

var registry = map[string]builderFunc{
	"run_command":        buildCommand,
	"execute_command":    buildCommand,
	"command":            buildCommand,
	"disconnect":         buildDisconnect,
	"network_disconnect": buildDisconnect,
	"reconnect":          buildReconnect,
	"network_reconnect":  buildReconnect,
	"packet_loss":        buildPacketLoss,
	"access_request":     buildAccessRequest,
	"radius_request":     buildAccessRequest,
	"code":               buildCode,
}

// Build resolves a configured action. Unknown names return ErrUnknownAction;
// any other error is a configuration error for the enclosing test.
func Build(name string, env Env, params map[string]interface{}) (Action, error) {
	builder, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	action, err := builder(env, params)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", name, err)
	}
	return action, nil
}

func stringParam(params map[string]interface{}, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing %s parameter", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s parameter must be a string, got %T", key, raw)
	}
	return s, nil
}

func boolParam(params map[string]interface{}, key string) bool {
	b, _ := params[key].(bool)
	return b
}

func floatParam(params map[string]interface{}, key string) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing %s parameter", key)
	}
	switch n := raw.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, fmt.Errorf("%s parameter must be numeric, got %T", key, raw)
}

// targetParam resolves the required target of an action to a full container
// name.
func targetParam(env Env, params map[string]interface{}) (string, error) {
	raw, ok := params["target"]
	if !ok {
		return "", ErrMissingTarget
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("target parameter must be a string, got %T", raw)
	}
	return env.containerName(s), nil
}

// targetsParam resolves an optional targets list, falling back to the
// declaring host when absent.
func targetsParam(env Env, params map[string]interface{}) ([]string, error) {
	raw, ok := params["targets"]
	if !ok {
		return []string{env.Source}, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("targets parameter must be a list, got %T", raw)
	}
	targets := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("targets entries must be strings, got %T", item)
		}
		targets = append(targets, env.containerName(s))
	}
	return targets, nil
}
