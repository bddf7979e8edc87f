package actions

import (
	"context"
	"regexp"

	"drill/pkg/logging"
)

// containerRef matches ${service} references inside configured commands.
var containerRef = regexp.MustCompile(`\$\{([a-zA-Z0-9_-]+)\}`)

// commandAction runs a shell command inside the declaring host's container.
type commandAction struct {
	source  string
	command string
	detach  bool
}

func buildCommand(env Env, params map[string]interface{}) (Action, error) {
	command, err := stringParam(params, "command")
	if err != nil {
		return nil, err
	}
	expanded := containerRef.ReplaceAllStringFunc(command, func(ref string) string {
		service := containerRef.FindStringSubmatch(ref)[1]
		return env.containerName(service)
	})
	return &commandAction{
		source:  env.Source,
		command: expanded,
		detach:  boolParam(params, "detach"),
	}, nil
}

func (a *commandAction) Name() string { return "command" }

func (a *commandAction) Run(ctx context.Context) error {
	logging.Debug("Actions", "Running command in %s: %s", a.source, a.command)
	return dockerShell(ctx, a.source, a.command, a.detach)
}
