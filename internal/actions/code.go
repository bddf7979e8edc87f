package actions

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"drill/pkg/logging"
)

// codeAction evaluates a sandboxed expression in-process with the source
// container name bound. The expression language has no filesystem, network,
// or process access; anything touching a host goes through the other
// actions.
type codeAction struct {
	source  string
	program *vm.Program
}

func buildCode(env Env, params map[string]interface{}) (Action, error) {
	block, err := stringParam(params, "block")
	if err != nil {
		return nil, err
	}
	program, err := expr.Compile(block, expr.Env(map[string]interface{}{"source": ""}))
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	return &codeAction{source: env.Source, program: program}, nil
}

func (a *codeAction) Name() string { return "code" }

func (a *codeAction) Run(ctx context.Context) error {
	out, err := expr.Run(a.program, map[string]interface{}{"source": a.source})
	if err != nil {
		return fmt.Errorf("code block: %w", err)
	}
	logging.Debug("Actions", "Code block evaluated to: %v", out)
	return nil
}
