package actions

import (
	"context"
	"fmt"

	"drill/pkg/logging"
)

// accessRequestAction drives a RADIUS authentication attempt from the source
// container against a peer. radtest's exit status is discarded; the point is
// the traffic, and validation happens through the listener.
type accessRequestAction struct {
	source   string
	target   string
	secret   string
	username string
	password string
}

func buildAccessRequest(env Env, params map[string]interface{}) (Action, error) {
	target, err := targetParam(env, params)
	if err != nil {
		return nil, err
	}
	secret, err := stringParam(params, "secret")
	if err != nil {
		return nil, err
	}
	username, err := stringParam(params, "username")
	if err != nil {
		return nil, err
	}
	password, err := stringParam(params, "password")
	if err != nil {
		return nil, err
	}
	return &accessRequestAction{
		source:   env.Source,
		target:   target,
		secret:   secret,
		username: username,
		password: password,
	}, nil
}

func (a *accessRequestAction) Name() string { return "access_request" }

func (a *accessRequestAction) Run(ctx context.Context) error {
	logging.Debug("Actions", "Sending access request from %s to %s for user %s",
		a.source, a.target, a.username)
	command := fmt.Sprintf("echo %s | radtest %s %s %s 0 %s || true",
		a.password, a.username, a.password, a.target, a.secret)
	return dockerShell(ctx, a.source, command, true)
}
