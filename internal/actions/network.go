package actions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"drill/pkg/logging"
)

// disconnectAction detaches containers from a docker network, optionally
// reattaching them after a hold time.
type disconnectAction struct {
	network        string
	targets        []string
	reconnectAfter time.Duration
}

func buildDisconnect(env Env, params map[string]interface{}) (Action, error) {
	network, err := stringParam(params, "network")
	if err != nil {
		return nil, err
	}
	targets, err := targetsParam(env, params)
	if err != nil {
		return nil, err
	}
	a := &disconnectAction{network: network, targets: targets}
	if _, ok := params["timeout"]; ok {
		seconds, err := floatParam(params, "timeout")
		if err != nil {
			return nil, err
		}
		a.reconnectAfter = time.Duration(seconds * float64(time.Second))
	}
	return a, nil
}

func (a *disconnectAction) Name() string { return "disconnect" }

func (a *disconnectAction) Run(ctx context.Context) error {
	for _, target := range a.targets {
		logging.Debug("Actions", "Disconnecting %s from %s", target, a.network)
		if err := runDocker(ctx, "network", "disconnect", a.network, target); err != nil {
			return err
		}
	}
	if a.reconnectAfter <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.reconnectAfter):
	}
	return connectAll(ctx, a.network, a.targets)
}

// reconnectAction reattaches containers to a docker network.
type reconnectAction struct {
	network string
	targets []string
}

func buildReconnect(env Env, params map[string]interface{}) (Action, error) {
	network, err := stringParam(params, "network")
	if err != nil {
		return nil, err
	}
	targets, err := targetsParam(env, params)
	if err != nil {
		return nil, err
	}
	return &reconnectAction{network: network, targets: targets}, nil
}

func (a *reconnectAction) Name() string { return "reconnect" }

func (a *reconnectAction) Run(ctx context.Context) error {
	return connectAll(ctx, a.network, a.targets)
}

func connectAll(ctx context.Context, network string, targets []string) error {
	for _, target := range targets {
		logging.Debug("Actions", "Connecting %s to %s", target, network)
		if err := runDocker(ctx, "network", "connect", network, target); err != nil {
			return err
		}
	}
	return nil
}

// packetLossAction shapes a container interface with netem and verifies the
// discipline took hold.
type packetLossAction struct {
	source string
	iface  string
	loss   float64
}

func buildPacketLoss(env Env, params map[string]interface{}) (Action, error) {
	iface, err := stringParam(params, "interface")
	if err != nil {
		return nil, err
	}
	loss, err := floatParam(params, "loss")
	if err != nil {
		return nil, err
	}
	return &packetLossAction{source: env.Source, iface: iface, loss: loss}, nil
}

func (a *packetLossAction) Name() string { return "packet_loss" }

func (a *packetLossAction) Run(ctx context.Context) error {
	loss := strconv.FormatFloat(a.loss, 'f', -1, 64)
	command := fmt.Sprintf("tc qdisc replace dev %s root netem loss %s%%", a.iface, loss)
	if err := dockerShell(ctx, a.source, command, false); err != nil {
		return err
	}

	out, err := dockerOutput(ctx, a.source, "tc", "qdisc", "show", "dev", a.iface)
	if err != nil {
		return err
	}
	if !strings.Contains(out, "loss "+loss+"%") {
		logging.Debug("Actions", "tc output:\n%s", out)
		return fmt.Errorf("packet loss %s%% not applied on %s (%s)", loss, a.source, a.iface)
	}
	logging.Debug("Actions", "Applied %s%% packet loss on %s (%s)", loss, a.source, a.iface)
	return nil
}
