package actions

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// dockerBin is the CLI the actions shell out to. Tests point it at a stub.
var dockerBin = "docker"

func runDocker(ctx context.Context, args ...string) error {
	out, err := exec.CommandContext(ctx, dockerBin, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker %s: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// dockerShell runs a shell command inside a container, detached when asked.
func dockerShell(ctx context.Context, container, command string, detach bool) error {
	args := []string{"exec"}
	if detach {
		args = append(args, "--detach")
	}
	args = append(args, container, "bash", "-c", command)
	return runDocker(ctx, args...)
}

// dockerOutput runs a command inside a container and returns its stdout.
func dockerOutput(ctx context.Context, container string, command ...string) (string, error) {
	args := append([]string{"exec", container}, command...)
	out, err := exec.CommandContext(ctx, dockerBin, args...).Output()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}
