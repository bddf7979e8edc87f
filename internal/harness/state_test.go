package harness

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"drill/internal/actions"
	"drill/internal/config"
	"drill/internal/listener"
	"drill/internal/rules"
)

func compileTriggers(t *testing.T, doc string) *rules.RuleMap {
	t.Helper()
	var triggers []yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(doc), &triggers))
	m, err := rules.CompileTriggers(triggers)
	require.NoError(t, err)
	return m
}

// sendLines dials the state's socket once it appears and writes the given
// payload. Errors are ignored; a failed send surfaces as a state timeout.
func sendLines(dest, lines string) {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", dest)
		if err != nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		_, _ = conn.Write([]byte(lines))
		conn.Close()
		return
	}
}

func socketOptions(dir string) Options {
	return Options{ListenerDir: dir, ListenerType: listener.TypeSocket}
}

func TestStateCompletesOnMatchingEvent(t *testing.T) {
	dir := t.TempDir()
	st := config.State{
		Name:    "up",
		Timeout: 5 * time.Second,
		Rules: compileTriggers(t, `
- status:
    pattern:
      reg_pattern: "^OK"
`),
	}

	state := NewState(st, "smoke-env1", socketOptions(dir))
	assert.Equal(t, Pending, state.Status())

	go sendLines(filepath.Join(dir, "smoke-env1.sock"), "status OK\n")

	res := state.Run(context.Background())
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, Completed, state.Status())
	assert.Contains(t, res.Results, "1/1")
	assert.Empty(t, res.Unmatched)
	assert.Less(t, res.Duration, 5*time.Second)
}

func TestStateTimesOutWithoutEvents(t *testing.T) {
	dir := t.TempDir()
	st := config.State{
		Name:    "up",
		Timeout: 200 * time.Millisecond,
		Rules: compileTriggers(t, `
- status:
    pattern:
      reg_pattern: "^OK"
`),
	}

	res := NewState(st, "smoke-env1", socketOptions(dir)).Run(context.Background())
	assert.Equal(t, TimedOut, res.Outcome)
	assert.Contains(t, res.Results, "0/1")
	assert.Equal(t, []string{"status: pattern: reg_pattern=^OK"}, res.Unmatched)
}

func TestStateHoldsNeverFireWindowOpen(t *testing.T) {
	dir := t.TempDir()
	st := config.State{
		Name:    "quiet",
		Timeout: 150 * time.Millisecond,
		Rules: compileTriggers(t, `
- alarm:
    never_fire:
`),
	}

	res := NewState(st, "smoke-env1", socketOptions(dir)).Run(context.Background())
	assert.Equal(t, Completed, res.Outcome)
	assert.GreaterOrEqual(t, res.Duration, 150*time.Millisecond)
	assert.Contains(t, res.Results, "1/1")
}

func TestStateNeverFireViolationTimesOut(t *testing.T) {
	dir := t.TempDir()
	st := config.State{
		Name:    "quiet",
		Timeout: 400 * time.Millisecond,
		Rules: compileTriggers(t, `
- alarm:
    never_fire:
`),
	}

	go sendLines(filepath.Join(dir, "smoke-env1.sock"), "alarm ding\n")

	res := NewState(st, "smoke-env1", socketOptions(dir)).Run(context.Background())
	assert.Equal(t, TimedOut, res.Outcome)
	assert.Equal(t, []string{"alarm: never_fire"}, res.Unmatched)
}

func TestStateWithoutRulesCompletesAtDeadline(t *testing.T) {
	dir := t.TempDir()
	st := config.State{Name: "settle", Timeout: 100 * time.Millisecond, Rules: compileTriggers(t, "")}

	res := NewState(st, "smoke-env1", socketOptions(dir)).Run(context.Background())
	assert.Equal(t, Completed, res.Outcome)
	assert.GreaterOrEqual(t, res.Duration, 100*time.Millisecond)
}

func TestStateFailsWhenListenerCannotStart(t *testing.T) {
	opts := socketOptions(filepath.Join(t.TempDir(), "missing", "deeper"))
	st := config.State{
		Name:    "up",
		Timeout: 5 * time.Second,
		Rules: compileTriggers(t, `
- status:
    fire:
`),
	}

	start := time.Now()
	state := NewState(st, "smoke-env1", opts)
	res := state.Run(context.Background())
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, Failed, state.Status())
	assert.Contains(t, res.Results, "0/1")
	assert.Less(t, time.Since(start), 2*time.Second)
}

type fakeAction struct {
	name string
	err  error
	ran  bool
}

func (a *fakeAction) Name() string { return a.name }

func (a *fakeAction) Run(context.Context) error {
	a.ran = true
	return a.err
}

// blockingAction parks until the state winds it down.
type blockingAction struct{}

func (a *blockingAction) Name() string { return "block" }

func (a *blockingAction) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStateRunsActionsAndToleratesFailures(t *testing.T) {
	dir := t.TempDir()
	good := &fakeAction{name: "good"}
	bad := &fakeAction{name: "bad", err: assert.AnError}
	st := config.State{
		Name:    "up",
		Timeout: 5 * time.Second,
		Actions: []actions.Action{good, bad, &blockingAction{}},
		Rules: compileTriggers(t, `
- status:
    pattern:
      reg_pattern: "^OK"
`),
	}

	go sendLines(filepath.Join(dir, "smoke-env1.sock"), "status OK\n")

	res := NewState(st, "smoke-env1", socketOptions(dir)).Run(context.Background())
	assert.Equal(t, Completed, res.Outcome)
	assert.True(t, good.ran)
	assert.True(t, bad.ran)
	assert.Less(t, res.Duration, 5*time.Second)
}

func TestStateReportsPartialTracking(t *testing.T) {
	dir := t.TempDir()
	st := config.State{
		Name:    "up",
		Timeout: 500 * time.Millisecond,
		Rules: compileTriggers(t, `
- status:
    pattern:
      reg_pattern: "^OK"
- auth_log:
    fire:
`),
	}

	go sendLines(filepath.Join(dir, "smoke-env1.sock"), "status OK\n")

	res := NewState(st, "smoke-env1", socketOptions(dir)).Run(context.Background())
	assert.Equal(t, TimedOut, res.Outcome)
	assert.Contains(t, res.Results, "1/1")
	assert.Equal(t, []string{"auth_log: fire"}, res.Unmatched)
}

func TestStateWithFileListener(t *testing.T) {
	dir := t.TempDir()
	opts := Options{ListenerDir: dir, ListenerType: listener.TypeFile}
	st := config.State{
		Name:    "up",
		Timeout: 5 * time.Second,
		Rules: compileTriggers(t, `
- status:
    pattern:
      reg_pattern: "^OK"
`),
	}

	dest := filepath.Join(dir, "smoke-env1.txt")
	go func() {
		time.Sleep(150 * time.Millisecond)
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = f.WriteString("status OK\n")
	}()

	res := NewState(st, "smoke-env1", opts).Run(context.Background())
	assert.Equal(t, Completed, res.Outcome)

	_, err := os.Stat(dest + ".bak")
	assert.NoError(t, err)
}
