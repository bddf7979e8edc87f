package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drill/internal/rules"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseDefaults(t *testing.T) {
	t.Run("empty document", func(t *testing.T) {
		test, err := Parse(nil, "smoke-env1")
		require.NoError(t, err)
		assert.Equal(t, "smoke-env1", test.Name)
		assert.Equal(t, 40*time.Second, test.Timeout)
		assert.Equal(t, "sequence", test.StateOrder)
		assert.Empty(t, test.States)
	})

	t.Run("empty states", func(t *testing.T) {
		test, err := Parse([]byte("states:\n"), "smoke-env1")
		require.NoError(t, err)
		assert.Empty(t, test.States)
	})
}

func TestParseFullDefinition(t *testing.T) {
	data := []byte(`
timeout: 90
state_order: random
states:
  boot:
    description: Bring the core services up
    host:
      server:
        actions:
          - run_command:
              command: touch /tmp/ready
    verify:
      timeout: 5
      triggers:
        - status:
            pattern:
              reg_pattern: "^OK"
  steady:
    verify:
      triggers:
        - auth_log:
            fire:
`)

	test, err := Parse(data, "basic-env1")
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, test.Timeout)
	assert.Equal(t, "random", test.StateOrder)
	require.Len(t, test.States, 2)

	boot := test.States[0]
	assert.Equal(t, "boot", boot.Name)
	assert.Equal(t, "Bring the core services up", boot.Description)
	assert.Equal(t, 5*time.Second, boot.Timeout)
	require.Len(t, boot.Actions, 1)
	assert.Equal(t, "command", boot.Actions[0].Name())
	assert.Equal(t, []string{"status"}, boot.Rules.Attributes())

	steady := test.States[1]
	assert.Equal(t, "steady", steady.Name)
	assert.Equal(t, DefaultStateTimeout, steady.Timeout)
	assert.Empty(t, steady.Actions)
	assert.Equal(t, []string{"auth_log"}, steady.Rules.Attributes())
}

func TestParseFractionalTimeouts(t *testing.T) {
	data := []byte(`
timeout: 0.5
states:
  quick:
    verify:
      timeout: 2.5
      triggers:
        - status:
            fire:
`)

	test, err := Parse(data, "quick-env1")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, test.Timeout)
	assert.Equal(t, 2500*time.Millisecond, test.States[0].Timeout)
}

func TestParseMultipleHosts(t *testing.T) {
	data := []byte(`
states:
  traffic:
    host:
      client:
        actions:
          - run_command:
              command: echo one
      server:
        actions:
          - run_command:
              command: echo two
          - run_command:
              command: echo three
    verify:
      triggers:
        - status:
            fire:
`)

	test, err := Parse(data, "multi-env1")
	require.NoError(t, err)
	require.Len(t, test.States, 1)
	assert.Len(t, test.States[0].Actions, 3)
}

func TestParseUnknownActionSkipped(t *testing.T) {
	data := []byte(`
states:
  s1:
    host:
      client:
        actions:
          - warp_drive:
              speed: 9
          - run_command:
              command: echo hi
    verify:
      triggers:
        - status:
            fire:
`)

	test, err := Parse(data, "skip-env1")
	require.NoError(t, err)
	require.Len(t, test.States, 1)
	require.Len(t, test.States[0].Actions, 1)
	assert.Equal(t, "command", test.States[0].Actions[0].Name())
}

func TestParseErrors(t *testing.T) {
	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("\tstates: {"), "bad-env1")
		assert.Error(t, err)
	})

	t.Run("unknown condition", func(t *testing.T) {
		data := []byte(`
states:
  s1:
    verify:
      triggers:
        - status:
            telepathy:
`)
		_, err := Parse(data, "bad-env1")
		require.Error(t, err)
		assert.ErrorIs(t, err, rules.ErrUnknownCondition)
	})

	t.Run("action missing parameter", func(t *testing.T) {
		data := []byte(`
states:
  s1:
    host:
      client:
        actions:
          - run_command:
              detach: true
`)
		_, err := Parse(data, "bad-env1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "command")
	})

	t.Run("states is not a mapping", func(t *testing.T) {
		_, err := Parse([]byte("states: [one, two]"), "bad-env1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mapping")
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "smoke.yml", `
states:
  up:
    verify:
      triggers:
        - status:
            fire:
`)

	test, err := Load(path, "env3")
	require.NoError(t, err)
	assert.Equal(t, "smoke-env3", test.Name)
	assert.Equal(t, path, test.Source)

	_, err = Load(filepath.Join(dir, "missing.yml"), "env3")
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "alpha.yml", "states:\n")
	writeFile(t, dir, "beta.yaml", "states:\n")
	writeFile(t, dir, "broken.yml", `
states:
  s1:
    verify:
      triggers:
        - status:
            telepathy:
`)
	writeFile(t, dir, "notes.txt", "not a test")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yml"), 0o755))

	tests, err := LoadDir(dir, "envX")
	require.NoError(t, err)
	require.Len(t, tests, 2)
	assert.Equal(t, "alpha-envX", tests[0].Name)
	assert.Equal(t, "beta-envX", tests[1].Name)

	_, err = LoadDir(filepath.Join(dir, "does-not-exist"), "envX")
	assert.Error(t, err)
}
