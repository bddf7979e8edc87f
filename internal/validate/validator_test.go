package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"drill/internal/rules"
)

func buildRules(t *testing.T, src string) *rules.RuleMap {
	t.Helper()
	var triggers []yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &triggers))
	ruleMap, err := rules.CompileTriggers(triggers)
	require.NoError(t, err)
	return ruleMap
}

func TestSeedingFromRuleMap(t *testing.T) {
	t.Run("required rules start failed", func(t *testing.T) {
		v := New(buildRules(t, `
- status:
    pattern:
      reg_pattern: ^OK
`))
		assert.False(t, v.Satisfied())
		assert.Equal(t, []string{"status: pattern: reg_pattern=^OK"}, v.Unmatched())
	})

	t.Run("never fire rules start passed", func(t *testing.T) {
		v := New(buildRules(t, `
- auth_log:
    never_fire:
`))
		assert.True(t, v.Satisfied())
		assert.Empty(t, v.Unmatched())
	})

	t.Run("advisory rules are not tracked", func(t *testing.T) {
		v := New(buildRules(t, `
- status:
    may_pattern:
      reg_pattern: ^OK
`))
		assert.True(t, v.Satisfied())
		assert.Empty(t, v.Unmatched())
	})

	t.Run("empty rule map is trivially satisfied", func(t *testing.T) {
		v := New(buildRules(t, `[]`))
		assert.True(t, v.Satisfied())
	})
}

func TestValidateMissingRule(t *testing.T) {
	v := New(buildRules(t, `
- status:
    pattern:
      reg_pattern: ^OK
`))
	before := v.Results(true)

	matched, err := v.Validate("unknown", "whatever")
	assert.False(t, matched)
	require.ErrorIs(t, err, ErrNoRules)

	assert.Equal(t, before, v.Results(true))
}

func TestValidateFirstMatchWins(t *testing.T) {
	v := New(buildRules(t, `
- status:
    pattern:
      reg_pattern: ^A
    range:
      minimum: 5
      maximum: 15
    never_fire:
`))

	// "10" misses the pattern, matches the range, and the fail rule after
	// the match is never consulted.
	matched, err := v.Validate("status", "10")
	require.NoError(t, err)
	assert.True(t, matched)

	assert.False(t, v.Satisfied())
	assert.Equal(t, []string{"status: pattern: reg_pattern=^A"}, v.Unmatched())
}

func TestValidateIdempotentPass(t *testing.T) {
	v := New(buildRules(t, `
- status:
    pattern:
      reg_pattern: ^OK
`))

	for i := 0; i < 3; i++ {
		matched, err := v.Validate("status", "OK")
		require.NoError(t, err)
		assert.True(t, matched)
	}

	assert.True(t, v.Satisfied())
	first := v.Results(false)
	_, err := v.Validate("status", "OK")
	require.NoError(t, err)
	assert.Equal(t, first, v.Results(false))
}

func TestValidatePassFailReversible(t *testing.T) {
	v := New(buildRules(t, `
- status:
    pattern:
      reg_pattern: ^OK
`))

	matched, err := v.Validate("status", "OK")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.True(t, v.Satisfied())

	matched, err = v.Validate("status", "DENIED")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.False(t, v.Satisfied())
	assert.Equal(t, []string{"status: pattern: reg_pattern=^OK"}, v.Unmatched())

	matched, err = v.Validate("status", "OK again")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.True(t, v.Satisfied())
}

func TestNeverFireFlipsOnEvent(t *testing.T) {
	v := New(buildRules(t, `
- auth_log:
    never_fire:
`))
	assert.True(t, v.Satisfied())

	matched, err := v.Validate("auth_log", "Access-Request received")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.False(t, v.Satisfied())
	assert.Equal(t, []string{"auth_log: never_fire"}, v.Unmatched())
}

func TestCombinatorFailureRecordsFailingChild(t *testing.T) {
	v := New(buildRules(t, `
- conn:
    all:
      pattern:
        reg_pattern: ^X
      range:
        minimum: 5
        maximum: 15
`))

	matched, err := v.Validate("conn", "zz")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Equal(t, []string{"conn: all: pattern: reg_pattern=^X"}, v.Unmatched())

	// The range reads the portion after the last colon.
	matched, err = v.Validate("conn", "X:10")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.True(t, v.Satisfied(), "a matching event must clear the recorded combinator failure")
}

func TestAdvisoryRulesNeverBlock(t *testing.T) {
	v := New(buildRules(t, `
- status:
    pattern:
      reg_pattern: ^OK
    may_pattern:
      reg_pattern: ^EXTRA
`))

	// Matches neither rule; only the required one is recorded as failed.
	matched, err := v.Validate("status", "zz")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Equal(t, []string{"status: pattern: reg_pattern=^OK"}, v.Unmatched())

	matched, err = v.Validate("status", "OK")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.True(t, v.Satisfied())

	// An advisory match still reports success to the caller.
	matched, err = v.Validate("status", "EXTRA detail")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.True(t, v.Satisfied())
}

func TestUnmatchedOrdering(t *testing.T) {
	v := New(buildRules(t, `
- status:
    pattern:
      reg_pattern: ^OK
- acct_log:
    pattern:
      reg_pattern: ^Stop
    range:
      minimum: 1
      maximum: 2
`))

	assert.Equal(t, []string{
		"status: pattern: reg_pattern=^OK",
		"acct_log: pattern: reg_pattern=^Stop",
		"acct_log: range: maximum=2, minimum=1",
	}, v.Unmatched())
}
