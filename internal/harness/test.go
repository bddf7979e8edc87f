package harness

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"drill/internal/config"
	"drill/pkg/logging"
)

// TestResult aggregates the per-state outcomes of one test.
type TestResult struct {
	Name        string
	Passed      bool
	States      []StateResult
	StatesTotal int
	Duration    time.Duration
}

// StatesCompleted counts states that reached Completed.
func (r TestResult) StatesCompleted() int {
	n := 0
	for _, s := range r.States {
		if s.Outcome == Completed {
			n++
		}
	}
	return n
}

// Test runs a loaded test definition: its states strictly one after another,
// under one overall deadline.
type Test struct {
	cfg  *config.Test
	opts Options
}

// NewTest prepares a test runner.
func NewTest(cfg *config.Test, opts Options) *Test {
	return &Test{cfg: cfg, opts: opts}
}

// Name returns the test's full name.
func (t *Test) Name() string {
	return t.cfg.Name
}

// Run executes the test. The state order is fixed before the first state
// starts; the first state that does not complete stops the test. The result
// carries every executed state's report.
func (t *Test) Run(ctx context.Context) TestResult {
	start := time.Now()
	result := TestResult{
		Name:        t.cfg.Name,
		Passed:      true,
		StatesTotal: len(t.cfg.States),
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	states := t.orderedStates()
	logging.Info(t.cfg.Name, "Starting test with %d states", len(states))

	for i := range states {
		state := NewState(states[i], t.cfg.Name, t.opts)
		res := state.Run(ctx)
		result.States = append(result.States, res)

		switch res.Outcome {
		case Completed:
			t.opts.Metrics.StateCompleted()
		case TimedOut:
			t.opts.Metrics.StateTimedOut()
		}
		if res.Outcome != Completed {
			result.Passed = false
			logging.Error(t.cfg.Name, nil, "Test stopped: state %s %s", res.Name, res.Outcome)
			break
		}
	}

	result.Duration = time.Since(start)
	t.opts.Metrics.TestResult(result.Passed)
	if result.Passed {
		logging.Info(t.cfg.Name, "Test passed (%d/%d states) in %s",
			result.StatesCompleted(), result.StatesTotal, result.Duration.Round(time.Millisecond))
	} else {
		logging.Warn(t.cfg.Name, "Test failed (%d/%d states) in %s",
			result.StatesCompleted(), result.StatesTotal, result.Duration.Round(time.Millisecond))
	}
	return result
}

// orderedStates resolves the execution order once. Shuffling uses the
// configured seed when one was given, otherwise a generated seed; either way
// the effective seed is logged so the order can be reproduced.
func (t *Test) orderedStates() []config.State {
	switch strings.ToLower(t.cfg.StateOrder) {
	case "random", "unordered", "shuffle":
	default:
		return t.cfg.States
	}

	seed := t.opts.Seed
	if !t.opts.HasSeed {
		seed = rand.Int63n(1 << 32)
	}
	logging.Info(t.cfg.Name, "Shuffling states with seed: %d", seed)

	states := make([]config.State, len(t.cfg.States))
	copy(states, t.cfg.States)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(states), func(i, j int) {
		states[i], states[j] = states[j], states[i]
	})
	return states
}
