package harness

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"drill/internal/config"
	"drill/internal/listener"
	"drill/internal/metrics"
	"drill/internal/validate"
	"drill/pkg/logging"
	pkgstrings "drill/pkg/strings"
)

// Outcome is the lifecycle position of a state.
type Outcome int

const (
	Pending Outcome = iota
	Running
	Completed
	TimedOut
	// Failed means the state never got a working listener and could not
	// observe events at all.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed out"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Options carries the run-wide settings every test shares.
type Options struct {
	// ListenerDir holds each test's listener destination.
	ListenerDir  string
	ListenerType listener.Type

	// Seed drives state shuffling when HasSeed is set; otherwise each
	// shuffled test generates and logs its own.
	Seed    int64
	HasSeed bool

	// Detailed selects per-rule validation reports instead of per-attribute
	// counts.
	Detailed bool

	Metrics *metrics.Metrics
}

// StateResult is the report for one executed state.
type StateResult struct {
	Name      string
	Outcome   Outcome
	Results   string
	Unmatched []string
	Duration  time.Duration
}

// State runs one configured state for its owning test. Fresh listener and
// validator instances are created per run; tracking never leaks across
// states.
type State struct {
	cfg      config.State
	testName string
	opts     Options

	mu     sync.Mutex
	status Outcome
}

// NewState prepares a state runner in Pending status.
func NewState(cfg config.State, testName string, opts Options) *State {
	return &State{cfg: cfg, testName: testName, opts: opts}
}

// Status returns the state's current lifecycle position.
func (s *State) Status() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *State) setStatus(o Outcome) {
	s.mu.Lock()
	s.status = o
	s.mu.Unlock()
}

// Run drives the state to a terminal outcome. The context bounds the whole
// test; the state's own timeout is layered on top. Cleanup (listener stop,
// action wind-down) happens on every exit path.
func (s *State) Run(ctx context.Context) StateResult {
	start := time.Now()
	s.setStatus(Running)
	if s.cfg.Description != "" {
		desc := pkgstrings.TruncateDescription(s.cfg.Description, pkgstrings.DefaultDescriptionMaxLen)
		logging.Info(s.testName, "State %s: %s", s.cfg.Name, desc)
	} else {
		logging.Info(s.testName, "State %s starting", s.cfg.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)

	dest := filepath.Join(s.opts.ListenerDir, s.testName+s.opts.ListenerType.Extension())
	lis := listener.New(s.opts.ListenerType, dest, s.opts.Metrics)
	v := validate.New(s.cfg.Rules)

	var actionGroup errgroup.Group
	defer func() {
		cancel()
		_ = actionGroup.Wait()
		if err := lis.Stop(); err != nil {
			logging.Warn(s.testName, "Failed to stop listener for state %s: %v", s.cfg.Name, err)
		}
	}()

	if err := lis.Start(ctx); err != nil {
		logging.Error(s.testName, err, "State %s could not start its listener", s.cfg.Name)
		s.setStatus(Failed)
		return s.report(v, Failed, start)
	}

	for _, action := range s.cfg.Actions {
		action := action
		actionGroup.Go(func() error {
			if err := action.Run(ctx); err != nil {
				logging.Error(s.testName, err, "Action %s failed in state %s", action.Name(), s.cfg.Name)
			}
			// Action failures surface in validation results, not as
			// errors that would stop sibling actions.
			return nil
		})
	}

	outcome := s.consume(ctx, lis, v)
	s.setStatus(outcome)
	return s.report(v, outcome, start)
}

// consume is the validation loop: dequeue, validate, check satisfaction.
// When the deadline arrives with every required rule already passed the
// state still completes; never-fire rules hold their watch window open
// rather than resolving the state early.
func (s *State) consume(ctx context.Context, lis listener.Listener, v *validate.Validator) Outcome {
	for {
		select {
		case <-ctx.Done():
			if v.Satisfied() {
				return Completed
			}
			return TimedOut
		case event := <-lis.Events():
			s.opts.Metrics.EventReceived()
			matched, err := v.Validate(event.Attribute, event.Value)
			if err != nil {
				// An event nobody has rules for; Validate already logged it.
				continue
			}
			s.opts.Metrics.ValidationResult(matched)
			if v.Satisfied() {
				return Completed
			}
		}
	}
}

func (s *State) report(v *validate.Validator, outcome Outcome, start time.Time) StateResult {
	res := StateResult{
		Name:      s.cfg.Name,
		Outcome:   outcome,
		Results:   v.Results(s.opts.Detailed),
		Unmatched: v.Unmatched(),
		Duration:  time.Since(start),
	}

	switch outcome {
	case Completed:
		logging.Info(s.testName, "State %s completed in %s", s.cfg.Name, res.Duration.Round(time.Millisecond))
	case TimedOut:
		logging.Warn(s.testName, "State %s timed out after %s", s.cfg.Name, s.cfg.Timeout)
		for _, miss := range res.Unmatched {
			logging.Warn(s.testName, "Unmatched rule %s", miss)
		}
	}
	logging.Info(s.testName, "%s", res.Results)
	return res
}
