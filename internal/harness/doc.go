// Package harness executes tests.
//
// A test walks its states in order. Each state wires a fresh listener and
// validator together, fires its configured actions, and consumes the events
// arriving from the hosts until every required rule is satisfied or a
// deadline intervenes. Tracking never leaks between states: the next state
// starts with a clean listener and untouched rule bookkeeping.
//
// State lifecycle:
//
//	Pending -> Running -> Completed | TimedOut | Failed
//
// A state completes as soon as validation is satisfied after an event, or
// at its deadline when everything that had to fire has fired and nothing
// forbidden did. Watch windows fall out of this: a state whose rules only
// forbid events holds its full timeout open and completes at the deadline
// unless a forbidden event arrives first. TimedOut means required rules
// were still unmatched at the deadline. Failed means the state never got a
// working listener and could not observe events at all.
//
// Action failures do not stop a state. An action that exits with an error
// is logged and the state keeps consuming events; whether the test passes
// is decided by validation alone. The first state that does not complete
// stops its test.
//
// Ordering:
//
// States run in definition order. A test with random ordering shuffles a
// copy of its states with the run's seed, or generates and logs one, so a
// reported failure can be replayed with the same sequence.
package harness
