// Package orchestrator drives a complete conformance run across one or more
// compose projects.
//
// A run takes a test definition file (or a directory of them) and a list of
// compose project names, builds the cross product of the two, and executes
// every resulting test concurrently. Each test gets its own listener
// destination inside a shared listener directory, so concurrent tests never
// compete for a socket or log file.
//
// Lifecycle:
//
// The orchestrator owns every run-scoped resource:
//
//   - Listener directory: generated under the system temp dir when not
//     configured, and removed again after the run. A directory supplied by
//     the caller is created if missing but never removed.
//   - Metrics endpoint: started before the first test and shut down after
//     the summary is rendered, when an address is configured.
//   - Run identity: each run is tagged with a fresh UUID that names the
//     generated listener directory and the run in the logs.
//
// Tests run to completion regardless of their siblings: a failing test never
// cancels the others. Cancelling the run context winds every test down
// through its state machine, and Run returns once all of them have observed
// the cancellation.
//
// Usage:
//
//	o := orchestrator.New(orchestrator.Config{
//		TestPath: "./tests",
//		Projects: []string{"site-a", "site-b"},
//	})
//	if err := o.Run(ctx); err != nil {
//		// err aggregates the outcome, e.g. "2 of 6 tests failed".
//	}
//
// The summary table lists one row per test with its result, completed state
// count, and duration. SetOutput redirects it, which keeps the table out of
// the run log in tests.
package orchestrator
