// Package logging provides a structured logging system for drill with unified
// log handling and flexible output routing.
//
// This package implements a logging system built on Go's standard slog package,
// providing consistent logging behavior with structured output and level filtering.
//
// # Architecture
//
// The logging system is built around these core concepts:
//
// ## Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about harness operation
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// ## Structured Logging
// All log entries include:
//   - Timestamp with nanosecond precision
//   - Log level (Debug, Info, Warn, Error)
//   - Subsystem identifier for categorization
//   - Message content with optional formatting
//   - Optional error information
//
// # Usage Examples
//
// ## Initialization
//
//	import "drill/pkg/logging"
//
//	// Initialize with Info level logging to stdout
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	// Log messages
//	logging.Info("Orchestrator", "Starting %d tests", len(tests))
//	logging.Debug("Validator", "Validating attribute: %s", attr)
//	logging.Warn("Config", "Unknown action: %s", name)
//	logging.Error("Listener", err, "Failed to bind socket")
//
// ## Run Log and Filtering
//
//	// Copy every record (including debug) to a file for postmortem reading
//	closer, _ := logging.OpenRunLog("run.log")
//	defer closer.Close()
//
//	// Only show console records mentioning a test of interest
//	logging.SetFilter("roaming-test")
//
// # Subsystem Organization
//
// Logs are organized by subsystem to enable filtering and categorization:
//
//   - **Rules**: Rule compilation and evaluation
//   - **Listener**: Event source lifecycle and framing
//   - **Validator**: Pass/fail tracking of observed events
//   - **State**: Per-state action dispatch and completion
//   - **Test**: State sequencing and test deadlines
//   - **Orchestrator**: Concurrent test execution and shutdown
//   - **Actions**: Host action execution
//   - **Config**: Configuration loading and validation
//   - **Build**: Compose/test config generation
//
// # Integration with slog
//
// The logging system integrates with Go's standard slog package:
//   - Uses slog.Handler implementations for output formatting
//   - Converts custom LogLevel to slog.Level for compatibility
//   - Provides fallback to global slog logger when needed
package logging
