package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"drill/internal/orchestrator"
	"drill/pkg/logging"
)

var (
	// runProjects lists the compose project names the tests run against.
	// Every test definition is executed once per project.
	runProjects []string

	// runTestPath points at a test definition file or a directory of them.
	runTestPath string

	// runDataPath is exported as DATA_PATH so server configurations can
	// resolve files relative to it.
	runDataPath string

	// runFilter suppresses console log records that do not contain the text.
	runFilter string

	// runOutput receives a copy of every log record regardless of level.
	runOutput string

	runSeed        int64
	runListenerDir string
	runUseFiles    bool
	runMetricsAddr string
	runDebug       int
	runVerbose     int
)

// runCmd defines the run command structure. This is the main command of
// drill: it loads the test definitions, executes them against every compose
// project, and renders the result summary.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run conformance tests against compose projects",
	Long: `Runs every test definition against every compose project and reports the
results in a summary table.

Each test walks its states in order. A state starts its actions, collects
the reports arriving on the test's listener, and completes when all its
rules are satisfied or its timeout expires. The first state that does not
complete stops the test.

Test definitions are loaded from --test, a single YAML file or a directory
of them. Broken definitions in a directory are skipped with an error
report; a broken single file fails the run.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

// runRun is the main entry point for the run command.
func runRun(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if runDebug > 0 {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, os.Stderr)
	if runDebug > 0 {
		logging.Info("CLI", "Debug mode enabled. Debug level: %d", runDebug)
	}
	if runVerbose > 0 {
		logging.Info("CLI", "Verbose mode enabled. Verbose level: %d", runVerbose)
	}

	if runOutput != "" {
		runLog, err := logging.OpenRunLog(runOutput)
		if err != nil {
			return err
		}
		defer runLog.Close()
	}

	if runFilter != "" {
		logging.SetFilter(runFilter)
		logging.Info("CLI", "Filtering console logs by: %s", runFilter)
	}

	if err := exportDataPath(cmd); err != nil {
		return err
	}

	o := orchestrator.New(orchestrator.Config{
		TestPath:    runTestPath,
		Projects:    runProjects,
		ListenerDir: runListenerDir,
		UseFiles:    runUseFiles,
		Seed:        runSeed,
		HasSeed:     cmd.Flags().Changed("seed"),
		Detailed:    runVerbose >= 3,
		MetricsAddr: runMetricsAddr,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// On a quiet terminal a spinner stands in for the suppressed per-test
	// logging. The summary is buffered so the spinner never tears it up.
	var summary bytes.Buffer
	spin := newRunSpinner()
	if spin != nil {
		o.SetOutput(&summary)
		spin.Start()
	}

	err := o.Run(ctx)

	if spin != nil {
		spin.Stop()
		_, _ = io.Copy(os.Stdout, &summary)
	}
	return err
}

// exportDataPath resolves and publishes DATA_PATH. The directory must exist
// when it was named explicitly.
func exportDataPath(cmd *cobra.Command) error {
	dataPath := runDataPath
	explicit := cmd.Flags().Changed("data")
	if dataPath == "" {
		dataPath = os.Getenv("DATA_PATH")
	}
	if dataPath == "" {
		return nil
	}

	if _, err := os.Stat(dataPath); err != nil {
		if explicit {
			return fmt.Errorf("data path %s does not exist", dataPath)
		}
		logging.Warn("CLI", "Data path %s does not exist, ignoring it", dataPath)
		return nil
	}

	abs, err := filepath.Abs(dataPath)
	if err != nil {
		return fmt.Errorf("failed to resolve data path: %w", err)
	}
	logging.Debug("CLI", "Setting DATA_PATH to %s", abs)
	return os.Setenv("DATA_PATH", abs)
}

// newRunSpinner returns a spinner when the run is quiet and stdout is a
// terminal, nil otherwise.
func newRunSpinner() *spinner.Spinner {
	if runVerbose > 0 || runDebug > 0 || !isatty.IsTerminal(os.Stdout.Fd()) {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Running tests..."
	return s
}

// init registers the run command and its flags with the root command.
func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayVarP(&runProjects, "compose", "c", nil, "Compose project name to run tests against (repeatable)")
	runCmd.Flags().StringVarP(&runTestPath, "test", "t", "tests", "Path to a test definition file or directory")
	runCmd.Flags().StringVarP(&runDataPath, "data", "d", "", "Path to the data directory, exported as DATA_PATH")
	runCmd.Flags().StringVar(&runFilter, "filter", "", "Only show console log records containing this text")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "drill.log", "Path to the run log file (empty disables it)")
	runCmd.Flags().Int64VarP(&runSeed, "seed", "s", 0, "Random seed for shuffling test states")
	runCmd.Flags().StringVar(&runListenerDir, "listener-dir", "", "Directory for listener sockets and files (defaults to a run-scoped temp dir)")
	runCmd.Flags().BoolVar(&runUseFiles, "use-files", false, "Use file-based listeners instead of socket-based listeners")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	runCmd.Flags().CountVarP(&runDebug, "debug", "x", "Enable debug logging")
	runCmd.Flags().CountVarP(&runVerbose, "verbose", "v", "Increase result verbosity (-vvv shows per-rule reports)")
}
