package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/sync/errgroup"

	"drill/internal/config"
	"drill/internal/harness"
	"drill/internal/listener"
	"drill/internal/metrics"
	"drill/pkg/logging"
)

// Config describes one run.
type Config struct {
	// TestPath is a test definition file or a directory of them.
	TestPath string
	// Projects are the compose project names the run targets; every test
	// definition runs once per project.
	Projects []string

	// ListenerDir overrides the run-scoped listener directory.
	ListenerDir string
	// UseFiles selects file-tail listeners instead of Unix sockets.
	UseFiles bool

	Seed    int64
	HasSeed bool

	// Detailed selects per-rule validation reports.
	Detailed bool
	// MetricsAddr enables the Prometheus endpoint when non-empty.
	MetricsAddr string
}

// Orchestrator executes one run.
type Orchestrator struct {
	cfg Config
	out io.Writer
}

// New prepares an orchestrator writing its summary to stdout.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg, out: os.Stdout}
}

// SetOutput redirects the summary table.
func (o *Orchestrator) SetOutput(w io.Writer) {
	o.out = w
}

// Run executes every test concurrently and renders the summary table. One
// test failing never cancels its siblings; cancelling the context winds all
// tests down and Run returns once every test has observed it. The returned
// error reports the aggregate outcome.
func (o *Orchestrator) Run(ctx context.Context) error {
	if len(o.cfg.Projects) == 0 {
		return fmt.Errorf("no compose projects given")
	}

	runID := uuid.New()
	logging.Info("Orchestrator", "Run %s starting", runID)

	listenerDir, generated, err := o.ensureListenerDir(runID)
	if err != nil {
		return err
	}
	if generated {
		defer func() {
			if err := os.RemoveAll(listenerDir); err != nil {
				logging.Warn("Orchestrator", "Failed to remove %s: %v", listenerDir, err)
			}
		}()
	}

	var m *metrics.Metrics
	if o.cfg.MetricsAddr != "" {
		m = metrics.New()
		if err := m.Serve(o.cfg.MetricsAddr); err != nil {
			return err
		}
		defer m.Close()
	}

	tests, err := o.buildTests(listenerDir, m)
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		return fmt.Errorf("no runnable tests in %s", o.cfg.TestPath)
	}

	logging.Info("Orchestrator", "Running %d tests", len(tests))
	results := make([]harness.TestResult, len(tests))
	var group errgroup.Group
	for i, test := range tests {
		i, test := i, test
		group.Go(func() error {
			results[i] = test.Run(ctx)
			return nil
		})
	}
	_ = group.Wait()
	logging.Info("Orchestrator", "All tests completed.")

	o.renderSummary(results)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	failed := 0
	for _, res := range results {
		if !res.Passed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tests failed", failed, len(results))
	}
	return nil
}

// ensureListenerDir resolves the listener directory, generating a run-scoped
// one under the system temp dir when none was configured. Only a generated
// directory is removed on exit.
func (o *Orchestrator) ensureListenerDir(runID uuid.UUID) (string, bool, error) {
	dir := o.cfg.ListenerDir
	generated := false
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "drill-"+runID.String())
		generated = true
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create listener directory %s: %w", dir, err)
	}
	logging.Debug("Orchestrator", "Listener destinations in %s", dir)
	return dir, generated, nil
}

// buildTests loads the test definitions once per compose project. Directory
// loads skip invalid definitions so siblings still run; pointing at a single
// broken file is an error.
func (o *Orchestrator) buildTests(listenerDir string, m *metrics.Metrics) ([]*harness.Test, error) {
	info, err := os.Stat(o.cfg.TestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read test configuration %s: %w", o.cfg.TestPath, err)
	}

	listenerType := listener.TypeSocket
	if o.cfg.UseFiles {
		listenerType = listener.TypeFile
	}
	opts := harness.Options{
		ListenerDir:  listenerDir,
		ListenerType: listenerType,
		Seed:         o.cfg.Seed,
		HasSeed:      o.cfg.HasSeed,
		Detailed:     o.cfg.Detailed,
		Metrics:      m,
	}

	var tests []*harness.Test
	for _, project := range o.cfg.Projects {
		var cfgs []*config.Test
		if info.IsDir() {
			cfgs, err = config.LoadDir(o.cfg.TestPath, project)
		} else {
			var cfg *config.Test
			cfg, err = config.Load(o.cfg.TestPath, project)
			cfgs = []*config.Test{cfg}
		}
		if err != nil {
			return nil, err
		}
		for _, cfg := range cfgs {
			tests = append(tests, harness.NewTest(cfg, opts))
		}
	}
	return tests, nil
}

func (o *Orchestrator) renderSummary(results []harness.TestResult) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(o.out)
	tbl.SetStyle(table.StyleRounded)
	tbl.AppendHeader([]interface{}{
		text.FgHiCyan.Sprint("TEST"),
		text.FgHiCyan.Sprint("OUTCOME"),
		text.FgHiCyan.Sprint("STATES"),
		text.FgHiCyan.Sprint("DURATION"),
	})

	for _, res := range results {
		outcome := text.FgGreen.Sprint("passed")
		if !res.Passed {
			outcome = text.FgRed.Sprint("failed")
		}
		tbl.AppendRow([]interface{}{
			res.Name,
			outcome,
			fmt.Sprintf("%d/%d", res.StatesCompleted(), res.StatesTotal),
			res.Duration.Round(time.Millisecond).String(),
		})
	}

	tbl.Render()
}
