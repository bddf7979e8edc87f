package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"drill/internal/buildcfg"
	"drill/pkg/logging"
)

var (
	buildTemplate   string
	buildOutputDir  string
	buildSetValues  []string
	buildValuesFile string
)

// buildCmd defines the build command structure. It turns one combined
// template into the compose file and test definition a run needs.
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Render a combined template into compose and test files",
	Long: `Renders a combined configuration template and splits the result into a
Docker Compose file and a test definition.

The template keeps one environment in a single file: the compose topology
under a fixtures key, the test states next to it. Template values come
from --values and --set, with --set taking precedence. The generated
services carry the common capability block every host container needs.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

// runBuild is the main entry point for the build command.
func runBuild(cmd *cobra.Command, args []string) error {
	logging.InitForCLI(logging.LevelInfo, os.Stderr)

	values := map[string]interface{}{}
	if buildValuesFile != "" {
		fileValues, err := buildcfg.LoadValuesFile(buildValuesFile)
		if err != nil {
			return err
		}
		values = fileValues
	}
	setValues, err := buildcfg.ParseSetValues(buildSetValues)
	if err != nil {
		return err
	}
	for key, value := range setValues {
		values[key] = value
	}

	written, err := buildcfg.Build(buildcfg.Options{
		TemplatePath: buildTemplate,
		OutputDir:    buildOutputDir,
		Values:       values,
	})
	if err != nil {
		return err
	}
	if len(written) == 0 {
		logging.Warn("Build", "Template %s produced no output", buildTemplate)
		return nil
	}
	for _, path := range written {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	}
	return nil
}

// init registers the build command and its flags with the root command.
func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&buildTemplate, "template", "t", "", "Path to the combined template")
	buildCmd.Flags().StringVarP(&buildOutputDir, "output", "o", ".", "Directory for the generated files")
	buildCmd.Flags().StringArrayVar(&buildSetValues, "set", nil, "Set a template value (key=value, repeatable)")
	buildCmd.Flags().StringVar(&buildValuesFile, "values", "", "YAML file of template values")
	_ = buildCmd.MarkFlagRequired("template")
}
