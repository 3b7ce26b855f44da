package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielballan/bluesky-talk/internal/harness"
)

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <scenario.yaml>...",
		Short: "Run conformance scenarios against the engine",
		Long: `Execute one or more YAML scenarios with the conformance harness.

Each scenario runs the real engine with simulated devices and checks the
terminal outcome and the emitted document stream.

Exit codes:
  0  all scenarios passed
  1  one or more scenarios failed
  2  scenario could not be loaded or executed

Example:
  runengine test ./scenarios/scan.yaml
  runengine test ./scenarios/*.yaml --verbose`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(rootOpts, args, cmd)
		},
	}

	return cmd
}

type scenarioReport struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Outcome  string   `json:"outcome"`
	Failures []string `json:"failures,omitempty"`
}

func runScenarios(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var reports []scenarioReport
	failed := 0
	for _, path := range paths {
		scenario, err := harness.LoadScenario(path)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("loading %s", path), err)
		}
		out.VerboseLog("running scenario %s (%s)", scenario.Name, path)

		result, err := harness.Run(scenario)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("running %s", scenario.Name), err)
		}

		if !result.Passed {
			failed++
		}
		reports = append(reports, scenarioReport{
			Name:     scenario.Name,
			Passed:   result.Passed,
			Outcome:  string(result.Outcome),
			Failures: result.Failures,
		})
	}

	if opts.Format == "json" {
		if err := out.Success(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			mark := "PASS"
			if !r.Passed {
				mark = "FAIL"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%s)\n", mark, r.Name, r.Outcome)
			for _, f := range r.Failures {
				fmt.Fprintf(cmd.OutOrStdout(), "      %s\n", f)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d scenarios, %d failed\n", len(reports), failed)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", failed, len(reports)))
	}
	return nil
}
