package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielballan/bluesky-talk/internal/planfile"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan.cue>",
		Short: "Compile a plan file and report its instruction sequence",
		Long: `Compile a CUE plan file without executing it.

Reports the metadata and the instruction sequence the engine would
dispatch. Compile errors carry file:line:column positions.

Example:
  runengine validate ./plans/scan.cue
  runengine validate ./plans/scan.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePlan(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

type validateReport struct {
	Path     string         `json:"path"`
	Steps    int            `json:"steps"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Commands []string       `json:"commands"`
}

func validatePlan(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	pf, err := planfile.CompileFile(path)
	if err != nil {
		_ = out.Error("E201", "plan compile failed", err.Error())
		return WrapExitError(ExitCommandError, "plan compile failed", err)
	}

	report := validateReport{
		Path:     path,
		Steps:    len(pf.Msgs),
		Metadata: pf.Metadata,
	}
	for _, m := range pf.Msgs {
		report.Commands = append(report.Commands, m.String())
	}

	if opts.Format == "json" {
		return out.Success(report)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d steps\n", path, report.Steps)
	for i, c := range report.Commands {
		fmt.Fprintf(cmd.OutOrStdout(), "  %3d  %s\n", i+1, c)
	}
	return nil
}
