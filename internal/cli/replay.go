package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielballan/bluesky-talk/internal/document"
	"github.com/danielballan/bluesky-talk/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <run-id>",
		Short: "Print an archived run's document stream",
		Long: `Read one run back from the archive in emission order.

The stream is ordered by the logical clock, so replaying a run always
yields the documents in the order subscribers saw them.

Example:
  runengine replay 0190a8b2-... --db ./runs.db
  runengine replay 0190a8b2-... --db ./runs.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayRun(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite archive (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func replayRun(opts *ReplayOptions, runID string, cmd *cobra.Command) error {
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	docs, err := st.ReadRun(cmd.Context(), runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Format == "json" {
		return out.Success(docs)
	}

	for _, d := range docs {
		fmt.Fprintln(cmd.OutOrStdout(), formatDocument(d))
	}
	return nil
}

// formatDocument renders one document as a single text line.
func formatDocument(d document.Document) string {
	switch d.Type {
	case document.TypeRunStart:
		return fmt.Sprintf("%6d  run_start   %s", d.Seq(), d.RunStart.ID)
	case document.TypeDescriptor:
		return fmt.Sprintf("%6d  descriptor  %s fields=%v", d.Seq(), d.Descriptor.ID, d.Descriptor.Fields)
	case document.TypeEvent:
		return fmt.Sprintf("%6d  event       #%d readings=%d", d.Seq(), d.Event.EventNum, len(d.Event.Readings))
	case document.TypeRunStop:
		return fmt.Sprintf("%6d  run_stop    %s exit=%s events=%d", d.Seq(), d.RunStop.ID, d.RunStop.ExitStatus, d.RunStop.NumEvents)
	default:
		return fmt.Sprintf("%6d  %s", d.Seq(), d.Type)
	}
}
