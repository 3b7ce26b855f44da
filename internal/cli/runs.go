package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielballan/bluesky-talk/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database string
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List archived runs",
		Long: `List every run in the archive, oldest first.

A run with an empty exit status is still open: its run-stop was never
archived (interrupted process, or the run is live in another process).

Example:
  runengine runs --db ./runs.db
  runengine runs --db ./runs.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite archive (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

type runRow struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	ExitStatus string `json:"exit_status,omitempty"`
	Reason     string `json:"reason,omitempty"`
	NumEvents  int64  `json:"num_events"`
}

func listRuns(opts *RunsOptions, cmd *cobra.Command) error {
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	rows := make([]runRow, len(runs))
	for i, r := range runs {
		rows[i] = runRow{
			ID:         r.ID,
			StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
			ExitStatus: string(r.ExitStatus),
			Reason:     r.Reason,
			NumEvents:  r.NumEvents,
		}
	}

	if opts.Format == "json" {
		out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return out.Success(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs archived.")
		return nil
	}
	for _, r := range rows {
		status := r.ExitStatus
		if status == "" {
			status = "open"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-7s  events=%d", r.ID, r.StartedAt, status, r.NumEvents)
		if r.Reason != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  (%s)", r.Reason)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}
