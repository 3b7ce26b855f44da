package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielballan/bluesky-talk/internal/device"
	"github.com/danielballan/bluesky-talk/internal/engine"
	"github.com/danielballan/bluesky-talk/internal/msg"
	"github.com/danielballan/bluesky-talk/internal/planfile"
	"github.com/danielballan/bluesky-talk/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database   string
	Motors     []string
	Detectors  []string
	AbortGrace time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan.cue>",
		Short: "Execute a plan against simulated devices",
		Long: `Execute a CUE plan file with the run engine.

Devices are simulated: motors settle after their travel time, detectors
report a fixed value. With --db, every emitted document is archived to
SQLite as the run progresses.

The first Ctrl-C pauses the run at the next instruction boundary; a
second Ctrl-C aborts it through the plan's cleanup path.

Example:
  runengine run ./plans/scan.cue --motor motor:100 --detector det=42
  runengine run ./plans/scan.cue --db ./runs.db --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite archive (optional)")
	cmd.Flags().StringArrayVar(&opts.Motors, "motor", nil, "simulated motor as name[:travel_ms] (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Detectors, "detector", nil, "simulated detector as name=value (repeatable)")
	cmd.Flags().DurationVar(&opts.AbortGrace, "abort-grace", engine.DefaultAbortGrace, "cleanup grace period on abort")

	return cmd
}

func runPlan(opts *RunOptions, path string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	slog.Info("compiling plan", "path", path)
	pf, err := planfile.CompileFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "plan compile failed", err)
	}
	slog.Info("plan compiled", "steps", len(pf.Msgs))

	eng := engine.New(
		engine.WithAbortGrace(opts.AbortGrace),
		engine.WithDefaultMetadata(pf.Metadata),
	)

	if err := registerSimDevices(eng, opts); err != nil {
		return WrapExitError(ExitCommandError, "invalid device flag", err)
	}

	var subs []engine.Subscriber
	if opts.Database != "" {
		slog.Info("opening archive", "path", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		subs = append(subs, st.Subscriber(cmd.Context()))
	}

	if opts.Verbose {
		eng.SetMsgHook(func(m msg.Msg) {
			slog.Debug("dispatch", "msg", m.String())
		})
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		paused := false
		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGUSR1 {
					paused = false
					slog.Info("received SIGUSR1, resuming run")
					if err := eng.Resume(); err != nil {
						slog.Warn("resume request rejected", "error", err)
					}
					continue
				}
				if !paused {
					paused = true
					slog.Info("received signal, pausing run", "signal", sig)
					pauseRun(eng, cmd.ErrOrStderr())
					continue
				}
				slog.Info("received second signal, aborting run", "signal", sig)
				if err := eng.Abort("operator interrupt"); err != nil {
					slog.Warn("abort request rejected", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	slog.Info("run starting", "plan", path)
	res, runErr := eng.Run(ctx, pf.Plan(), subs...)
	if res == nil {
		return WrapExitError(ExitCommandError, "run did not start", runErr)
	}

	for _, w := range res.Warnings {
		slog.Warn("run warning", "warning", w)
	}

	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	summary := runSummary{
		Outcome:  string(res.Outcome),
		Reason:   res.Reason,
		RunIDs:   res.RunIDs,
		Warnings: len(res.Warnings),
	}

	if res.Outcome != engine.OutcomeSucceeded {
		_ = out.Error("E301", fmt.Sprintf("run %s", res.Outcome), summary)
		return WrapExitError(ExitFailure, fmt.Sprintf("run %s", res.Outcome), runErr)
	}

	if opts.Format == "json" {
		return out.Success(summary)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run succeeded. Runs: %s\n", strings.Join(res.RunIDs, ", "))
	return nil
}

// pauseRun requests an immediate pause and tells the operator what
// happened. ErrResumeNotSafe is a caveat, not a rejection: the run still
// pauses, resume just replays from the top of the run instead of a
// checkpoint.
func pauseRun(eng *engine.Engine, errW io.Writer) {
	err := eng.Pause(engine.PauseImmediate)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrResumeNotSafe):
		slog.Warn("no checkpoint recorded yet; resume will re-dispatch from the start of the run")
	default:
		slog.Warn("pause request rejected", "error", err)
		return
	}
	fmt.Fprintln(errW, "Run pausing. Ctrl-C again to abort, or send SIGUSR1 to resume.")
}

type runSummary struct {
	Outcome  string   `json:"outcome"`
	Reason   string   `json:"reason,omitempty"`
	RunIDs   []string `json:"run_ids,omitempty"`
	Warnings int      `json:"warnings,omitempty"`
}

// registerSimDevices builds the simulated bench from --motor and
// --detector flags.
func registerSimDevices(eng *engine.Engine, opts *RunOptions) error {
	for _, spec := range opts.Motors {
		name := spec
		travel := 100 * time.Millisecond
		if idx := strings.IndexByte(spec, ':'); idx >= 0 {
			name = spec[:idx]
			ms, err := strconv.Atoi(spec[idx+1:])
			if err != nil {
				return fmt.Errorf("motor %q: travel must be integer milliseconds: %w", spec, err)
			}
			travel = time.Duration(ms) * time.Millisecond
		}
		if name == "" {
			return fmt.Errorf("motor %q: empty name", spec)
		}
		if err := eng.RegisterDevice(device.NewMotor(name, travel)); err != nil {
			return err
		}
	}

	for _, spec := range opts.Detectors {
		idx := strings.IndexByte(spec, '=')
		if idx <= 0 {
			return fmt.Errorf("detector %q: expected name=value", spec)
		}
		name := spec[:idx]
		value, err := strconv.ParseFloat(spec[idx+1:], 64)
		if err != nil {
			return fmt.Errorf("detector %q: value must be numeric: %w", spec, err)
		}
		if err := eng.RegisterDevice(device.NewDetector(name, func() any { return value })); err != nil {
			return err
		}
	}

	return nil
}
