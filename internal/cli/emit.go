package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/henriblancke/dagster/internal/ir"
)

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	Job        string
	Location   string
	Repository string
	NoOrigin   bool
	At         string
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit <run-id> <status>",
		Short: "Record a run status change",
		Long: `Record that a run reached a status. The run's record is updated and the
matching lifecycle event (for example RUN_FAILURE for FAILURE) is appended to
the event log, where sensors pick it up on their next tick.

Unknown runs are created first; --job is required for them. Their origin is
the configured location and repository unless overridden or --no-origin is
given.

Example:
  sensord emit run-42 STARTED --job nightly_etl
  sensord emit run-42 FAILURE`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Job, "job", "", "job name of a new run")
	cmd.Flags().StringVar(&opts.Location, "location", "", "code location of a new run (default from config)")
	cmd.Flags().StringVar(&opts.Repository, "repository", "", "repository of a new run (default from config)")
	cmd.Flags().BoolVar(&opts.NoOrigin, "no-origin", false, "create the run without a repository origin")
	cmd.Flags().StringVar(&opts.At, "at", "", "time of the status change (RFC 3339, default now)")

	return cmd
}

func runEmit(opts *EmitOptions, runID, rawStatus string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	status := ir.RunStatus(strings.ToUpper(rawStatus))
	if _, err := ir.EventTypeForStatus(status); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArg, "invalid status", err)
	}

	env, err := openEnvironment(opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	defer env.Close()

	at := env.clock.Now()
	if opts.At != "" {
		if at, err = time.Parse(time.RFC3339Nano, opts.At); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidArg, "invalid --at", err)
		}
	}

	ctx := cmd.Context()
	_, err = env.store.Run(ctx, runID)
	switch {
	case errors.Is(err, ir.ErrRunNotFound):
		if opts.Job == "" {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidArg,
				fmt.Sprintf("run %s does not exist; --job is required to create it", runID), nil)
		}
		run := ir.RunRecord{
			RunID:           runID,
			JobName:         opts.Job,
			Status:          ir.RunStatusNotStarted,
			CreateTimestamp: at,
		}
		if !opts.NoOrigin {
			origin := env.cfg.Origin()
			if opts.Location != "" {
				origin.Location = opts.Location
			}
			if opts.Repository != "" {
				origin.Repository = opts.Repository
			}
			run.Origin = &origin
		}
		if err := env.store.AddRun(ctx, run); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeStore, "failed to create run", err)
		}
		env.logger.Debug("run created", "run_id", runID, "job", opts.Job)
	case err != nil:
		return formatter.Fail(ExitFailure, ErrCodeStore, "failed to load run", err)
	}

	ev, err := env.store.ReportRunStatus(ctx, runID, status, at)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, "failed to record status", err)
	}
	return formatter.Success(ev, func(w io.Writer) {
		fmt.Fprintf(w, "event %d: %s %s (job %s)\n", ev.ID, ev.Type, ev.RunID, ev.JobName)
	})
}
