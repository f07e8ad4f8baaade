package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/henriblancke/dagster/internal/daemon"
	"github.com/henriblancke/dagster/internal/ir"
)

// NewTickCommand creates the tick command.
func NewTickCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick <sensor>",
		Short: "Tick one sensor now",
		Long: `Tick one sensor immediately, regardless of its status and minimum interval.

The tick is recorded in the tick history and the cursor is persisted exactly
as the daemon would. The command exits with status 1 when the tick fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(rootOpts, args[0], cmd)
		},
	}
}

func runTick(opts *RootOptions, name string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	env, err := openEnvironment(opts, cmd, false)
	if err != nil {
		return err
	}
	defer env.Close()

	if _, err := env.lookup(formatter, name); err != nil {
		return err
	}

	res, err := env.daemon.TickSensor(cmd.Context(), name)
	if errors.Is(err, daemon.ErrTickInProgress) {
		return formatter.Fail(ExitFailure, ErrCodeTickFailed, "sensor is busy", err)
	}
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, "tick could not be recorded", err)
	}

	if err := formatter.Success(res, func(w io.Writer) { printResult(w, res) }); err != nil {
		return err
	}
	if res.Status == ir.TickStatusFailure {
		return NewExitError(ExitFailure, fmt.Sprintf("tick %s of %s failed", res.TickID, name))
	}
	return nil
}

// TicksOptions holds flags for the ticks command.
type TicksOptions struct {
	*RootOptions
	Limit int
}

// NewTicksCommand creates the ticks command.
func NewTicksCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TicksOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ticks <sensor>",
		Short: "Show the tick history of a sensor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTicks(opts, args[0], cmd)
		},
	}
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "number of ticks to show, newest first (0 for all)")

	return cmd
}

func runTicks(opts *TicksOptions, name string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Limit < 0 {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArg, "--limit must not be negative", nil)
	}
	env, err := openEnvironment(opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	defer env.Close()

	if _, err := env.lookup(formatter, name); err != nil {
		return err
	}
	ticks, err := env.daemon.Ticks(cmd.Context(), name, opts.Limit)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, "failed to read ticks", err)
	}

	return formatter.Success(ticks, func(w io.Writer) {
		if len(ticks) == 0 {
			fmt.Fprintf(w, "No ticks recorded for %s.\n", name)
			return
		}
		for _, tick := range ticks {
			fmt.Fprintf(w, "%s  %s  %s\n", tick.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), tick.TickID, tick.Status)
			if tick.SkipReason != "" {
				fmt.Fprintf(w, "  skip: %s\n", tick.SkipReason)
			}
			printError(w, tick.Error)
		}
	})
}
