package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/henriblancke/dagster/internal/ir"
)

// SensorSummary is one row of `sensor list`.
type SensorSummary struct {
	Name                   string          `json:"name"`
	RunStatus              ir.RunStatus    `json:"run_status"`
	Status                 ir.SensorStatus `json:"status"`
	MinimumIntervalSeconds int             `json:"minimum_interval_seconds"`
	Scope                  string          `json:"scope"`
}

// NewSensorCommand creates the sensor command group.
func NewSensorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sensor",
		Short: "List sensors and toggle their status",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured sensors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSensorList(rootOpts, cmd)
		},
	})
	cmd.AddCommand(newSensorToggleCommand(rootOpts, "start", ir.SensorStatusRunning))
	cmd.AddCommand(newSensorToggleCommand(rootOpts, "stop", ir.SensorStatusStopped))
	return cmd
}

func runSensorList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	env, err := openEnvironment(opts, cmd, false)
	if err != nil {
		return err
	}
	defer env.Close()

	summaries := []SensorSummary{}
	for _, def := range env.registry.All() {
		status, err := env.daemon.Status(cmd.Context(), def.Name)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeStore, "failed to read sensor status", err)
		}
		summaries = append(summaries, SensorSummary{
			Name:                   def.Name,
			RunStatus:              def.RunStatus,
			Status:                 status,
			MinimumIntervalSeconds: def.MinimumIntervalSeconds,
			Scope:                  def.Scope.String(),
		})
	}

	return formatter.Success(summaries, func(w io.Writer) {
		if len(summaries) == 0 {
			fmt.Fprintln(w, "No sensors configured.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSTATUS\tRUN STATUS\tINTERVAL\tSCOPE")
		for _, s := range summaries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%ds\t%s\n", s.Name, s.Status, s.RunStatus, s.MinimumIntervalSeconds, s.Scope)
		}
		tw.Flush()
	})
}

func newSensorToggleCommand(rootOpts *RootOptions, verb string, status ir.SensorStatus) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <sensor>",
		Short: fmt.Sprintf("Set a sensor's status to %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			env, err := openEnvironment(rootOpts, cmd, false)
			if err != nil {
				return err
			}
			defer env.Close()

			if _, err := env.lookup(formatter, args[0]); err != nil {
				return err
			}
			if status == ir.SensorStatusRunning {
				err = env.daemon.Start(cmd.Context(), args[0])
			} else {
				err = env.daemon.Stop(cmd.Context(), args[0])
			}
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeStore, "failed to set sensor status", err)
			}
			return formatter.Success(map[string]any{"name": args[0], "status": status}, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s\n", args[0], status)
			})
		},
	}
}
