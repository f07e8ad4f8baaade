package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/henriblancke/dagster/internal/api"
	"github.com/henriblancke/dagster/internal/daemon"
	"github.com/henriblancke/dagster/internal/ir"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	HTTPAddr string
	Once     bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sensor daemon",
		Long: `Run the sensor daemon.

Every poll interval the daemon ticks each RUNNING sensor whose minimum
interval has elapsed. With an HTTP address (flag or http_addr in the config)
the status API is served alongside.

Example:
  sensord run --config sensord.yaml
  sensord run --config sensord.yaml --http-addr :8080 --verbose
  sensord run --config sensord.yaml --once`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "http-addr", "", "serve the HTTP API on this address (overrides config)")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single scheduling iteration and exit")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	env, err := openEnvironment(opts.RootOptions, cmd, !opts.Once)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := env.Close(); closeErr != nil {
			env.logger.Error("error closing stores", "error", closeErr)
		}
	}()
	slog.SetDefault(env.logger)

	if opts.Once {
		results, err := env.daemon.RunIteration(cmd.Context())
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeTickFailed, "iteration failed", err)
		}
		return formatter.Success(results, func(w io.Writer) {
			if len(results) == 0 {
				fmt.Fprintln(w, "No sensor was due.")
			}
			for _, res := range results {
				printResult(w, res)
			}
		})
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			env.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	addr := env.cfg.HTTPAddr
	if opts.HTTPAddr != "" {
		addr = opts.HTTPAddr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return env.daemon.Run(gctx)
	})
	if addr != "" {
		server := api.New(env.daemon, api.WithTelemetry(env.telemetry), api.WithLogger(env.logger))
		g.Go(func() error {
			return server.ListenAndServe(gctx, addr)
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Daemon started with %d sensor(s). Press Ctrl-C to stop.\n", env.registry.Len())

	err = g.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if shutdownErr := env.telemetry.Shutdown(shutdownCtx); shutdownErr != nil {
		env.logger.Error("telemetry shutdown failed", "error", shutdownErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "daemon error", err)
	}
	env.logger.Info("daemon stopped gracefully")
	return nil
}

// printResult renders one tick result for text output.
func printResult(w io.Writer, res daemon.Result) {
	state := ""
	if res.State != "" {
		state = fmt.Sprintf(" (%s)", res.State)
	}
	fmt.Fprintf(w, "%s %s: %s%s\n", res.Sensor, res.TickID, res.Status, state)
	if res.SkipReason != "" {
		fmt.Fprintf(w, "  skip: %s\n", res.SkipReason)
	}
	printError(w, res.Error)
	for _, o := range res.Outputs {
		switch {
		case o.RunID != "":
			fmt.Fprintf(w, "  %s run=%s job=%s status=%s\n", o.Kind, o.RunID, o.JobName, o.Status)
		case o.JobName != "" || o.RunKey != "":
			fmt.Fprintf(w, "  %s job=%s run_key=%s\n", o.Kind, o.JobName, o.RunKey)
		}
	}
	if res.Cursor != "" {
		fmt.Fprintf(w, "  cursor: %s\n", res.Cursor)
	}
}

// printError renders an error and its causes without stack frames.
func printError(w io.Writer, info *ir.ErrorInfo) {
	if info == nil {
		return
	}
	fmt.Fprintf(w, "  error: %s\n", info.Message)
	for cause := info.Cause; cause != nil; cause = cause.Cause {
		fmt.Fprintf(w, "    caused by: %s\n", cause.Message)
	}
}
