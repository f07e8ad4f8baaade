package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/henriblancke/dagster/internal/cursor"
	"github.com/henriblancke/dagster/internal/store"
)

// CursorView is the output of cursor subcommands.
type CursorView struct {
	Sensor          string `json:"sensor"`
	Found           bool   `json:"found"`
	Cursor          string `json:"cursor,omitempty"`
	RecordID        *int64 `json:"record_id,omitempty"`
	UpdateTimestamp string `json:"update_timestamp,omitempty"`
	DecodeError     string `json:"decode_error,omitempty"`
}

func newCursorView(sensorName, raw string, found bool) CursorView {
	view := CursorView{Sensor: sensorName, Found: found, Cursor: raw}
	if !found {
		return view
	}
	c, err := cursor.Decode(raw)
	if err != nil {
		view.DecodeError = err.Error()
		return view
	}
	view.RecordID = &c.RecordID
	view.UpdateTimestamp = c.UpdateTimestamp
	return view
}

func (v CursorView) print(w io.Writer) {
	switch {
	case !v.Found:
		fmt.Fprintf(w, "%s: no cursor\n", v.Sensor)
	case v.DecodeError != "":
		fmt.Fprintf(w, "%s: %s (undecodable: %s)\n", v.Sensor, v.Cursor, v.DecodeError)
	default:
		fmt.Fprintf(w, "%s: record_id=%d update_timestamp=%s\n", v.Sensor, *v.RecordID, v.UpdateTimestamp)
	}
}

// NewCursorCommand creates the cursor command group.
func NewCursorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or move sensor cursors",
	}
	cmd.AddCommand(newCursorGetCommand(rootOpts))
	cmd.AddCommand(newCursorSetCommand(rootOpts))
	cmd.AddCommand(newCursorResetCommand(rootOpts))
	return cmd
}

func newCursorGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <sensor>",
		Short: "Show the stored cursor of a sensor",
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
			raw, found, err := env.cursorStore().Cursor(cmd.Context(), args[0])
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeCursor, "failed to read cursor", err)
			}
			view := newCursorView(args[0], raw, found)
			return formatter.Success(view, view.print)
		},
	}
}

func newCursorSetCommand(rootOpts *RootOptions) *cobra.Command {
	var timestamp string

	cmd := &cobra.Command{
		Use:   "set <sensor> <record-id>",
		Short: "Move a sensor's cursor to an event record id",
		Long: `Move a sensor's cursor so that its next tick resumes after the given event
record id. Events up to and including it are never inspected.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			recordID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || recordID < 0 {
				return formatter.Fail(ExitCommandError, ErrCodeInvalidArg,
					fmt.Sprintf("record id must be a non-negative integer, got %q", args[1]), nil)
			}

			env, err := openEnvironment(rootOpts, cmd, false)
			if err != nil {
				return err
			}
			defer env.Close()

			if _, err := env.lookup(formatter, args[0]); err != nil {
				return err
			}
			updated := env.clock.Now()
			if timestamp != "" {
				if updated, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
					return formatter.Fail(ExitCommandError, ErrCodeInvalidArg, "invalid --timestamp", err)
				}
			}

			encoded := cursor.Encode(cursor.New(recordID, updated))
			if err := env.cursorStore().PutCursor(cmd.Context(), args[0], encoded); err != nil {
				return formatter.Fail(ExitFailure, ErrCodeCursor, "failed to store cursor", err)
			}
			env.logger.Info("cursor moved", "sensor", args[0], "record_id", recordID)
			view := newCursorView(args[0], encoded, true)
			return formatter.Success(view, view.print)
		},
	}
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "update timestamp to record (RFC 3339, default now)")

	return cmd
}

func newCursorResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <sensor>",
		Short: "Delete a sensor's cursor",
		Long: `Delete a sensor's cursor. Its next tick bootstraps again and starts after
the newest matching event.`,
		Args: cobra.ExactArgs(1),
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
			err = env.cursorStore().DeleteCursor(cmd.Context(), args[0])
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return formatter.Fail(ExitFailure, ErrCodeCursor, "failed to delete cursor", err)
			}
			deleted := err == nil
			return formatter.Success(map[string]any{"sensor": args[0], "deleted": deleted}, func(w io.Writer) {
				if deleted {
					fmt.Fprintf(w, "%s: cursor deleted\n", args[0])
				} else {
					fmt.Fprintf(w, "%s: no cursor\n", args[0])
				}
			})
		},
	}
}
