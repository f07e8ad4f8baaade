package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/henriblancke/dagster/internal/config"
	"github.com/henriblancke/dagster/internal/sensor"
)

// ValidationIssue is one problem found in a configuration file.
type ValidationIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Sensors []string          `json:"sensors,omitempty"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config]",
		Short: "Validate a configuration file",
		Long: `Validate a sensord configuration file without opening any store.

The file is checked against the configuration schema and every sensor
definition is built, so reaction and scope errors are reported too. The path
defaults to --config.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	if path == "" {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArg, "no configuration file given", nil)
	}

	formatter.VerboseLog("Validating %s", path)
	cfg, err := config.Load(path)
	if config.IsError(err, config.ErrCodeRead) {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "cannot read configuration", err)
	}
	if err != nil {
		return outputValidationErrors(formatter, issuesFrom(err))
	}

	registry, err := cfg.Registry()
	if err != nil {
		return outputValidationErrors(formatter, issuesFrom(err))
	}
	for _, name := range registry.Names() {
		formatter.VerboseLog("Sensor %s: ok", name)
	}

	result := ValidationResult{Valid: true, Sensors: registry.Names()}
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s is valid (%d sensor(s))\n", path, len(result.Sensors))
	})
}

// issuesFrom flattens configuration and definition errors.
func issuesFrom(err error) []ValidationIssue {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var issues []ValidationIssue
		for _, inner := range joined.Unwrap() {
			issues = append(issues, issuesFrom(inner)...)
		}
		return issues
	}

	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		issue := ValidationIssue{Code: cfgErr.Code, Field: cfgErr.Field, Message: cfgErr.Message}
		if cfgErr.Pos.IsValid() {
			issue.Line = cfgErr.Pos.Line()
		}
		return []ValidationIssue{issue}
	}
	var defErr *sensor.InvalidDefinitionError
	if errors.As(err, &defErr) {
		return []ValidationIssue{{Code: string(defErr.Code), Field: defErr.Field, Message: err.Error()}}
	}
	return []ValidationIssue{{Code: ErrCodeConfig, Message: err.Error()}}
}

func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    ErrCodeConfig,
				Message: issues[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		if issue.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", issue.Code, issue.Field, issue.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
		}
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
