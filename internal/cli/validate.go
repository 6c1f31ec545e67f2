package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/slicestore/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Config *config.Config    `json:"config,omitempty"` // the decoded config, defaults applied
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one config error with its source position.
type ValidationError struct {
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.cue>",
		Short: "Validate a config file",
		Long: `Validate a CUE config file against the slicestore config schema.

Unknown fields, values outside the allowed sets and non-concrete values
are errors. On success the config is printed with every default applied.

Exit codes:
  0 - Config is valid
  1 - Config is invalid
  2 - Command error (file not readable)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("read config: %v", err), nil)
	}
	formatter.VerboseLog("Validating %s (%d bytes)", path, len(data))

	cfg, err := config.Parse(data, path)
	if err != nil {
		return outputValidationError(formatter, err)
	}

	if formatter.IsJSON() {
		return formatter.Success(ValidationResult{Valid: true, Config: &cfg})
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✓ Config valid")
	fmt.Fprintf(w, "  log: level=%s format=%s\n", cfg.Log.Level, cfg.Log.Format)
	fmt.Fprintf(w, "  trace: db=%s\n", cfg.Trace.DB)
	if n := len(cfg.PreloadedState); n > 0 {
		fmt.Fprintf(w, "  preloaded_state: %d slice(s)\n", n)
	}
	return nil
}

// outputValidationError reports a config error. Validation failures exit
// with code 1.
func outputValidationError(formatter *OutputFormatter, err error) error {
	verr := ValidationError{Message: err.Error()}
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		verr.Message = cfgErr.Message
		if cfgErr.Pos.IsValid() {
			verr.File = cfgErr.Pos.Filename()
			verr.Line = cfgErr.Pos.Line()
			verr.Column = cfgErr.Pos.Column()
		}
	}

	if formatter.IsJSON() {
		return formatter.Fail(ExitFailure, ErrCodeConfig, verr.Message,
			ValidationResult{Valid: false, Errors: []ValidationError{verr}})
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	if verr.Line > 0 {
		fmt.Fprintf(w, "%s:%d:%d\n", verr.File, verr.Line, verr.Column)
	}
	fmt.Fprintf(w, "  %s\n", verr.Message)
	return NewExitError(ExitFailure, "config validation failed")
}
