package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/restcache/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                     `json:"valid"`
	Types  []string                 `json:"types,omitempty"`
	Errors []schema.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-file>",
		Short: "Validate a resource schema",
		Long: `Load a CUE, YAML or JSON resource schema and validate it.

Reports every relation that targets an undeclared type, uses an unknown
relation type or lacks a required foreign key.

Exit codes:
  0 - Schema is valid
  1 - Schema is invalid
  2 - Command error (unreadable file, unsupported extension)

Examples:
  restcache validate ./schema.cue
  restcache validate ./schema.yaml --format json`,
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
	formatter := opts.formatter(cmd)

	format, err := schema.FormatForPath(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "unsupported schema file", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to read schema", err)
	}

	formatter.VerboseLog("Decoding %s schema %s", format, path)

	def, err := schema.Decode(path, format, data)
	if err != nil {
		return outputValidationErrors(formatter, []schema.ValidationError{decodeError(err)})
	}

	if errs := schema.Validate(def); len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}

	s, err := schema.New(def)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeInvalid, "invalid schema", err)
	}

	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Types: s.Types()})
	}

	fmt.Fprintf(formatter.Writer, "✓ Schema valid (%d resource types)\n", len(s.Types()))
	if opts.Verbose {
		fmt.Fprint(formatter.Writer, s.String())
	}
	return nil
}

// decodeError turns a decode or CUE compile failure into a validation
// error, keeping the source position when there is one.
func decodeError(err error) schema.ValidationError {
	var cErr *schema.CompileError
	if errors.As(err, &cErr) {
		field := cErr.Field
		if cErr.Pos.IsValid() {
			field = fmt.Sprintf("%s (line %d)", field, cErr.Pos.Line())
		}
		return schema.ValidationError{Field: field, Message: cErr.Message, Code: ErrCodeInvalid}
	}
	return schema.ValidationError{Field: "document", Message: err.Error(), Code: ErrCodeInvalid}
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []schema.ValidationError) error {
	// Validation failures = exit code 1
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		if err := formatter.Failure(errs[0].Code, errs[0].Message, ValidationResult{Valid: false, Errors: errs}); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", e.Code, e.Field, e.Message)
	}
	return exitErr
}
