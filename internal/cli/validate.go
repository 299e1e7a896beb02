package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/torqueflow/torque/internal/workflow"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Errors []workflow.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Validate a workflow definition without executing it",
		Long: `Validate a workflow definition file (JSON or YAML).

Runs schema vetting and structural validation: unique step ids,
resolvable dependencies, no cycles, well-formed rollback specs.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	def, err := workflow.NewLoader().LoadFile(path)
	if err != nil {
		var inv *workflow.InvalidDefinitionError
		if errors.As(err, &inv) {
			return outputValidationErrors(formatter, inv.Errors)
		}
		// Not a validation outcome: unreadable file, bad extension,
		// unparseable document.
		_ = formatter.Error("E_LOAD", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load definition", err)
	}

	formatter.VerboseLog("Loaded workflow %q with %d step(s)", def.ID, len(def.Steps))

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true})
	}
	fmt.Fprintf(formatter.Writer, "workflow %q is valid (%d steps)\n", def.ID, len(def.Steps))
	return nil
}

// outputValidationErrors reports validation failures and maps them to
// exit code 1.
func outputValidationErrors(formatter *OutputFormatter, errs []workflow.ValidationError) error {
	if formatter.Format == "json" {
		if err := formatter.Error("E_INVALID", "definition is invalid", ValidationResult{
			Valid:  false,
			Errors: errs,
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "validation failed")
	for _, verr := range errs {
		if verr.StepID != "" {
			fmt.Fprintf(formatter.Writer, "  step %s: %s: %s\n", verr.StepID, verr.Field, verr.Message)
			continue
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", verr.Field, verr.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
