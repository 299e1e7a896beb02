package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/torqueflow/torque/internal/rollback"
	"github.com/torqueflow/torque/internal/workflow"
)

// StepPlan is the rollback outlook for one step.
type StepPlan struct {
	StepID     string `json:"step_id"`
	Action     string `json:"action"`
	Target     string `json:"target"`
	Class      string `json:"class"`
	UndoAction string `json:"undo_action,omitempty"`
	Manual     bool   `json:"manual,omitempty"`
}

// PlanResult is the rollback dry-run report for a whole definition.
type PlanResult struct {
	WorkflowID           string     `json:"workflow_id"`
	Steps                []StepPlan `json:"steps"`
	Reversible           int        `json:"reversible"`
	PartiallyReversible  int        `json:"partially_reversible"`
	NonReversible        int        `json:"non_reversible"`
	ConfirmationRequired int        `json:"confirmation_required"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <workflow-file>",
		Short: "Report how a workflow would roll back, without executing it",
		Long: `Classify every step's reversibility and resolve its compensating
action, without dispatching anything.

Use this before wiring a new workflow to see which steps would need
manual intervention or explicit confirmation if it failed midway.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runPlan(opts *RootOptions, path string, cmd *cobra.Command) error {
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
		_ = formatter.Error("E_LOAD", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load definition", err)
	}

	plan := buildPlan(def)

	if formatter.Format == "json" {
		return formatter.Success(plan)
	}

	fmt.Fprintf(formatter.Writer, "rollback plan for workflow %q\n", plan.WorkflowID)
	for _, sp := range plan.Steps {
		line := fmt.Sprintf("  %-20s %-24s %s", sp.StepID, sp.Action+"@"+sp.Target, sp.Class)
		if sp.UndoAction != "" {
			line += "  undo: " + sp.UndoAction
		}
		if sp.Manual {
			line += "  (manual)"
		}
		fmt.Fprintln(formatter.Writer, line)
	}
	fmt.Fprintf(formatter.Writer, "reversible=%d partial=%d non-reversible=%d confirmation=%d\n",
		plan.Reversible, plan.PartiallyReversible, plan.NonReversible, plan.ConfirmationRequired)
	return nil
}

// buildPlan classifies each step and resolves its undo action name.
// Template params cannot be resolved without a real result, so only
// the action identity is reported.
func buildPlan(def *workflow.Definition) *PlanResult {
	classifier := rollback.NewClassifier()
	mappings := rollback.DefaultMappings()

	plan := &PlanResult{WorkflowID: def.ID}
	for _, step := range def.Steps {
		sp := StepPlan{
			StepID: step.ID,
			Action: step.Action,
			Target: step.Target,
			Class:  string(classifier.Classify(step.Action)),
		}

		switch {
		case step.Rollback != nil:
			sp.UndoAction = step.Rollback.Action
		default:
			if m, ok := mappings[step.Action]; ok {
				sp.UndoAction = m.Action
			}
		}

		switch rollback.Class(sp.Class) {
		case rollback.ClassReversible:
			plan.Reversible++
		case rollback.ClassPartiallyReversible:
			plan.PartiallyReversible++
		case rollback.ClassConfirmationRequired:
			plan.ConfirmationRequired++
		default:
			plan.NonReversible++
			sp.Manual = true
		}
		// Classified undoable but nothing to dispatch: becomes a
		// manual item at rollback time.
		if sp.UndoAction == "" {
			sp.Manual = true
		}

		plan.Steps = append(plan.Steps, sp)
	}
	return plan
}
