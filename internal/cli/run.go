package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/torqueflow/torque/internal/dispatch"
	"github.com/torqueflow/torque/internal/engine"
	"github.com/torqueflow/torque/internal/idempotency"
	"github.com/torqueflow/torque/internal/param"
	"github.com/torqueflow/torque/internal/retry"
	"github.com/torqueflow/torque/internal/rollback"
	"github.com/torqueflow/torque/internal/store"
	"github.com/torqueflow/torque/internal/workflow"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	SignalID string
	Context  []string

	// Dispatcher overrides the built-in echo dispatcher (for testing).
	Dispatcher dispatch.Dispatcher
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow definition",
		Long: `Execute a workflow definition with the built-in echo dispatcher.

Every step is dispatched through the idempotency gate and the retry
engine; successful steps are recorded for rollback. With --db, the
idempotency cache and the executed-action audit log persist in SQLite,
so re-running with the same --signal suppresses duplicate actions.

Example:
  torque run ./workflow.yaml --signal email-123
  torque run ./workflow.json --db ./torque.db --context user=kai`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (omit for in-memory)")
	cmd.Flags().StringVar(&opts.SignalID, "signal", "", "triggering signal id (defaults to a fresh UUID)")
	cmd.Flags().StringArrayVar(&opts.Context, "context", nil, "input context entries as key=value (repeatable)")

	return cmd
}

func runWorkflow(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	def, err := workflow.NewLoader().LoadFile(path)
	if err != nil {
		var inv *workflow.InvalidDefinitionError
		if errors.As(err, &inv) {
			return outputValidationErrors(formatter, inv.Errors)
		}
		_ = formatter.Error("E_LOAD", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load definition", err)
	}

	inputCtx, err := parseContext(opts.Context)
	if err != nil {
		_ = formatter.Error("E_CONTEXT", err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid context entry", err)
	}

	signalID := opts.SignalID
	if signalID == "" {
		signalID = engine.UUIDv7Generator{}.Generate()
	}

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = dispatch.NewEcho(logger)
	}

	retryEng := retry.NewEngine(retry.DefaultPolicy, retry.WithLogger(logger))

	var engineOpts []engine.EngineOption
	var gateStore idempotency.Store
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			_ = formatter.Error("E_DB", err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		gateStore = store.NewIdempotencyStore(st, 0)
		engineOpts = append(engineOpts, engine.WithAuditor(store.NewAuditLog(st)))
	} else {
		mem := idempotency.NewMemoryStore(idempotency.WithStoreLogger(logger))
		defer mem.Close()
		gateStore = mem
	}
	gate := idempotency.NewGate(gateStore, idempotency.WithGateLogger(logger))

	resolver := rollback.NewMappingResolver(rollback.DefaultMappings())
	undoExec := func(ctx context.Context, call retry.Call, undo rollback.UndoAction) (param.Object, error) {
		return retryEng.Do(ctx, call, func(ctx context.Context) (param.Object, error) {
			return dispatcher.Execute(ctx, undo.Action, undo.Target, undo.Params)
		})
	}
	coordinator := rollback.NewCoordinator(resolver, undoExec, rollback.WithLogger(logger))

	engineOpts = append(engineOpts,
		engine.WithLogger(logger),
		engine.WithObserver(engine.ObserverFunc(func(ev engine.Event) {
			formatter.VerboseLog("event %s step=%s progress=%d/%d",
				ev.Type, ev.StepID, ev.Progress.Completed, ev.Progress.Total)
		})),
	)
	eng := engine.New(dispatcher, gate, retryEng, coordinator, engineOpts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := eng.Execute(ctx, def, engine.Input{SignalID: signalID, Context: inputCtx})
	if err != nil {
		var inv *workflow.InvalidDefinitionError
		if errors.As(err, &inv) {
			return outputValidationErrors(formatter, inv.Errors)
		}
		_ = formatter.Error("E_RUN", err.Error(), nil)
		return WrapExitError(ExitCommandError, "execution could not start", err)
	}

	return outputRunResult(formatter, result)
}

// parseContext converts repeated key=value flags to an input object.
func parseContext(entries []string) (param.Object, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	obj := make(param.Object, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("context entry %q is not key=value", entry)
		}
		obj[key] = param.String(value)
	}
	return obj, nil
}

func outputRunResult(formatter *OutputFormatter, result *engine.Result) error {
	if formatter.Format == "json" {
		if result.Success {
			return formatter.Success(result)
		}
		if err := formatter.Error("E_WORKFLOW", result.Error, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("workflow %s %s", result.WorkflowID, result.Status))
	}

	fmt.Fprintf(formatter.Writer, "workflow %s: %s (%d/%d steps completed)\n",
		result.WorkflowID, result.Status, result.Progress.Completed, result.Progress.Total)
	for _, stepID := range sortedStepIDs(result) {
		sr := result.StepResults[stepID]
		line := fmt.Sprintf("  %-20s %s", sr.StepID, sr.Status)
		if sr.Cached {
			line += " (cached)"
		}
		if sr.Error != "" {
			line += " " + sr.Error
		}
		fmt.Fprintln(formatter.Writer, line)
	}
	if result.RollbackPerformed {
		fmt.Fprintf(formatter.Writer, "rollback: %d undone, %d failed, %d manual\n",
			result.Rollback.RolledBack, result.Rollback.Failed, result.Rollback.Manual)
		for _, note := range result.ManualSteps {
			fmt.Fprintf(formatter.Writer, "  manual: %s\n", note)
		}
	}

	if result.Success {
		return nil
	}
	return NewExitError(ExitFailure, fmt.Sprintf("workflow %s %s", result.WorkflowID, result.Status))
}

func sortedStepIDs(result *engine.Result) []string {
	ids := make([]string, 0, len(result.StepResults))
	for id := range result.StepResults {
		ids = append(ids, id)
	}
	// Stable listing for humans; the map itself is unordered.
	sort.Strings(ids)
	return ids
}
