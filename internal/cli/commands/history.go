package commands

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/lookval/internal/cli/output"
	"github.com/leapstack-labs/lookval/pkg/core"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit int
}

// RunJSON is a recorded run in JSON output.
type RunJSON struct {
	ID          string            `json:"id"`
	Project     string            `json:"project"`
	Ref         string            `json:"ref"`
	Status      core.RunStatus    `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Passed      int               `json:"passed"`
	Failed      int               `json:"failed"`
	Skipped     int               `json:"skipped"`
	Error       string            `json:"error,omitempty"`
	Tested      []core.TestResult `json:"tested,omitempty"`
	Errors      []core.SQLError   `json:"errors,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded validation runs",
		Long: `List the most recent validation runs recorded in the state database,
or show the explore results and errors of one run.`,
		Example: `  # List the last 20 runs
  lookval history --state .lookval/state.db

  # Show one run
  lookval history 6c1f0a2e-8d4b-4b8e-9a57-0f3c2d1e4b6a`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return showRun(cmd, args[0])
			}
			return listRuns(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Maximum number of runs to list")

	return cmd
}

func listRuns(cmd *cobra.Command, opts *HistoryOptions) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	if opts.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", opts.Limit)
	}

	store, cleanup, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := store.ListRuns(opts.Limit)
	if err != nil {
		return err
	}

	mode := r.EffectiveMode()
	if mode == output.ModeJSON {
		out := make([]RunJSON, 0, len(runs))
		for _, run := range runs {
			out = append(out, toRunJSON(run))
		}
		return r.JSON(out)
	}

	if len(runs) == 0 {
		r.Println("No runs recorded")
		return nil
	}

	t := newTable(r)
	t.AppendHeader(table.Row{"Run", "Project", "Ref", "Status", "Started", "Duration", "Passed", "Failed", "Skipped"})
	styles := r.Styles()
	for _, run := range runs {
		status := string(run.Status)
		if mode == output.ModeText {
			status = runStatusStyle(styles, run.Status).Render(status)
		}
		t.AppendRow(table.Row{
			run.ID, run.Project, run.Ref, status,
			run.StartedAt.Local().Format(time.DateTime), formatDuration(run),
			run.Passed, run.Failed, run.Skipped,
		})
	}
	if mode == output.ModeMarkdown {
		t.RenderMarkdown()
	} else {
		t.Render()
	}
	return nil
}

func showRun(cmd *cobra.Command, id string) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	store, cleanup, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	defer cleanup()

	run, err := store.GetRun(id)
	if err != nil {
		return err
	}
	tested, err := store.GetTestResults(id)
	if err != nil {
		return err
	}
	errs, err := store.GetRunErrors(id)
	if err != nil {
		return err
	}

	mode := r.EffectiveMode()
	if mode == output.ModeJSON {
		out := toRunJSON(run)
		out.Tested, out.Errors = tested, errs
		return r.JSON(out)
	}

	r.Printf("Run %s: %s on %s@%s\n", run.ID, run.Status, run.Project, run.Ref)
	r.Printf("Started %s, took %s\n", run.StartedAt.Local().Format(time.DateTime), formatDuration(run))
	if run.Error != "" {
		r.Printf("Error: %s\n", run.Error)
	}
	if len(tested) > 0 {
		r.Println("")
		t := newTable(r)
		t.AppendHeader(table.Row{"Model", "Explore", "Status", "Note"})
		for _, tr := range tested {
			t.AppendRow(table.Row{tr.Model, tr.Explore, string(tr.Status), string(tr.SkipReason)})
		}
		if mode == output.ModeMarkdown {
			t.RenderMarkdown()
		} else {
			t.Render()
		}
	}
	if len(errs) > 0 {
		r.Println("")
		for _, e := range errs {
			r.Printf("- %s: %s\n", errorTitle(e), e.Message)
		}
	}
	return nil
}

func toRunJSON(run *core.Run) RunJSON {
	return RunJSON{
		ID:          run.ID,
		Project:     run.Project,
		Ref:         run.Ref,
		Status:      run.Status,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Passed:      run.Passed,
		Failed:      run.Failed,
		Skipped:     run.Skipped,
		Error:       run.Error,
	}
}

func formatDuration(run *core.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return run.Duration().Round(time.Millisecond).String()
}

func runStatusStyle(styles *output.Styles, status core.RunStatus) lipgloss.Style {
	switch status {
	case core.RunStatusPassed:
		return styles.Success
	case core.RunStatusFailed, core.RunStatusErrored:
		return styles.Error
	default:
		return styles.Info
	}
}
