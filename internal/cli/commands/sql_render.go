package commands

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/lookval/internal/cli/output"
	"github.com/leapstack-labs/lookval/internal/engine"
	"github.com/leapstack-labs/lookval/internal/validator"
	"github.com/leapstack-labs/lookval/pkg/core"
)

// SQLJSONOutput is the JSON document written by the sql command.
type SQLJSONOutput struct {
	*core.ValidationResult
	RunID   string                `json:"run_id,omitempty"`
	Profile []engine.ProfileEntry `json:"profile,omitempty"`
}

func renderSQL(r *output.Renderer, out *validator.Outcome, runID string) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(SQLJSONOutput{ValidationResult: out.Result, RunID: runID, Profile: out.Profile})
	case output.ModeMarkdown:
		renderSQLMarkdown(r, out, runID)
	default:
		renderSQLText(r, out, runID)
	}
	return nil
}

// renderSQLText outputs the result in styled text format.
func renderSQLText(r *output.Renderer, out *validator.Outcome, runID string) {
	styles := r.Styles()
	result := out.Result

	r.Println("")
	r.Println(styles.Header1.Render("SQL Validation"))
	r.Println("")

	if len(result.Tested) > 0 {
		t := newTable(r)
		t.AppendHeader(table.Row{"Model", "Explore", "Status", "Note"})
		for _, tr := range result.Tested {
			t.AppendRow(table.Row{tr.Model, tr.Explore, statusStyle(styles, tr.Status).Render(string(tr.Status)), string(tr.SkipReason)})
		}
		t.Render()
		r.Println("")
	}

	if len(result.Errors) > 0 {
		r.Println(styles.Header2.Render(fmt.Sprintf("Errors (%d)", len(result.Errors))))
		r.Println("")
		for _, e := range result.Errors {
			r.Println(styles.Error.Render("FAIL") + " " + styles.Bold.Render(errorTitle(e)))
			r.Println("    " + e.Message)
			if e.SourceURL != "" {
				r.Println(styles.Muted.Render("    LookML: " + e.SourceURL))
			}
			if e.SQL != "" {
				for _, line := range strings.Split(strings.TrimSpace(e.SQL), "\n") {
					r.Println(styles.Muted.Render("    | " + line))
				}
			}
			r.Println("")
		}
	}

	if len(out.Profile) > 0 {
		r.Println(styles.Header2.Render("Slow queries"))
		r.Println("")
		renderProfileTable(newTable(r), out.Profile)
		r.Println("")
	}

	passed, failed, skipped := result.Counts()
	r.Printf("%s  %s, %s, %s%s\n",
		statusStyle(styles, result.Status).Render(strings.ToUpper(string(result.Status))),
		styles.Success.Render(fmt.Sprintf("%d passed", passed)),
		styles.Error.Render(fmt.Sprintf("%d failed", failed)),
		styles.Muted.Render(fmt.Sprintf("%d skipped", skipped)),
		formatTotal(result))
	if runID != "" {
		r.Println(styles.Muted.Render("Run " + runID))
	}
}

// renderSQLMarkdown outputs the result in markdown format.
func renderSQLMarkdown(r *output.Renderer, out *validator.Outcome, runID string) {
	result := out.Result
	passed, failed, skipped := result.Counts()

	r.Printf("# SQL Validation: %s\n\n", result.Status)
	r.Printf("**%d passed, %d failed, %d skipped**%s\n\n", passed, failed, skipped, formatTotal(result))
	if runID != "" {
		r.Printf("Run `%s`\n\n", runID)
	}

	if len(result.Tested) > 0 {
		r.Println("## Explores")
		r.Println("")
		t := newTable(r)
		t.AppendHeader(table.Row{"Model", "Explore", "Status", "Note"})
		for _, tr := range result.Tested {
			t.AppendRow(table.Row{tr.Model, tr.Explore, string(tr.Status), string(tr.SkipReason)})
		}
		t.RenderMarkdown()
		r.Println("")
	}

	if len(result.Errors) > 0 {
		r.Println("## Errors")
		r.Println("")
		for _, e := range result.Errors {
			r.Printf("### %s\n\n", errorTitle(e))
			r.Println(e.Message)
			r.Println("")
			if e.SourceURL != "" {
				r.Printf("[LookML](%s)\n\n", e.SourceURL)
			}
			if e.SQL != "" {
				r.Println("```sql")
				r.Println(strings.TrimSpace(e.SQL))
				r.Println("```")
				r.Println("")
			}
		}
	}

	if len(out.Profile) > 0 {
		r.Println("## Slow queries")
		r.Println("")
		t := newTable(r)
		t.AppendHeader(profileHeader)
		for _, p := range out.Profile {
			t.AppendRow(profileRow(p))
		}
		t.RenderMarkdown()
		r.Println("")
	}
}

var profileHeader = table.Row{"Explore", "Dimensions", "Runtime (s)", "Query"}

func profileRow(p engine.ProfileEntry) table.Row {
	return table.Row{p.Explore, p.Dimensions, fmt.Sprintf("%.2f", p.Runtime), p.URL}
}

func renderProfileTable(t table.Writer, entries []engine.ProfileEntry) {
	t.AppendHeader(profileHeader)
	for _, p := range entries {
		t.AppendRow(profileRow(p))
	}
	t.Render()
}

func newTable(r *output.Renderer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	return t
}

// errorTitle names the explore and, when known, the dimension of an error.
func errorTitle(e core.SQLError) string {
	if e.Model == "" && e.Explore == "" {
		return "setup"
	}
	title := e.Model + "." + e.Explore
	if e.Dimension != "" {
		title += " / " + e.Dimension
	}
	return title
}

func formatTotal(result *core.ValidationResult) string {
	if total, ok := result.Timing["total"]; ok {
		return fmt.Sprintf(" in %.2fs", total)
	}
	return ""
}

func statusStyle(styles *output.Styles, status core.TestStatus) lipgloss.Style {
	switch status {
	case core.StatusPassed:
		return styles.Success
	case core.StatusFailed:
		return styles.Error
	default:
		return styles.Warning
	}
}
