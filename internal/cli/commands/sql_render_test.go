package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/lookval/internal/cli/output"
	clitestutil "github.com/leapstack-labs/lookval/internal/cli/testutil"
	"github.com/leapstack-labs/lookval/internal/engine"
	"github.com/leapstack-labs/lookval/internal/validator"
	"github.com/leapstack-labs/lookval/pkg/core"
)

func sampleOutcome() *validator.Outcome {
	r := core.NewValidationResult(validator.Name)
	r.AddTest(core.TestResult{Model: "sales", Explore: "orders", Status: core.StatusFailed})
	r.AddTest(core.TestResult{Model: "sales", Explore: "users", Status: core.StatusSkipped, SkipReason: core.SkipUnmodified})
	r.AddErrors(core.SQLError{
		Model:     "sales",
		Explore:   "orders",
		Dimension: "orders.bad_sql",
		Message:   "Unknown column 'bad'",
		SQL:       "SELECT\n  bad\nFROM orders",
		SourceURL: "https://looker.test/projects/shop/files/orders.view.lkml?line=12",
	})
	r.Timing["total"] = 1.5
	return &validator.Outcome{
		Result: r,
		Profile: []engine.ProfileEntry{
			{Explore: "sales.orders", Dimensions: "orders.amount", Runtime: 7.256, URL: "https://looker.test/x/abc"},
		},
	}
}

func TestRenderSQL_Modes(t *testing.T) {
	tests := []struct {
		name    string
		mode    output.Mode
		wantOut []string
	}{
		{
			name: "markdown",
			mode: output.ModeMarkdown,
			wantOut: []string{
				"# SQL Validation: failed",
				"**0 passed, 1 failed, 1 skipped** in 1.50s",
				"Run `run-1`",
				"| sales | users | skipped | unmodified |",
				"### sales.orders / orders.bad_sql",
				"```sql\nSELECT\n  bad\nFROM orders\n```",
				"[LookML](https://looker.test/projects/shop/files/orders.view.lkml?line=12)",
				"## Slow queries",
				"| sales.orders | orders.amount | 7.26 | https://looker.test/x/abc |",
			},
		},
		{
			name: "text",
			mode: output.ModeText,
			wantOut: []string{
				"SQL Validation",
				"Errors (1)",
				"FAIL sales.orders / orders.bad_sql",
				"    Unknown column 'bad'",
				"    LookML: https://looker.test/projects/shop/files/orders.view.lkml?line=12",
				"    |   bad",
				"7.26",
				"FAILED  0 passed, 1 failed, 1 skipped in 1.50s",
				"Run run-1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := clitestutil.NewTestRenderer(tt.mode, false)
			require.NoError(t, renderSQL(tr.Renderer, sampleOutcome(), "run-1"))

			out := tr.Output()
			clitestutil.AssertNoANSI(t, out)
			for _, want := range tt.wantOut {
				assert.Contains(t, out, want)
			}
			assert.Empty(t, tr.ErrorOutput())
		})
	}
}

func TestRenderSQL_SetupError(t *testing.T) {
	r := core.NewValidationResult(validator.Name)
	r.AddErrors(core.SQLError{Message: "Setup failed: no such branch"})

	tr := clitestutil.NewTestRenderer(output.ModeMarkdown, false)
	require.NoError(t, renderSQL(tr.Renderer, &validator.Outcome{Result: r}, ""))

	clitestutil.AssertValidMarkdown(t, tr.Output())
	assert.Contains(t, tr.Output(), "### setup")
	assert.Contains(t, tr.Output(), "Setup failed: no such branch")
	assert.NotContains(t, tr.Output(), "## Explores")
	assert.NotContains(t, tr.Output(), "Run `")
}

func TestErrorTitle(t *testing.T) {
	assert.Equal(t, "setup", errorTitle(core.SQLError{}))
	assert.Equal(t, "m.e", errorTitle(core.SQLError{Model: "m", Explore: "e"}))
	assert.Equal(t, "m.e / v.d", errorTitle(core.SQLError{Model: "m", Explore: "e", Dimension: "v.d"}))
}
