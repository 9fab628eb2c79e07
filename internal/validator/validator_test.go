package validator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/leapstack-labs/lookval/internal/discovery"
	"github.com/leapstack-labs/lookval/internal/engine"
	"github.com/leapstack-labs/lookval/internal/looker"
	"github.com/leapstack-labs/lookval/internal/testutil"
	"github.com/leapstack-labs/lookval/internal/workspace"
	"github.com/leapstack-labs/lookval/pkg/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T, target workspace.Target) Config {
	return Config{
		Workspace: target,
		Engine: engine.Config{
			Concurrency:    3,
			PollInterval:   time.Millisecond,
			AuthRetryDelay: time.Millisecond,
		},
		Logger: testutil.NewTestLogger(t),
	}
}

func sqlDim(name, sql string) looker.DimensionField {
	d := testutil.Dim(name)
	d.SQL = sql
	return d
}

func statuses(r *core.ValidationResult) map[string]core.TestResult {
	out := map[string]core.TestResult{}
	for _, tr := range r.Tested {
		out[tr.Model+"."+tr.Explore] = tr
	}
	return out
}

func TestRunPasses(t *testing.T) {
	fake := testutil.NewFakeAPI("shop")
	fake.AddExplore("production", "sales", "orders", testutil.Dims("orders", 5)...)
	fake.AddExplore("production", "sales", "users", testutil.Dims("users", 2)...)

	out, err := New(fake, testConfig(t, workspace.Target{Project: "shop"})).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.StatusPassed, out.Result.Status)
	assert.Equal(t, Name, out.Result.Validator)
	require.Len(t, out.Result.Tested, 2)
	for _, tr := range out.Result.Tested {
		assert.Equal(t, core.StatusPassed, tr.Status)
	}
	assert.Empty(t, out.Result.Errors)
	assert.Len(t, out.Result.Successes, 2)
	assert.Contains(t, out.Result.Timing, "total")
	assert.Equal(t, looker.WorkspaceProduction, fake.CurrentWorkspace())
}

func TestRunIsolatesBadDimension(t *testing.T) {
	fake := testutil.NewFakeAPI("shop")
	fake.AddExplore("production", "sales", "orders",
		testutil.Dim("orders.id"), testutil.Dim("orders.amount"), testutil.Dim("orders.bad_sql"))
	fake.FailingDimensions["orders.bad_sql"] = "Unknown column"

	out, err := New(fake, testConfig(t, workspace.Target{Project: "shop"})).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.StatusFailed, out.Result.Status)
	assert.Equal(t, core.StatusFailed, statuses(out.Result)["sales.orders"].Status)
	require.Len(t, out.Result.Errors, 1)
	e := out.Result.Errors[0]
	assert.Equal(t, "orders.bad_sql", e.Dimension)
	assert.Equal(t, "Unknown column", e.Message)
	assert.Equal(t, "https://looker.test/projects/p/files/orders.bad_sql", e.SourceURL)
	require.Len(t, out.Result.Successes, 1)
	assert.Equal(t, []string{"orders.id", "orders.amount"}, out.Result.Successes[0].Dimensions)
}

func TestRunReportsSkippedExplores(t *testing.T) {
	fake := testutil.NewFakeAPI("shop")
	fake.AddExplore("production", "sales", "orders", testutil.Dims("orders", 2)...)
	fake.AddExplore("production", "sales", "empty")
	fake.AddExplore("production", "sales", "users", testutil.Dims("users", 2)...)

	cfg := testConfig(t, workspace.Target{Project: "shop"})
	cfg.Selectors = []string{"sales/*", "-sales/users"}
	out, err := New(fake, cfg).Run(context.Background())
	require.NoError(t, err)

	got := statuses(out.Result)
	assert.Equal(t, core.StatusPassed, got["sales.orders"].Status)
	assert.Equal(t, core.StatusSkipped, got["sales.empty"].Status)
	assert.Equal(t, core.SkipNoDimensions, got["sales.empty"].SkipReason)
	assert.Equal(t, core.StatusSkipped, got["sales.users"].Status)
	assert.Equal(t, core.SkipExcluded, got["sales.users"].SkipReason)
	assert.Equal(t, core.StatusPassed, out.Result.Status)
}

func TestRunDimensionFetchFailure(t *testing.T) {
	fake := testutil.NewFakeAPI("shop")
	fake.AddExplore("production", "sales", "orders", testutil.Dims("orders", 2)...)
	fake.AddExplore("production", "sales", "users", testutil.Dims("users", 2)...)
	fake.DimensionErrors["sales/users"] = errors.New("boom")

	out, err := New(fake, testConfig(t, workspace.Target{Project: "shop"})).Run(context.Background())
	require.NoError(t, err)

	got := statuses(out.Result)
	assert.Equal(t, core.StatusPassed, got["sales.orders"].Status)
	assert.Equal(t, core.StatusFailed, got["sales.users"].Status)
	require.Len(t, out.Result.Errors, 1)
	assert.Contains(t, out.Result.Errors[0].Message, "boom")
}

func TestRunFailFastAbortsRemainingExplores(t *testing.T) {
	fake := testutil.NewFakeAPI("shop")
	fake.AddExplore("production", "sales", "orders", testutil.Dims("orders", 4)...)
	fake.AddExplore("production", "sales", "users", testutil.Dims("users", 2)...)
	fake.FailingDimensions["orders.d1"] = "bad"

	cfg := testConfig(t, workspace.Target{Project: "shop"})
	cfg.Engine.FailFast = true
	cfg.Engine.Concurrency = 1
	out, err := New(fake, cfg).Run(context.Background())
	require.NoError(t, err)

	got := statuses(out.Result)
	assert.Equal(t, core.StatusFailed, got["sales.orders"].Status)
	assert.Equal(t, core.StatusSkipped, got["sales.users"].Status)
	assert.Equal(t, core.SkipAborted, got["sales.users"].SkipReason)
	require.Len(t, out.Result.Errors, 1)
	assert.Empty(t, out.Result.Errors[0].Dimension)
	assert.True(t, out.Report.FailFast)
}

func TestRunIncremental(t *testing.T) {
	fake := testutil.NewFakeAPI("shop")
	fake.AddExplore("feature", "sales", "orders", sqlDim("orders.id", "${TABLE}.id"), sqlDim("orders.amount", "${TABLE}.amount * 100"))
	fake.AddExplore("feature", "sales", "users", sqlDim("users.id", "${TABLE}.id"))
	fake.AddExplore("feature", "sales", "returns", sqlDim("returns.id", "${TABLE}.id"))
	fake.AddExplore("main", "sales", "orders", sqlDim("orders.id", "${TABLE}.id"), sqlDim("orders.amount", "${TABLE}.amount"))
	fake.AddExplore("main", "sales", "users", sqlDim("users.id", "${TABLE}.id"))

	cfg := testConfig(t, workspace.Target{Project: "shop", Branch: "feature"})
	cfg.Incremental = true
	cfg.CompareRef = "main"
	out, err := New(fake, cfg).Run(context.Background())
	require.NoError(t, err)

	got := statuses(out.Result)
	assert.Equal(t, core.StatusPassed, got["sales.orders"].Status)
	assert.Equal(t, core.StatusPassed, got["sales.returns"].Status)
	assert.Equal(t, core.StatusSkipped, got["sales.users"].Status)
	assert.Equal(t, core.SkipUnmodified, got["sales.users"].SkipReason)

	for _, dims := range fake.CreatedQueries {
		assert.NotContains(t, dims, "users.id")
	}
	assert.Contains(t, fake.CallLog(), "checkout shop main")
	assert.Equal(t, looker.WorkspaceProduction, fake.CurrentWorkspace())
}

func TestRunIncrementalRequiresRefs(t *testing.T) {
	tests := []struct {
		name    string
		target  workspace.Target
		compare string
		wantErr string
	}{
		{name: "no target", target: workspace.Target{Project: "shop", Branch: "feature"}, wantErr: "requires a target"},
		{name: "production", target: workspace.Target{Project: "shop"}, compare: "main", wantErr: "branch or commit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeAPI("shop")
			cfg := testConfig(t, tt.target)
			cfg.Incremental = true
			cfg.CompareRef = tt.compare

			out, err := New(fake, cfg).Run(context.Background())
			require.ErrorIs(t, err, ErrSetup)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, core.StatusFailed, out.Result.Status)
			require.Len(t, out.Result.Errors, 1)
			assert.Empty(t, fake.CallLog())
		})
	}
}

func TestRunSetupFailure(t *testing.T) {
	fake := testutil.NewFakeAPI("shop")
	fake.FailOps["checkout"] = errors.New("no such branch")

	out, err := New(fake, testConfig(t, workspace.Target{Project: "shop", Branch: "gone"})).Run(context.Background())
	require.ErrorIs(t, err, ErrSetup)
	assert.Equal(t, core.StatusFailed, out.Result.Status)
	require.Len(t, out.Result.Errors, 1)
	assert.Contains(t, out.Result.Errors[0].Message, "no such branch")
	assert.Empty(t, out.Result.Tested)
	assert.Equal(t, looker.WorkspaceProduction, fake.CurrentWorkspace())
}

func TestRunNoModels(t *testing.T) {
	fake := testutil.NewFakeAPI("shop")

	out, err := New(fake, testConfig(t, workspace.Target{Project: "shop"})).Run(context.Background())
	require.ErrorIs(t, err, ErrSetup)
	assert.ErrorIs(t, err, discovery.ErrNoModels)
	assert.Equal(t, core.StatusFailed, out.Result.Status)
}

func TestRunProfile(t *testing.T) {
	fake := testutil.NewFakeAPI("shop")
	fake.AddExplore("production", "sales", "orders", testutil.Dims("orders", 2)...)
	fake.Runtimes["orders.d1"] = 9

	cfg := testConfig(t, workspace.Target{Project: "shop"})
	cfg.Engine.Profile = true
	out, err := New(fake, cfg).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, out.Profile, 1)
	assert.Equal(t, "sales.orders", out.Profile[0].Explore)
	assert.Equal(t, "(2 dimensions)", out.Profile[0].Dimensions)
}

func TestFilterUnmodified(t *testing.T) {
	dim := func(name, sql string) *core.Dimension {
		return &core.Dimension{Name: name, SQL: sql}
	}
	same := core.NewExplore("m", "same", dim("a", "x"))
	changed := core.NewExplore("m", "changed", dim("a", "x"), dim("b", "y2"))
	added := core.NewExplore("m", "added", dim("a", "x"))
	broken := core.NewExplore("m", "broken", dim("a", "x"))
	broken.AddError("failed to fetch dimensions", "", "")

	baseline := []*core.Explore{
		core.NewExplore("m", "same", dim("a", "x")),
		core.NewExplore("m", "changed", dim("a", "x"), dim("b", "y")),
		core.NewExplore("m", "broken", dim("a", "x")),
	}

	n := FilterUnmodified([]*core.Explore{same, changed, added, broken}, baseline)
	assert.Equal(t, 1, n)
	assert.Equal(t, core.SkipUnmodified, same.Skipped)
	assert.Empty(t, changed.Skipped)
	assert.Empty(t, added.Skipped)
	assert.Empty(t, broken.Skipped)
}
