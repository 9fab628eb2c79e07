package workspace

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/lookval/internal/looker"
	"github.com/leapstack-labs/lookval/internal/testutil"
)

func newManager(t *testing.T, api API) *Manager {
	m := New(api, testutil.NewTestLogger(t))
	m.suffix = func() string { return "0000abcd" }
	return m
}

func callsSince(fake *testutil.FakeAPI, n int) []string {
	return fake.CallLog()[n:]
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref        string
		wantBranch string
		wantCommit string
	}{
		{ref: "main", wantBranch: "main"},
		{ref: "feature/orders", wantBranch: "feature/orders"},
		{ref: "refs/heads/release", wantCommit: "refs/heads/release"},
		{ref: "a1b2c3d", wantCommit: "a1b2c3d"},
		{ref: "0123456789abcdef0123456789abcdef01234567", wantCommit: "0123456789abcdef0123456789abcdef01234567"},
		{ref: "abc12", wantBranch: "abc12"},
		{ref: "deadbeefcafe-fix", wantBranch: "deadbeefcafe-fix"},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			branch, commit := ParseRef(tt.ref)
			assert.Equal(t, tt.wantBranch, branch)
			assert.Equal(t, tt.wantCommit, commit)
		})
	}
}

func TestTargetValidate(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr string
	}{
		{name: "production", target: Target{Project: "shop"}},
		{name: "branch with reset", target: Target{Project: "shop", Branch: "dev", RemoteReset: true}},
		{name: "missing project", target: Target{}, wantErr: "project is required"},
		{name: "branch and commit", target: Target{Project: "shop", Branch: "dev", Commit: "abc1234"}, wantErr: "mutually exclusive"},
		{name: "commit with reset", target: Target{Project: "shop", Commit: "abc1234", RemoteReset: true}, wantErr: "remote reset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnterProduction(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI("shop")
	m := newManager(t, fake)

	h, err := m.Enter(ctx, Target{Project: "shop"})
	require.NoError(t, err)
	assert.Empty(t, h.Branch)
	assert.Equal(t, looker.WorkspaceProduction, fake.CurrentWorkspace())

	require.NoError(t, h.Exit(ctx))
	assert.Equal(t, looker.WorkspaceProduction, fake.CurrentWorkspace())
}

func TestEnterBranch(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI("shop")
	m := newManager(t, fake)

	h, err := m.Enter(ctx, Target{Project: "shop", Branch: "feature", RemoteReset: true})
	require.NoError(t, err)
	assert.Equal(t, "feature", h.Branch)
	assert.Equal(t, looker.WorkspaceDev, fake.CurrentWorkspace())
	assert.Equal(t, "feature", fake.CurrentBranch("shop"))
	assert.Equal(t, []string{"set_workspace dev", "checkout shop feature", "reset_to_remote shop"}, fake.CallLog())

	require.NoError(t, h.Exit(ctx))
	assert.Equal(t, looker.WorkspaceProduction, fake.CurrentWorkspace())
}

func TestEnterRestoresDevBranch(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI("shop")
	require.NoError(t, fake.SetWorkspace(ctx, looker.WorkspaceDev))
	require.NoError(t, fake.CheckoutBranch(ctx, "shop", "wip"))
	m := newManager(t, fake)

	h, err := m.Enter(ctx, Target{Project: "shop", Branch: "feature"})
	require.NoError(t, err)
	assert.Equal(t, "feature", fake.CurrentBranch("shop"))

	require.NoError(t, h.Exit(ctx))
	assert.Equal(t, looker.WorkspaceDev, fake.CurrentWorkspace())
	assert.Equal(t, "wip", fake.CurrentBranch("shop"))
}

func TestEnterCommitUsesTempBranch(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI("shop")
	m := newManager(t, fake)

	h, err := m.Enter(ctx, Target{Project: "shop", Commit: "a1b2c3d"})
	require.NoError(t, err)
	assert.Equal(t, "tmp_lookval_0000abcd", h.Branch)
	assert.Equal(t, "tmp_lookval_0000abcd", fake.CurrentBranch("shop"))
	assert.True(t, fake.HasBranch("shop", "tmp_lookval_0000abcd"))

	n := len(fake.CallLog())
	require.NoError(t, h.Exit(ctx))
	assert.Equal(t, []string{
		"set_workspace dev",
		"checkout shop main",
		"delete_branch shop tmp_lookval_0000abcd",
		"set_workspace production",
	}, callsSince(fake, n))
	assert.False(t, fake.HasBranch("shop", "tmp_lookval_0000abcd"))
	assert.Equal(t, looker.WorkspaceProduction, fake.CurrentWorkspace())
}

func TestEnterPersonalBranch(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI("shop")
	fake.PersonalBranches["shop"] = "dev-sam"
	m := newManager(t, fake)

	h, err := m.Enter(ctx, Target{Project: "shop", Branch: "feature", UsePersonalBranch: true})
	require.NoError(t, err)
	assert.Equal(t, "dev-sam", h.Branch)
	assert.Equal(t, "dev-sam", fake.CurrentBranch("shop"))
	assert.Equal(t, []string{
		"set_workspace dev",
		"checkout shop dev-sam",
		"reset_to_remote shop",
		"hard_reset shop dev-sam origin/feature",
	}, fake.CallLog())
	require.NoError(t, h.Exit(ctx))
}

func TestEnterPersonalBranchMissing(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI("shop")
	m := newManager(t, fake)

	_, err := m.Enter(ctx, Target{Project: "shop", Branch: "feature", UsePersonalBranch: true})
	require.ErrorIs(t, err, ErrNoPersonalBranch)
	assert.Equal(t, looker.WorkspaceProduction, fake.CurrentWorkspace())
}

func TestEnterFailureRestoresState(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI("shop")
	fake.FailOps["checkout"] = errors.New("branch not found")
	m := newManager(t, fake)

	h, err := m.Enter(ctx, Target{Project: "shop", Branch: "missing"})
	require.Error(t, err)
	assert.Nil(t, h)
	assert.Contains(t, err.Error(), "branch not found")
	assert.Equal(t, looker.WorkspaceProduction, fake.CurrentWorkspace())
}

func TestExitRunsEveryStep(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI("shop")
	m := newManager(t, fake)

	h, err := m.Enter(ctx, Target{Project: "shop", Commit: "a1b2c3d"})
	require.NoError(t, err)

	fake.FailOps["delete_branch"] = errors.New("locked")
	err = h.Exit(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
	assert.Equal(t, looker.WorkspaceProduction, fake.CurrentWorkspace())

	// A second exit is a no-op.
	assert.NoError(t, h.Exit(ctx))
}

func TestExitIgnoresCancellation(t *testing.T) {
	fake := testutil.NewFakeAPI("shop")
	m := newManager(t, fake)

	h, err := m.Enter(context.Background(), Target{Project: "shop", Branch: "feature"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.Exit(ctx))
	assert.Equal(t, looker.WorkspaceProduction, fake.CurrentWorkspace())
}

func TestEnterPinnedImports(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI("shop")
	fake.Imports["shop"] = []string{"shop", "lib", "unpinned", "vendor"}
	fake.Imports["lib"] = []string{"shop"}
	m := newManager(t, fake)

	h, err := m.Enter(ctx, Target{
		Project: "shop",
		Branch:  "feature",
		PinImports: map[string]string{
			"shop":   "ignored",
			"lib":    "release",
			"vendor": "refs/tags/v1",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "feature", h.Branch)

	calls := fake.CallLog()
	assert.Contains(t, calls, "checkout lib release")
	assert.Contains(t, calls, "create_branch vendor tmp_lookval_0000abcd refs/tags/v1")
	assert.Contains(t, calls, "checkout shop feature")
	for _, c := range calls {
		assert.NotContains(t, c, "unpinned")
		assert.NotContains(t, c, "ignored")
	}
	assert.Equal(t, "release", fake.CurrentBranch("lib"))

	n := len(calls)
	require.NoError(t, h.Exit(ctx))
	exitCalls := callsSince(fake, n)
	assert.Contains(t, exitCalls, "delete_branch vendor tmp_lookval_0000abcd")
	assert.Equal(t, "set_workspace production", exitCalls[len(exitCalls)-1])
	assert.False(t, fake.HasBranch("vendor", "tmp_lookval_0000abcd"))
}

func TestRandomSuffix(t *testing.T) {
	s := randomSuffix()
	assert.Len(t, s, 8)
	assert.Equal(t, strings.ToLower(s), s)
	assert.NotEqual(t, s, randomSuffix())
}
