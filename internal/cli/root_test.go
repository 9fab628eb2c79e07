package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/lookval/internal/cli/commands"
	clitestutil "github.com/leapstack-labs/lookval/internal/cli/testutil"
	"github.com/leapstack-labs/lookval/internal/looker"
	"github.com/leapstack-labs/lookval/internal/testutil"
	"github.com/leapstack-labs/lookval/pkg/core"
)

func runRoot(t *testing.T, fake *testutil.FakeAPI, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd, opts := newRootCmd(func(looker.Config) (commands.Client, error) { return fake, nil })
	t.Cleanup(opts.close)

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

var credentials = []string{"--base-url", "https://looker.test", "--client-id", "id", "--client-secret", "secret"}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCmd()

	for _, name := range []string{"sql", "connect", "history", "version", "completion"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	for _, flag := range []string{"config", "base-url", "client-id", "client-secret", "project", "state", "log-dir", "verbose", "output"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestRootCommand_SQLFromFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	fake := testutil.NewFakeAPI("shop")
	fake.AddExplore("production", "sales", "orders", testutil.Dims("orders", 3)...)

	args := append([]string{"sql", "--project", "shop", "-o", "json", "--chunk-size", "2"}, credentials...)
	stdout, _, err := runRoot(t, fake, args...)
	require.NoError(t, err)

	var got commands.SQLJSONOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, core.StatusPassed, got.Status)
	require.Len(t, fake.CreatedQueries, 2)
}

func TestRootCommand_SQLFromConfigFile(t *testing.T) {
	dir := clitestutil.WriteProjectConfig(t, `
base_url: https://looker.test
client_id: id
client_secret: ${LOOKVAL_TEST_SECRET}
project: shop
explores:
  - sales/orders
output: json
`)
	t.Setenv("LOOKVAL_TEST_SECRET", "secret")
	t.Chdir(dir)

	fake := testutil.NewFakeAPI("shop")
	fake.AddExplore("production", "sales", "orders", testutil.Dims("orders", 2)...)
	fake.AddExplore("production", "sales", "users", testutil.Dims("users", 2)...)
	fake.FailingDimensions["orders.d1"] = "boom"

	stdout, _, err := runRoot(t, fake, "sql")
	require.ErrorIs(t, err, commands.ErrValidationFailed)

	var got commands.SQLJSONOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, core.StatusFailed, got.Status)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "orders.d1", got.Errors[0].Dimension)
	for _, tr := range got.Tested {
		if tr.Explore == "users" {
			assert.Equal(t, core.SkipExcluded, tr.SkipReason)
		}
	}
}

func TestRootCommand_InvalidOutput(t *testing.T) {
	t.Chdir(t.TempDir())

	_, _, err := runRoot(t, testutil.NewFakeAPI("shop"), append([]string{"connect", "-o", "xml"}, credentials...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output")
}

func TestRootCommand_LogDir(t *testing.T) {
	t.Chdir(t.TempDir())
	logDir := filepath.Join(t.TempDir(), "logs")

	args := append([]string{"connect", "-o", "markdown", "--verbose", "--log-dir", logDir}, credentials...)
	stdout, stderr, err := runRoot(t, testutil.NewFakeAPI("shop"), args...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Connected to https://looker.test")
	assert.Contains(t, stderr, "msg=connected")

	data, err := os.ReadFile(filepath.Join(logDir, "lookval.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=connected")
}

func TestRootCommand_VersionSkipsConfig(t *testing.T) {
	dir := clitestutil.WriteProjectConfig(t, "output: xml\n")
	t.Chdir(dir)

	stdout, _, err := runRoot(t, testutil.NewFakeAPI("shop"), "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "lookval v"+Version)
}

func TestCompletionCommand(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			stdout, _, err := runRoot(t, testutil.NewFakeAPI("shop"), "completion", shell)
			require.NoError(t, err)
			assert.Contains(t, stdout, "lookval")
		})
	}

	_, _, err := runRoot(t, testutil.NewFakeAPI("shop"), "completion", "tcsh")
	assert.Error(t, err)
}
