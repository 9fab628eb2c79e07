package commands

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/lookval/internal/cli/config"
	"github.com/leapstack-labs/lookval/internal/looker"
	"github.com/leapstack-labs/lookval/internal/testutil"
)

// cmdResult captures the streams of one command execution.
type cmdResult struct {
	Out    string
	ErrOut string
	Err    error
}

// executeCommand runs cmd with cfg and a test logger in its context, the
// way the root command's PersistentPreRunE leaves it.
func executeCommand(t *testing.T, cmd *cobra.Command, cfg *config.Config, args ...string) cmdResult {
	t.Helper()
	ctx := config.WithConfig(context.Background(), cfg)
	ctx = config.WithLogger(ctx, testutil.NewTestLogger(t))

	// Commands run under the root command, which silences usage and errors.
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return cmdResult{Out: out.String(), ErrOut: errOut.String(), Err: err}
}

// testConfig returns a valid configuration for the "shop" project.
func testConfig(outputFormat string) *config.Config {
	cfg := config.GetConfig(context.Background())
	cfg.BaseURL = "https://looker.test"
	cfg.ClientID = "id"
	cfg.ClientSecret = "secret"
	cfg.Project = "shop"
	cfg.OutputFormat = outputFormat
	return cfg
}

// fakeFactory serves fake as the API client and records the settings it was built with.
func fakeFactory(fake *testutil.FakeAPI, got *looker.Config) ClientFactory {
	return func(cfg looker.Config) (Client, error) {
		if got != nil {
			*got = cfg
		}
		return fake, nil
	}
}
