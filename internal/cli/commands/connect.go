package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/lookval/internal/cli/output"
)

// ConnectJSONOutput is the JSON output of the connect command.
type ConnectJSONOutput struct {
	BaseURL       string `json:"base_url"`
	APIVersion    string `json:"api_version"`
	LookerVersion string `json:"looker_version"`
	Authenticated bool   `json:"authenticated"`
}

// NewConnectCommand creates the connect command.
func NewConnectCommand(newClient ClientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Test the connection to the Looker API",
		Long: `Authenticate with the configured API credentials and report the
Looker release the instance runs.`,
		Example: `  lookval connect --base-url https://company.looker.com`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConnect(cmd, newClient)
		},
	}
}

func runConnect(cmd *cobra.Command, newClient ClientFactory) error {
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer

	if err := cfg.ValidateConnection(); err != nil {
		return err
	}
	client, err := cmdCtx.NewClient(newClient)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.BaseURL, err)
	}
	version, err := client.Version(ctx)
	if err != nil {
		return err
	}
	cmdCtx.Logger.Debug("connected", "base_url", cfg.BaseURL, "version", version)

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(ConnectJSONOutput{
			BaseURL:       cfg.BaseURL,
			APIVersion:    cfg.APIVersion,
			LookerVersion: version,
			Authenticated: true,
		})
	case output.ModeMarkdown:
		r.Printf("Connected to %s using API version %s, Looker version %s\n", cfg.BaseURL, cfg.APIVersion, version)
	default:
		styles := r.Styles()
		r.Printf("%s %s\n", styles.Success.Render("Connected"), cfg.BaseURL)
		r.Println(styles.Muted.Render(fmt.Sprintf("API version %s, Looker version %s", cfg.APIVersion, version)))
	}
	return nil
}
