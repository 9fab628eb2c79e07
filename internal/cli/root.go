// Package cli provides the command-line interface for lookval.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/lookval/internal/cli/commands"
	"github.com/leapstack-labs/lookval/internal/cli/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// rootOptions holds state shared by the root command's hooks.
type rootOptions struct {
	cfgFile   string
	newClient commands.ClientFactory
	logFile   io.Closer
}

// close releases the log file opened by the last invocation.
func (o *rootOptions) close() {
	if o.logFile != nil {
		_ = o.logFile.Close()
		o.logFile = nil
	}
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd(commands.NewLookerClient)
	return cmd
}

func newRootCmd(newClient commands.ClientFactory) (*cobra.Command, *rootOptions) {
	opts := &rootOptions{newClient: newClient}

	rootCmd := &cobra.Command{
		Use:   "lookval",
		Short: "lookval - SQL validation for Looker projects",
		Long: `lookval validates the SQL behind every dimension of a Looker project.

It runs one query per explore through the Looker API, splits failing queries
until each error is pinned to the dimension that causes it, and reports the
results for people and CI systems.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help, completion and version commands
			switch cmd.Name() {
			case "help", "completion", "__complete", "version":
				return nil
			}

			// Load configuration with CLI flags
			cfg, err := config.LoadConfig(opts.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			opts.close()
			logger, logFile, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			opts.logFile = logFile

			// Store config and logger in context
			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)

			if cfg.ConfigFile != "" {
				logger.Debug("using config file", "path", cfg.ConfigFile)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set version template
	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
SQL validation for Looker projects
`)

	// Global persistent flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default: lookval.yaml, searched upward)")
	flags.String("base-url", "", "Looker instance URL, e.g. https://company.looker.com")
	flags.String("client-id", "", "API client ID")
	flags.String("client-secret", "", "API client secret")
	flags.Int("port", 0, "API port, when it differs from the instance URL")
	flags.String("api-version", config.DefaultAPIVersion, "API version")
	flags.Int("timeout", config.DefaultTimeout, "HTTP timeout in seconds")
	flags.StringP("project", "p", "", "LookML project")
	flags.String("state", "", "Path to the run history database")
	flags.String("log-dir", "", "Directory to write lookval.log to")
	flags.BoolP("verbose", "v", false, "Verbose output")
	flags.StringP("output", "o", "", "Output format (auto|text|markdown|json)")

	// Register completion for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "text", "markdown", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	// Add subcommands
	rootCmd.AddCommand(commands.NewVersionCommand(commands.BuildInfo{Version: Version, GitCommit: GitCommit, BuildDate: BuildDate}))
	rootCmd.AddCommand(commands.NewSQLCommand(opts.newClient))
	rootCmd.AddCommand(commands.NewConnectCommand(opts.newClient))
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd, opts
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	rootCmd, opts := newRootCmd(commands.NewLookerClient)
	defer opts.close()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for lookval.

To load completions:

Bash:
  $ source <(lookval completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ lookval completion bash > /etc/bash_completion.d/lookval
  # macOS:
  $ lookval completion bash > $(brew --prefix)/etc/bash_completion.d/lookval

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ lookval completion zsh > "${fpath[1]}/_lookval"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ lookval completion fish | source

  # To load completions for each session, execute once:
  $ lookval completion fish > ~/.config/fish/completions/lookval.fish

PowerShell:
  PS> lookval completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> lookval completion powershell > lookval.ps1
  # and source this file from your PowerShell profile.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
