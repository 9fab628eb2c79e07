package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/lookval/internal/looker"
)

// BuildInfo identifies the lookval build.
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildDate string
}

// NewVersionCommand creates the version command.
func NewVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Print the lookval release, the commit and date it was built from, and the
Looker API version it speaks by default.`,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "lookval v%s\n", info.Version)
			_, _ = fmt.Fprintf(out, "commit %s, built %s\n", info.GitCommit, info.BuildDate)
			_, _ = fmt.Fprintf(out, "Looker API %s\n", looker.DefaultAPIVersion)
		},
	}
}
