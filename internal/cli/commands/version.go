package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapcrawl/pkg/adapter"
	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display leapcrawl version and the registered database drivers.`,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "leapcrawl v%s\n", version)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Drivers: %v\n", adapter.ListAdapters())
		},
	}
}
