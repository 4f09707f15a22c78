// Package cli implements docsignctl, the operator tool for local signing,
// PDF inspection, database migration and session key generation.
package cli

import (
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X docsign/internal/cli.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "docsignctl",
	Short:         "Operator tool for the docsign service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
