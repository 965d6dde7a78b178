// Package cli wires the arkab commands.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "arkab",
	Short: "Adaptive response orchestrator",
	Long:  "Arkab turns security evidence into mitigation decisions, remembers what it decided, and sheds load when its own health degrades.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
