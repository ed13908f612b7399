// Package cli implements the engine's command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pybossa",
	Short: "pybossa — crowdsourcing task distribution engine",
	Long: `The task distribution and consistency engine behind a crowdsourcing
platform: it decides which task each contributor receives next, guarantees
mutual exclusion under locking scheduler policies, tracks answer redundancy,
and materializes consensus results.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
