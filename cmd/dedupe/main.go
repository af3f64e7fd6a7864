// Command dedupe classifies duplicate records in local CSV and TSV files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dedupe/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Find strict and partial duplicate records in occurrence files",
	Long: `dedupe scans delimited occurrence files for duplicate records.

Strict duplicates are rows identical in every field. Partial duplicates share
locality, scientific name, recorder and event date. Each file gets a JSON
report; the flag and remove actions also write a modified copy.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		format, _ := cmd.Flags().GetString("log-format")
		logging.SetupWriter(os.Stderr, level, format)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
