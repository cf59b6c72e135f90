// Package cmd defines and implements the CLI commands for the docharvester
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docharvester",
		Short: "A polite document harvester for Canary Islands public administrations.",
		Long: `docharvester collects business-relevant documents (forms, guides,
regulations) from Canary Islands public-administration websites. It fetches
politely, deduplicates by content, categorizes each document and writes the
files plus JSONL metadata to a local output directory.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; built-in defaults otherwise)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable development logging")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newSourcesCmd())

	return cmd
}

// Execute is the main entry point. Only configuration failures produce a
// nonzero exit; partial harvest failures are reported in the run summary.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
