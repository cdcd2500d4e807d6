// Package main provides the liststate CLI: it runs collection passes against
// the shared checkpoint slot and inspects or seeds its state.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "liststate",
		Short: "Checkpoint store for O365 management activity collection",
		Long: `liststate keeps per-stream collection checkpoints in a single leased
queue slot, so that at most one collector runs a pass at a time.

Settings come from LISTSTATE_* environment variables; flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.backend, "backend", "", "lease queue backend (memory, sqlite, nats)")
	rootCmd.PersistentFlags().StringVar(&flags.queue, "queue", "", "queue name")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd(flags))
	rootCmd.AddCommand(newShowCmd(flags))
	rootCmd.AddCommand(newResetCmd(flags))
	rootCmd.AddCommand(newSealCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "liststate %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
