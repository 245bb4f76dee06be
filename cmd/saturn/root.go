package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "saturn",
	Short: "Saturn - usage metering and admission control",
	Long: `Saturn is the usage metering and quota enforcement core of the
CodeCoach platform.

It answers one question per request: may this user consume this capability
right now? Plan tiers (free, pro) carry per-capability daily and weekly
quotas, a rolling 60-second API rate limit, and a per-request line ceiling.
Denials are decisions, not errors; the caller owns all user-facing
messaging.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "saturn.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
