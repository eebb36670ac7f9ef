// Package main is the entry point for codex-relay.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "codex-relay",
	Short: "Load-balancing gateway over a pool of Codex accounts",
	Long: `codex-relay fronts the ChatGPT Codex backend with a pool of OAuth
accounts, spreading traffic across them with pluggable selection strategies
and recording per-request usage in a local ledger.`,
}

func init() {
	// Global flags available to all subcommands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./codex-relay.yaml or ~/.config/codex-relay/codex-relay.yaml)")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
