package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "jaf-sub004",
		Short:        "Run Engine HTTP boundary",
		Long:         `jaf-sub004 serves the /chat, /approvals, and /auth/submit endpoints over a configured Run Engine.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildMigrateCmd())

	return rootCmd
}
