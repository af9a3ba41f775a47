// Sauti — agent lifecycle and realtime voice streaming orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sauti",
	Short: "Sauti — per-user agent sandboxes with realtime voice streaming.",
	Long: `Sauti provisions one sandboxed agent per user, routes conversations through
a shared multi-tenant gateway, streams agent responses as voice in realtime,
and reclaims resources from inactive agents.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, reapCmd, provisionCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
