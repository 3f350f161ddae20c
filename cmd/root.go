package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// adminURL is where the client commands find a running orchestrator.
var adminURL string

// rootCmd represents the base command for the rudder application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rudder",
	Short: "Orchestrate per-tenant virtual routers",
	Long: `rudder keeps per-tenant virtual routers converged with their desired
configuration. It consumes control-plane notifications, drives one state
machine per router, and rebuilds instances that stop responding.

The serve command runs the orchestrator; the resource, tenant and status
commands talk to a running orchestrator's admin API.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the
// application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
// It is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "rudder version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminURL, "admin-url", "http://127.0.0.1:44250",
		"Base URL of a running orchestrator's admin API")
}
