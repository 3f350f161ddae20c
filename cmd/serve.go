package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"rudder/internal/app"
	"rudder/internal/cloud"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath specifies a custom configuration directory path.
var serveConfigPath string

// serveDev runs against in-memory backends instead of a real cloud.
var serveDev bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator",
	Long: `Starts the orchestrator: the notification source, the partitioned worker
pool with one state machine per router, the background health poller and
the admin API.

Configuration is read from config.yaml in the configuration directory
(default ~/.config/rudder). Use --config-path to point at a different
directory.

With --dev the orchestrator runs against in-memory cloud backends and the
filesystem notification source, which is useful for local development:
drop JSON notification files into the configured spool directory and watch
the machines converge.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := app.Options{
		ConfigPath: serveConfigPath,
		Debug:      serveDebug,
		Dev:        serveDev,
	}

	var application *app.Application
	var err error
	if serveDev {
		var fake *cloud.Fake
		application, fake, err = app.NewDev(opts)
		if err == nil {
			seedDevResources(fake)
		}
	} else {
		err = fmt.Errorf("no cloud backends configured; run with --dev or embed rudder with real drivers")
	}
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

// seedDevResources gives the dev backends a couple of routers to play with.
func seedDevResources(fake *cloud.Fake) {
	fake.AddResource(cloud.Resource{ID: "router-alpha", TenantID: "tenant-a"}, map[string]interface{}{
		"gateway": "10.0.0.1",
		"subnets": []interface{}{"10.0.1.0/24"},
	})
	fake.AddResource(cloud.Resource{ID: "router-beta", TenantID: "tenant-b"}, map[string]interface{}{
		"gateway": "10.0.0.1",
		"subnets": []interface{}{"10.0.2.0/24", "10.0.3.0/24"},
	})
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Configuration directory (default ~/.config/rudder)")
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "Run with in-memory cloud backends")
}
