package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"rudder/internal/admin"
)

var resourceCmd = &cobra.Command{
	Use:   "resource",
	Short: "Operate on a single router",
	Long: `Commands addressed at one router by its resource ID. Each command is
synchronous: it waits for the router's state machine to finish the pass it
triggered and reports the resulting state.`,
}

func newResourceActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " RESOURCE_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := admin.NewClient(adminURL)
			result, err := client.ResourceCommand(cmd.Context(), args[0], action)
			if err != nil {
				return err
			}
			return printCommandResult(cmd, result)
		},
	}
}

func printCommandResult(cmd *cobra.Command, result admin.CommandResult) error {
	if result.Error != "" {
		return fmt.Errorf("%s: %s", result.ResourceID, result.Error)
	}
	if result.Detail != nil {
		out, err := json.MarshalIndent(result.Detail, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", result.ResourceID, result.State)
	return nil
}

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Operate on all of a tenant's routers",
	Long: `Commands addressed at every router of a tenant. The tenant "*" addresses
all routers of all tenants.`,
}

func newTenantActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " TENANT_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := admin.NewClient(adminURL)
			results, err := client.TenantCommand(cmd.Context(), args[0], action)
			if err != nil {
				return err
			}
			var failed int
			for _, result := range results {
				if result.Error != "" {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: error: %s\n", result.ResourceID, result.Error)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", result.ResourceID, result.State)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d routers failed", failed, len(results))
			}
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(resourceCmd)
	rootCmd.AddCommand(tenantCmd)

	actions := []struct{ name, short string }{
		{"update", "Force a configuration re-apply"},
		{"rebuild", "Destroy and recreate the backing instance"},
		{"manage", "Resume automatic event handling"},
		{"unmanage", "Pause automatic event handling"},
		{"debug", "Dump the state machine's internals"},
		{"delete", "Tear the router down"},
	}
	for _, a := range actions {
		resourceCmd.AddCommand(newResourceActionCmd(a.name, a.short))
		tenantCmd.AddCommand(newTenantActionCmd(a.name, a.short))
	}
}
